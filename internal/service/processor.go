package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/image-captioner/internal/jobs"
	"github.com/MimeLyc/image-captioner/internal/stats"
	"github.com/MimeLyc/image-captioner/pkg/file"
	"github.com/MimeLyc/image-captioner/pkg/log"
)

const (
	MediumThumbSize = 200
	SmallThumbSize  = 50

	MediumThumbPrefix = "thumb1_"
	SmallThumbPrefix  = "thumb2_"
)

// ThumbnailPaths returns where the 200x200 and 50x50 renderings of the
// upload stored at path are written.
func ThumbnailPaths(path string) (medium, small string) {
	return file.PrefixBase(path, MediumThumbPrefix), file.PrefixBase(path, SmallThumbPrefix)
}

// Task identifies one stored upload to process.
type Task struct {
	JobID    string
	Filename string
	Path     string
}

// Processor runs the background part of a job: thumbnails, caption, EXIF
// and metadata, then commits the outcome.
type Processor struct {
	codec     Codec
	captioner Captioner
	store     *jobs.Store
	stats     *stats.Aggregator
	results   ResultLog
	now       func() time.Time
}

func NewProcessor(
	codec Codec,
	captioner Captioner,
	store *jobs.Store,
	aggregator *stats.Aggregator,
	results ResultLog,
) *Processor {
	return &Processor{
		codec:     codec,
		captioner: captioner,
		store:     store,
		stats:     aggregator,
		results:   results,
		now:       time.Now,
	}
}

// Run processes task and commits exactly one terminal state for its job.
// It never panics and never returns an error; failures end up on the job.
func (p *Processor) Run(ctx context.Context, task Task) {
	start := time.Now()

	var result jobs.Result
	err := safeExecute(func() error {
		var err error
		result, err = p.process(ctx, task)
		return err
	})
	if err != nil {
		p.fail(task, err)
		return
	}

	job, err := p.store.Complete(task.JobID, result)
	if err != nil {
		log.Error("Failed to commit job %s (%s): %v", task.JobID, task.Filename, err)
		return
	}
	elapsed := time.Since(start)
	p.stats.RecordDuration(elapsed)
	log.Info("Processed %s (job %s) in %s", task.Filename, task.JobID, elapsed.Round(time.Millisecond))

	if p.results == nil {
		return
	}
	if err := p.results.Append(job); err != nil {
		log.Error("Failed to append result of job %s: %v", task.JobID, err)
	}
}

func (p *Processor) fail(task Task, cause error) {
	msg := failureMessage(cause)
	if _, err := p.store.Fail(task.JobID, msg); err != nil {
		log.Error("Failed to record failure of job %s (%s): %v", task.JobID, task.Filename, err)
		return
	}
	p.stats.RecordFailure()
	log.Warn("Processing %s (job %s) failed: %s", task.Filename, task.JobID, msg)
}

func (p *Processor) process(ctx context.Context, task Task) (jobs.Result, error) {
	img, err := p.codec.Decode(task.Path)
	if err != nil {
		return jobs.Result{}, err
	}

	medium, small := ThumbnailPaths(task.Path)
	format := thumbnailFormat(task.Path, img.Format)
	if err := p.codec.Save(p.codec.Thumbnail(img.Pixels, MediumThumbSize, MediumThumbSize), format, medium); err != nil {
		return jobs.Result{}, fmt.Errorf("thumbnail %dx%d: %w", MediumThumbSize, MediumThumbSize, err)
	}
	if err := p.codec.Save(p.codec.Thumbnail(img.Pixels, SmallThumbSize, SmallThumbSize), format, small); err != nil {
		return jobs.Result{}, fmt.Errorf("thumbnail %dx%d: %w", SmallThumbSize, SmallThumbSize, err)
	}

	caption, err := p.captioner.Caption(ctx, img.Pixels)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("caption: %w", err)
	}

	tags, err := p.codec.EXIF(task.Path)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("exif: %w", err)
	}

	info, err := os.Stat(task.Path)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("stat %s: %w", filepath.Base(task.Path), err)
	}

	return jobs.Result{
		Caption:  caption,
		Thumb200: medium,
		Thumb50:  small,
		Metadata: jobs.Metadata{
			Dimensions:  [2]int{img.Width(), img.Height()},
			Format:      strings.ToUpper(img.Format),
			SizeBytes:   info.Size(),
			ProcessedAt: p.now(),
		},
		EXIF: jobs.EXIF(tags),
	}, nil
}

// thumbnailFormat picks the encoding matching the thumbnail's file name so
// a .png upload carrying JPEG bytes still gets PNG thumbnails.
func thumbnailFormat(path, decoded string) string {
	switch file.Ext(path) {
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".png":
		return "png"
	}
	return decoded
}

func failureMessage(err error) string {
	if e, ok := err.(*Error); ok && e.Cause == nil {
		return e.Message
	}
	return err.Error()
}
