package service

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MimeLyc/image-captioner/internal/jobs"
	"github.com/MimeLyc/image-captioner/internal/stats"
	"github.com/MimeLyc/image-captioner/pkg/file"
)

type ThumbnailSize string

const (
	ThumbnailSmall  ThumbnailSize = "small"
	ThumbnailMedium ThumbnailSize = "medium"
)

func ParseThumbnailSize(s string) (ThumbnailSize, bool) {
	switch ThumbnailSize(s) {
	case ThumbnailSmall, ThumbnailMedium:
		return ThumbnailSize(s), true
	}
	return "", false
}

// ImageEntry is one file of the image store.
type ImageEntry struct {
	Filename string      `json:"filename"`
	Status   jobs.Status `json:"status"`
}

type Thumbnail struct {
	Name    string
	Content []byte
	ModTime time.Time
}

// Query serves read-only views of jobs, thumbnails and statistics.
type Query struct {
	imagesDir string
	store     *jobs.Store
	stats     *stats.Aggregator
}

func NewQuery(imagesDir string, store *jobs.Store, aggregator *stats.Aggregator) *Query {
	return &Query{
		imagesDir: imagesDir,
		store:     store,
		stats:     aggregator,
	}
}

// ListImages enumerates every file in the image store, thumbnails
// included. Files without a tracked status are reported as processed.
func (q *Query) ListImages() ([]ImageEntry, error) {
	names, err := file.ListNames(q.imagesDir)
	if err != nil {
		return nil, WrapError(err, ErrStorage, "list images")
	}

	ret := make([]ImageEntry, 0, len(names))
	for _, name := range names {
		status, ok := q.store.StatusOf(name)
		if !ok {
			// TODO: report untracked files as "unknown" once clients stop relying on "processed"
			status = jobs.StatusProcessed
		}
		ret = append(ret, ImageEntry{Filename: name, Status: status})
	}
	return ret, nil
}

func (q *Query) GetJob(id string) (*jobs.Job, error) {
	job, ok := q.store.Get(id)
	if !ok {
		return nil, NewError(ErrNotFound, MsgJobNotFound).WithContext("id", id)
	}
	return job, nil
}

// GetThumbnail reads the small (50x50) or medium (200x200) rendering of a job.
func (q *Query) GetThumbnail(id string, size ThumbnailSize) (*Thumbnail, error) {
	job, err := q.GetJob(id)
	if err != nil {
		return nil, err
	}

	path, err := q.thumbnailPath(job, size)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, NewError(ErrNotFound, MsgThumbnailNotFound).WithContext("id", id).WithContext("size", size)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapError(err, ErrStorage, "read thumbnail").WithContext("id", id)
	}
	return &Thumbnail{
		Name:    filepath.Base(path),
		Content: content,
		ModTime: info.ModTime(),
	}, nil
}

func (q *Query) thumbnailPath(job *jobs.Job, size ThumbnailSize) (string, error) {
	medium, small := ThumbnailPaths(filepath.Join(q.imagesDir, job.Filename))
	if job.Result != nil {
		medium, small = job.Thumb200, job.Thumb50
	}
	switch size {
	case ThumbnailSmall:
		return small, nil
	case ThumbnailMedium:
		return medium, nil
	default:
		return "", NewError(ErrNotFound, fmt.Sprintf("%s: unknown size %q", MsgThumbnailNotFound, size))
	}
}

func (q *Query) Stats() stats.Snapshot {
	return q.stats.Snapshot()
}
