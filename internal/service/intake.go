package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/MimeLyc/image-captioner/internal/jobs"
	"github.com/MimeLyc/image-captioner/internal/stats"
	"github.com/MimeLyc/image-captioner/pkg/file"
	"github.com/MimeLyc/image-captioner/pkg/log"
)

var (
	supportedTypes = map[string]struct{}{
		"image/jpeg": {},
		"image/png":  {},
	}
	supportedExtensions = map[string]struct{}{
		".jpg":  {},
		".jpeg": {},
		".png":  {},
	}
)

// Submission is what the caller learns about an accepted upload.
type Submission struct {
	ID       string      `json:"id"`
	Filename string      `json:"filename"`
	Status   jobs.Status `json:"status"`
}

// Intake validates uploads, stores them and dispatches their processing.
type Intake struct {
	imagesDir string
	store     *jobs.Store
	scheduler Scheduler
	processor *Processor
	stats     *stats.Aggregator
	newID     func() string
}

func NewIntake(
	imagesDir string,
	store *jobs.Store,
	scheduler Scheduler,
	processor *Processor,
	aggregator *stats.Aggregator,
) (*Intake, error) {
	if strings.TrimSpace(imagesDir) == "" {
		return nil, fmt.Errorf("images directory is required")
	}
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create images directory: %w", err)
	}
	return &Intake{
		imagesDir: imagesDir,
		store:     store,
		scheduler: scheduler,
		processor: processor,
		stats:     aggregator,
		newID:     uuid.NewString,
	}, nil
}

// Submit accepts one upload. It returns as soon as the job is dispatched;
// processing continues in the background.
func (s *Intake) Submit(_ context.Context, filename, mimeType string, raw []byte) (*Submission, error) {
	if err := s.validate(filename, mimeType); err != nil {
		log.Info("Rejected upload %q: %v", filename, err)
		return nil, err
	}

	// a concurrent upload of the same name may have won since validate
	if err := s.store.Reserve(filename); err != nil {
		if errors.Is(err, jobs.ErrDuplicateFilename) {
			return nil, NewError(ErrDuplicateFilename, MsgDuplicateFilename).WithContext("filename", filename)
		}
		return nil, WrapError(err, ErrStorage, "reserve filename")
	}

	path := filepath.Join(s.imagesDir, filename)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		s.store.Release(filename)
		return nil, WrapError(err, ErrStorage, "store upload").WithContext("filename", filename)
	}

	id := s.newID()
	if _, err := s.store.Create(id, filename); err != nil {
		s.store.Release(filename)
		_ = os.Remove(path)
		return nil, WrapError(err, ErrStorage, "create job").WithContext("filename", filename)
	}

	task := Task{JobID: id, Filename: filename, Path: path}
	if err := s.scheduler.Submit(func(ctx context.Context) { s.processor.Run(ctx, task) }); err != nil {
		if _, ferr := s.store.Fail(id, fmt.Sprintf("dispatch: %v", err)); ferr == nil {
			s.stats.RecordFailure()
		}
		log.Error("Failed to dispatch job %s (%s): %v", id, filename, err)
		return nil, WrapError(err, ErrUnavailable, "processing is unavailable").WithContext("id", id)
	}

	log.Info("Accepted upload %s as job %s (%d bytes)", filename, id, len(raw))
	return &Submission{ID: id, Filename: filename, Status: jobs.StatusProcessing}, nil
}

// validate applies the upload checks in order; the first failure wins.
func (s *Intake) validate(filename, mimeType string) error {
	if s.store.Known(filename) {
		return NewError(ErrDuplicateFilename, MsgDuplicateFilename).WithContext("filename", filename)
	}
	if _, ok := supportedTypes[normalizeMediaType(mimeType)]; !ok {
		return NewError(ErrUnsupportedType, MsgUnsupportedType).WithContext("content_type", mimeType)
	}
	if _, ok := supportedExtensions[file.Ext(filename)]; !ok {
		return NewError(ErrInvalidExtension, MsgInvalidExtension).WithContext("filename", filename)
	}
	if !file.IsBaseName(filename) {
		return NewError(ErrInvalidFilename, MsgInvalidFilename).WithContext("filename", filename)
	}
	return nil
}

func normalizeMediaType(v string) string {
	mediaType, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return mediaType
}
