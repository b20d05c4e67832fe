package service

import (
	"context"
	"image"

	"github.com/MimeLyc/image-captioner/internal/imaging"
	"github.com/MimeLyc/image-captioner/internal/jobs"
)

// Codec decodes uploads and writes thumbnails.
type Codec interface {
	Decode(path string) (*imaging.Image, error)
	Thumbnail(img image.Image, maxW, maxH int) image.Image
	Save(img image.Image, format, path string) error
	EXIF(path string) (map[string]string, error)
}

// Captioner turns decoded pixels into a caption. It may be slow and it
// may fail.
type Captioner interface {
	Caption(ctx context.Context, img image.Image) (string, error)
}

// ResultLog records processed jobs.
type ResultLog interface {
	Append(job *jobs.Job) error
}

// Scheduler runs a task without blocking the caller.
type Scheduler interface {
	Submit(task jobs.Task) error
}
