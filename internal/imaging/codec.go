// Package imaging decodes uploads, renders thumbnails and reads EXIF tags.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

const (
	defaultJPEGQuality = 85
	// DefaultMaxPixels matches the usual decompression-bomb ceiling of
	// common imaging libraries.
	DefaultMaxPixels = 89478485
)

// ErrTooLarge is returned by Decode when the header announces more pixels
// than the codec accepts.
var ErrTooLarge = errors.New("image exceeds pixel limit")

// Image is a decoded upload.
type Image struct {
	Pixels image.Image
	// Format is the registered decoder name, e.g. "jpeg" or "png".
	Format string
}

func (i *Image) Width() int  { return i.Pixels.Bounds().Dx() }
func (i *Image) Height() int { return i.Pixels.Bounds().Dy() }

type Codec struct {
	jpegQuality int
	maxPixels   int
	scaler      draw.Scaler
}

type Option func(*Codec)

func WithJPEGQuality(q int) Option {
	return func(c *Codec) {
		if q > 0 && q <= 100 {
			c.jpegQuality = q
		}
	}
}

// WithMaxPixels caps width*height of decoded images. Non-positive values
// keep the default.
func WithMaxPixels(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxPixels = n
		}
	}
}

func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		jpegQuality: defaultJPEGQuality,
		maxPixels:   DefaultMaxPixels,
		scaler:      draw.CatmullRom,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Codec) Decode(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", filepath.Base(path), err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(c.maxPixels) {
		return nil, fmt.Errorf("decode image %s: %dx%d: %w", filepath.Base(path), cfg.Width, cfg.Height, ErrTooLarge)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind image: %w", err)
	}

	pixels, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", filepath.Base(path), err)
	}
	return &Image{Pixels: pixels, Format: format}, nil
}

// Thumbnail fits img inside maxW x maxH keeping its aspect ratio. Images
// already inside the box keep their size.
func (c *Codec) Thumbnail(img image.Image, maxW, maxH int) image.Image {
	w, h := FitBox(img.Bounds().Dx(), img.Bounds().Dy(), maxW, maxH)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	c.scaler.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Save encodes img in format ("jpeg" or "png") at path.
func (c *Codec) Save(img image.Image, format, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: c.jpegQuality})
	case "png":
		err = png.Encode(f, img)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// FitBox returns the largest size with the aspect ratio of w x h that fits
// in maxW x maxH, never larger than w x h and never below 1x1.
func FitBox(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 1, 1
	}
	if w <= maxW && h <= maxH {
		return w, h
	}
	if w*maxH > h*maxW {
		// width bound
		nh := (h*maxW + w/2) / w
		return maxW, max(nh, 1)
	}
	nw := (w*maxH + h/2) / h
	return max(nw, 1), maxH
}
