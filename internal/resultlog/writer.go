// Package resultlog appends a human-readable record of every processed job.
package resultlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/MimeLyc/image-captioner/internal/jobs"
)

type Writer struct {
	path string
	mu   sync.Mutex
}

func NewWriter(path string) (*Writer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("results log path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create results log directory: %w", err)
		}
	}
	return &Writer{path: path}, nil
}

func (w *Writer) Path() string {
	return w.path
}

// Append writes one record for a processed job.
func (w *Writer) Append(job *jobs.Job) error {
	if job == nil || job.Result == nil {
		return fmt.Errorf("job has no result")
	}
	entry := Format(job)

	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(entry); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func Format(job *jobs.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "filename: %s\n", job.Filename)
	fmt.Fprintf(&b, "image id: %s\n", job.ID)
	fmt.Fprintf(&b, "captions: %s\n", job.Caption)
	fmt.Fprintf(&b, "thumbnail_size_200x200: %s\n", job.Thumb200)
	fmt.Fprintf(&b, "thumbnail_size_50x50: %s\n", job.Thumb50)
	m := job.Metadata
	fmt.Fprintf(&b, "metadata: dimensions=%dx%d format=%s size=%d bytes processed_at=%s\n",
		m.Dimensions[0], m.Dimensions[1], m.Format, m.SizeBytes, m.ProcessedAt.Format("2006-01-02 15:04:05.000000"))
	fmt.Fprintf(&b, "exif: %s\n", formatEXIF(job.EXIF))
	fmt.Fprintf(&b, "status: %s\n", job.Status)
	return b.String()
}

func formatEXIF(tags jobs.EXIF) string {
	if len(tags) == 0 {
		return jobs.NoEXIFData
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, tags[k]))
	}
	return strings.Join(parts, ", ")
}
