package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/image-captioner/internal/jobs"
	"github.com/MimeLyc/image-captioner/internal/metrics"
	"github.com/MimeLyc/image-captioner/internal/service"
	"github.com/MimeLyc/image-captioner/internal/stats"
)

const defaultMaxUploadBytes = 32 << 20

type uploader interface {
	Submit(ctx context.Context, filename, mimeType string, raw []byte) (*service.Submission, error)
}

type imageReader interface {
	ListImages() ([]service.ImageEntry, error)
	GetJob(id string) (*jobs.Job, error)
	GetThumbnail(id string, size service.ThumbnailSize) (*service.Thumbnail, error)
	Stats() stats.Snapshot
}

type Server struct {
	intake uploader
	query  imageReader

	metrics        *metrics.Metrics
	maxUploadBytes int64

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithMetrics serves m on /metrics and counts uploads by outcome.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

func NewServer(intake uploader, query imageReader, opts ...Option) *Server {
	s := &Server{
		intake:         intake,
		query:          query,
		maxUploadBytes: defaultMaxUploadBytes,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/images", s.handleImages)
	s.mux.HandleFunc("/api/images/", s.handleImageRoutes)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
}
