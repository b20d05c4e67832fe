package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/MimeLyc/image-captioner/internal/metrics"
	"github.com/MimeLyc/image-captioner/internal/service"
	"github.com/MimeLyc/image-captioner/pkg/log"
)

const uploadField = "file"

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := s.query.ListImages()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	case http.MethodPost:
		s.handleUpload(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		s.metrics.ObserveUpload(metrics.OutcomeInvalid)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart form with a file field is required")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	part, header, err := r.FormFile(uploadField)
	if err != nil {
		s.metrics.ObserveUpload(metrics.OutcomeInvalid)
		writeError(w, http.StatusBadRequest, "multipart form with a file field is required")
		return
	}
	defer part.Close()

	raw, err := io.ReadAll(part)
	if err != nil {
		s.metrics.ObserveUpload(metrics.OutcomeInvalid)
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	sub, err := s.intake.Submit(r.Context(), header.Filename, header.Header.Get("Content-Type"), raw)
	if err != nil {
		outcome := metrics.OutcomeInvalid
		if kind, ok := service.KindOf(err); ok {
			outcome = kind.String()
		}
		s.metrics.ObserveUpload(outcome)
		writeServiceError(w, err)
		return
	}
	s.metrics.ObserveUpload(metrics.OutcomeAccepted)
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleImageRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, size, ok := parseImageRoute(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if size == "" {
		s.handleImageDetail(w, id)
		return
	}
	s.handleThumbnail(w, r, id, size)
}

// parseImageRoute splits /api/images/{id} and
// /api/images/{id}/thumbnails/{size}.
func parseImageRoute(path string) (id string, size string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/api/images/")
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.Split(trimmed, "/")
	switch {
	case len(parts) == 1:
	case len(parts) == 3 && parts[1] == "thumbnails" && parts[2] != "":
		size = parts[2]
	default:
		return "", "", false
	}
	rawID, err := url.PathUnescape(parts[0])
	if err != nil || strings.TrimSpace(rawID) == "" {
		return "", "", false
	}
	return rawID, size, true
}

func (s *Server) handleImageDetail(w http.ResponseWriter, id string) {
	job, err := s.query.GetJob(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request, id string, rawSize string) {
	size, ok := service.ParseThumbnailSize(rawSize)
	if !ok {
		writeError(w, http.StatusNotFound, "size must be small or medium")
		return
	}
	thumb, err := s.query.GetThumbnail(id, size)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	http.ServeContent(w, r, thumb.Name, thumb.ModTime, bytes.NewReader(thumb.Content))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.query.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

// statusFor maps a service error kind onto an HTTP status.
func statusFor(err error) int {
	kind, ok := service.KindOf(err)
	switch {
	case !ok:
		return http.StatusInternalServerError
	case kind.IsInput():
		return http.StatusBadRequest
	case kind == service.ErrNotFound:
		return http.StatusNotFound
	case kind == service.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError reports the service message for known kinds and hides
// internal causes behind a generic one.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var svcErr *service.Error
	msg := "internal server error"
	if errors.As(err, &svcErr) && status != http.StatusInternalServerError {
		msg = svcErr.Message
	}
	if status >= http.StatusInternalServerError {
		log.Error("Request failed: %v", err)
	}
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"detail": msg,
	})
}
