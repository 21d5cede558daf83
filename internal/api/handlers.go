package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediagate/internal/apperr"
	"github.com/JakeFAU/mediagate/internal/fileguard"
)

type urlRequest struct {
	URL string `json:"url" validate:"required,public_url"`
}

func (r *urlRequest) normalize() {
	r.URL = strings.TrimSpace(r.URL)
}

type downloadRequest struct {
	URL     string `json:"url" validate:"required,public_url"`
	Quality string `json:"quality"`
}

func (r *downloadRequest) normalize() {
	r.URL = strings.TrimSpace(r.URL)
	r.Quality = strings.TrimSpace(r.Quality)
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	meta, err := s.deps.Gateway.Analyze(r.Context(), req.URL)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) formats(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	list, err := s.deps.Gateway.ListFormats(r.Context(), req.URL)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	res, err := s.deps.Gateway.Download(r.Context(), req.URL, req.Quality)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "filename"))
	if err != nil {
		s.writeAppError(w, r, apperr.Wrap(apperr.KindForbidden, "Invalid filename", err))
		return
	}
	path, err := s.deps.Downloads.Resolve(name)
	if err != nil {
		s.logger.Warn("Rejected file download", zap.String("filename", name), zap.Error(err))
		s.writeAppError(w, r, fileError(err, "Invalid filename"))
		return
	}
	base := filepath.Base(path)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": base}))
	s.logger.Info("Serving file", zap.String("filename", base))
	s.serveFile(w, r, path)
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	path, err := s.deps.Static.Resolve("index.html")
	if err != nil {
		s.logger.Error("Error serving index.html", zap.Error(err))
		s.writeAppError(w, r, apperr.Wrap(apperr.KindNotFound, "Frontend not found", err))
		return
	}
	s.serveFile(w, r, path)
}

func (s *Server) static(w http.ResponseWriter, r *http.Request) {
	requested, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		s.writeAppError(w, r, apperr.Wrap(apperr.KindForbidden, "Access denied", err))
		return
	}
	if requested == "api" || strings.HasPrefix(requested, "api/") {
		s.notFound(w, r)
		return
	}
	path, err := s.deps.Static.Resolve(requested)
	if err != nil {
		if !errors.Is(err, fileguard.ErrNotFound) {
			s.logger.Warn("Rejected static path", zap.String("path", requested), zap.Error(err))
		}
		s.writeAppError(w, r, fileError(err, "Access denied"))
		return
	}
	s.serveFile(w, r, path)
}

// fileError classifies a fileguard failure. traversalMsg is what the client
// sees for a path that escapes the root.
func fileError(err error, traversalMsg string) *apperr.Error {
	switch {
	case errors.Is(err, fileguard.ErrTraversal):
		return apperr.Wrap(apperr.KindForbidden, traversalMsg, err)
	case errors.Is(err, fileguard.ErrDisallowedType):
		return apperr.Wrap(apperr.KindForbidden, "File type not allowed", err)
	default:
		return apperr.Wrap(apperr.KindNotFound, "File not found", err)
	}
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path) // #nosec G304 -- path comes from a fileguard.Guard.
	if err != nil {
		s.writeAppError(w, r, apperr.Wrap(apperr.KindNotFound, "File not found", err))
		return
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn("close served file", zap.Error(cerr))
		}
	}()
	info, err := f.Stat()
	if err != nil {
		s.writeAppError(w, r, fmt.Errorf("stat served file: %w", err))
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
