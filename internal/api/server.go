package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-meta/internal/config"
	"github.com/JakeFAU/sitemap-meta/internal/crawler"
	"github.com/JakeFAU/sitemap-meta/internal/metrics"
)

const (
	msgInvalidJSON     = "Invalid JSON body"
	msgMissingIndexURL = "Sitemap index URL is required"
	msgInternalError   = "Internal server error"

	defaultMaxBodyBytes   = 1 << 20
	defaultRequestTimeout = 120 * time.Second
)

// MetadataService runs one resolve-and-extract batch for a sitemap index URL.
type MetadataService interface {
	Run(ctx context.Context, indexURL string) ([]crawler.PageMetadata, error)
}

// Server wires HTTP handlers to the metadata pipeline.
type Server struct {
	router       chi.Router
	service      MetadataService
	maxBodyBytes int64
	logger       *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(service MetadataService, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service:      service,
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		logger:       logger.Named("api"),
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = defaultMaxBodyBytes
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(deadlineMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/fetch-meta-tags", s.fetchMetaTags)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type fetchMetaTagsRequest struct {
	SitemapIndexURL string `json:"sitemapIndexUrl"`
}

func (s *Server) fetchMetaTags(w http.ResponseWriter, r *http.Request) {
	var req fetchMetaTagsRequest
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	// An empty body reads as {} and falls through to the missing-URL check.
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	if req.SitemapIndexURL == "" {
		s.writeError(w, http.StatusBadRequest, msgMissingIndexURL)
		return
	}

	results, err := s.service.Run(r.Context(), req.SitemapIndexURL)
	if err != nil {
		fields := []zap.Field{
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("sitemap_index_url", req.SitemapIndexURL),
			zap.Error(err),
		}
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("metadata batch timed out", fields...)
		} else {
			s.logger.Error("metadata batch failed", fields...)
		}
		s.writeError(w, http.StatusInternalServerError, msgInternalError)
		return
	}
	if results == nil {
		results = []crawler.PageMetadata{}
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, payload, s.logger)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg}, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
