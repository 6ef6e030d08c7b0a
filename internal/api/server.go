package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tuhinx/bubt-annex-routine/internal/index"
	"github.com/tuhinx/bubt-annex-routine/internal/metrics"
	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

// Config controls where files are served from and who may read them.
type Config struct {
	// OutputRoot holds the index and the artifact directories.
	OutputRoot string
	// IndexFile is the index name below OutputRoot.
	IndexFile      string
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the published outputs.
type Server struct {
	router chi.Router
	cfg    Config
	root   string
	logger *zap.Logger
}

var contentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".pdf":  "application/pdf",
}

// NewServer constructs a Server with middleware and routes. runs may be nil,
// in which case the run endpoints answer 503.
func NewServer(cfg Config, runs *RunHandler, logger *zap.Logger) (*Server, error) {
	if strings.TrimSpace(cfg.OutputRoot) == "" {
		return nil, fmt.Errorf("output root is required")
	}
	if cfg.AuthEnabled && cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required when auth is enabled")
	}
	if cfg.IndexFile == "" {
		cfg.IndexFile = routine.IndexFile
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	root, err := filepath.Abs(cfg.OutputRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve output root: %w", err)
	}
	if runs == nil {
		runs = NewRunHandler(nil, nil, logger)
	}

	s := &Server{cfg: cfg, root: root, logger: logger}
	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Get("/health", s.health)
		r.Get("/view/{type}/{ref}", s.view)

		r.Group(func(r chi.Router) {
			if cfg.AuthEnabled {
				r.Use(apiKeyMiddleware(cfg.APIKey))
			}
			r.Get("/routines/db", s.routinesDB)
			r.Get("/download/{type}/{ref}", s.download)
			r.Get("/runs", runs.ListRuns)
			r.Post("/runs", runs.TriggerRun)
			r.Get("/runs/{run_id}", runs.GetRun)
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Server is running"})
}

// routinesDB returns the index with artifact paths encoded as references,
// wrapped in a base64 payload.
func (s *Server) routinesDB(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	records, err := index.Read(filepath.Join(s.root, s.cfg.IndexFile))
	if err != nil {
		s.logger.Error("Failed to load routines", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load routines")
		return
	}
	payload, err := EncodePayload(records)
	if err != nil {
		s.logger.Error("Failed to encode routines", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load routines")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payload": payload})
}

// EncodePayload replaces each record's image and pdf with an opaque
// reference and base64-wraps the JSON array.
func EncodePayload(records []routine.Record) (string, error) {
	out := make([]routine.Record, len(records))
	for i, rec := range records {
		rec.Image = EncodeRef(rec.Image)
		rec.PDF = EncodeRef(rec.PDF)
		if rec.Tables == nil {
			rec.Tables = []routine.Table{}
		}
		out[i] = rec
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return "", fmt.Errorf("marshal routines: %w", err)
	}
	return base64.StdEncoding.EncodeToString(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// EncodeRef turns an output-relative path into a URL reference.
func EncodeRef(path string) string {
	return base64.StdEncoding.EncodeToString([]byte(path))
}

// DecodeRef reverses EncodeRef. Padding and the URL-safe alphabet are both
// accepted.
func DecodeRef(ref string) (string, error) {
	if unescaped, err := url.PathUnescape(ref); err == nil {
		ref = unescaped
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		if raw, err := enc.DecodeString(ref); err == nil && len(raw) > 0 {
			return string(raw), nil
		}
	}
	return "", errors.New("invalid file reference")
}

func (s *Server) view(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, false)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, true)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, attachment bool) {
	rel, err := DecodeRef(chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file reference")
		return
	}
	switch chi.URLParam(r, "type") {
	case "image", "pdf":
	default:
		writeError(w, http.StatusBadRequest, "Invalid file type")
		return
	}

	full, ok := s.resolve(rel)
	if !ok {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}
	f, err := os.Open(full)
	if err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	ct, ok := contentTypes[strings.ToLower(filepath.Ext(full))]
	if !ok {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	if attachment {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(full)))
	}
	http.ServeContent(w, r, filepath.Base(full), info.ModTime(), f)
}

// resolve maps rel below the output root, rejecting anything that escapes it.
func (s *Server) resolve(rel string) (string, bool) {
	full := filepath.Join(s.root, filepath.FromSlash(rel))
	within, err := filepath.Rel(s.root, full)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Debug("Request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "Access Denied: Direct browser access is not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("Write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
