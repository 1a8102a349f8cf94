package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"photovault/internal/ratelimit"
	"photovault/internal/util"
	"photovault/pkg/annotate"
	"photovault/pkg/domain"
	"photovault/pkg/queue"
	"photovault/services/vault/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	RedisAddr                  string
	RedisPassword              string
	AnnotateRateLimitPerMinute int
	TrustedProxies             []string
	MaxImportBytes             int64
}

// Server exposes HTTP endpoints for the vault service.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	annotateLimiter *ratelimit.FixedWindowLimiter
	trustedProxies  *util.TrustedProxies
	maxImportBytes  int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	limit := cfg.AnnotateRateLimitPerMinute
	if limit <= 0 {
		limit = 30
	}
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "photovault:vault:ratelimit:annotate", limit, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("init annotate limiter: %w", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	maxImportBytes := cfg.MaxImportBytes
	if maxImportBytes <= 0 {
		maxImportBytes = 50 * 1024 * 1024
	}
	s := &Server{
		app:             cfg.App,
		mux:             http.NewServeMux(),
		annotateLimiter: limiter,
		trustedProxies:  trusted,
		maxImportBytes:  maxImportBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("vault", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// admin
	s.mux.HandleFunc("/admin/store", s.handleStore)
	s.mux.HandleFunc("/admin/reset", s.handleReset)
	s.mux.HandleFunc("/admin/sync", s.handleSync)
	s.mux.HandleFunc("/admin/backup", s.handleExport)
	s.mux.HandleFunc("/admin/backup/archive", s.handleArchive)
	s.mux.HandleFunc("/admin/backup/stage", s.handleStage)
	s.mux.HandleFunc("/admin/backup/stage/", s.handleStagedByToken)

	// photos
	s.mux.HandleFunc("/photos", s.handleSearch)
	s.mux.HandleFunc("/photos/", s.handlePhotoByID)
	s.mux.HandleFunc("/jobs/", s.handleJob)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	dump, err := s.app.Dump(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dump)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.Reset(r.Context()); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	res, err := s.app.Sync(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	data, filename, err := s.app.Export(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	res, err := s.app.Archive(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxImportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "backup too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	staged, err := s.app.StageImport(raw)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, staged)
}

// /admin/backup/stage/{token} or /admin/backup/stage/{token}/confirm
func (s *Server) handleStagedByToken(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/admin/backup/stage/")
	parts := strings.SplitN(path, "/", 2)
	token := parts[0]
	if token == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "confirm" {
			notFound(w, "not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		staged, err := s.app.ConfirmImport(r.Context(), token)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, staged)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.CancelImport(token); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	photos, err := s.app.SearchPhotos(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": photos,
		"count": len(photos),
	})
}

// /photos/{id}, /photos/{id}/enhance or /photos/{id}/autotag
func (s *Server) handlePhotoByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/photos/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.app.DeletePhoto(r.Context(), id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		return
	}

	var kind string
	switch parts[1] {
	case "enhance":
		kind = queue.KindEnhance
	case "autotag":
		kind = queue.KindAutoTag
	default:
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.annotateLimiter, "too many annotation requests") {
		return
	}
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		job, err := s.app.EnqueueAnnotation(r.Context(), id, kind)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
		return
	}
	if kind == queue.KindEnhance {
		res, err := s.app.Enhance(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	res, err := s.app.AutoTag(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	job, err := s.app.GetJob(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	d := limiter.Reserve(r.Context(), "annotate|"+s.trustedProxies.ClientKey(r))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if d.Allowed {
		return true
	}
	retry := int((d.RetryAfter + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

// writeAppError maps the domain error taxonomy onto HTTP statuses.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *domain.ValidationError
		missing    *domain.NotFoundError
		network    *domain.NetworkError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &missing):
		writeError(w, http.StatusNotFound, missing.Error())
	case errors.Is(err, app.ErrUnknownAnnotation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrQueueUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &network), errors.Is(err, annotate.ErrNoEnhancedURL):
		util.LoggerFromContext(r.Context()).Warn("upstream failure", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForStatus(status),
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "VAULT_INVALID_REQUEST"
	case http.StatusNotFound:
		return "VAULT_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "VAULT_BACKUP_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "SYSTEM_RATE_LIMITED"
	case http.StatusBadGateway:
		return "VAULT_UPSTREAM_FAILED"
	case http.StatusServiceUnavailable:
		return "SYSTEM_UNAVAILABLE"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}
