// Package server exposes audits, rule metadata, stored runs and a shared
// result cache over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chris-regnier/vigil/internal/audit"
	"github.com/chris-regnier/vigil/internal/cache"
	"github.com/chris-regnier/vigil/internal/input"
	"github.com/chris-regnier/vigil/internal/output"
	"github.com/chris-regnier/vigil/internal/store"
)

var serverTracer = otel.Tracer("github.com/chris-regnier/vigil/internal/server")

// DefaultMaxBodySize bounds request bodies.
const DefaultMaxBodySize = 10 << 20

// Server serves the vigil HTTP API.
type Server struct {
	auditor *audit.Auditor
	cache   cache.Storage
	token   string
	maxBody int64
	logger  *slog.Logger
}

type Option func(*Server)

// WithCacheStorage serves storage under /v1/cache for RemoteStorage clients.
func WithCacheStorage(storage cache.Storage) Option {
	return func(s *Server) { s.cache = storage }
}

// WithToken requires "Authorization: Bearer <token>" on /v1 routes.
func WithToken(token string) Option { return func(s *Server) { s.token = token } }

// WithMaxBodySize bounds request bodies to n bytes.
func WithMaxBodySize(n int64) Option { return func(s *Server) { s.maxBody = n } }

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// New creates a Server that audits with a.
func New(a *audit.Auditor, opts ...Option) *Server {
	s := &Server{auditor: a, maxBody: DefaultMaxBodySize}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(middleware.RequestSize(s.maxBody))

		r.Get("/rules", s.listRules)
		r.Get("/rules/{id}", s.getRule)
		r.Post("/audit", s.runAudit)

		r.Get("/runs", s.listRuns)
		r.Get("/runs/{id}/verdict", s.getVerdict)
		r.Get("/runs/{id}/sarif", s.getSARIF)

		r.Get("/cache", s.listCache)
		r.Get("/cache/{key}", s.getCache)
		r.Put("/cache/{key}", s.putCache)
		r.Delete("/cache/{key}", s.deleteCache)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests for up to five seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Rules
// ---------------------------------------------------------------------------

// RuleInfo describes one enabled rule.
type RuleInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	CWE         string `json:"cwe,omitempty"`
	Explanation string `json:"explanation,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	rules := s.auditor.Registry().Rules()
	out := make([]RuleInfo, 0, len(rules))
	for _, rule := range rules {
		m := rule.Meta
		out = append(out, RuleInfo{
			ID:       m.ID,
			Name:     m.Name,
			Version:  m.Version,
			Severity: m.Severity.String(),
			Category: string(m.Category),
			CWE:      m.CWE,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.auditor.Registry().Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown rule")
		return
	}
	m := rule.Meta
	writeJSON(w, http.StatusOK, RuleInfo{
		ID:          m.ID,
		Name:        m.Name,
		Version:     m.Version,
		Severity:    m.Severity.String(),
		Category:    string(m.Category),
		CWE:         m.CWE,
		Explanation: m.Explanation,
		Remediation: m.Remediation,
	})
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

// AuditRequest carries sources keyed by path.
type AuditRequest struct {
	Files map[string]string `json:"files"`
}

func (s *Server) runAudit(w http.ResponseWriter, r *http.Request) {
	ctx, span := serverTracer.Start(r.Context(), "server audit")
	defer span.End()

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format == "pretty" {
		writeError(w, http.StatusBadRequest, "pretty output is only available on the command line")
		return
	}
	formatter, err := output.NewFormatter(format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req AuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "no files to audit")
		return
	}

	paths := make([]string, 0, len(req.Files))
	for p := range req.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	artifacts := make([]input.Artifact, len(paths))
	for i, p := range paths {
		artifacts[i] = input.Artifact{Path: p, Source: []byte(req.Files[p])}
	}
	span.SetAttributes(attribute.Int("vigil.files", len(artifacts)), attribute.String("vigil.format", format))

	report, err := s.auditor.RunArtifacts(ctx, artifacts, nil)
	if err != nil {
		s.logger.Error("audit failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	body, err := formatter.Format(report)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	contentType := "application/json"
	if format == "markdown" {
		contentType = "text/markdown; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	if report.RunID != "" {
		w.Header().Set("X-Vigil-Run", report.RunID)
	}
	w.Header().Set("X-Vigil-Decision", report.Verdict.Decision)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

func (s *Server) runStore(w http.ResponseWriter) (store.Store, bool) {
	st := s.auditor.Store()
	if st == nil {
		writeError(w, http.StatusNotFound, "runs are not stored")
		return nil, false
	}
	return st, true
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	st, ok := s.runStore(w)
	if !ok {
		return
	}
	ids, err := st.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"runs": ids})
}

func (s *Server) getVerdict(w http.ResponseWriter, r *http.Request) {
	st, ok := s.runStore(w)
	if !ok {
		return
	}
	v, err := st.ReadVerdict(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) getSARIF(w http.ResponseWriter, r *http.Request) {
	st, ok := s.runStore(w)
	if !ok {
		return
	}
	doc, err := st.ReadSARIF(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

func (s *Server) cacheStorage(w http.ResponseWriter) (cache.Storage, bool) {
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "cache is not served")
		return nil, false
	}
	return s.cache, true
}

func validKey(key string) bool {
	return key != "" && !strings.ContainsAny(key, `/\.`)
}

func (s *Server) listCache(w http.ResponseWriter, r *http.Request) {
	c, ok := s.cacheStorage(w)
	if !ok {
		return
	}
	keys, err := c.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if keys == nil {
		keys = []string{}
	}
	sort.Strings(keys)
	writeJSON(w, http.StatusOK, map[string][]string{"keys": keys})
}

func (s *Server) getCache(w http.ResponseWriter, r *http.Request) {
	c, ok := s.cacheStorage(w)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	if !validKey(key) {
		writeError(w, http.StatusBadRequest, "invalid cache key")
		return
	}
	data, err := c.Get(r.Context(), key)
	if errors.Is(err, cache.ErrCacheMiss) {
		writeError(w, http.StatusNotFound, "cache miss")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) putCache(w http.ResponseWriter, r *http.Request) {
	c, ok := s.cacheStorage(w)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	if !validKey(key) {
		writeError(w, http.StatusBadRequest, "invalid cache key")
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if !json.Valid(data) {
		writeError(w, http.StatusBadRequest, "cache entry must be JSON")
		return
	}
	if err := c.Put(r.Context(), key, data); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteCache(w http.ResponseWriter, r *http.Request) {
	c, ok := s.cacheStorage(w)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	if !validKey(key) {
		writeError(w, http.StatusBadRequest, "invalid cache key")
		return
	}
	if err := c.Delete(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
