// Package server exposes the correction pipeline over HTTP.
//
// Routes:
//
//   - POST /v1/segments: corrects a batch of segments.
//   - GET  /v1/stats:    lookup cache statistics.
//   - GET  /healthz, GET /readyz: see [health.Handler].
//   - GET  /metrics:     Prometheus scrape endpoint, when configured.
//
// Every request passes through [observe.Middleware].
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/sutra/internal/batch"
	"github.com/MrWong99/sutra/internal/cache"
	"github.com/MrWong99/sutra/internal/health"
	"github.com/MrWong99/sutra/internal/observe"
	"github.com/MrWong99/sutra/internal/pipeline"
)

const (
	// DefaultMaxSegments caps the segments accepted in one request.
	DefaultMaxSegments = 1000

	// DefaultMaxBodyBytes caps the request body size.
	DefaultMaxBodyBytes = 4 << 20

	shutdownTimeout = 15 * time.Second
)

// StatsFunc returns a snapshot of the lookup cache counters.
type StatsFunc func() cache.Stats

// SegmentsRequest is the body of POST /v1/segments.
type SegmentsRequest struct {
	Segments []string `json:"segments"`
}

// SegmentsResponse is the reply to POST /v1/segments.
type SegmentsResponse struct {
	RunID   string             `json:"run_id"`
	Results []*pipeline.Result `json:"results"`
	Summary batch.Summary      `json:"summary"`
}

// StatsResponse is the reply to GET /v1/stats.
type StatsResponse struct {
	cache.Stats
	HitRate float64 `json:"hit_rate"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Option is a functional option for configuring a [Handler].
type Option func(*Handler)

// WithHealth mounts the health endpoints of h.
func WithHealth(h *health.Handler) Option {
	return func(s *Handler) { s.health = h }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Handler) { s.metricsHandler = h }
}

// WithMetrics records request durations to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Handler) { s.metrics = m }
}

// WithMaxSegments caps the segments accepted per request.
// Default: [DefaultMaxSegments].
func WithMaxSegments(n int) Option {
	return func(s *Handler) {
		if n > 0 {
			s.maxSegments = n
		}
	}
}

// WithStats serves f on GET /v1/stats. Without it the route reports zero
// counters.
func WithStats(f StatsFunc) Option {
	return func(s *Handler) { s.stats = f }
}

// Handler serves the correction API.
type Handler struct {
	runner         *batch.Runner
	stats          StatsFunc
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	maxSegments    int
	maxBodyBytes   int64
}

// New creates a [Handler] that corrects segments with runner.
func New(runner *batch.Runner, opts ...Option) *Handler {
	h := &Handler{
		runner:       runner,
		maxSegments:  DefaultMaxSegments,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Routes returns the complete, middleware-wrapped HTTP handler.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/segments", h.handleSegments)
	mux.HandleFunc("GET /v1/stats", h.handleStats)
	if h.health != nil {
		h.health.Register(mux)
	}
	if h.metricsHandler != nil {
		mux.Handle("GET /metrics", h.metricsHandler)
	}
	return observe.Middleware(h.metrics)(mux)
}

func (h *Handler) handleSegments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req SegmentsRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if len(req.Segments) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "segments must not be empty"})
		return
	}
	if len(req.Segments) > h.maxSegments {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
			Error: fmt.Sprintf("too many segments: %d > %d", len(req.Segments), h.maxSegments),
		})
		return
	}

	results, sum := h.runner.Run(r.Context(), req.Segments)
	writeJSON(w, http.StatusOK, SegmentsResponse{
		RunID:   sum.RunID,
		Results: results,
		Summary: sum,
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	var s cache.Stats
	if h.stats != nil {
		s = h.stats()
	}
	writeJSON(w, http.StatusOK, StatsResponse{Stats: s, HitRate: s.HitRate()})
}

// TLSFiles names the certificate and key for HTTPS. The zero value serves
// plain HTTP.
type TLSFiles struct {
	CertFile string
	KeyFile  string
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// the server down gracefully.
func ListenAndServe(ctx context.Context, addr string, tls TLSFiles, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls.CertFile != "" {
			slog.Info("server: listening", "addr", addr, "tls", true)
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("server: listening", "addr", addr, "tls", false)
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	slog.Info("server: stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("server: encode response", "err", err)
	}
}
