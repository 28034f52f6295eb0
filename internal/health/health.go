// Package health provides HTTP health and readiness check handlers for the
// correction service.
//
// The package exposes two endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 while every required [Checker]
//     passes.
//
// A failing optional checker does not make the service unready. The term
// store is optional in this sense: lookups fall back to the flat-file table,
// so a store outage degrades the service instead of taking it down.
//
// Responses are JSON objects with a top-level "status" field ("ok",
// "degraded" or "fail") and a "checks" map containing the result of each
// named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrWong99/sutra/internal/term"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "term_table",
	// "term_store"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error

	// Optional marks a dependency the service can run without. Its failure
	// reports "degraded" with 200 instead of 503.
	Optional bool
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz endpoints. It is safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. The checkers are evaluated sequentially in the order provided.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// ErrEmptyTable is reported by [TableChecker] when no term is loaded.
var ErrEmptyTable = errors.New("health: term table is empty")

// TableChecker returns a required checker that fails while t holds no
// entries. When the service also has a structured store the table may
// legitimately be empty, in which case the checker should be omitted.
func TableChecker(t *term.Table) Checker {
	return Checker{
		Name: "term_table",
		Check: func(context.Context) error {
			if t == nil || t.Len() == 0 {
				return ErrEmptyTable
			}
			return nil
		},
	}
}

// Pinger is implemented by anything that can probe a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker returns an optional checker that pings the structured term
// store through p.
func StoreChecker(p Pinger) Checker {
	return Checker{
		Name:     "term_store",
		Check:    p.Ping,
		Optional: true,
	}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: statusOK})
}

// Readyz is a readiness probe. It returns 503 when a required [Checker]
// fails and 200 otherwise, reporting "degraded" when only optional checkers
// failed. Each checker is given a context with a [checkTimeout] deadline
// derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	status := statusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err == nil {
			checks[c.Name] = statusOK
			continue
		}
		checks[c.Name] = "fail: " + err.Error()
		switch {
		case !c.Optional:
			status = statusFail
		case status == statusOK:
			status = statusDegraded
		}
	}

	code := http.StatusOK
	if status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, result{Status: status, Checks: checks})
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
