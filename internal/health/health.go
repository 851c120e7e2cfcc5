// Package health provides HTTP health and readiness handlers for a capture
// run.
//
// The package exposes two endpoints:
//
//   - /healthz: liveness probe; returns 200 OK while the process can serve
//     HTTP, and reports the capture state.
//   - /readyz: readiness probe; returns 200 only while the capture is
//     recording or has finished successfully and all extra [Checker]
//     functions pass.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail"),
// the current capture "state" and a "checks" map with each named result.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/audiocap/internal/capture"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 2 * time.Second

// StateSource reports the lifecycle state of a capture run.
// [*capture.Controller] implements it.
type StateSource interface {
	State() capture.State
}

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	// Name appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	State  string            `json:"state,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. It is safe for concurrent use.
type Handler struct {
	src      StateSource
	checkers []Checker
}

// New creates a [Handler]. src may be nil when no capture is running; extra
// checkers are evaluated in order after the capture check.
func New(src StateSource, checkers ...Checker) *Handler {
	c := make([]Checker, 0, len(checkers)+1)
	if src != nil {
		c = append(c, CaptureChecker(src))
	}
	c = append(c, checkers...)
	return &Handler{src: src, checkers: c}
}

// CaptureChecker returns a check that passes while src is capturing,
// finalizing or done.
func CaptureChecker(src StateSource) Checker {
	return Checker{
		Name: "capture",
		Check: func(context.Context) error {
			switch s := src.State(); s {
			case capture.StateCapturing, capture.StateFinalizing, capture.StateDone:
				return nil
			default:
				return fmt.Errorf("capture is %s", s)
			}
		},
	}
}

func (h *Handler) state() string {
	if h.src == nil {
		return ""
	}
	return h.src.State().String()
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok", State: h.state()})
}

// Readyz returns 200 only when every check passes. Each check gets a
// [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", State: h.state(), Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
