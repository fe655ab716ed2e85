// Package health serves the operational endpoints of a running lingocast
// command:
//
//   - /healthz liveness, always 200 while the process serves HTTP.
//   - /readyz readiness, 200 only when every [Checker] passes.
//   - /status the phase each scope is currently in.
//   - /metrics Prometheus exposition of the OpenTelemetry instruments.
package health

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/lingocast/pkg/blobstore"
	"github.com/MrWong99/lingocast/pkg/types"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// StoreChecker probes the blob store with a cheap existence lookup.
func StoreChecker(store blobstore.Store) Checker {
	return Checker{Name: "blobstore", Check: func(ctx context.Context) error {
		_, err := store.Exists(ctx, types.CatalogPath)
		return err
	}}
}

// Progress records which phase each scope of a run is in. The zero value is
// ready to use and safe for concurrent use.
type Progress struct {
	mu     sync.Mutex
	phases map[string]string
}

// Set records phase for scope.
func (p *Progress) Set(scope types.Scope, phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phases == nil {
		p.phases = make(map[string]string)
	}
	p.phases[scope.String()] = phase
}

// Snapshot returns a copy of the current phases keyed by "language/level".
func (p *Progress) Snapshot() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.phases)
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Scopes map[string]string `json:"scopes,omitempty"`
}

// Handler serves the health endpoints. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	progress *Progress
}

// New creates a [Handler]. progress may be nil.
func New(progress *Progress, checkers ...Checker) *Handler {
	if progress == nil {
		progress = &Progress{}
	}
	return &Handler{checkers: append([]Checker(nil), checkers...), progress: progress}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs the checkers in order, each under its own [checkTimeout].
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
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

// Status reports the phase of every scope seen so far.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok", Scopes: h.progress.Snapshot()})
}

// Register adds the /healthz, /readyz and /status routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /status", h.Status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
