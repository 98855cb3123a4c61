// Package health serves the liveness and readiness endpoints of the
// recognizer service.
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz answers 200 once every [Checker] passes, 503 otherwise.
//
// Both respond with a JSON object carrying a "status" of "ok" or "fail";
// /readyz adds a "checks" map with one entry per checker. The service
// registers a "models" check, cleared once the static models are loaded, and
// an "engine" check, cleared once the acoustic engine is constructed.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New returns a handler evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently, each under a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
		}()
	}
	wg.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errNotReady is reported by a [Flag] that was never set.
var errNotReady = errors.New("not ready")

// Flag is a readiness condition flipped by the component it describes. The
// zero value is not ready.
type Flag struct {
	ready  atomic.Bool
	reason atomic.Pointer[error]
}

// Set marks the condition as met.
func (f *Flag) Set() {
	f.reason.Store(nil)
	f.ready.Store(true)
}

// Fail marks the condition as failed with err.
func (f *Flag) Fail(err error) {
	f.ready.Store(false)
	f.reason.Store(&err)
}

// Checker returns a probe reporting the flag under name.
func (f *Flag) Checker(name string) Checker {
	return Checker{Name: name, Check: func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.ready.Load() {
			return nil
		}
		if p := f.reason.Load(); p != nil {
			return *p
		}
		return errNotReady
	}}
}
