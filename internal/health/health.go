// Package health serves the liveness and readiness endpoints of the wolfa
// control surface.
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz runs every registered [Checker] concurrently and answers
//     503 when a required check fails.
//
// Readiness bodies report each check with its outcome and duration:
//
//	{"status":"degraded","checks":{"ffmpeg":{"status":"ok","duration":"41µs"},
//	 "config":{"status":"warn","error":"...","duration":"2µs"}}}
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Overall and per-check states.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
	StatusWarn     = "warn"
)

// Checker tests one dependency of the voice client.
type Checker struct {
	// Name keys the check in the readiness body.
	Name string

	// Check returns nil when the dependency is usable. It must honour ctx.
	Check func(ctx context.Context) error

	// Optional checks report "warn" on failure and degrade readiness
	// without failing it.
	Optional bool
}

type checkResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New returns a [Handler] evaluating checkers on each readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: StatusOK})
}

// Readyz runs all checkers concurrently, each under a [checkTimeout]
// deadline derived from the request.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.run(r.Context())
	code := http.StatusOK
	if rep.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

func (h *Handler) run(ctx context.Context) report {
	rep := report{Status: StatusOK, Checks: make(map[string]checkResult, len(h.checkers))}

	var mu sync.Mutex
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			start := time.Now()
			err := c.Check(cctx)
			took := time.Since(start)
			cancel()

			res := checkResult{Status: StatusOK, Duration: took.String()}
			if err != nil {
				res.Status = StatusFail
				if c.Optional {
					res.Status = StatusWarn
				}
				res.Error = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			rep.Checks[c.Name] = res
			switch {
			case res.Status == StatusFail:
				rep.Status = StatusFail
			case res.Status == StatusWarn && rep.Status == StatusOK:
				rep.Status = StatusDegraded
			}
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

// Register mounts both endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Binary checks that the executable at path (or on PATH) exists.
func Binary(name, path string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if _, err := exec.LookPath(path); err != nil {
				return fmt.Errorf("%s not found: %w", path, err)
			}
			return nil
		},
	}
}

// Credential fails while key is empty.
func Credential(name, key string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if key == "" {
				return errors.New("no API key configured")
			}
			return nil
		},
	}
}

// LastError reports the error returned by fn as an optional check. It suits
// components that keep working on stale state after a failure, such as a
// config reload that was rejected.
func LastError(name string, fn func() error) Checker {
	return Checker{
		Name:     name,
		Optional: true,
		Check:    func(context.Context) error { return fn() },
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
