// Package health provides request-time health and readiness probes for
// the ops endpoints.
package health

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/reachmetrics/reachmetrics-api/internal/xerrors"
)

// Probe is evaluated at request time.
// nil = OK, non-nil = FAIL with reason.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed returns a probe with a constant result.
func Fixed(ok bool, reason string) CheckFunc {
	return func(context.Context) error {
		if ok {
			return nil
		}
		return xerrors.New(reason)
	}
}

// All is AND: passes only if all probes pass; returns the first error.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// ShutdownGate flips readiness to false during drain/shutdown.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Value
}

func (g *ShutdownGate) Set(reason string) {
	g.draining.Store(true)
	g.reason.Store(reason)
}
func (g *ShutdownGate) Clear() {
	g.draining.Store(false)
	g.reason.Store("")
}
func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}

// Handler serves 200 when the probe passes, 503 with the reason otherwise.
func Handler(p Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error()+"\n", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody + "\n"))
	}
}
