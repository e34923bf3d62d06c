package ratelimit

import (
	"context"
	"time"

	"github.com/reachmetrics/reachmetrics-api/internal/log"
)

// Policy is a named fixed-window configuration applied independently
// per caller key.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Result is the admit/reject decision for one request.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the current window ends and the counter restarts.
	Reset time.Time
}

// Store increments and returns the counter for key within its current
// window. Implementations start a new window (count=1) when the
// previous one has elapsed.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int, windowStart time.Time, err error)
}

// Limiter checks requests against named policies over a shared Store.
type Limiter struct {
	store    Store
	policies map[string]Policy

	// OnDenied is called on every rejected request, used for metrics.
	OnDenied func(policy string)
}

type Option func(*Limiter)

// WithOnDenied sets a callback for every denied request.
func WithOnDenied(fn func(policy string)) Option {
	return func(l *Limiter) { l.OnDenied = fn }
}

// New builds a Limiter over store with the given policies.
func New(store Store, policies []Policy, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		policies: make(map[string]Policy, len(policies)),
	}
	for _, p := range policies {
		l.policies[p.Name] = p
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Policy returns the named policy, falling back to "default".
func (l *Limiter) Policy(name string) Policy {
	if p, ok := l.policies[name]; ok {
		return p
	}
	return l.policies["default"]
}

// Check counts one request for callerKey under the named policy.
// Distinct policies keep independent counters for the same caller, so
// the composite store key is prefixed with the policy name.
//
// A store failure fails open: the request is admitted and the error is
// logged, trading strictness for availability.
func (l *Limiter) Check(ctx context.Context, callerKey, policyName string) Result {
	p := l.Policy(policyName)

	count, windowStart, err := l.store.Incr(ctx, p.Name+":"+callerKey, p.Window)
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "rate limit store unavailable, admitting request",
			"policy", p.Name,
		)
		return Result{Allowed: true, Limit: p.Limit, Remaining: p.Limit - 1, Reset: time.Now().Add(p.Window)}
	}

	res := Result{
		Limit: p.Limit,
		Reset: windowStart.Add(p.Window),
	}
	if count > p.Limit {
		if l.OnDenied != nil {
			l.OnDenied(p.Name)
		}
		return res
	}
	res.Allowed = true
	res.Remaining = p.Limit - count
	return res
}
