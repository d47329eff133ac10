// Package ratelimit provides fixed-window keyed counters shared by the
// tracking endpoints (per client address and trigger) and the dispatcher
// (hourly send budget).
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one increment-and-check.
type Decision struct {
	Allowed    bool
	Count      int // counter value after the call (or current value when denied)
	Limit      int
	RetryAfter time.Duration // until the current window resets; zero when allowed
}

// Counter atomically checks a key against limit and, only when within
// budget, counts the call. Implementations must be safe for concurrent use
// and, for multi-instance deployments, shared across processes.
type Counter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Policy is a limit per window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// windowStart truncates now to the fixed window it falls in. Windows are
// aligned to the Unix epoch so all instances agree on boundaries.
func windowStart(now time.Time, window time.Duration) time.Time {
	return time.Unix(0, now.UnixNano()-now.UnixNano()%int64(window))
}

// Limiter applies named policies to client keys.
type Limiter struct {
	counter  Counter
	policies map[string]Policy
	prefix   string
}

// NewLimiter builds a Limiter over counter with the given per-name policies.
func NewLimiter(counter Counter, prefix string, policies map[string]Policy) *Limiter {
	return &Limiter{counter: counter, policies: policies, prefix: prefix}
}

// Check counts one call of the named kind for client. Unknown kinds are
// always allowed.
func (l *Limiter) Check(ctx context.Context, kind, client string) (Decision, error) {
	p, ok := l.policies[kind]
	if !ok || p.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	return l.counter.Allow(ctx, l.prefix+":"+kind+":"+client, p.Limit, p.Window)
}

// Policy returns the configured policy for kind.
func (l *Limiter) Policy(kind string) (Policy, bool) {
	p, ok := l.policies[kind]
	return p, ok
}
