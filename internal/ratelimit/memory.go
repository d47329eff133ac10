package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memWindow struct {
	start time.Time
	count int
}

// MemoryCounter is an in-process Counter for single-instance deployments
// and tests. It is not shared across processes.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*memWindow
	now     func() time.Time
	calls   int
}

// NewMemoryCounter creates an in-process counter using the wall clock.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*memWindow), now: time.Now}
}

// WithClock overrides the time source (tests).
func (c *MemoryCounter) WithClock(now func() time.Time) *MemoryCounter {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// Allow implements Counter.
func (c *MemoryCounter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	start := windowStart(now, window)

	c.calls++
	if c.calls%1024 == 0 {
		c.prune(now)
	}

	w, ok := c.windows[key]
	if !ok || !w.start.Equal(start) {
		w = &memWindow{start: start}
		c.windows[key] = w
	}
	if w.count+1 > limit {
		return Decision{Allowed: false, Count: w.count, Limit: limit, RetryAfter: start.Add(window).Sub(now)}, nil
	}
	w.count++
	return Decision{Allowed: true, Count: w.count, Limit: limit}, nil
}

// prune drops windows that ended more than a day ago. Called with mu held.
func (c *MemoryCounter) prune(now time.Time) {
	for k, w := range c.windows {
		if now.Sub(w.start) > 24*time.Hour {
			delete(c.windows, k)
		}
	}
}
