package tracking

import (
	"fmt"
	"time"

	"github.com/ignite/phishsim/internal/domain"
)

// RateLimitError is returned when a client exhausted its trigger budget.
// It unwraps to domain.ErrRateLimited.
type RateLimitError struct {
	Trigger    Trigger
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Trigger, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return domain.ErrRateLimited }
