package agentsdk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskhub/hub/internal/clock"
)

// Retrier implements the transient-error recovery action of spec
// §4.11: retry with exponential backoff, tracking attempts per key, up
// to a fixed maximum. A successful call clears the key's counter; an
// exhausted one returns an error wrapping the last failure.
type Retrier struct {
	clk          clock.Clock
	initialDelay time.Duration
	factor       float64
	maxAttempts  int

	mu       sync.Mutex
	attempts map[string]int
}

// NewRetrier returns a Retrier with the defaults spec §4.11 names:
// 1s initial delay, factor 2, 3 max attempts.
func NewRetrier(clk clock.Clock) *Retrier {
	return &Retrier{
		clk:          clk,
		initialDelay: time.Second,
		factor:       2,
		maxAttempts:  3,
		attempts:     make(map[string]int),
	}
}

// Attempt runs op, sleeping out the backoff for key's current attempt
// count first if this is a retry. On success it clears key's counter.
// On failure it increments the counter and, once maxAttempts is
// reached, returns a wrapped error and clears the counter so a later,
// unrelated retry sequence under the same key starts fresh.
func (r *Retrier) Attempt(ctx context.Context, key string, op func(ctx context.Context) error) error {
	r.mu.Lock()
	n := r.attempts[key]
	r.mu.Unlock()

	if n > 0 {
		delay := r.initialDelay
		for i := 0; i < n-1; i++ {
			delay = time.Duration(float64(delay) * r.factor)
		}
		r.clk.Sleep(delay)
	}

	err := op(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.attempts, key)
		return nil
	}
	r.attempts[key]++
	if r.attempts[key] >= r.maxAttempts {
		delete(r.attempts, key)
		return fmt.Errorf("retry exhausted for %q after %d attempts: %w", key, r.maxAttempts, err)
	}
	return err
}
