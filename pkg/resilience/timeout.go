package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
)

// WithTimeout runs fn under a deadline of timeout and returns its result.
// When the deadline passes first it returns an error matching both
// apperrors.ErrTimeout and context.DeadlineExceeded without waiting for fn,
// which must honour its context. A non-positive timeout runs fn directly.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(deadlineCtx)
		done <- outcome{v, err}
	}()

	var zero T
	select {
	case o := <-done:
		return o.val, o.err
	case <-deadlineCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
		return zero, fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, timeout, context.DeadlineExceeded)
	}
}
