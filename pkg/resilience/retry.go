package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
)

// Backoff is a retry schedule. Zero fields take the values of
// DefaultBackoff.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Factor   float64
	Jitter   float64
}

// DefaultBackoff retries twice, 100ms then about 200ms apart.
var DefaultBackoff = Backoff{
	Attempts: 3,
	Initial:  100 * time.Millisecond,
	Max:      10 * time.Second,
	Factor:   2,
	Jitter:   0.1,
}

func (b Backoff) withDefaults() Backoff {
	if b.Attempts <= 0 {
		b.Attempts = DefaultBackoff.Attempts
	}
	if b.Initial <= 0 {
		b.Initial = DefaultBackoff.Initial
	}
	if b.Max <= 0 {
		b.Max = DefaultBackoff.Max
	}
	if b.Factor < 1 {
		b.Factor = DefaultBackoff.Factor
	}
	if b.Jitter <= 0 {
		b.Jitter = DefaultBackoff.Jitter
	}
	return b
}

// Delay returns the wait after the given failed attempt, counting from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	d := float64(b.Initial) * math.Pow(b.Factor, float64(attempt-1))
	d += d * b.Jitter * (2*rand.Float64() - 1)
	return time.Duration(math.Min(math.Max(d, float64(b.Initial)), float64(b.Max)))
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as one that retrying cannot fix. Retry returns it
// immediately, unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, the attempts run out or ctx ends.
// Errors marked Permanent and invalid-input errors are returned at once:
// a rejected signature is rejected on every attempt.
func Retry(ctx context.Context, name string, b Backoff, fn func(ctx context.Context) error) error {
	b = b.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", name)
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if errors.Is(err, apperrors.ErrInvalidInput) {
			return err
		}
		if attempt >= b.Attempts {
			return fmt.Errorf("%s: giving up after %d attempts: %w", name, attempt, err)
		}
		delay := b.Delay(attempt)
		logger.Warn("attempt failed, retrying", "attempt", attempt, "max_attempts", b.Attempts, "next_delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: retry cancelled after %d attempts: %w (last error: %v)", name, attempt, ctx.Err(), err)
		}
	}
}
