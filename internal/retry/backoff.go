// internal/retry/backoff.go
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PermanentError stops the retry loop immediately
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ErrExhausted is wrapped by Do once every attempt failed
var ErrExhausted = errors.New("retries exhausted")

// Backoff retries an operation with a delay between attempts.
// Multiplier 1 gives a fixed delay.
type Backoff struct {
	Delay       time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	MaxAttempts int

	// sleep is replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// Fixed returns a backoff that waits delay between at most attempts tries.
// Fewer than one attempt is treated as one.
func Fixed(delay time.Duration, attempts int) *Backoff {
	return &Backoff{
		Delay:       delay,
		Multiplier:  1,
		MaxAttempts: max(attempts, 1),
	}
}

// Do calls fn until it succeeds, returns a permanent error, the attempt
// budget runs out, or ctx is done. attempt is 1-based. The number of
// attempts made is returned with the error.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	delay := b.Delay
	multiplier := b.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	sleep := b.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}

		if IsPermanent(err) {
			return attempt, errors.Unwrap(err)
		}

		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return attempt, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}

		if err := sleep(ctx, delay); err != nil {
			return attempt, fmt.Errorf("retry cancelled: %w", err)
		}

		delay = time.Duration(float64(delay) * multiplier)
		if b.MaxDelay > 0 && delay > b.MaxDelay {
			delay = b.MaxDelay
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
