package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func noSleep(b *Backoff, delays *[]time.Duration) *Backoff {
	b.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return b
}

func TestFixedAttemptBound(t *testing.T) {
	tests := []struct {
		name      string
		attempts  int
		wantCalls int
	}{
		{name: "three", attempts: 3, wantCalls: 3},
		{name: "one", attempts: 1, wantCalls: 1},
		{name: "zero means one", attempts: 0, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var delays []time.Duration
			b := noSleep(Fixed(500*time.Millisecond, tt.attempts), &delays)

			calls := 0
			n, err := b.Do(context.Background(), func(int) error {
				calls++
				return errBoom
			})

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrExhausted)
			assert.ErrorIs(t, err, errBoom)
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantCalls, n)
			assert.Len(t, delays, tt.wantCalls-1)
			for _, d := range delays {
				assert.Equal(t, 500*time.Millisecond, d)
			}
		})
	}
}

func TestDoSucceedsEventually(t *testing.T) {
	var delays []time.Duration
	b := noSleep(Fixed(time.Millisecond, 5), &delays)

	n, err := b.Do(context.Background(), func(attempt int) error {
		if attempt < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDoPermanentStops(t *testing.T) {
	var delays []time.Duration
	b := noSleep(Fixed(time.Millisecond, 5), &delays)

	n, err := b.Do(context.Background(), func(int) error {
		return Permanent(errBoom)
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, errBoom, err)
	assert.Empty(t, delays)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := Fixed(time.Hour, 3).Do(ctx, func(int) error { return errBoom })
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoMultiplierCapped(t *testing.T) {
	var delays []time.Duration
	b := noSleep(&Backoff{Delay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond, Multiplier: 2, MaxAttempts: 4}, &delays)

	_, err := b.Do(context.Background(), func(int) error { return errBoom })
	require.Error(t, err)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}, delays)
}

func TestPermanentNil(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	assert.False(t, IsPermanent(errBoom))
}
