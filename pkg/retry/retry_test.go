package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestDoSucceedsAfterTransientErrors(t *testing.T) {
	p := New(Config{MaxRetries: 3}, WithSleep(noSleep))

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("broker unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	var slept []time.Duration
	p := New(Config{MaxRetries: 2, BackoffInitial: 10 * time.Millisecond, BackoffMax: time.Second},
		WithSleep(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}))

	boom := errors.New("db down")
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, slept)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	p := New(Config{MaxRetries: 5}, WithSleep(noSleep))

	business := errors.New("out of stock")
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(business)
	})

	assert.Same(t, business, err)
	assert.Equal(t, 1, calls)
}

func TestDoCustomClassifier(t *testing.T) {
	nonRetryable := errors.New("bad request")
	p := New(Config{MaxRetries: 5},
		WithSleep(noSleep),
		WithRetryOn(func(err error) bool { return !errors.Is(err, nonRetryable) }))

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return nonRetryable
	})

	assert.ErrorIs(t, err, nonRetryable)
	assert.NotErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(Config{MaxRetries: 5, BackoffInitial: time.Hour, BackoffMax: time.Hour})

	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{
			name:    "first attempt",
			cfg:     Config{BackoffInitial: 100 * time.Millisecond, BackoffMax: time.Second},
			attempt: 0,
			min:     100 * time.Millisecond,
			max:     100 * time.Millisecond,
		},
		{
			name:    "doubles",
			cfg:     Config{BackoffInitial: 100 * time.Millisecond, BackoffMax: time.Second},
			attempt: 2,
			min:     400 * time.Millisecond,
			max:     400 * time.Millisecond,
		},
		{
			name:    "capped",
			cfg:     Config{BackoffInitial: 100 * time.Millisecond, BackoffMax: time.Second},
			attempt: 10,
			min:     time.Second,
			max:     time.Second,
		},
		{
			name:    "jitter bounded",
			cfg:     Config{BackoffInitial: 100 * time.Millisecond, BackoffMax: time.Second, Jitter: 50 * time.Millisecond},
			attempt: 0,
			min:     100 * time.Millisecond,
			max:     150 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(tt.cfg).Backoff(tt.attempt)
			assert.GreaterOrEqual(t, d, tt.min)
			assert.LessOrEqual(t, d, tt.max)
		})
	}
}

func TestNormalizeConfig(t *testing.T) {
	p := New(Config{MaxRetries: -1, Jitter: -time.Second})

	cfg := p.Config()
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.BackoffInitial)
	assert.Equal(t, 5*time.Second, cfg.BackoffMax)
	assert.Zero(t, cfg.Jitter)
}
