// Package retry runs infrastructure calls with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

var ErrMaxRetries = errors.New("retry: max retries reached")

type Config struct {
	MaxRetries     int           `koanf:"max_retries" validate:"gte=0"`
	BackoffInitial time.Duration `koanf:"backoff_initial"`
	BackoffMax     time.Duration `koanf:"backoff_max"`
	Jitter         time.Duration `koanf:"jitter" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		BackoffInitial: 100 * time.Millisecond,
		BackoffMax:     5 * time.Second,
		Jitter:         50 * time.Millisecond,
	}
}

type Policy struct {
	cfg     Config
	retryOn func(error) bool
	sleep   func(context.Context, time.Duration) error
}

type Option func(*Policy)

// WithRetryOn replaces the default classifier, which retries everything except
// permanent and context errors.
func WithRetryOn(fn func(error) bool) Option {
	return func(p *Policy) { p.retryOn = fn }
}

// WithSleep overrides the wait between attempts.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(p *Policy) { p.sleep = fn }
}

func New(cfg Config, opts ...Option) *Policy {
	normalizeConfig(&cfg)
	p := &Policy{
		cfg:     cfg,
		retryOn: defaultRetryOn,
		sleep:   sleepWithContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func normalizeConfig(cfg *Config) {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Second
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
}

func (p *Policy) Config() Config {
	return p.cfg
}

// Do calls fn until it succeeds, returns a non-retryable error, or the retry
// budget is spent. Exhaustion is reported as ErrMaxRetries wrapping the last error.
func (p *Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if !p.retryOn(err) {
			return err
		}
		lastErr = err

		if attempt == p.cfg.MaxRetries {
			break
		}
		if err := p.sleep(ctx, p.Backoff(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, p.cfg.MaxRetries+1, lastErr)
}

// Backoff returns initial*2^attempt plus jitter, capped at BackoffMax.
func (p *Policy) Backoff(attempt int) time.Duration {
	backoff := float64(p.cfg.BackoffInitial) * math.Pow(2, float64(attempt))
	if p.cfg.Jitter > 0 {
		backoff += float64(rand.N(p.cfg.Jitter))
	}
	if backoff > float64(p.cfg.BackoffMax) {
		return p.cfg.BackoffMax
	}
	return time.Duration(backoff)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func defaultRetryOn(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
