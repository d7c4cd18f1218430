package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quiby-ai/ordersaga/pkg/events"
	"github.com/quiby-ai/ordersaga/pkg/obs"
)

type SweeperConfig struct {
	StepTimeout time.Duration `koanf:"step_timeout" validate:"gt=0"`
	Interval    time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	MaxRedrives int           `koanf:"max_redrives" validate:"gte=0"`
	BatchSize   int           `koanf:"sweep_batch" validate:"gt=0"`
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		StepTimeout: 30 * time.Second,
		Interval:    5 * time.Second,
		MaxRedrives: 3,
		BatchSize:   100,
	}
}

type SweepResult struct {
	Redriven     int `json:"redriven"`
	DeadLettered int `json:"deadLettered"`
}

// Sweeper re-publishes steps whose outcome did not arrive in time and
// dead-letters them once the redrive budget is spent.
type Sweeper struct {
	mu              sync.Mutex
	tracker         DeadlineTracker
	publisher       events.Publisher
	deadLetterTopic string
	cfg             SweeperConfig
	metrics         *Metrics
	now             func() time.Time
}

func NewSweeper(tracker DeadlineTracker, publisher events.Publisher, deadLetterTopic string, cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		tracker:         tracker,
		publisher:       publisher,
		deadLetterTopic: deadLetterTopic,
		cfg:             cfg,
		metrics:         defaultMetrics(),
		now:             time.Now,
	}
}

// Sweep handles every expired deadline once. Calls are serialised so the
// admin endpoint and the ticker never redrive the same step twice.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result SweepResult
	now := s.now()
	expired, err := s.tracker.Expired(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list expired deadlines: %w", err)
	}

	for _, d := range expired {
		ctx := obs.WithSaga(ctx, obs.SagaFields{OrderID: d.OrderID, TransactionID: d.TransactionID})
		if d.Event == nil {
			if err := s.tracker.Clear(ctx, d.Key()); err != nil {
				return result, err
			}
			continue
		}

		if d.Attempts >= s.cfg.MaxRedrives {
			claimed, err := s.tracker.Advance(ctx, d.Key(), d.Event.ID, nil)
			if err != nil {
				return result, err
			}
			if !claimed {
				continue
			}
			dl := events.NewDeadLetter(d.Topic, d.Event, "step deadline exceeded")
			if err := s.publisher.PublishDeadLetter(ctx, s.deadLetterTopic, dl); err != nil {
				return result, errors.Join(fmt.Errorf("dead-letter %s: %w", d.Key(), err), s.tracker.Track(ctx, d))
			}
			s.metrics.deadLettered(ctx, "deadline")
			obs.Event(ctx, "saga.deadline", obs.StatusError, "target", string(d.Target), "attempts", d.Attempts)
			result.DeadLettered++
			continue
		}

		next := d
		next.Attempts++
		next.Due = now.Add(s.cfg.StepTimeout)
		claimed, err := s.tracker.Advance(ctx, d.Key(), d.Event.ID, &next)
		if err != nil {
			return result, err
		}
		if !claimed {
			// the outcome arrived after the deadline was listed
			continue
		}
		if err := s.publisher.Publish(ctx, d.Topic, d.Event); err != nil {
			return result, fmt.Errorf("redrive %s: %w", d.Key(), err)
		}
		s.metrics.redriven(ctx)
		obs.Event(ctx, "saga.redrive", obs.StatusRetrying, "target", string(d.Target), "attempts", next.Attempts)
		result.Redriven++
	}
	return result, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := s.Sweep(ctx)
			if err != nil {
				obs.Error(ctx, "sweep failed", err)
				continue
			}
			if res.Redriven > 0 || res.DeadLettered > 0 {
				obs.Info(ctx, "sweep finished", "redriven", res.Redriven, "dead_lettered", res.DeadLettered)
			}
		}
	}
}
