// Package order starts sagas for new orders and records how they ended.
package order

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/quiby-ai/ordersaga/pkg/events"
	"github.com/quiby-ai/ordersaga/pkg/obs"
	"github.com/quiby-ai/ordersaga/pkg/retry"
)

const instrumentationName = "github.com/quiby-ai/ordersaga/order"

var (
	ErrNotRetryable           = errors.New("order: latest attempt did not fail")
	ErrUnexpectedNotification = errors.New("order: notification is not a terminal orchestrator event")
)

type Service struct {
	store      EventStore
	publisher  events.Publisher
	startTopic string
}

func NewService(store EventStore, publisher events.Publisher, startTopic string) *Service {
	if startTopic == "" {
		startTopic = events.TopicOrderStart
	}
	return &Service{store: store, publisher: publisher, startTopic: startTopic}
}

// Start validates order, records the initial envelope of a new attempt and
// publishes it to the start topic.
func (s *Service) Start(ctx context.Context, order events.Order) (*events.Event, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return s.begin(ctx, order)
}

func (s *Service) begin(ctx context.Context, order events.Order) (*events.Event, error) {
	e := events.NewEvent(order, events.NewTransactionID())
	e.Record("Saga started")
	ctx, span := obs.StartSagaSpan(ctx, instrumentationName, "order.start", obs.SagaFields{
		OrderID:       e.OrderID,
		TransactionID: e.TransactionID,
		EventID:       e.ID,
		Source:        string(events.SourceOrder),
	})
	defer span.End()

	if err := s.store.Save(ctx, e); err != nil {
		return nil, fmt.Errorf("save initial event: %w", err)
	}
	if err := s.publisher.Publish(ctx, s.startTopic, e); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("publish order %s: %w", e.OrderID, err)
	}
	obs.Event(ctx, "order.started", obs.StatusOK, "topic", s.startTopic, "products", len(order.Products))
	return e, nil
}

// HandleNotification records the terminal outcome of an attempt. A
// redelivered notification is ignored.
func (s *Service) HandleNotification(ctx context.Context, e *events.Event) error {
	if !e.Terminal() {
		return retry.Permanent(fmt.Errorf("%w: %s/%s", ErrUnexpectedNotification, e.Source, e.Status))
	}
	ctx, span := obs.StartSagaSpan(ctx, instrumentationName, "order.notify", obs.SagaFields{
		OrderID:       e.OrderID,
		TransactionID: e.TransactionID,
		EventID:       e.ID,
		Source:        string(events.SourceOrder),
	}, attribute.String("saga.status", string(e.Status)))
	defer span.End()

	latest, err := s.store.FindLatestByTransactionID(ctx, e.TransactionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("load attempt %s: %w", e.TransactionID, err)
	}
	if latest != nil && latest.Source == events.SourceOrder && latest.Status != events.StatusPending {
		obs.Event(ctx, "order.notification", obs.StatusSkipped, "reason", "already recorded")
		return nil
	}

	final := e.Next(events.SourceOrder, e.Status)
	if e.Status == events.StatusSuccess {
		final.Record("Order completed")
	} else {
		final.Record("Order failed")
	}
	if err := s.store.Save(ctx, final); err != nil {
		return fmt.Errorf("save outcome: %w", err)
	}
	obs.Event(ctx, "order.finished", obs.StatusOK, "outcome", string(e.Status), "history", len(final.EventHistory))
	return nil
}

// Retry starts a new attempt with a fresh transaction id for an order whose
// latest attempt failed.
func (s *Service) Retry(ctx context.Context, orderID string) (*events.Event, error) {
	latest, err := s.store.FindLatestByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if latest.Source != events.SourceOrder || latest.Status != events.StatusFail {
		return nil, fmt.Errorf("%w: order %s is %s", ErrNotRetryable, orderID, latest.Status)
	}
	order := latest.Payload
	order.TotalAmount, order.TotalItems = 0, 0
	return s.begin(ctx, order)
}

// Events lists the stored events of orderID, newest first.
func (s *Service) Events(ctx context.Context, orderID string) ([]*events.Event, error) {
	return s.store.List(ctx, orderID)
}

// Latest returns the most recent event stored for orderID.
func (s *Service) Latest(ctx context.Context, orderID string) (*events.Event, error) {
	return s.store.FindLatestByOrderID(ctx, orderID)
}
