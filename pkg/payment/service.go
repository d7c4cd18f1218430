package payment

import (
	"context"
	"errors"

	"github.com/quiby-ai/ordersaga/pkg/events"
	"github.com/quiby-ai/ordersaga/pkg/saga"
)

// MinimumAmount is the smallest order total that can be charged.
const MinimumAmount = 0.1

// Service is the payment saga.Domain. The totals it computes are written
// back into the envelope payload for the downstream steps.
type Service struct {
	store Store
}

var _ saga.Domain = (*Service)(nil)

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Exists(ctx context.Context, key saga.Key) (bool, error) {
	return s.store.Exists(ctx, key)
}

func (s *Service) Execute(ctx context.Context, e *events.Event) (string, error) {
	items, amount := e.Payload.Totals()
	e.Payload.TotalItems = items
	e.Payload.TotalAmount = amount

	p := Payment{
		OrderID:       e.OrderID,
		TransactionID: e.TransactionID,
		TotalItems:    items,
		TotalAmount:   amount,
		Status:        StatusPending,
	}
	if err := s.store.Save(ctx, p); err != nil {
		return "", err
	}
	if amount < MinimumAmount {
		return "", saga.Fail(saga.CodeInvalidAmount, "The minimum amount value is %v", MinimumAmount)
	}
	if err := s.store.UpdateStatus(ctx, p.Key(), StatusSuccess); err != nil {
		return "", err
	}
	return "Payment realized successfully!", nil
}

func (s *Service) Compensate(ctx context.Context, e *events.Event) (string, error) {
	key := saga.KeyOf(e)
	p, err := s.store.Find(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "No payment recorded for this transaction, nothing to refund", nil
	}
	if err != nil {
		return "", err
	}
	if p.Status == StatusRefunded {
		return "Payment already refunded", nil
	}
	if err := s.store.UpdateStatus(ctx, key, StatusRefunded); err != nil {
		return "", err
	}
	return "Rollback executed for payment!", nil
}
