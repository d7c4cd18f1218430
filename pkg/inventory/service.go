package inventory

import (
	"context"
	"errors"

	"github.com/quiby-ai/ordersaga/pkg/events"
	"github.com/quiby-ai/ordersaga/pkg/obs"
	"github.com/quiby-ai/ordersaga/pkg/saga"
)

// Service is the inventory saga.Domain.
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
	lines := Lines(e.Payload)
	if len(lines) == 0 {
		return "", saga.Fail(saga.CodeInvalidPayload, "Order has no products to reserve")
	}

	_, err := s.store.Reserve(ctx, saga.KeyOf(e), lines)
	switch {
	case errors.Is(err, ErrInventoryNotFound):
		obs.Warn(ctx, "reservation rejected", "reason", err.Error())
		return "", saga.Fail(saga.CodeRecordNotFound, "Inventory not found by product.")
	case errors.Is(err, ErrOutOfStock):
		obs.Warn(ctx, "reservation rejected", "reason", err.Error())
		return "", saga.Fail(saga.CodeOutOfStock, "Product is out of stock.")
	case err != nil:
		return "", err
	}
	return "Inventory updated successfully!", nil
}

func (s *Service) Compensate(ctx context.Context, e *events.Event) (string, error) {
	released, err := s.store.Release(ctx, saga.KeyOf(e))
	if err != nil {
		return "", err
	}
	if released == 0 {
		return "No inventory reserved for this transaction, nothing to release", nil
	}
	return "Rollback executed for inventory!", nil
}
