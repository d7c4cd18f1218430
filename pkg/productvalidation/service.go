package productvalidation

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/quiby-ai/ordersaga/pkg/events"
	"github.com/quiby-ai/ordersaga/pkg/saga"
)

// Service is the product-validation saga.Domain.
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
	if len(e.Payload.Products) == 0 {
		return "", saga.Fail(saga.CodeInvalidPayload, "Product list is empty")
	}
	codes := make([]string, 0, len(e.Payload.Products))
	seen := make(map[string]bool, len(e.Payload.Products))
	for _, p := range e.Payload.Products {
		if p.Product.Code == "" {
			return "", saga.Fail(saga.CodeInvalidPayload, "Product code must be informed")
		}
		if p.Quantity <= 0 {
			return "", saga.Fail(saga.CodeInvalidPayload, "Product %s has invalid quantity %d", p.Product.Code, p.Quantity)
		}
		if !seen[p.Product.Code] {
			seen[p.Product.Code] = true
			codes = append(codes, p.Product.Code)
		}
	}

	missing, err := s.store.MissingProducts(ctx, codes)
	if err != nil {
		return "", err
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", saga.Fail(saga.CodeRecordNotFound, "Product does not exist in database: %s", strings.Join(missing, ", "))
	}

	err = s.store.Create(ctx, Validation{OrderID: e.OrderID, TransactionID: e.TransactionID, Success: true})
	if errors.Is(err, ErrDuplicate) {
		return "", saga.Fail(saga.CodeDuplicateTransaction, "There's another transactionId for this validation")
	}
	if err != nil {
		return "", err
	}
	return "Products are validated successfully!", nil
}

func (s *Service) Compensate(ctx context.Context, e *events.Event) (string, error) {
	if err := s.store.MarkFailed(ctx, saga.KeyOf(e)); err != nil {
		return "", err
	}
	return "Rollback executed on product validation!", nil
}
