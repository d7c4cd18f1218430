// Package productvalidation checks that every ordered product exists in the
// catalog before the saga charges or reserves anything.
package productvalidation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quiby-ai/ordersaga/pkg/saga"
)

var (
	ErrNotFound  = errors.New("productvalidation: validation not found")
	ErrDuplicate = errors.New("productvalidation: validation already recorded")
)

type Validation struct {
	OrderID       string
	TransactionID string
	Success       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (v Validation) Key() saga.Key {
	return saga.Key{OrderID: v.OrderID, TransactionID: v.TransactionID}
}

type Store interface {
	Exists(ctx context.Context, key saga.Key) (bool, error)
	AddProduct(ctx context.Context, code string) error
	// MissingProducts returns the codes absent from the catalog.
	MissingProducts(ctx context.Context, codes []string) ([]string, error)
	Create(ctx context.Context, v Validation) error
	// MarkFailed sets success=false, creating the record if needed.
	MarkFailed(ctx context.Context, key saga.Key) error
	Find(ctx context.Context, key saga.Key) (Validation, error)
}

type MemoryStore struct {
	mu          sync.Mutex
	catalog     map[string]bool
	validations map[saga.Key]Validation
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(catalog ...string) *MemoryStore {
	s := &MemoryStore{
		catalog:     make(map[string]bool, len(catalog)),
		validations: make(map[saga.Key]Validation),
	}
	for _, code := range catalog {
		s.catalog[code] = true
	}
	return s
}

func (s *MemoryStore) AddProduct(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[code] = true
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key saga.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.validations[key]
	return ok, nil
}

func (s *MemoryStore) MissingProducts(_ context.Context, codes []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []string
	for _, c := range codes {
		if !s.catalog[c] {
			missing = append(missing, c)
		}
	}
	return missing, nil
}

func (s *MemoryStore) Create(_ context.Context, v Validation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.validations[v.Key()]; ok {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now
	s.validations[v.Key()] = v
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, key saga.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	v, ok := s.validations[key]
	if !ok {
		v = Validation{OrderID: key.OrderID, TransactionID: key.TransactionID, CreatedAt: now}
	}
	v.Success = false
	v.UpdatedAt = now
	s.validations[key] = v
	return nil
}

func (s *MemoryStore) Find(_ context.Context, key saga.Key) (Validation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.validations[key]
	if !ok {
		return Validation{}, ErrNotFound
	}
	return v, nil
}
