// Package payment charges the order total and refunds it on rollback.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quiby-ai/ordersaga/pkg/saga"
)

var ErrNotFound = errors.New("payment: payment not found")

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSuccess  Status = "SUCCESS"
	StatusRefunded Status = "REFUNDED"
)

type Payment struct {
	OrderID       string
	TransactionID string
	TotalItems    int
	TotalAmount   float64
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (p Payment) Key() saga.Key {
	return saga.Key{OrderID: p.OrderID, TransactionID: p.TransactionID}
}

type Store interface {
	Exists(ctx context.Context, key saga.Key) (bool, error)
	// Save inserts or replaces the payment of p.Key().
	Save(ctx context.Context, p Payment) error
	Find(ctx context.Context, key saga.Key) (Payment, error)
	UpdateStatus(ctx context.Context, key saga.Key, status Status) error
}

type MemoryStore struct {
	mu       sync.Mutex
	payments map[saga.Key]Payment
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: make(map[saga.Key]Payment)}
}

func (s *MemoryStore) Exists(_ context.Context, key saga.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.payments[key]
	return ok, nil
}

func (s *MemoryStore) Save(_ context.Context, p Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := s.payments[p.Key()]; ok {
		p.CreatedAt = prev.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.payments[p.Key()] = p
	return nil
}

func (s *MemoryStore) Find(_ context.Context, key saga.Key) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[key]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, key saga.Key, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	s.payments[key] = p
	return nil
}
