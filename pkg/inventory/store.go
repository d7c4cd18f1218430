// Package inventory reserves stock for an order and releases it on rollback.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quiby-ai/ordersaga/pkg/events"
	"github.com/quiby-ai/ordersaga/pkg/saga"
)

var (
	ErrInventoryNotFound = errors.New("inventory: inventory not found")
	ErrOutOfStock        = errors.New("inventory: out of stock")
)

// Line is the total quantity of one product requested by an order.
type Line struct {
	ProductCode string
	Quantity    int
}

// Lines aggregates the order products by code, sorted by code so stock rows
// are always locked in the same order.
func Lines(order events.Order) []Line {
	totals := make(map[string]int, len(order.Products))
	for _, p := range order.Products {
		totals[p.Product.Code] += p.Quantity
	}
	lines := make([]Line, 0, len(totals))
	for code, qty := range totals {
		lines = append(lines, Line{ProductCode: code, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductCode < lines[j].ProductCode })
	return lines
}

type Inventory struct {
	ProductCode string
	Available   int
}

// OrderInventory records the stock movement of one order line.
type OrderInventory struct {
	OrderID       string
	TransactionID string
	ProductCode   string
	OldQuantity   int
	OrderQuantity int
	NewQuantity   int
	Released      bool
	CreatedAt     time.Time
}

type Store interface {
	Exists(ctx context.Context, key saga.Key) (bool, error)
	// Reserve decrements stock for every line or for none. Reserving a key
	// that already has records returns them unchanged.
	Reserve(ctx context.Context, key saga.Key, lines []Line) ([]OrderInventory, error)
	// Release restores stock of the unreleased records of key and returns
	// how many were released.
	Release(ctx context.Context, key saga.Key) (int, error)
	Available(ctx context.Context, productCode string) (int, error)
	SetAvailable(ctx context.Context, productCode string, available int) error
	// Seed creates productCode with available units unless it already
	// exists, and reports whether it was created.
	Seed(ctx context.Context, productCode string, available int) (bool, error)
}

type MemoryStore struct {
	mu          sync.Mutex
	inventories map[string]int
	records     map[saga.Key][]OrderInventory
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		inventories: make(map[string]int),
		records:     make(map[saga.Key][]OrderInventory),
	}
}

func (s *MemoryStore) Exists(_ context.Context, key saga.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key]
	return ok, nil
}

func (s *MemoryStore) Reserve(_ context.Context, key saga.Key, lines []Line) ([]OrderInventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[key]; ok {
		return append([]OrderInventory(nil), existing...), nil
	}

	for _, l := range lines {
		available, ok := s.inventories[l.ProductCode]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInventoryNotFound, l.ProductCode)
		}
		if l.Quantity > available {
			return nil, fmt.Errorf("%w: %s has %d, requested %d", ErrOutOfStock, l.ProductCode, available, l.Quantity)
		}
	}

	now := time.Now().UTC()
	records := make([]OrderInventory, 0, len(lines))
	for _, l := range lines {
		old := s.inventories[l.ProductCode]
		s.inventories[l.ProductCode] = old - l.Quantity
		records = append(records, OrderInventory{
			OrderID:       key.OrderID,
			TransactionID: key.TransactionID,
			ProductCode:   l.ProductCode,
			OldQuantity:   old,
			OrderQuantity: l.Quantity,
			NewQuantity:   old - l.Quantity,
			CreatedAt:     now,
		})
	}
	s.records[key] = records
	return append([]OrderInventory(nil), records...), nil
}

func (s *MemoryStore) Release(_ context.Context, key saga.Key) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	released := 0
	records := s.records[key]
	for i := range records {
		if records[i].Released {
			continue
		}
		s.inventories[records[i].ProductCode] += records[i].OrderQuantity
		records[i].Released = true
		released++
	}
	return released, nil
}

func (s *MemoryStore) Available(_ context.Context, productCode string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	available, ok := s.inventories[productCode]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInventoryNotFound, productCode)
	}
	return available, nil
}

func (s *MemoryStore) SetAvailable(_ context.Context, productCode string, available int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventories[productCode] = available
	return nil
}

func (s *MemoryStore) Seed(_ context.Context, productCode string, available int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inventories[productCode]; ok {
		return false, nil
	}
	s.inventories[productCode] = available
	return true, nil
}

// Records returns the movements reserved under key.
func (s *MemoryStore) Records(key saga.Key) []OrderInventory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OrderInventory(nil), s.records[key]...)
}
