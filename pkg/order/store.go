package order

import (
	"context"
	"errors"
	"sync"

	"github.com/quiby-ai/ordersaga/pkg/events"
)

var ErrNotFound = errors.New("order: event not found")

// EventStore keeps every envelope the order service saw, in arrival order.
type EventStore interface {
	Save(ctx context.Context, e *events.Event) error
	FindLatestByOrderID(ctx context.Context, orderID string) (*events.Event, error)
	FindLatestByTransactionID(ctx context.Context, transactionID string) (*events.Event, error)
	// List returns the events of orderID, or of every order when orderID is
	// empty, newest first.
	List(ctx context.Context, orderID string) ([]*events.Event, error)
}

type MemoryEventStore struct {
	mu     sync.RWMutex
	events []*events.Event
}

var _ EventStore = (*MemoryEventStore)(nil)

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

func (s *MemoryEventStore) Save(ctx context.Context, e *events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e.Clone())
	return nil
}

func (s *MemoryEventStore) FindLatestByOrderID(_ context.Context, orderID string) (*events.Event, error) {
	return s.latest(func(e *events.Event) bool { return e.OrderID == orderID })
}

func (s *MemoryEventStore) FindLatestByTransactionID(_ context.Context, transactionID string) (*events.Event, error) {
	return s.latest(func(e *events.Event) bool { return e.TransactionID == transactionID })
}

func (s *MemoryEventStore) latest(match func(*events.Event) bool) (*events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if match(s.events[i]) {
			return s.events[i].Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryEventStore) List(ctx context.Context, orderID string) ([]*events.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*events.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if orderID == "" || s.events[i].OrderID == orderID {
			out = append(out, s.events[i].Clone())
		}
	}
	return out, nil
}
