package saga

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quiby-ai/ordersaga/pkg/events"
)

// Key identifies one saga attempt. It is also the idempotency token.
type Key struct {
	OrderID       string
	TransactionID string
}

func KeyOf(e *events.Event) Key {
	return Key{OrderID: e.OrderID, TransactionID: e.TransactionID}
}

func (k Key) String() string {
	return k.OrderID + ":" + k.TransactionID
}

// Deadline is the in-flight step of a saga attempt and when it is due.
type Deadline struct {
	OrderID       string        `json:"orderId"`
	TransactionID string        `json:"transactionId"`
	Topic         string        `json:"topic"`
	Target        events.Source `json:"target"`
	Event         *events.Event `json:"event"`
	Due           time.Time     `json:"due"`
	Attempts      int           `json:"attempts"`
}

func (d Deadline) Key() Key {
	return Key{OrderID: d.OrderID, TransactionID: d.TransactionID}
}

// InFlight reports whether d is waiting on the envelope with eventID.
func (d Deadline) InFlight(eventID string) bool {
	return d.Event != nil && d.Event.ID == eventID
}

// DeadlineTracker stores at most one deadline per saga attempt.
type DeadlineTracker interface {
	Track(ctx context.Context, d Deadline) error
	Pending(ctx context.Context, key Key) (Deadline, bool, error)
	// Advance replaces the deadline of key with next, or removes it when
	// next is nil, only while its in-flight envelope is still eventID.
	// It reports whether the swap happened.
	Advance(ctx context.Context, key Key, eventID string, next *Deadline) (bool, error)
	Clear(ctx context.Context, key Key) error
	Expired(ctx context.Context, now time.Time, limit int) ([]Deadline, error)
}

type MemoryTracker struct {
	mu        sync.Mutex
	deadlines map[Key]Deadline
}

var _ DeadlineTracker = (*MemoryTracker)(nil)

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{deadlines: make(map[Key]Deadline)}
}

func (m *MemoryTracker) Track(ctx context.Context, d Deadline) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.Event != nil {
		d.Event = d.Event.Clone()
	}
	m.deadlines[d.Key()] = d
	return nil
}

func (m *MemoryTracker) Clear(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadlines, key)
	return nil
}

func (m *MemoryTracker) Expired(ctx context.Context, now time.Time, limit int) ([]Deadline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	var out []Deadline
	for _, d := range m.deadlines {
		if !d.Due.After(now) {
			out = append(out, d)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Due.Before(out[j].Due) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryTracker) Pending(ctx context.Context, key Key) (Deadline, bool, error) {
	if err := ctx.Err(); err != nil {
		return Deadline{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deadlines[key]
	if ok && d.Event != nil {
		d.Event = d.Event.Clone()
	}
	return d, ok, nil
}

func (m *MemoryTracker) Advance(ctx context.Context, key Key, eventID string, next *Deadline) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.deadlines[key]
	if !ok || !cur.InFlight(eventID) {
		return false, nil
	}
	if next == nil {
		delete(m.deadlines, key)
		return true, nil
	}
	d := *next
	if d.Event != nil {
		d.Event = d.Event.Clone()
	}
	m.deadlines[key] = d
	return true, nil
}
