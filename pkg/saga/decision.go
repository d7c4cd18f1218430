package saga

import (
	"context"
	"sync"

	"github.com/quiby-ai/ordersaga/pkg/events"
)

// Decision is the outcome a participant settled on for one input envelope.
type Decision struct {
	InputID string
	Outcome *events.Event
}

// DecisionLog remembers the first decision a participant made per saga
// attempt, so a redelivered input gets the same answer again instead of
// being reported as a duplicate.
type DecisionLog interface {
	Decided(ctx context.Context, source events.Source, key Key) (Decision, bool, error)
	// Remember keeps the first decision stored for source and key.
	Remember(ctx context.Context, source events.Source, key Key, d Decision) error
}

type decisionKey struct {
	source events.Source
	key    Key
}

type MemoryDecisionLog struct {
	mu        sync.Mutex
	decisions map[decisionKey]Decision
}

var _ DecisionLog = (*MemoryDecisionLog)(nil)

func NewMemoryDecisionLog() *MemoryDecisionLog {
	return &MemoryDecisionLog{decisions: make(map[decisionKey]Decision)}
}

func (m *MemoryDecisionLog) Decided(ctx context.Context, source events.Source, key Key) (Decision, bool, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[decisionKey{source, key}]
	if ok {
		d.Outcome = d.Outcome.Clone()
	}
	return d, ok, nil
}

func (m *MemoryDecisionLog) Remember(ctx context.Context, source events.Source, key Key, d Decision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := decisionKey{source, key}
	if _, ok := m.decisions[k]; ok {
		return nil
	}
	d.Outcome = d.Outcome.Clone()
	m.decisions[k] = d
	return nil
}
