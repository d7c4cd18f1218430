package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewTransactionID returns an id unique per saga attempt.
func NewTransactionID() string {
	return fmt.Sprintf("%d_%s", time.Now().UnixMilli(), uuid.NewString())
}

// NewEvent builds the initial envelope of a saga attempt for order.
func NewEvent(order Order, transactionID string) *Event {
	now := time.Now().UTC()
	order.TransactionID = transactionID
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	return &Event{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		OrderID:       order.ID,
		Source:        SourceOrder,
		Status:        StatusPending,
		Payload:       order,
		CreatedAt:     now,
	}
}

// Next returns a copy of e for the next hop, written by source with status.
// Order, transaction and history carry over and CausationID points at e.
// The new id is derived from e, so handling the same envelope twice yields
// the same next envelope.
func (e *Event) Next(source Source, status SagaStatus) *Event {
	n := e.Clone()
	n.ID = nextID(e, source, status)
	n.CausationID = e.ID
	n.Source = source
	n.Status = status
	return n
}

func nextID(e *Event, source Source, status SagaStatus) string {
	name := strings.Join([]string{e.ID, string(e.Status), string(source), string(status)}, "|")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
