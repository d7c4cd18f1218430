package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source names the service that last wrote an envelope.
type Source string

const (
	SourceOrder             Source = "ORDER"
	SourceOrchestrator      Source = "ORCHESTRATOR"
	SourceProductValidation Source = "PRODUCT_VALIDATION"
	SourcePayment           Source = "PAYMENT"
	SourceInventory         Source = "INVENTORY"
)

func (s Source) Valid() bool {
	switch s {
	case SourceOrder, SourceOrchestrator, SourceProductValidation, SourcePayment, SourceInventory:
		return true
	}
	return false
}

type SagaStatus string

const (
	StatusPending         SagaStatus = "PENDING"
	StatusSuccess         SagaStatus = "SUCCESS"
	StatusFail            SagaStatus = "FAIL"
	StatusRollbackPending SagaStatus = "ROLLBACK_PENDING"
)

func (s SagaStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFail, StatusRollbackPending:
		return true
	}
	return false
}

// History is one immutable entry of an envelope's audit trail.
type History struct {
	Source    Source     `json:"source"`
	Status    SagaStatus `json:"status"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"createdAt"`
}

func NewHistory(source Source, status SagaStatus, message string) History {
	return History{
		Source:    source,
		Status:    status,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// Event is the saga envelope carried between the orchestrator and participants.
type Event struct {
	ID            string     `json:"id"`
	CausationID   string     `json:"causationId,omitempty"`
	TransactionID string     `json:"transactionId"`
	OrderID       string     `json:"orderId"`
	Source        Source     `json:"source"`
	Status        SagaStatus `json:"status"`
	Payload       Order      `json:"payload"`
	EventHistory  []History  `json:"eventHistory"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// AddHistory appends h to the trail. It is the only way the trail changes.
func (e *Event) AddHistory(h History) {
	if e.EventHistory == nil {
		e.EventHistory = make([]History, 0, 4)
	}
	e.EventHistory = append(e.EventHistory, h)
}

// Record appends a history entry stamped with the envelope's current source and status.
func (e *Event) Record(message string) {
	e.AddHistory(NewHistory(e.Source, e.Status, message))
}

func (e *Event) LastHistory() (History, bool) {
	if len(e.EventHistory) == 0 {
		return History{}, false
	}
	return e.EventHistory[len(e.EventHistory)-1], true
}

// Key is the partition key; all envelopes of one order share it.
func (e *Event) Key() string {
	return e.OrderID
}

func (e *Event) Terminal() bool {
	return e.Source == SourceOrchestrator && (e.Status == StatusSuccess || e.Status == StatusFail)
}

func (e *Event) Clone() *Event {
	c := *e
	c.Payload = e.Payload.clone()
	if e.EventHistory != nil {
		c.EventHistory = append([]History(nil), e.EventHistory...)
	}
	return &c
}

func (e *Event) String() string {
	return fmt.Sprintf("event{id=%s order=%s tx=%s source=%s status=%s}",
		e.ID, e.OrderID, e.TransactionID, e.Source, e.Status)
}

func Marshal(e *Event) ([]byte, error) {
	return json.Marshal(e)
}

func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &e, nil
}
