package events

import (
	"errors"
	"strings"
)

var ErrInvalidEvent = errors.New("invalid event")

// ValidationError represents a validation error with field path and message.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationResult contains validation results and errors.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func (r *ValidationResult) add(field, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// Err returns nil for a valid result, otherwise an error wrapping ErrInvalidEvent.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return errors.Join(ErrInvalidEvent, errors.New(strings.Join(msgs, "; ")))
}

// ValidateEvent checks the envelope fields every hop relies on. Payload
// business rules are left to the participants.
func ValidateEvent(e *Event) ValidationResult {
	result := ValidationResult{Valid: true}
	if e == nil {
		result.add("event", "event is nil")
		return result
	}

	if e.ID == "" {
		result.add("id", "id is required")
	}
	if e.TransactionID == "" {
		result.add("transactionId", "transactionId is required")
	}
	if e.OrderID == "" {
		result.add("orderId", "orderId is required")
	}
	if !e.Source.Valid() {
		result.add("source", "unknown source "+string(e.Source))
	}
	if !e.Status.Valid() {
		result.add("status", "unknown status "+string(e.Status))
	}
	if e.Payload.ID != e.OrderID {
		result.add("payload.id", "payload id must match orderId")
	}
	for _, h := range e.EventHistory {
		if !h.Source.Valid() || !h.Status.Valid() {
			result.add("eventHistory", "history entry has unknown source or status")
			break
		}
	}

	return result
}
