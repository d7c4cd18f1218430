package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher sends envelopes keyed by order id.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *Event) error
	PublishDeadLetter(ctx context.Context, topic string, dl DeadLetter) error
}

type Handler interface {
	Handle(ctx context.Context, event *Event) error
}

type HandlerFunc func(ctx context.Context, event *Event) error

func (f HandlerFunc) Handle(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// DeadLetter quarantines a message that could not be processed.
// Value holds the original bytes, which need not be a valid envelope.
type DeadLetter struct {
	Reason   string            `json:"reason"`
	Topic    string            `json:"topic"`
	Key      string            `json:"key"`
	Value    []byte            `json:"value"`
	Headers  map[string]string `json:"headers,omitempty"`
	FailedAt time.Time         `json:"failedAt"`
}

func NewDeadLetter(topic string, event *Event, reason string) DeadLetter {
	value, err := Marshal(event)
	if err != nil {
		value = []byte(event.String())
		reason = fmt.Sprintf("%s (envelope not encodable: %v)", reason, err)
	}
	return DeadLetter{
		Reason:   reason,
		Topic:    topic,
		Key:      event.Key(),
		Value:    value,
		FailedAt: time.Now().UTC(),
	}
}

func (d DeadLetter) Event() (*Event, error) {
	return Unmarshal(d.Value)
}

func marshalDeadLetter(d DeadLetter) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal dead letter: %w", err)
	}
	return data, nil
}
