package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	w messageWriter
}

var _ Publisher = (*KafkaProducer)(nil)

// NewKafkaProducer writes synchronously, hashing the key so one order always
// lands on one partition.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	}}
}

func (p *KafkaProducer) Close() error {
	return p.w.Close()
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, event *Event) error {
	value, err := Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	headers := eventHeaders(event)
	otel.GetTextMapPropagator().Inject(ctx, HeaderCarrier{Headers: &headers})

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(event.Key()),
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.ID, topic, err)
	}
	return nil
}

func (p *KafkaProducer) PublishDeadLetter(ctx context.Context, topic string, dl DeadLetter) error {
	value, err := marshalDeadLetter(dl)
	if err != nil {
		return err
	}

	headers := []kafka.Header{{Key: HeaderDeadLetter, Value: []byte(dl.Reason)}}
	otel.GetTextMapPropagator().Inject(ctx, HeaderCarrier{Headers: &headers})

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(dl.Key),
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("dead-letter to %s: %w", topic, err)
	}
	return nil
}
