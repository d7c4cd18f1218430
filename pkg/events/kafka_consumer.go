package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quiby-ai/ordersaga/pkg/obs"
	"github.com/quiby-ai/ordersaga/pkg/retry"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer feeds one topic to a Handler. Offsets are committed only
// after the handler returned or the message was dead-lettered.
type KafkaConsumer struct {
	reader   messageReader
	topic    string
	handler  Handler
	retry    *retry.Policy
	dlq      Publisher
	dlqTopic string
}

type ConsumerOption func(*KafkaConsumer)

func WithRetryPolicy(p *retry.Policy) ConsumerOption {
	return func(kc *KafkaConsumer) { kc.retry = p }
}

func WithDeadLetter(p Publisher, topic string) ConsumerOption {
	return func(kc *KafkaConsumer) {
		kc.dlq = p
		kc.dlqTopic = topic
	}
}

func NewKafkaConsumer(brokers []string, topic, groupID string, handler Handler, opts ...ConsumerOption) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
	return newConsumer(reader, topic, handler, opts...)
}

func newConsumer(reader messageReader, topic string, handler Handler, opts ...ConsumerOption) *KafkaConsumer {
	kc := &KafkaConsumer{
		reader:  reader,
		topic:   topic,
		handler: handler,
		retry:   retry.New(retry.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(kc)
	}
	return kc
}

// Run blocks until ctx is cancelled or the reader fails.
func (kc *KafkaConsumer) Run(ctx context.Context) error {
	obs.Info(ctx, "consumer started", "topic", kc.topic)
	for {
		m, err := kc.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch from %s: %w", kc.topic, err)
		}

		if err := kc.process(ctx, m); err != nil {
			return err
		}

		if err := kc.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit %s/%d@%d: %w", m.Topic, m.Partition, m.Offset, err)
		}
	}
}

func (kc *KafkaConsumer) process(ctx context.Context, m kafka.Message) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, HeaderCarrier{Headers: &m.Headers})
	ctx, span := obs.Tracer("github.com/quiby-ai/ordersaga/events").Start(ctx, "consume "+m.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", m.Topic),
			attribute.Int("messaging.kafka.partition", m.Partition),
			attribute.Int64("messaging.kafka.offset", m.Offset),
		))
	defer span.End()

	event, err := Unmarshal(m.Value)
	if err != nil {
		span.SetStatus(codes.Error, "undecodable")
		return kc.deadLetter(ctx, m, "undecodable message: "+err.Error())
	}
	ctx = obs.WithSaga(ctx, obs.SagaFields{
		OrderID:       event.OrderID,
		TransactionID: event.TransactionID,
		EventID:       event.ID,
	})
	if err := ValidateEvent(event).Err(); err != nil {
		span.SetStatus(codes.Error, "invalid")
		return kc.deadLetter(ctx, m, err.Error())
	}

	timer := obs.StartTimer()
	err = kc.retry.Do(ctx, func(ctx context.Context) error {
		return kc.handler.Handle(ctx, event)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		obs.Error(ctx, "handler failed", err, "topic", m.Topic, "error_kind", obs.ErrKindKafka)
		return kc.deadLetter(ctx, m, "handler failed: "+err.Error())
	}

	obs.EventWithLatency(ctx, "message.handled", obs.StatusOK, timer(), "topic", m.Topic)
	return nil
}

func (kc *KafkaConsumer) deadLetter(ctx context.Context, m kafka.Message, reason string) error {
	if kc.dlq == nil {
		obs.Warn(ctx, "message dropped, no dead-letter topic", "topic", m.Topic, "reason", reason)
		return nil
	}
	dl := DeadLetter{
		Reason:   reason,
		Topic:    m.Topic,
		Key:      string(m.Key),
		Value:    m.Value,
		Headers:  headerMap(m.Headers),
		FailedAt: time.Now().UTC(),
	}
	if err := kc.dlq.PublishDeadLetter(ctx, kc.dlqTopic, dl); err != nil {
		return fmt.Errorf("dead-letter message from %s: %w", m.Topic, err)
	}
	obs.Event(ctx, "message.dead_lettered", obs.StatusError, "topic", m.Topic, "reason", reason)
	return nil
}

func (kc *KafkaConsumer) Close() error {
	if kc.reader != nil {
		return kc.reader.Close()
	}
	return nil
}
