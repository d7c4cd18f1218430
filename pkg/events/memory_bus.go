package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrDeliveryLimit = errors.New("memory bus: delivery limit reached")

type delivery struct {
	topic string
	event *Event
}

// MemoryBus is an in-process Publisher that delivers in publish order.
// Messages queue up until Drain is called, which keeps delivery on the
// caller's goroutine.
type MemoryBus struct {
	mu          sync.Mutex
	handlers    map[string][]Handler
	queue       []delivery
	published   map[string][]*Event
	deadLetters []DeadLetter
	limit       int
}

var _ Publisher = (*MemoryBus)(nil)

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		handlers:  make(map[string][]Handler),
		published: make(map[string][]*Event),
		limit:     10000,
	}
}

func (b *MemoryBus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := event.Clone()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, delivery{topic: topic, event: c})
	b.published[topic] = append(b.published[topic], c)
	return nil
}

func (b *MemoryBus) PublishDeadLetter(ctx context.Context, topic string, dl DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadLetters = append(b.deadLetters, dl)
	return nil
}

// Drain delivers queued messages, including those published by handlers,
// until the queue is empty. A failing handler dead-letters the message and
// its error is returned once the queue is drained.
func (b *MemoryBus) Drain(ctx context.Context) (int, error) {
	var errs []error
	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		d, handlers, ok := b.pop()
		if !ok {
			return delivered, errors.Join(errs...)
		}
		if delivered >= b.limit {
			return delivered, ErrDeliveryLimit
		}
		delivered++

		for _, h := range handlers {
			if err := h.Handle(ctx, d.event.Clone()); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", d.topic, err))
				_ = b.PublishDeadLetter(ctx, TopicDeadLetter, NewDeadLetter(d.topic, d.event, err.Error()))
			}
		}
	}
}

func (b *MemoryBus) pop() (delivery, []Handler, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return delivery{}, nil, false
	}
	d := b.queue[0]
	b.queue = b.queue[1:]
	return d, append([]Handler(nil), b.handlers[d.topic]...), true
}

// Published returns copies of everything published to topic, oldest first.
func (b *MemoryBus) Published(topic string) []*Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Event, len(b.published[topic]))
	for i, e := range b.published[topic] {
		out[i] = e.Clone()
	}
	return out
}

func (b *MemoryBus) DeadLetters() []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DeadLetter(nil), b.deadLetters...)
}

func (b *MemoryBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
