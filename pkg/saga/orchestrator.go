package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/quiby-ai/ordersaga/pkg/events"
	"github.com/quiby-ai/ordersaga/pkg/obs"
)

// Orchestrator routes envelopes through the topology. Apart from the
// optional deadline tracker it keeps no state.
type Orchestrator struct {
	topology    *Topology
	publisher   events.Publisher
	tracker     DeadlineTracker
	stepTimeout time.Duration
	metrics     *Metrics
	now         func() time.Time
}

type OrchestratorOption func(*Orchestrator)

// WithDeadlines tracks every routed step and expects its outcome within timeout.
func WithDeadlines(tracker DeadlineTracker, timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.tracker = tracker
		o.stepTimeout = timeout
	}
}

func WithOrchestratorMetrics(m *Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

func withClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(topology *Topology, publisher events.Publisher, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		topology:  topology,
		publisher: publisher,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = defaultMetrics()
	}
	return o
}

func (o *Orchestrator) Topology() *Topology {
	return o.topology
}

// Handle consumes one envelope from the start topic or a participant output
// topic and publishes it to the next hop. Unroutable envelopes, and with
// deadlines enabled outcomes that do not answer the step in flight, are
// quarantined, not returned as errors.
func (o *Orchestrator) Handle(ctx context.Context, in *events.Event) error {
	ctx, span := obs.StartSagaSpan(ctx, instrumentationName, "orchestrator.route", obs.SagaFields{
		OrderID:       in.OrderID,
		TransactionID: in.TransactionID,
		EventID:       in.ID,
		Source:        string(events.SourceOrchestrator),
	},
		attribute.String("saga.source", string(in.Source)),
		attribute.String("saga.status", string(in.Status)),
	)
	defer span.End()

	key := RouteKey{Source: in.Source, Status: in.Status}
	route, err := o.topology.Route(in.Source, in.Status)
	if err != nil {
		span.SetStatus(codes.Error, "unknown route")
		obs.Error(ctx, "cannot route envelope", err, "error_kind", obs.ErrKindProtocol)
		return o.quarantine(ctx, in, err, "unknown_route")
	}

	out := in.Next(events.SourceOrchestrator, route.Status)
	out.Record(route.Message)

	var next *Deadline
	if !route.Terminal && o.tracking() {
		next = &Deadline{
			OrderID:       out.OrderID,
			TransactionID: out.TransactionID,
			Topic:         route.Topic,
			Target:        route.Target,
			Event:         out,
			Due:           o.now().Add(o.stepTimeout),
		}
	}

	// A non-terminal step is tracked before it is published so its outcome
	// never arrives ahead of its deadline. Terminal deadlines are removed
	// only after the notification is out.
	if o.tracking() {
		stale, err := o.advance(ctx, in, out, next, route.Terminal)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if stale != nil {
			span.SetStatus(codes.Error, "stale outcome")
			obs.Warn(ctx, "stale outcome discarded", "reason", stale.Error(), "from_source", string(in.Source), "from_status", string(in.Status))
			return o.quarantine(ctx, in, stale, "stale_outcome")
		}
	}

	if err := o.publisher.Publish(ctx, route.Topic, out); err != nil {
		span.RecordError(err)
		return fmt.Errorf("route %s/%s to %s: %w", in.Source, in.Status, route.Topic, err)
	}

	if route.Terminal && o.tracking() {
		if _, err := o.tracker.Advance(ctx, KeyOf(in), in.CausationID, nil); err != nil {
			return fmt.Errorf("clear deadline: %w", err)
		}
	}

	o.metrics.route(ctx, key, route.Topic)
	if route.Terminal {
		o.metrics.finished(ctx, string(route.Status))
	}
	obs.Event(ctx, "saga.route", obs.StatusOK,
		"from_source", string(in.Source),
		"from_status", string(in.Status),
		"topic", route.Topic,
		"to_status", string(route.Status),
		"terminal", route.Terminal,
	)
	return nil
}

func (o *Orchestrator) tracking() bool {
	return o.tracker != nil && o.stepTimeout > 0
}

// advance moves the tracked deadline of the attempt from the step in answers
// to next. It returns a non-nil stale error when in does not answer the step
// in flight: a duplicate outcome, an answer to a redriven copy that was
// already routed, or an outcome for an attempt that is already over.
func (o *Orchestrator) advance(ctx context.Context, in, out *events.Event, next *Deadline, terminal bool) (stale error, err error) {
	key := KeyOf(in)
	if in.Source == events.SourceOrder {
		if next != nil {
			if err := o.tracker.Track(ctx, *next); err != nil {
				return nil, fmt.Errorf("track deadline: %w", err)
			}
		}
		return nil, nil
	}

	cur, ok, err := o.tracker.Pending(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load deadline: %w", err)
	}
	switch {
	case ok && cur.InFlight(out.ID):
		// routed before, publish the tracked envelope again
		*out = *cur.Event.Clone()
		return nil, nil
	case !ok:
		return fmt.Errorf("%w: no step of %s is in flight", ErrStaleOutcome, key), nil
	case cur.Target != in.Source || !cur.InFlight(in.CausationID):
		return fmt.Errorf("%w: waiting on %s, got %s", ErrStaleOutcome, cur.Target, in.Source), nil
	case terminal:
		return nil, nil
	}

	swapped, err := o.tracker.Advance(ctx, key, in.CausationID, next)
	if err != nil {
		return nil, fmt.Errorf("advance deadline: %w", err)
	}
	if !swapped {
		return fmt.Errorf("%w: step of %s moved on while routing", ErrStaleOutcome, key), nil
	}
	return nil, nil
}

func (o *Orchestrator) quarantine(ctx context.Context, in *events.Event, cause error, kind string) error {
	dl := events.NewDeadLetter(o.topology.incomingTopic(in.Source), in, cause.Error())
	if err := o.publisher.PublishDeadLetter(ctx, o.topology.DeadLetterTopic(), dl); err != nil {
		return errors.Join(cause, fmt.Errorf("dead-letter: %w", err))
	}
	o.metrics.deadLettered(ctx, kind)
	return nil
}
