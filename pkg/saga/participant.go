package saga

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/quiby-ai/ordersaga/pkg/events"
	"github.com/quiby-ai/ordersaga/pkg/obs"
	"github.com/quiby-ai/ordersaga/pkg/retry"
)

// Domain is the per-participant capability set.
//
// Execute and Compensate return the history message of a successful call.
// Business rejections are returned as *Failure; anything else is treated as
// an infrastructure error and retried, so both must be atomic.
type Domain interface {
	Exists(ctx context.Context, key Key) (bool, error)
	Execute(ctx context.Context, event *events.Event) (string, error)
	Compensate(ctx context.Context, event *events.Event) (string, error)
}

// Participant runs the idempotency check, execute, decide and publish
// sequence for one topology step.
type Participant struct {
	source     events.Source
	step       Step
	deadLetter string
	domain     Domain
	publisher  events.Publisher
	decisions  DecisionLog
	retry      *retry.Policy
	metrics    *Metrics
}

type ParticipantOption func(*Participant)

func WithRetry(p *retry.Policy) ParticipantOption {
	return func(pt *Participant) { pt.retry = p }
}

// WithDecisionLog replaces the in-process decision log, typically with one
// that survives restarts.
func WithDecisionLog(l DecisionLog) ParticipantOption {
	return func(pt *Participant) { pt.decisions = l }
}

func WithParticipantMetrics(m *Metrics) ParticipantOption {
	return func(pt *Participant) { pt.metrics = m }
}

func NewParticipant(source events.Source, topology *Topology, domain Domain, publisher events.Publisher, opts ...ParticipantOption) (*Participant, error) {
	step, ok := topology.Step(source)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, source)
	}
	p := &Participant{
		source:     source,
		step:       step,
		deadLetter: topology.DeadLetterTopic(),
		domain:     domain,
		publisher:  publisher,
		decisions:  NewMemoryDecisionLog(),
		retry:      retry.New(retry.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = defaultMetrics()
	}
	return p, nil
}

func (p *Participant) Source() events.Source {
	return p.source
}

func (p *Participant) Handle(ctx context.Context, in *events.Event) error {
	ctx, span := obs.StartSagaSpan(ctx, instrumentationName, "participant."+string(p.source), obs.SagaFields{
		OrderID:       in.OrderID,
		TransactionID: in.TransactionID,
		EventID:       in.ID,
		Source:        string(p.source),
	}, attribute.String("saga.status", string(in.Status)))
	defer span.End()

	switch in.Status {
	case events.StatusPending:
		return p.forward(ctx, in)
	case events.StatusRollbackPending:
		return p.compensate(ctx, in)
	}

	err := fmt.Errorf("%w: %s received %s", ErrUnexpectedStatus, p.source, in.Status)
	span.SetStatus(codes.Error, "unexpected status")
	obs.Error(ctx, "envelope rejected", err, "error_kind", obs.ErrKindProtocol)
	return p.quarantine(ctx, in, err.Error())
}

// forward always publishes an outcome, also when the domain panics. An input
// that was already decided gets its recorded outcome again.
func (p *Participant) forward(ctx context.Context, in *events.Event) (err error) {
	if out, ok := p.decided(ctx, in); ok {
		obs.Info(ctx, "replaying decided outcome", "outcome", string(out.Status))
		return p.publish(ctx, out)
	}

	timer := obs.StartTimer()
	out := in.Next(p.source, events.StatusRollbackPending)
	defer func() {
		if r := recover(); r != nil {
			out.Status = events.StatusRollbackPending
			out.Record(Fail(CodeInfrastructure, "%s panicked: %v", p.source, r).Error())
		}
		p.remember(ctx, in, out)
		err = p.publish(ctx, out)
		p.metrics.outcome(ctx, string(p.source), string(out.Status), timer())
	}()

	msg, ferr := p.execute(ctx, out)
	if ferr != nil {
		out.Status = events.StatusRollbackPending
		out.Record(ferr.Error())
		obs.Warn(ctx, "step failed", "code", string(ferr.Code), "reason", ferr.Message)
		return nil
	}
	out.Status = events.StatusSuccess
	out.Record(msg)
	return nil
}

func (p *Participant) decided(ctx context.Context, in *events.Event) (*events.Event, bool) {
	d, ok, err := p.decisions.Decided(ctx, p.source, KeyOf(in))
	if err != nil {
		obs.Warn(ctx, "decision lookup failed", "error", err.Error())
		return nil, false
	}
	if !ok || d.InputID != in.ID {
		return nil, false
	}
	return d.Outcome, true
}

// remember is best effort. Without a stored decision a redelivery is
// answered as a duplicate.
func (p *Participant) remember(ctx context.Context, in, out *events.Event) {
	d := Decision{InputID: in.ID, Outcome: out}
	if err := p.decisions.Remember(ctx, p.source, KeyOf(in), d); err != nil {
		obs.Warn(ctx, "decision not recorded", "error", err.Error())
	}
}

func (p *Participant) execute(ctx context.Context, out *events.Event) (string, *Failure) {
	key := KeyOf(out)

	var exists bool
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		exists, err = p.domain.Exists(ctx, key)
		return err
	})
	if err != nil {
		return "", Fail(CodeInfrastructure, "idempotency check failed: %v", err)
	}
	if exists {
		return "", Fail(CodeDuplicateTransaction, "transaction %s was already processed by %s", key.TransactionID, p.source)
	}

	var msg string
	err = p.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		msg, err = p.domain.Execute(ctx, out)
		if f, ok := AsFailure(err); ok {
			return retry.Permanent(f)
		}
		return err
	})
	if err != nil {
		if f, ok := AsFailure(err); ok {
			return "", f
		}
		return "", Fail(CodeInfrastructure, "%v", err)
	}
	return msg, nil
}

// compensate undoes the local record and reports FAIL so the orchestrator
// continues the backward walk.
func (p *Participant) compensate(ctx context.Context, in *events.Event) (err error) {
	timer := obs.StartTimer()
	out := in.Next(p.source, events.StatusFail)
	defer func() {
		if r := recover(); r != nil {
			out.Record(fmt.Sprintf("Compensation failed: %s panicked: %v", p.source, r))
			p.quarantineQuietly(ctx, out, "compensation panicked")
		}
		err = p.publish(ctx, out)
		p.metrics.outcome(ctx, string(p.source), string(out.Status), timer())
	}()

	var msg string
	cerr := p.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		msg, err = p.domain.Compensate(ctx, out)
		if f, ok := AsFailure(err); ok {
			return retry.Permanent(f)
		}
		return err
	})
	if cerr != nil {
		out.Record("Compensation failed: " + cerr.Error())
		obs.Error(ctx, "compensation failed", cerr, "error_kind", obs.ErrKindInternal)
		p.quarantineQuietly(ctx, out, "compensation failed: "+cerr.Error())
		return nil
	}
	out.Record(msg)
	return nil
}

func (p *Participant) publish(ctx context.Context, out *events.Event) error {
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		return p.publisher.Publish(ctx, p.step.OutputTopic, out)
	})
	if err != nil {
		obs.Error(ctx, "outcome not published", err, "topic", p.step.OutputTopic, "error_kind", obs.ErrKindKafka)
		return fmt.Errorf("publish %s outcome: %w", p.source, err)
	}
	obs.Event(ctx, "saga.step", obs.StatusOK, "outcome", string(out.Status), "topic", p.step.OutputTopic)
	return nil
}

func (p *Participant) quarantine(ctx context.Context, e *events.Event, reason string) error {
	dl := events.NewDeadLetter(p.step.InputTopic, e, reason)
	if err := p.publisher.PublishDeadLetter(ctx, p.deadLetter, dl); err != nil {
		return fmt.Errorf("dead-letter: %w", err)
	}
	p.metrics.deadLettered(ctx, "participant")
	return nil
}

func (p *Participant) quarantineQuietly(ctx context.Context, e *events.Event, reason string) {
	if err := p.quarantine(ctx, e, reason); err != nil {
		obs.Error(ctx, "dead-letter failed", err)
	}
}
