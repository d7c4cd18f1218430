package saga

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/quiby-ai/ordersaga/pkg/obs"
)

const instrumentationName = "github.com/quiby-ai/ordersaga/saga"

// Metrics holds the saga instruments. A nil *Metrics records nothing.
type Metrics struct {
	routes       metric.Int64Counter
	terminal     metric.Int64Counter
	outcomes     metric.Int64Counter
	deadLetters  metric.Int64Counter
	redrives     metric.Int64Counter
	stepDuration metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.routes, err = meter.Int64Counter("saga_routes", metric.WithDescription("Envelopes routed by the orchestrator")); err != nil {
		return nil, err
	}
	if m.terminal, err = meter.Int64Counter("saga_terminal", metric.WithDescription("Sagas that reached a terminal status")); err != nil {
		return nil, err
	}
	if m.outcomes, err = meter.Int64Counter("saga_participant_outcomes", metric.WithDescription("Outcomes published by participants")); err != nil {
		return nil, err
	}
	if m.deadLetters, err = meter.Int64Counter("saga_dead_letters", metric.WithDescription("Envelopes quarantined on the dead-letter topic")); err != nil {
		return nil, err
	}
	if m.redrives, err = meter.Int64Counter("saga_redrives", metric.WithDescription("Stalled steps re-driven by the sweeper")); err != nil {
		return nil, err
	}
	if m.stepDuration, err = meter.Float64Histogram("saga_step_duration",
		metric.WithDescription("Participant step processing time"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return &m, nil
}

func defaultMetrics() *Metrics {
	m, err := NewMetrics(obs.Meter(instrumentationName))
	if err != nil {
		obs.Warn(context.Background(), "saga metrics disabled", "error", err.Error())
		return nil
	}
	return m
}

func (m *Metrics) route(ctx context.Context, key RouteKey, target string) {
	if m == nil {
		return
	}
	m.routes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", string(key.Source)),
		attribute.String("status", string(key.Status)),
		attribute.String("target", target),
	))
}

func (m *Metrics) finished(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.terminal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) outcome(ctx context.Context, source, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("source", source), attribute.String("status", status))
	m.outcomes.Add(ctx, 1, attrs)
	m.stepDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

func (m *Metrics) deadLettered(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) redriven(ctx context.Context) {
	if m == nil {
		return
	}
	m.redrives.Add(ctx, 1)
}
