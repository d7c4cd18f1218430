package obs

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

type TracingProvider struct {
	provider *sdktrace.TracerProvider
}

func newResource(ctx context.Context, config Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	}
	for key, value := range config.ResourceAttributes {
		attrs = append(attrs, attribute.String(key, value))
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func newTracingProvider(ctx context.Context, config Config, res *resource.Resource) (*TracingProvider, error) {
	var processor sdktrace.SpanProcessor
	if config.OTLPEndpoint != "" {
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(config.OTLPEndpoint),
			otlptracehttp.WithTimeout(config.OTLPTimeout),
		}
		if config.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		processor = sdktrace.NewBatchSpanProcessor(exporter)
	} else {
		processor = sdktrace.NewSimpleSpanProcessor(noopExporter{})
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.TracingSampleRatio))),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingProvider{provider: provider}, nil
}

func (tp *TracingProvider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return tp.provider.Tracer(name, opts...)
}

func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	if err := tp.provider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("failed to flush traces: %w", err)
	}
	return tp.provider.Shutdown(ctx)
}

// StartSagaSpan stores f in ctx for log correlation and starts a span named
// name whose attributes identify the saga hop.
func StartSagaSpan(ctx context.Context, tracer, name string, f SagaFields, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx = WithSaga(ctx, f)
	if f, ok := SagaFromContext(ctx); ok {
		attrs = append(sagaAttributes(f), attrs...)
	}
	return Tracer(tracer).Start(ctx, name, trace.WithAttributes(attrs...))
}

func sagaAttributes(f SagaFields) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	if f.OrderID != "" {
		attrs = append(attrs, attribute.String("saga.order_id", f.OrderID))
	}
	if f.TransactionID != "" {
		attrs = append(attrs, attribute.String("saga.transaction_id", f.TransactionID))
	}
	if f.EventID != "" {
		attrs = append(attrs, attribute.String("saga.event_id", f.EventID))
	}
	if f.Source != "" {
		attrs = append(attrs, attribute.String("saga.handler", f.Source))
	}
	return attrs
}

type noopExporter struct{}

func (noopExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }

func (noopExporter) Shutdown(context.Context) error { return nil }

func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

func SpanID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.SpanID().String()
}
