package obs

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// LatencyBuckets are the millisecond boundaries of every "*_duration"
// histogram. Steps hit a database and Kafka, so the range ends at 30s.
var LatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// MetricsProvider exports otel instruments through a private Prometheus
// registry that also carries the Go runtime and process collectors.
type MetricsProvider struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry
	handler  http.Handler
}

func newMetricsProvider(config Config, res *resource.Resource) (*MetricsProvider, error) {
	if !config.MetricsEnabled {
		return &MetricsProvider{handler: http.NotFoundHandler()}, nil
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}

	exporter, err := promexporter.New(
		promexporter.WithRegisterer(registry),
		promexporter.WithoutUnits(),
		promexporter.WithoutScopeInfo(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	latency := sdkmetric.NewView(
		sdkmetric.Instrument{Name: "*_duration", Kind: sdkmetric.InstrumentKindHistogram},
		sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: LatencyBuckets}},
	)
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
		sdkmetric.WithView(latency),
	)
	otel.SetMeterProvider(provider)

	handler := promhttp.InstrumentMetricHandler(registry,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true, Registry: registry}))
	return &MetricsProvider{provider: provider, registry: registry, handler: handler}, nil
}

func (mp *MetricsProvider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if mp.provider == nil {
		return otel.Meter(name, opts...)
	}
	return mp.provider.Meter(name, opts...)
}

// HTTPHandler serves the registry, or 404 when metrics are disabled.
func (mp *MetricsProvider) HTTPHandler() http.Handler {
	return mp.handler
}

// Registerer accepts extra Prometheus collectors; nil when metrics are disabled.
func (mp *MetricsProvider) Registerer() prometheus.Registerer {
	if mp.registry == nil {
		return nil
	}
	return mp.registry
}

func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	return mp.provider.Shutdown(ctx)
}
