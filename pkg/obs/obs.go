package obs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type Observability struct {
	config       Config
	logger       *Logger
	tracing      *TracingProvider
	metrics      *MetricsProvider
	shutdownOnce sync.Once
	shutdownErr  error
}

var (
	globalObs *Observability
	globalMu  sync.RWMutex
)

// Init sets up logging, tracing and metrics and installs them as the process
// globals. A second call returns the already installed instance.
func Init(ctx context.Context, config Config) (*Observability, error) {
	return initWithOutput(ctx, config, os.Stdout)
}

func initWithOutput(ctx context.Context, config Config, out io.Writer) (*Observability, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalObs != nil {
		return globalObs, nil
	}

	res, err := newResource(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTracingInitFailed, err)
	}

	o := &Observability{
		config: config,
		logger: NewLogger(config, out),
	}
	if o.tracing, err = newTracingProvider(ctx, config, res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTracingInitFailed, err)
	}
	if o.metrics, err = newMetricsProvider(config, res); err != nil {
		_ = o.tracing.Shutdown(ctx)
		return nil, fmt.Errorf("%w: %v", ErrMetricsInitFailed, err)
	}

	o.logger.Info(ctx, "observability initialized",
		"otlp_endpoint", config.OTLPEndpoint,
		"metrics_enabled", config.MetricsEnabled,
	)
	globalObs = o
	return o, nil
}

func Global() *Observability {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalObs
}

func MustInit(ctx context.Context, config Config) *Observability {
	o, err := Init(ctx, config)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize observability: %v", err))
	}
	return o
}

// Shutdown flushes exporters and uninstalls the instance if it is the global one.
func (o *Observability) Shutdown(ctx context.Context) error {
	o.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		var errs []error
		if err := o.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
		if err := o.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
		if len(errs) > 0 {
			o.shutdownErr = fmt.Errorf("%w: %w", ErrShutdownFailed, errors.Join(errs...))
		}

		globalMu.Lock()
		if globalObs == o {
			globalObs = nil
		}
		globalMu.Unlock()
	})
	return o.shutdownErr
}

func Shutdown(ctx context.Context) error {
	o := Global()
	if o == nil {
		return ErrNotInitialized
	}
	return o.Shutdown(ctx)
}

func (o *Observability) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return o.tracing.Tracer(name, opts...)
}

func (o *Observability) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return o.metrics.Meter(name, opts...)
}

func (o *Observability) Logger() *Logger {
	return o.logger
}

func (o *Observability) MetricsProvider() *MetricsProvider {
	return o.metrics
}

func (o *Observability) Config() Config {
	return o.config
}

func Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if o := Global(); o != nil {
		return o.Tracer(name, opts...)
	}
	return noop.NewTracerProvider().Tracer(name, opts...)
}

func Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if o := Global(); o != nil {
		return o.Meter(name, opts...)
	}
	return otel.Meter(name, opts...)
}

// MetricsHandler serves the global Prometheus registry.
func MetricsHandler() http.Handler {
	if o := Global(); o != nil {
		return o.metrics.HTTPHandler()
	}
	return http.NotFoundHandler()
}
