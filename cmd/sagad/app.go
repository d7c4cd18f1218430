package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quiby-ai/ordersaga/pkg/admin"
	"github.com/quiby-ai/ordersaga/pkg/config"
	"github.com/quiby-ai/ordersaga/pkg/events"
	"github.com/quiby-ai/ordersaga/pkg/obs"
	"github.com/quiby-ai/ordersaga/pkg/retry"
	"github.com/quiby-ai/ordersaga/pkg/saga"
)

const shutdownTimeout = 10 * time.Second

// app holds what every role shares: configuration, topology, the Kafka
// producer and observability.
type app struct {
	role     string
	cfg      *config.Config
	topology *saga.Topology
	retry    *retry.Policy
	producer *events.KafkaProducer
	metrics  *saga.Metrics
	closers  []func() error
}

func newApp(ctx context.Context, opts *rootOptions, role string) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Obs.ResourceAttributes == nil {
		cfg.Obs.ResourceAttributes = make(map[string]string)
	}
	cfg.Obs.ResourceAttributes["saga.role"] = role
	if _, err := obs.Init(ctx, cfg.Obs); err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	topology, err := saga.NewTopology(cfg.Topics)
	if err != nil {
		return nil, err
	}
	metrics, err := saga.NewMetrics(obs.Meter("github.com/quiby-ai/ordersaga/saga"))
	if err != nil {
		return nil, fmt.Errorf("saga metrics: %w", err)
	}

	a := &app{
		role:     role,
		cfg:      cfg,
		topology: topology,
		retry:    retry.New(cfg.Retry),
		producer: events.NewKafkaProducer(cfg.Kafka.Brokers),
		metrics:  metrics,
	}
	a.onClose(a.producer.Close)
	obs.Info(ctx, "process configured", "role", role, "brokers", len(cfg.Kafka.Brokers))
	return a, nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		obs.Error(ctx, "shutdown incomplete", err, "role", a.role)
	}
	_ = obs.Shutdown(ctx)
}

func (a *app) consumers(handler events.Handler, topics ...string) []*events.KafkaConsumer {
	group := a.cfg.Kafka.GroupID(a.role)
	out := make([]*events.KafkaConsumer, 0, len(topics))
	for _, topic := range topics {
		c := events.NewKafkaConsumer(a.cfg.Kafka.Brokers, topic, group, handler,
			events.WithRetryPolicy(a.retry),
			events.WithDeadLetter(a.producer, a.topology.DeadLetterTopic()),
		)
		a.onClose(c.Close)
		out = append(out, c)
	}
	return out
}

func jwtConfig(cfg config.AdminConfig) admin.JWTConfig {
	return admin.JWTConfig{
		SecretKey:     cfg.JWTSecret,
		TokenDuration: cfg.TokenTTL,
		Issuer:        cfg.Issuer,
	}
}

// run serves the admin API and every consumer until SIGINT, SIGTERM or the
// first failure.
func (a *app) run(ctx context.Context, deps admin.Deps, consumers []*events.KafkaConsumer, workers ...func(context.Context) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps.Role = a.role
	deps.JWT = jwtConfig(a.cfg.Admin)
	if deps.JWT.SecretKey == "" {
		obs.Warn(ctx, "admin.jwt_secret is empty, operator routes will reject every request")
	}
	srv := &http.Server{
		Addr:              a.cfg.Admin.Addr,
		Handler:           admin.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		obs.Info(ctx, "admin server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	for _, c := range consumers {
		g.Go(func() error { return c.Run(ctx) })
	}
	for _, w := range workers {
		g.Go(func() error { return w(ctx) })
	}

	err := g.Wait()
	obs.Info(context.Background(), "process stopped", "role", a.role)
	return err
}
