package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/quiby-ai/ordersaga/pkg/admin"
	"github.com/quiby-ai/ordersaga/pkg/config"
	"github.com/quiby-ai/ordersaga/pkg/events"
	"github.com/quiby-ai/ordersaga/pkg/saga"
)

func newOrchestratorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "orchestrator",
		Short: "Route saga envelopes between the participants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, "orchestrator")
			if err != nil {
				return err
			}
			defer a.close()

			tracker, err := newTracker(ctx, a)
			if err != nil {
				return err
			}

			orchOpts := []saga.OrchestratorOption{saga.WithOrchestratorMetrics(a.metrics)}
			var deps admin.Deps
			var workers []func(context.Context) error
			if tracker != nil {
				orchOpts = append(orchOpts, saga.WithDeadlines(tracker, a.cfg.Orchestrator.StepTimeout))
				sweeper := saga.NewSweeper(tracker, a.producer, a.topology.DeadLetterTopic(), a.cfg.Orchestrator.SweeperConfig)
				deps.Sweeper = sweeper
				workers = append(workers, sweeper.Run)
			}
			orch := saga.NewOrchestrator(a.topology, a.producer, orchOpts...)

			consumers := a.consumers(events.HandlerFunc(orch.Handle), a.topology.OrchestratorTopics()...)
			return a.run(ctx, deps, consumers, workers...)
		},
	}
}

// newTracker returns nil when deadlines are disabled.
func newTracker(ctx context.Context, a *app) (saga.DeadlineTracker, error) {
	switch a.cfg.Orchestrator.Tracker {
	case "memory":
		return saga.NewMemoryTracker(), nil
	case "redis":
		return newRedisTracker(ctx, a)
	default:
		return nil, nil
	}
}

func newRedisTracker(ctx context.Context, a *app) (*saga.RedisTracker, error) {
	client := redis.NewClient(redisOptions(a.cfg.Redis))
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", a.cfg.Redis.Addr, err)
	}
	a.onClose(client.Close)
	return saga.NewRedisTracker(client, a.cfg.Redis.KeyPrefix), nil
}

func redisOptions(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}
