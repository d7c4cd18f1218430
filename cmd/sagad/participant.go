package main

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/quiby-ai/ordersaga/pkg/admin"
	"github.com/quiby-ai/ordersaga/pkg/config"
	"github.com/quiby-ai/ordersaga/pkg/events"
	"github.com/quiby-ai/ordersaga/pkg/inventory"
	"github.com/quiby-ai/ordersaga/pkg/obs"
	"github.com/quiby-ai/ordersaga/pkg/payment"
	"github.com/quiby-ai/ordersaga/pkg/productvalidation"
	"github.com/quiby-ai/ordersaga/pkg/saga"
)

var participantRoles = map[string]events.Source{
	"product-validation": events.SourceProductValidation,
	"payment":            events.SourcePayment,
	"inventory":          events.SourceInventory,
}

func roleNames() []string {
	names := make([]string, 0, len(participantRoles))
	for name := range participantRoles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newParticipantCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "participant <" + strings.Join(roleNames(), "|") + ">",
		Short:     "Run one saga participant",
		ValidArgs: roleNames(),
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := args[0]
			source := participantRoles[role]

			ctx := cmd.Context()
			a, err := newApp(ctx, opts, role)
			if err != nil {
				return err
			}
			defer a.close()

			var db *sql.DB
			if a.cfg.Storage.Backend == "postgres" {
				if db, err = openPostgres(ctx, a.cfg.Postgres); err != nil {
					return err
				}
				a.onClose(db.Close)
			}

			domain, err := newDomain(ctx, a, source, db)
			if err != nil {
				return err
			}
			popts := []saga.ParticipantOption{
				saga.WithRetry(a.retry),
				saga.WithParticipantMetrics(a.metrics),
			}
			if db != nil {
				decisions, err := saga.NewPostgresDecisionLogWithSchema(ctx, db)
				if err != nil {
					return err
				}
				popts = append(popts, saga.WithDecisionLog(decisions))
			}
			p, err := saga.NewParticipant(source, a.topology, domain, a.producer, popts...)
			if err != nil {
				return err
			}

			consumers := a.consumers(events.HandlerFunc(p.Handle), a.topology.InputTopics(source)...)
			return a.run(ctx, admin.Deps{}, consumers)
		},
	}
}

// newDomain builds the stores of source on db, or in memory when db is nil.
func newDomain(ctx context.Context, a *app, source events.Source, db *sql.DB) (saga.Domain, error) {
	stock := a.cfg.Storage.Stock
	switch source {
	case events.SourceProductValidation:
		var store productvalidation.Store = productvalidation.NewMemoryStore()
		if db != nil {
			pg, err := productvalidation.NewPostgresStoreWithSchema(ctx, db)
			if err != nil {
				return nil, err
			}
			store = pg
		}
		for code := range stock {
			if err := store.AddProduct(ctx, code); err != nil {
				return nil, fmt.Errorf("seed product %s: %w", code, err)
			}
		}
		obs.Info(ctx, "catalog seeded", "products", len(stock))
		return productvalidation.NewService(store), nil

	case events.SourcePayment:
		var store payment.Store = payment.NewMemoryStore()
		if db != nil {
			pg, err := payment.NewPostgresStoreWithSchema(ctx, db)
			if err != nil {
				return nil, err
			}
			store = pg
		}
		return payment.NewService(store), nil

	case events.SourceInventory:
		var store inventory.Store = inventory.NewMemoryStore()
		if db != nil {
			pg, err := inventory.NewPostgresStoreWithSchema(ctx, db)
			if err != nil {
				return nil, err
			}
			store = pg
		}
		seeded := 0
		for code, available := range stock {
			created, err := store.Seed(ctx, code, available)
			if err != nil {
				return nil, fmt.Errorf("seed inventory %s: %w", code, err)
			}
			if created {
				seeded++
			}
		}
		obs.Info(ctx, "inventory seeded", "products", len(stock), "created", seeded)
		return inventory.NewService(store), nil
	}
	return nil, fmt.Errorf("%w: %s", saga.ErrUnknownStep, source)
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
