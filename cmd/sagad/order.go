package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quiby-ai/ordersaga/pkg/admin"
	"github.com/quiby-ai/ordersaga/pkg/events"
	"github.com/quiby-ai/ordersaga/pkg/order"
)

func newOrderCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Start sagas and record their outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, "order")
			if err != nil {
				return err
			}
			defer a.close()

			db, err := order.OpenBadger(a.cfg.Badger.Path, a.cfg.Badger.InMemory)
			if err != nil {
				return fmt.Errorf("open event store: %w", err)
			}
			a.onClose(db.Close)
			store, err := order.NewBadgerEventStore(db)
			if err != nil {
				return err
			}
			a.onClose(store.Close)

			svc := order.NewService(store, a.producer, a.topology.StartTopic())
			consumers := a.consumers(events.HandlerFunc(svc.HandleNotification), a.topology.NotifyTopic())
			return a.run(ctx, admin.Deps{Orders: svc}, consumers)
		},
	}
}
