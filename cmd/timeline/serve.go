package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brandon/crm-timeline/internal/api"
	"github.com/brandon/crm-timeline/internal/delivery"
	"github.com/brandon/crm-timeline/internal/mailsync"
	"github.com/brandon/crm-timeline/internal/timeline"
)

func newServeCmd(a *app) *cobra.Command {
	var noWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the timeline API with delivery and inbox sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), !noWorkers)
		},
	}
	cmd.Flags().BoolVar(&noWorkers, "api-only", false, "Do not run the delivery worker or inbox sync")
	return cmd
}

func (a *app) serve(ctx context.Context, workers bool) error {
	views := api.NewRegistry(func() *timeline.View {
		return timeline.NewView(a.pipeline, a.coordinator, a.logger)
	}, a.logger)
	defer views.Close()

	server := api.NewServer(a.cfg.HTTPPort, views, a.store, a.normalizer, a.cfg.Timeline.Channel, a.logger)
	if err := server.Subscribe(a.bus); err != nil {
		a.logger.WithError(err).Error("Failed to subscribe to timeline events")
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(ctx)
	})

	if workers {
		if acc := a.cfg.GetDefaultAccount(); acc != nil && acc.SMTPHost != "" {
			worker := delivery.NewWorker(a.store, delivery.NewSMTPTransport(acc, a.logger), a.bus, a.cfg.Timeline.Channel, a.logger)
			g.Go(func() error {
				return ignoreCanceled(worker.Run(ctx, a.cfg.DeliveryInterval))
			})
		} else {
			a.logger.Info("No SMTP account configured, replies stay queued")
		}

		manager := mailsync.NewManager(a.cfg, a.store, a.bus, a.logger)
		defer manager.Close() //nolint:errcheck
		if manager.Len() > 0 {
			g.Go(func() error {
				return ignoreCanceled(manager.Run(ctx, a.cfg.SyncInterval))
			})
		}
	}

	a.logger.WithField("port", a.cfg.HTTPPort).Info("Timeline service started")
	err := g.Wait()
	a.logger.Info("Timeline service stopped")
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
