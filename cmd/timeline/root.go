package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brandon/crm-timeline/internal/api"
	"github.com/brandon/crm-timeline/internal/config"
	"github.com/brandon/crm-timeline/internal/delivery"
	"github.com/brandon/crm-timeline/internal/events"
	"github.com/brandon/crm-timeline/internal/mailsync"
	"github.com/brandon/crm-timeline/internal/store"
	"github.com/brandon/crm-timeline/internal/store/postgres"
	"github.com/brandon/crm-timeline/internal/textdecode"
	"github.com/brandon/crm-timeline/internal/timeline"
)

// backend is everything the commands need from a store driver
type backend interface {
	timeline.MessageStore
	timeline.LeadStore
	timeline.FormStore
	delivery.Queue
	mailsync.Sink
	api.Searcher
}

// app holds the wired components shared by all commands
type app struct {
	cfg    *config.Config
	logger *logrus.Logger

	store backend
	bus   events.Bus

	normalizer  *timeline.Normalizer
	pipeline    *timeline.Pipeline
	coordinator *timeline.Coordinator

	closers []func()
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:          "timeline",
		Short:        "Customer communication timeline service",
		SilenceUsage: true,
	}

	// setup runs lazily so "version" works without configuration
	setup := func(cmd *cobra.Command, args []string) error {
		return a.init(cmd.Context())
	}

	for _, cmd := range []*cobra.Command{
		newServeCmd(a),
		newShowCmd(a),
		newSyncCmd(a),
		newDeliverCmd(a),
	} {
		cmd.PreRunE = setup
		root.AddCommand(cmd)
	}
	root.AddCommand(newVersionCmd())

	return root, a
}

func (a *app) init(ctx context.Context) error {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		return err
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Error("Invalid configuration")
		return err
	}

	if cfg.LogJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	a.cfg = cfg
	a.logger = logger

	if err := a.openStore(ctx); err != nil {
		a.close()
		return err
	}
	if err := a.openBus(ctx); err != nil {
		a.close()
		return err
	}

	decoder := textdecode.New(
		textdecode.WithQuoteMinOffset(cfg.Timeline.QuoteMinOffset),
		textdecode.WithLogger(logger),
	)
	a.normalizer = timeline.NewNormalizer(decoder, timeline.DefaultFieldPolicy(), timeline.Caps{
		Email: cfg.Timeline.EmailPreviewCap,
		Form:  cfg.Timeline.FormPreviewCap,
	})
	fetcher := timeline.NewFetcher(a.store, a.store, a.store, cfg.Timeline.Channel, logger)
	a.pipeline = timeline.NewPipeline(fetcher, a.normalizer, timeline.ParseDedupPolicy(cfg.Timeline.Dedup), logger)
	a.coordinator = timeline.NewCoordinator(a.store, a.bus, timeline.Sender{
		Name:  cfg.Timeline.SenderName,
		Email: cfg.Timeline.SenderEmail,
	}, logger)

	return nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.StoreDriver {
	case "postgres":
		pg, err := postgres.New(ctx, a.cfg.DatabaseURL, a.logger)
		if err != nil {
			a.logger.WithError(err).Error("Failed to connect to postgres")
			return err
		}
		a.store = pg
		a.closers = append(a.closers, pg.Close)
	default:
		db, err := store.Open(ctx, a.cfg.CachePath, a.logger)
		if err != nil {
			a.logger.WithError(err).Error("Failed to open database")
			return err
		}
		a.store = store.NewStore(db, a.logger)
		a.closers = append(a.closers, func() { db.Close() })
	}
	a.logger.WithField("driver", a.cfg.StoreDriver).Debug("Store ready")
	return nil
}

// openBus connects to NATS when configured; otherwise events stay in process
func (a *app) openBus(ctx context.Context) error {
	if a.cfg.NATS.URL == "" {
		local := events.NewLocal()
		a.bus = local
		a.closers = append(a.closers, local.Close)
		return nil
	}
	client, err := events.NewClient(ctx, a.cfg.NATS.URL, a.cfg.NATS.Token, a.logger)
	if err != nil {
		a.logger.WithError(err).Error("Failed to connect to NATS")
		return err
	}
	a.bus = client
	a.closers = append(a.closers, client.Close)
	return nil
}

// close releases resources in reverse order of acquisition
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "timeline version %s\n", version)
		},
	}
}
