package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brandon/crm-timeline/internal/delivery"
	"github.com/brandon/crm-timeline/internal/mailsync"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Import new inbound mail once",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager := mailsync.NewManager(a.cfg, a.store, a.bus, a.logger)
			defer manager.Close() //nolint:errcheck
			if manager.Len() == 0 {
				return fmt.Errorf("no IMAP account configured")
			}

			stats, err := manager.SyncAll(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "fetched %d, imported %d, skipped %d\n", stats.Fetched, stats.Imported, stats.Skipped)
			return err
		},
	}
}

func newDeliverCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deliver",
		Short: "Send queued replies once",
		RunE: func(cmd *cobra.Command, args []string) error {
			acc := a.cfg.GetDefaultAccount()
			if acc == nil || acc.SMTPHost == "" {
				return fmt.Errorf("no SMTP account configured")
			}

			worker := delivery.NewWorker(a.store, delivery.NewSMTPTransport(acc, a.logger), a.bus, a.cfg.Timeline.Channel, a.logger)
			stats, err := worker.RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d, failed %d\n", stats.Sent, stats.Failed)
			return err
		},
	}
}
