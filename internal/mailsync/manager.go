package mailsync

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/crm-timeline/internal/config"
	"github.com/brandon/crm-timeline/internal/timeline"
)

// Manager runs a syncer per configured IMAP account
type Manager struct {
	syncers []*Syncer
	logger  *logrus.Logger
}

// NewManager creates a syncer for every account with IMAP settings
func NewManager(cfg *config.Config, sink Sink, publisher timeline.Publisher, logger *logrus.Logger) *Manager {
	m := &Manager{logger: logger}
	for _, acc := range cfg.SyncAccounts() {
		acc := acc
		m.syncers = append(m.syncers, NewSyncer(acc, NewIMAPSource(&acc, logger), sink, publisher, logger))
	}
	return m
}

// Len returns the number of accounts being synced
func (m *Manager) Len() int {
	return len(m.syncers)
}

// SyncAll syncs every account. A failing account does not stop the others.
func (m *Manager) SyncAll(ctx context.Context) (Stats, error) {
	var total Stats
	var errs []error
	for _, s := range m.syncers {
		stats, err := s.Sync(ctx)
		total.Fetched += stats.Fetched
		total.Imported += stats.Imported
		total.Skipped += stats.Skipped
		if err != nil {
			m.logger.WithError(err).WithField("account", s.account.Name).Warn("Failed to sync account")
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Run syncs every interval until ctx is done
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.SyncAll(ctx) //nolint:errcheck
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close closes all connections
func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.syncers {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
