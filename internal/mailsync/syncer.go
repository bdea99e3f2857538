package mailsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandon/crm-timeline/internal/config"
	"github.com/brandon/crm-timeline/internal/timeline"
	"github.com/brandon/crm-timeline/pkg/types"
)

// DefaultFetchLimit is how many of the newest messages a pass looks at
const DefaultFetchLimit = 100

// Sink is the slice of the store the syncer writes to
type Sink interface {
	CustomerIDByEmail(ctx context.Context, email string) (string, error)
	UpsertInbound(ctx context.Context, rec types.RawEmailRecord) error
}

// Stats counts the outcome of one pass
type Stats struct {
	Fetched  int
	Imported int
	Skipped  int
}

// Syncer imports one account's mailbox
type Syncer struct {
	account   config.AccountConfig
	source    Source
	sink      Sink
	publisher timeline.Publisher
	logger    *logrus.Logger
	limit     int
}

// NewSyncer creates a syncer. publisher may be nil.
func NewSyncer(account config.AccountConfig, source Source, sink Sink, publisher timeline.Publisher, logger *logrus.Logger) *Syncer {
	return &Syncer{
		account:   account,
		source:    source,
		sink:      sink,
		publisher: publisher,
		logger:    logger,
		limit:     DefaultFetchLimit,
	}
}

// Sync fetches recent messages and upserts those sent by known customers.
// Messages from unknown senders and from the account itself are skipped.
func (s *Syncer) Sync(ctx context.Context) (Stats, error) {
	var stats Stats

	msgs, err := s.source.FetchRecent(s.account.Mailbox, s.limit)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch %s: %w", s.account.Name, err)
	}
	stats.Fetched = len(msgs)

	for _, raw := range msgs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		p, err := Parse(raw.Raw, raw.InternalDate)
		if err != nil {
			s.logger.WithError(err).WithField("uid", raw.UID).Warn("Failed to parse message")
			stats.Skipped++
			continue
		}
		if p.FromEmail == "" || strings.EqualFold(p.FromEmail, s.account.IMAPUsername) {
			stats.Skipped++
			continue
		}

		customerID, err := s.sink.CustomerIDByEmail(ctx, p.FromEmail)
		if err != nil {
			return stats, err
		}
		if customerID == "" {
			s.logger.WithField("from", p.FromEmail).Debug("Skipping message from unknown sender")
			stats.Skipped++
			continue
		}

		rec := inboundRecord(customerID, p, raw.Raw)
		if err := s.sink.UpsertInbound(ctx, rec); err != nil {
			return stats, err
		}
		stats.Imported++
		s.publish(rec)
	}

	s.logger.WithFields(logrus.Fields{
		"account":  s.account.Name,
		"mailbox":  s.account.Mailbox,
		"fetched":  stats.Fetched,
		"imported": stats.Imported,
		"skipped":  stats.Skipped,
	}).Info("Synced mailbox")
	return stats, nil
}

// Close closes the underlying source
func (s *Syncer) Close() error {
	return s.source.Close()
}

func (s *Syncer) publish(rec types.RawEmailRecord) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(timeline.SubjectMessageReceived, timeline.MessageEvent{
		CustomerID: rec.CustomerID,
		MessageID:  rec.ID,
		ThreadID:   rec.ThreadID,
		Status:     rec.Status,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to publish received event")
	}
}

// messageNamespace seeds ids of messages that carry no Message-ID
var messageNamespace = uuid.MustParse("6f1c2b7e-3d5a-4c1e-9b8f-2a7d4e6c9b10")

func inboundRecord(customerID string, p Parsed, raw []byte) types.RawEmailRecord {
	id := p.MessageID
	if id == "" {
		id = uuid.NewSHA1(messageNamespace, raw).String()
	}
	thread := p.InReplyTo
	if thread == "" {
		thread = id
	}

	received := p.Date.UTC()
	rec := types.RawEmailRecord{
		ID:         id,
		CustomerID: customerID,
		Channel:    types.ChannelEmail,
		Direction:  types.DirectionInbound,
		Subject:    p.Subject,
		FromName:   p.FromName,
		FromEmail:  p.FromEmail,
		ToEmail:    p.ToEmail,
		BodyFull:   p.Body(),
		ThreadID:   thread,
		Status:     types.StatusReceived,
	}
	if !received.IsZero() {
		rec.ReceivedAt = &received
	}
	return rec
}
