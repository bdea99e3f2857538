package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/crm-timeline/internal/timeline"
	"github.com/brandon/crm-timeline/pkg/types"
)

// DefaultBatchSize caps how many queued messages one pass picks up
const DefaultBatchSize = 50

// Queue is the slice of the message store the worker needs
type Queue interface {
	ListQueued(ctx context.Context, channel string, limit int) ([]types.RawEmailRecord, error)
	MarkStatus(ctx context.Context, id, status string) error
}

// Worker drains queued replies through a transport
type Worker struct {
	queue     Queue
	transport Transport
	publisher timeline.Publisher
	logger    *logrus.Logger

	channel   string
	batchSize int
	now       func() time.Time
}

// NewWorker creates a worker. publisher may be nil.
func NewWorker(queue Queue, transport Transport, publisher timeline.Publisher, channel string, logger *logrus.Logger) *Worker {
	if channel == "" {
		channel = types.ChannelEmail
	}
	return &Worker{
		queue:     queue,
		transport: transport,
		publisher: publisher,
		logger:    logger,
		channel:   channel,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
}

// Stats counts the outcome of one pass
type Stats struct {
	Sent   int
	Failed int
}

// RunOnce sends every currently queued message. A failed send marks the
// message failed and moves on; only store errors abort the pass.
func (w *Worker) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	queued, err := w.queue.ListQueued(ctx, w.channel, w.batchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to list queued messages: %w", err)
	}

	for _, rec := range queued {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		status := types.StatusSent
		subject := timeline.SubjectMessageSent
		if err := w.send(ctx, rec); err != nil {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"message_id":  rec.ID,
				"customer_id": rec.CustomerID,
			}).Error("Failed to deliver message")
			status = types.StatusFailed
			subject = timeline.SubjectMessageFailed
			stats.Failed++
		} else {
			stats.Sent++
		}

		if err := w.queue.MarkStatus(ctx, rec.ID, status); err != nil {
			return stats, fmt.Errorf("failed to mark message %s %s: %w", rec.ID, status, err)
		}
		w.publish(subject, rec, status)
	}

	if len(queued) > 0 {
		w.logger.WithFields(logrus.Fields{
			"sent":   stats.Sent,
			"failed": stats.Failed,
		}).Info("Delivery pass complete")
	}
	return stats, nil
}

func (w *Worker) send(ctx context.Context, rec types.RawEmailRecord) error {
	msg, err := Compose(rec, w.now())
	if err != nil {
		return err
	}
	return w.transport.Send(ctx, rec.FromEmail, []string{rec.ToEmail}, msg)
}

func (w *Worker) publish(subject string, rec types.RawEmailRecord, status string) {
	if w.publisher == nil {
		return
	}
	err := w.publisher.Publish(subject, timeline.MessageEvent{
		CustomerID: rec.CustomerID,
		MessageID:  rec.ID,
		ThreadID:   rec.ThreadID,
		Status:     status,
		Timestamp:  w.now().UTC(),
	})
	if err != nil {
		w.logger.WithError(err).WithField("subject", subject).Warn("Failed to publish delivery event")
	}
}

// Run repeats RunOnce every interval until ctx is done
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.WithError(err).Error("Delivery pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
