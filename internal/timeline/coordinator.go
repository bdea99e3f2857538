package timeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandon/crm-timeline/pkg/types"
)

// Event subjects published after a message store change
const (
	SubjectMessageQueued   = "timeline.message.queued"
	SubjectMessageDeleted  = "timeline.message.deleted"
	SubjectMessageSent     = "timeline.message.sent"
	SubjectMessageFailed   = "timeline.message.failed"
	SubjectMessageReceived = "timeline.message.received"

	// SubjectMessageAll matches every subject above
	SubjectMessageAll = "timeline.message.>"
)

var (
	ErrNotDeletable = errors.New("form submissions cannot be deleted from the timeline")
	ErrEmptyReply   = errors.New("reply body is empty")
	ErrNoRecipient  = errors.New("reply target has no address")
)

// Publisher announces mutations to other services
type Publisher interface {
	Publish(subject string, data any) error
}

// MessageEvent is the payload of mutation events
type MessageEvent struct {
	CustomerID string    `json:"customer_id"`
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sender is the business identity replies are sent as
type Sender struct {
	Name  string
	Email string
}

// ReplyInput describes a reply to a timeline item
type ReplyInput struct {
	To      Item
	Body    string
	Subject string
}

// Coordinator writes replies and deletions to the message store. It never
// patches a timeline; callers rebuild it after a successful mutation.
type Coordinator struct {
	messages  MessageStore
	publisher Publisher
	sender    Sender
	logger    *logrus.Logger

	now   func() time.Time
	newID func() string
}

// NewCoordinator creates a coordinator. publisher may be nil.
func NewCoordinator(messages MessageStore, publisher Publisher, sender Sender, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		messages:  messages,
		publisher: publisher,
		sender:    sender,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Reply queues an outbound message answering in.To. Delivery happens later
// out of process.
func (c *Coordinator) Reply(ctx context.Context, customerID string, in ReplyInput) (types.RawEmailRecord, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return types.RawEmailRecord{}, ErrEmptyReply
	}
	if strings.TrimSpace(in.To.ReplyTo) == "" {
		return types.RawEmailRecord{}, ErrNoRecipient
	}

	now := c.now().UTC()
	rec := types.RawEmailRecord{
		ID:         c.newID(),
		CustomerID: customerID,
		Channel:    types.ChannelEmail,
		Direction:  types.DirectionOutbound,
		Subject:    replySubject(in.Subject, in.To.Title),
		FromName:   c.sender.Name,
		FromEmail:  c.sender.Email,
		ToEmail:    strings.TrimSpace(in.To.ReplyTo),
		CreatedAt:  &now,
		BodyFull:   body,
		ThreadID:   in.To.ThreadID,
		LeadID:     in.To.LeadID,
		Status:     types.StatusQueued,
	}
	if rec.ThreadID == "" && in.To.Type == TypeEmail {
		rec.ThreadID = in.To.ID
	}

	if err := c.messages.InsertMessage(ctx, rec); err != nil {
		return types.RawEmailRecord{}, fmt.Errorf("failed to queue reply: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"customer_id": customerID,
		"message_id":  rec.ID,
		"thread_id":   rec.ThreadID,
	}).Info("Queued reply")

	c.publish(SubjectMessageQueued, MessageEvent{
		CustomerID: customerID,
		MessageID:  rec.ID,
		ThreadID:   rec.ThreadID,
		Status:     rec.Status,
		Timestamp:  now,
	})
	return rec, nil
}

// Delete removes an email item from the message store
func (c *Coordinator) Delete(ctx context.Context, customerID string, it Item) error {
	if !it.Deletable() {
		return ErrNotDeletable
	}

	if err := c.messages.DeleteMessage(ctx, it.ID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"customer_id": customerID,
		"message_id":  it.ID,
	}).Info("Deleted message")

	c.publish(SubjectMessageDeleted, MessageEvent{
		CustomerID: customerID,
		MessageID:  it.ID,
		ThreadID:   it.ThreadID,
		Timestamp:  c.now().UTC(),
	})
	return nil
}

// publish is best effort; the store write already succeeded
func (c *Coordinator) publish(subject string, evt MessageEvent) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(subject, evt); err != nil {
		c.logger.WithError(err).WithField("subject", subject).Warn("Failed to publish timeline event")
	}
}

func replySubject(explicit, title string) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	title = strings.TrimSpace(title)
	if title == "" || title == NoSubject {
		return "Re:"
	}
	lower := strings.ToLower(title)
	if strings.HasPrefix(lower, "re:") || strings.HasPrefix(lower, "sv:") {
		return title
	}
	return "Re: " + title
}
