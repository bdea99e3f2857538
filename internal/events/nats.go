// Package events carries timeline mutation events between processes.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Handler receives the subject and raw JSON payload of an event
type Handler func(subject string, data []byte)

// Bus publishes and subscribes to events
type Bus interface {
	Publish(subject string, data any) error
	Subscribe(subject string, handler Handler) error
	Close()
}

// Client is a Bus backed by a NATS connection
type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *logrus.Logger
}

// NewClient connects to NATS. The connection keeps retrying in the background
// when the server is not reachable yet.
func NewClient(ctx context.Context, url, token string, logger *logrus.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("crm-timeline"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.WithField("url", url).Info("Connected to NATS")
	return &Client{conn: nc, logger: logger}, nil
}

// Publish sends data as JSON
func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler for a subject, wildcards included
func (c *Client) Subscribe(subject string, handler Handler) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.WithField("subject", subject).Info("Subscribed")
	return nil
}

// Close drops subscriptions and the connection
func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
