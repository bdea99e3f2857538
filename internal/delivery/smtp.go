package delivery

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/crm-timeline/internal/config"
)

// Transport hands a composed message to a mail server
type Transport interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// SMTPTransport sends through one configured account
type SMTPTransport struct {
	config *config.AccountConfig
	logger *logrus.Logger
	dialer net.Dialer
}

// NewSMTPTransport creates a transport for an account
func NewSMTPTransport(cfg *config.AccountConfig, logger *logrus.Logger) *SMTPTransport {
	return &SMTPTransport{
		config: cfg,
		logger: logger,
		dialer: net.Dialer{Timeout: 30 * time.Second},
	}
}

// Send delivers one message. Port 465 uses implicit TLS, anything else
// upgrades with STARTTLS.
func (t *SMTPTransport) Send(ctx context.Context, from string, to []string, msg []byte) error {
	client, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if t.config.SMTPPassword != "" {
		auth := smtp.PlainAuth("", t.config.SMTPUsername, t.config.SMTPPassword, t.config.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to send data command: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}

func (t *SMTPTransport) connect(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(t.config.SMTPHost, fmt.Sprintf("%d", t.config.SMTPPort))
	tlsConfig := &tls.Config{ServerName: t.config.SMTPHost}

	if t.config.SMTPPort == 465 {
		tlsDialer := tls.Dialer{NetDialer: &t.dialer, Config: tlsConfig}
		conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		client, err := smtp.NewClient(conn, t.config.SMTPHost)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create SMTP client: %w", err)
		}
		return client, nil
	}

	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	client, err := smtp.NewClient(conn, t.config.SMTPHost)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	if err := client.StartTLS(tlsConfig); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start TLS: %w", err)
	}
	return client, nil
}
