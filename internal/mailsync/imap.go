package mailsync

import (
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/crm-timeline/internal/config"
)

// RawMessage is one fetched message before parsing
type RawMessage struct {
	UID          uint32
	InternalDate time.Time
	Raw          []byte
}

// Source reads recent messages from a mailbox
type Source interface {
	FetchRecent(mailbox string, limit int) ([]RawMessage, error)
	Close() error
}

// IMAPSource wraps an IMAP client connection
type IMAPSource struct {
	config *config.AccountConfig
	client *client.Client
	logger *logrus.Logger
}

// NewIMAPSource creates an IMAP source (does not connect immediately)
func NewIMAPSource(cfg *config.AccountConfig, logger *logrus.Logger) *IMAPSource {
	return &IMAPSource{
		config: cfg,
		logger: logger,
	}
}

// Connect establishes a connection to the IMAP server
func (s *IMAPSource) Connect() error {
	if s.client != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.IMAPHost, s.config.IMAPPort)
	cl, err := client.DialTLS(addr, &tls.Config{
		ServerName: s.config.IMAPHost,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := cl.Login(s.config.IMAPUsername, s.config.IMAPPassword); err != nil {
		s.logger.WithError(err).Error("Failed to login to IMAP server")
		cl.Logout() //nolint:errcheck
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	s.client = cl
	s.logger.WithField("account", s.config.Name).Info("Connected to IMAP server")
	return nil
}

// Close closes the IMAP connection
func (s *IMAPSource) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Logout()
	s.client = nil
	return err
}

// FetchRecent fetches the newest limit messages of a mailbox
func (s *IMAPSource) FetchRecent(mailbox string, limit int) ([]RawMessage, error) {
	if err := s.Connect(); err != nil {
		return nil, err
	}

	mbox, err := s.client.Select(mailbox, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select mailbox: %w", err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	start := uint32(1)
	if limit > 0 && mbox.Messages > uint32(limit) {
		start = mbox.Messages - uint32(limit) + 1
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(start, mbox.Messages)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.client.Fetch(seqSet, items, messages)
	}()

	var out []RawMessage
	for msg := range messages {
		literal := msg.GetBody(section)
		if literal == nil {
			s.logger.WithField("uid", msg.Uid).Warn("Message has no body")
			continue
		}
		raw, err := io.ReadAll(literal)
		if err != nil {
			s.logger.WithError(err).WithField("uid", msg.Uid).Warn("Failed to read message body")
			continue
		}
		out = append(out, RawMessage{UID: msg.Uid, InternalDate: msg.InternalDate, Raw: raw})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return out, nil
}
