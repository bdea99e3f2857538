// Package mailsync imports inbound customer mail into the message store.
package mailsync

import (
	"bytes"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// Parsed is the part of a message the timeline keeps
type Parsed struct {
	MessageID string
	InReplyTo string
	Subject   string
	FromName  string
	FromEmail string
	ToEmail   string
	Date      time.Time
	Text      string
	HTML      string
}

// Body returns the plain text part, falling back to HTML
func (p Parsed) Body() string {
	if strings.TrimSpace(p.Text) != "" {
		return p.Text
	}
	return p.HTML
}

// Parse reads a raw RFC 5322 message. fallbackDate is used when the Date
// header is missing or unreadable.
func Parse(raw []byte, fallbackDate time.Time) (Parsed, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return Parsed{}, fmt.Errorf("failed to parse message: %w", err)
	}

	p := Parsed{
		MessageID: trimMsgID(env.GetHeader("Message-ID")),
		InReplyTo: firstMsgID(env.GetHeader("In-Reply-To")),
		Subject:   env.GetHeader("Subject"),
		Text:      env.Text,
		HTML:      env.HTML,
		Date:      fallbackDate,
	}

	if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
		p.FromName = from[0].Name
		p.FromEmail = strings.ToLower(from[0].Address)
	}
	if to, err := env.AddressList("To"); err == nil && len(to) > 0 {
		p.ToEmail = strings.ToLower(to[0].Address)
	}
	if d, err := netmail.ParseDate(env.GetHeader("Date")); err == nil {
		p.Date = d
	}
	return p, nil
}

func trimMsgID(s string) string {
	return strings.Trim(strings.TrimSpace(s), "<>")
}

func firstMsgID(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return trimMsgID(fields[0])
}
