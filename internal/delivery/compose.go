// Package delivery sends queued outbound timeline replies.
package delivery

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/brandon/crm-timeline/pkg/types"
)

// Compose renders a queued reply as an RFC 5322 message
func Compose(rec types.RawEmailRecord, now time.Time) ([]byte, error) {
	if rec.ToEmail == "" {
		return nil, fmt.Errorf("message %s has no recipient", rec.ID)
	}
	if rec.FromEmail == "" {
		return nil, fmt.Errorf("message %s has no sender", rec.ID)
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: rec.FromName, Address: rec.FromEmail}})
	h.SetAddressList("To", []*mail.Address{{Address: rec.ToEmail}})
	h.SetSubject(rec.Subject)
	h.SetMessageID(messageID(rec))
	if ref := threadRef(rec.ThreadID); ref != "" {
		h.SetMsgIDList("In-Reply-To", []string{ref})
		h.SetMsgIDList("References", []string{ref})
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, body(rec)); err != nil {
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func body(rec types.RawEmailRecord) string {
	for _, s := range []string{rec.BodyFull, rec.Content, rec.Body, rec.Preview} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// messageID derives a stable Message-ID from the record id and sender domain
func messageID(rec types.RawEmailRecord) string {
	domain := "localhost"
	if i := strings.LastIndexByte(rec.FromEmail, '@'); i >= 0 && i < len(rec.FromEmail)-1 {
		domain = rec.FromEmail[i+1:]
	}
	return rec.ID + "@" + domain
}

// threadRef returns the thread id when it is an RFC 5322 message id. Thread
// ids of replies to web forms are not.
func threadRef(threadID string) string {
	ref := strings.Trim(strings.TrimSpace(threadID), "<>")
	if !strings.Contains(ref, "@") {
		return ""
	}
	return ref
}
