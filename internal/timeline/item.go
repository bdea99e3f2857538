// Package timeline builds the unified, newest-first communication feed for a
// customer out of the message store and the web form store.
package timeline

import (
	"time"
	"unicode/utf8"

	"github.com/brandon/crm-timeline/pkg/types"
)

// ItemType identifies which store an item came from
type ItemType string

const (
	TypeEmail ItemType = "email"
	TypeForm  ItemType = "form"
)

// Default preview caps, in characters
const (
	DefaultEmailPreviewCap = 300
	DefaultFormPreviewCap  = 500
)

// PreviewSuffix is appended by DisplayPreview and never counted against a cap
const PreviewSuffix = "…"

// Caps holds the preview length cap per item type
type Caps struct {
	Email int
	Form  int
}

// DefaultCaps returns the standard preview caps
func DefaultCaps() Caps {
	return Caps{Email: DefaultEmailPreviewCap, Form: DefaultFormPreviewCap}
}

// For returns the cap for an item type
func (c Caps) For(t ItemType) int {
	if t == TypeForm {
		return c.Form
	}
	return c.Email
}

// Item is one entry of the timeline. Items are rebuilt on every fetch and
// carry no persisted identity of their own.
type Item struct {
	ID          string          `json:"id"`
	Type        ItemType        `json:"type"`
	Title       string          `json:"title"`
	From        string          `json:"from"`
	Preview     string          `json:"preview"`
	FullContent string          `json:"full_content"`
	HasMore     bool            `json:"has_more"`
	Timestamp   *time.Time      `json:"timestamp"`
	Direction   types.Direction `json:"direction,omitempty"`

	// Reply routing
	ReplyTo  string `json:"reply_to,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
	LeadID   string `json:"lead_id,omitempty"`
}

// Key identifies an item across both stores
func (it Item) Key() string {
	return ItemKey(it.Type, it.ID)
}

// ItemKey builds the namespaced key of an item
func ItemKey(t ItemType, id string) string {
	return string(t) + ":" + id
}

// Deletable reports whether the item can be removed from the timeline.
// Form submissions are owned by the inbox and are never deleted from here.
func (it Item) Deletable() bool {
	return it.Type == TypeEmail
}

// DisplayPreview returns the preview with a continuation marker when the
// full content is longer
func (it Item) DisplayPreview() string {
	if it.HasMore {
		return it.Preview + PreviewSuffix
	}
	return it.Preview
}

func truncateRunes(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
