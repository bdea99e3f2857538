package types

import "time"

// Direction of a message relative to the business
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Delivery statuses stored on message records
const (
	StatusQueued   = "queued"
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusReceived = "received"
)

// FormStatusSpam marks a form submission that must never reach the timeline
const FormStatusSpam = "spam"

// ChannelEmail is the default message channel shown on the timeline
const ChannelEmail = "email"

// RawEmailRecord is a row of the message store as written by any schema generation.
// Empty strings stand for NULL columns.
type RawEmailRecord struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customer_id"`
	Channel    string     `json:"channel"`
	Direction  Direction  `json:"direction"`
	Subject    string     `json:"subject,omitempty"`
	FromName   string     `json:"from_name,omitempty"`
	FromEmail  string     `json:"from_email,omitempty"`
	ToEmail    string     `json:"to_email,omitempty"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`

	// Content columns from successive schema versions
	BodyFull string `json:"body_full,omitempty"`
	Content  string `json:"content,omitempty"`
	Preview  string `json:"preview,omitempty"`
	Body     string `json:"body,omitempty"`

	ThreadID string `json:"thread_id,omitempty"`
	LeadID   string `json:"lead_id,omitempty"`
	Status   string `json:"status,omitempty"`
}

// RawFormRecord is a web form / inquiry submission
type RawFormRecord struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Email     string     `json:"email,omitempty"`
	Message   string     `json:"message,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	LeadID    string     `json:"lead_id"`
	Status    string     `json:"status,omitempty"`
}

// Customer is the minimal customer row needed to route inbound mail
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
