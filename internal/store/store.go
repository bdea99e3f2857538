package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/crm-timeline/pkg/types"
)

// ErrNotFound is returned when a mutation targets a missing row
var ErrNotFound = errors.New("record not found")

// Store provides the message, lead and form stores on one database
type Store struct {
	db     *DB
	logger *logrus.Logger
}

// NewStore creates a new store instance
func NewStore(db *DB, logger *logrus.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

const messageColumns = `id, customer_id, channel, direction, subject, from_name, from_email, to_email,
	received_at, created_at, body_full, content, preview, body, thread_id, lead_id, status`

// ListMessagesByCustomer returns every message of one channel for a customer
func (s *Store) ListMessagesByCustomer(ctx context.Context, customerID, channel string) ([]types.RawEmailRecord, error) {
	query := `SELECT ` + messageColumns + `
		FROM customer_messages
		WHERE customer_id = ? AND channel = ?
		ORDER BY rowid`
	rows, err := s.db.SQL().QueryContext(ctx, query, customerID, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// InsertMessage stores a new message
func (s *Store) InsertMessage(ctx context.Context, rec types.RawEmailRecord) error {
	query := `INSERT INTO customer_messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.SQL().ExecContext(ctx, query, messageArgs(rec)...)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// UpsertInbound stores a synced inbound message, replacing an earlier copy
// with the same id
func (s *Store) UpsertInbound(ctx context.Context, rec types.RawEmailRecord) error {
	query := `INSERT INTO customer_messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subject = excluded.subject,
			from_name = excluded.from_name,
			from_email = excluded.from_email,
			to_email = excluded.to_email,
			received_at = excluded.received_at,
			body_full = excluded.body_full,
			preview = excluded.preview,
			thread_id = excluded.thread_id,
			status = excluded.status`
	_, err := s.db.SQL().ExecContext(ctx, query, messageArgs(rec)...)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

// DeleteMessage removes one message by id
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.SQL().ExecContext(ctx, "DELETE FROM customer_messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListQueued returns outbound messages waiting for delivery, oldest first
func (s *Store) ListQueued(ctx context.Context, channel string, limit int) ([]types.RawEmailRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + messageColumns + `
		FROM customer_messages
		WHERE direction = ? AND status = ? AND channel = ?
		ORDER BY created_at, rowid
		LIMIT ?`
	rows, err := s.db.SQL().QueryContext(ctx, query, string(types.DirectionOutbound), types.StatusQueued, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query queued messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MarkStatus sets the delivery status of a message
func (s *Store) MarkStatus(ctx context.Context, id, status string) error {
	result, err := s.db.SQL().ExecContext(ctx, "UPDATE customer_messages SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpsertCustomer creates or updates a customer
func (s *Store) UpsertCustomer(ctx context.Context, c types.Customer) error {
	query := `
		INSERT INTO customers (id, name, email)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email`
	if _, err := s.db.SQL().ExecContext(ctx, query, c.ID, c.Name, strings.ToLower(strings.TrimSpace(c.Email))); err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	return nil
}

// CustomerIDByEmail finds the customer owning an address. It returns an
// empty id when no customer matches.
func (s *Store) CustomerIDByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := s.db.SQL().QueryRowContext(ctx,
		"SELECT id FROM customers WHERE email = ? ORDER BY created_at LIMIT 1",
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up customer: %w", err)
	}
	return id, nil
}

// InsertLead records an inquiry owned by a customer
func (s *Store) InsertLead(ctx context.Context, id, customerID, title string) error {
	_, err := s.db.SQL().ExecContext(ctx,
		"INSERT INTO leads (id, customer_id, title) VALUES (?, ?, ?)",
		id, customerID, title,
	)
	if err != nil {
		return fmt.Errorf("failed to insert lead: %w", err)
	}
	return nil
}

// LeadIDsByCustomer returns the ids of every lead a customer owns
func (s *Store) LeadIDsByCustomer(ctx context.Context, customerID string) ([]string, error) {
	rows, err := s.db.SQL().QueryContext(ctx, "SELECT id FROM leads WHERE customer_id = ? ORDER BY created_at, id", customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read leads: %w", err)
	}
	return ids, nil
}

// InsertForm stores a web form submission
func (s *Store) InsertForm(ctx context.Context, rec types.RawFormRecord) error {
	status := rec.Status
	if status == "" {
		status = "new"
	}
	_, err := s.db.SQL().ExecContext(ctx,
		"INSERT INTO inbox_forms (id, lead_id, name, email, message, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.ID, nullString(rec.LeadID), nullString(rec.Name), nullString(rec.Email), nullString(rec.Message), status, formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert form: %w", err)
	}
	return nil
}

// ListFormsByLeads returns the non-spam submissions attached to any of the leads
func (s *Store) ListFormsByLeads(ctx context.Context, leadIDs []string) ([]types.RawFormRecord, error) {
	if len(leadIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(leadIDs)), ",")
	args := make([]interface{}, 0, len(leadIDs)+1)
	for _, id := range leadIDs {
		args = append(args, id)
	}
	args = append(args, types.FormStatusSpam)

	query := fmt.Sprintf(`
		SELECT id, lead_id, name, email, message, status, created_at
		FROM inbox_forms
		WHERE lead_id IN (%s) AND status != ?
		ORDER BY rowid`, placeholders)

	rows, err := s.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query forms: %w", err)
	}
	defer rows.Close()

	var forms []types.RawFormRecord
	for rows.Next() {
		var rec types.RawFormRecord
		var leadID, name, email, message, createdAt sql.NullString
		if err := rows.Scan(&rec.ID, &leadID, &name, &email, &message, &rec.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan form: %w", err)
		}
		rec.LeadID = leadID.String
		rec.Name = name.String
		rec.Email = email.String
		rec.Message = message.String
		rec.CreatedAt = parseTime(createdAt)
		forms = append(forms, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read forms: %w", err)
	}
	return forms, nil
}

func messageArgs(rec types.RawEmailRecord) []interface{} {
	channel := rec.Channel
	if channel == "" {
		channel = types.ChannelEmail
	}
	direction := rec.Direction
	if direction == "" {
		direction = types.DirectionInbound
	}
	return []interface{}{
		rec.ID,
		rec.CustomerID,
		channel,
		string(direction),
		nullString(rec.Subject),
		nullString(rec.FromName),
		nullString(rec.FromEmail),
		nullString(rec.ToEmail),
		formatTime(rec.ReceivedAt),
		formatTime(rec.CreatedAt),
		nullString(rec.BodyFull),
		nullString(rec.Content),
		nullString(rec.Preview),
		nullString(rec.Body),
		nullString(rec.ThreadID),
		nullString(rec.LeadID),
		nullString(rec.Status),
	}
}

func scanMessages(rows *sql.Rows) ([]types.RawEmailRecord, error) {
	var out []types.RawEmailRecord
	for rows.Next() {
		var rec types.RawEmailRecord
		var direction string
		var subject, fromName, fromEmail, toEmail sql.NullString
		var receivedAt, createdAt sql.NullString
		var bodyFull, content, preview, body sql.NullString
		var threadID, leadID, status sql.NullString

		err := rows.Scan(
			&rec.ID,
			&rec.CustomerID,
			&rec.Channel,
			&direction,
			&subject,
			&fromName,
			&fromEmail,
			&toEmail,
			&receivedAt,
			&createdAt,
			&bodyFull,
			&content,
			&preview,
			&body,
			&threadID,
			&leadID,
			&status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		rec.Direction = types.Direction(direction)
		rec.Subject = subject.String
		rec.FromName = fromName.String
		rec.FromEmail = fromEmail.String
		rec.ToEmail = toEmail.String
		rec.ReceivedAt = parseTime(receivedAt)
		rec.CreatedAt = parseTime(createdAt)
		rec.BodyFull = bodyFull.String
		rec.Content = content.String
		rec.Preview = preview.String
		rec.Body = body.String
		rec.ThreadID = threadID.String
		rec.LeadID = leadID.String
		rec.Status = status.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return out, nil
}

// timeLayouts are tried in order; older rows were written without a zone
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(v.String)); err == nil {
			return &t
		}
	}
	return nil
}

func formatTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
