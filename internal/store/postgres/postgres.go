// Package postgres implements the timeline stores on a shared Postgres
// database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/brandon/crm-timeline/internal/store"
	"github.com/brandon/crm-timeline/pkg/types"
)

// Schema creates the tables when they do not exist yet
const Schema = `
CREATE TABLE IF NOT EXISTS customers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leads (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
    title TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS customer_messages (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    channel TEXT NOT NULL DEFAULT 'email',
    direction TEXT NOT NULL DEFAULT 'inbound',
    subject TEXT,
    from_name TEXT,
    from_email TEXT,
    to_email TEXT,
    received_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ,
    body_full TEXT,
    content TEXT,
    preview TEXT,
    body TEXT,
    thread_id TEXT,
    lead_id TEXT,
    status TEXT,
    inserted_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);

CREATE TABLE IF NOT EXISTS inbox_forms (
    id TEXT PRIMARY KEY,
    lead_id TEXT,
    name TEXT,
    email TEXT,
    message TEXT,
    status TEXT NOT NULL DEFAULT 'new',
    created_at TIMESTAMPTZ,
    inserted_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);

CREATE INDEX IF NOT EXISTS idx_customers_email ON customers(email);
CREATE INDEX IF NOT EXISTS idx_leads_customer_id ON leads(customer_id);
CREATE INDEX IF NOT EXISTS idx_messages_customer ON customer_messages(customer_id, channel);
CREATE INDEX IF NOT EXISTS idx_messages_status ON customer_messages(status);
CREATE INDEX IF NOT EXISTS idx_forms_lead_id ON inbox_forms(lead_id);
`

// Store implements the message, lead and form stores on Postgres
type Store struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

// New connects to databaseURL and applies the schema
func New(ctx context.Context, databaseURL string, logger *logrus.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Postgres store initialized")
	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the pool
func (s *Store) Close() {
	s.pool.Close()
}

const messageColumns = `id, customer_id, channel, direction, subject, from_name, from_email, to_email,
	received_at, created_at, body_full, content, preview, body, thread_id, lead_id, status`

// ListMessagesByCustomer returns every message of one channel for a customer
func (s *Store) ListMessagesByCustomer(ctx context.Context, customerID, channel string) ([]types.RawEmailRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+`
		FROM customer_messages
		WHERE customer_id = $1 AND channel = $2
		ORDER BY inserted_at`, customerID, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return collectMessages(rows)
}

// InsertMessage stores a new message
func (s *Store) InsertMessage(ctx context.Context, rec types.RawEmailRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO customer_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		messageArgs(rec)...)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// UpsertInbound stores a synced inbound message, replacing an earlier copy
func (s *Store) UpsertInbound(ctx context.Context, rec types.RawEmailRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO customer_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			subject = EXCLUDED.subject,
			from_name = EXCLUDED.from_name,
			from_email = EXCLUDED.from_email,
			to_email = EXCLUDED.to_email,
			received_at = EXCLUDED.received_at,
			body_full = EXCLUDED.body_full,
			preview = EXCLUDED.preview,
			thread_id = EXCLUDED.thread_id,
			status = EXCLUDED.status`,
		messageArgs(rec)...)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

// DeleteMessage removes one message by id
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM customer_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// ListQueued returns outbound messages waiting for delivery, oldest first
func (s *Store) ListQueued(ctx context.Context, channel string, limit int) ([]types.RawEmailRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+`
		FROM customer_messages
		WHERE direction = $1 AND status = $2 AND channel = $3
		ORDER BY created_at NULLS FIRST, inserted_at
		LIMIT $4`, string(types.DirectionOutbound), types.StatusQueued, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query queued messages: %w", err)
	}
	return collectMessages(rows)
}

// MarkStatus sets the delivery status of a message
func (s *Store) MarkStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE customer_messages SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// SearchMessages matches the query words against subject, sender and body
func (s *Store) SearchMessages(ctx context.Context, opts store.SearchOptions) ([]types.RawEmailRecord, error) {
	words := strings.Fields(opts.Query)
	if len(words) == 0 {
		return nil, nil
	}

	args := []any{opts.CustomerID}
	conditions := []string{"customer_id = $1"}
	if opts.Channel != "" {
		args = append(args, opts.Channel)
		conditions = append(conditions, fmt.Sprintf("channel = $%d", len(args)))
	}
	for _, w := range words {
		args = append(args, "%"+escapeLike(w)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(subject ILIKE $%d OR from_name ILIKE $%d OR from_email ILIKE $%d OR body_full ILIKE $%d)", n, n, n, n))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = store.DefaultSearchLimit
	}
	if limit > store.MaxSearchLimit {
		limit = store.MaxSearchLimit
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s
		FROM customer_messages
		WHERE %s
		ORDER BY COALESCE(received_at, created_at) DESC NULLS LAST
		LIMIT $%d`, messageColumns, strings.Join(conditions, " AND "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return collectMessages(rows)
}

// UpsertCustomer creates or updates a customer
func (s *Store) UpsertCustomer(ctx context.Context, c types.Customer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customers (id, name, email) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email`,
		c.ID, c.Name, strings.ToLower(strings.TrimSpace(c.Email)))
	if err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	return nil
}

// CustomerIDByEmail finds the customer owning an address, or "" when none does
func (s *Store) CustomerIDByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM customers WHERE email = $1 ORDER BY created_at LIMIT 1`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up customer: %w", err)
	}
	return id, nil
}

// InsertLead records an inquiry owned by a customer
func (s *Store) InsertLead(ctx context.Context, id, customerID, title string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO leads (id, customer_id, title) VALUES ($1, $2, $3)`, id, customerID, title)
	if err != nil {
		return fmt.Errorf("failed to insert lead: %w", err)
	}
	return nil
}

// LeadIDsByCustomer returns the ids of every lead a customer owns
func (s *Store) LeadIDsByCustomer(ctx context.Context, customerID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM leads WHERE customer_id = $1 ORDER BY created_at, id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inbox_forms (id, lead_id, name, email, message, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, text(rec.LeadID), text(rec.Name), text(rec.Email), text(rec.Message), status, timestamptz(rec.CreatedAt))
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
	rows, err := s.pool.Query(ctx, `
		SELECT id, lead_id, name, email, message, status, created_at
		FROM inbox_forms
		WHERE lead_id = ANY($1) AND status <> $2
		ORDER BY inserted_at`, leadIDs, types.FormStatusSpam)
	if err != nil {
		return nil, fmt.Errorf("failed to query forms: %w", err)
	}

	forms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.RawFormRecord, error) {
		var rec types.RawFormRecord
		var leadID, name, email, message pgtype.Text
		var createdAt pgtype.Timestamptz
		if err := row.Scan(&rec.ID, &leadID, &name, &email, &message, &rec.Status, &createdAt); err != nil {
			return rec, err
		}
		rec.LeadID = leadID.String
		rec.Name = name.String
		rec.Email = email.String
		rec.Message = message.String
		rec.CreatedAt = timePtr(createdAt)
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read forms: %w", err)
	}
	return forms, nil
}

func collectMessages(rows pgx.Rows) ([]types.RawEmailRecord, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.RawEmailRecord, error) {
		var rec types.RawEmailRecord
		var direction string
		var subject, fromName, fromEmail, toEmail pgtype.Text
		var receivedAt, createdAt pgtype.Timestamptz
		var bodyFull, content, preview, body pgtype.Text
		var threadID, leadID, status pgtype.Text

		err := row.Scan(
			&rec.ID, &rec.CustomerID, &rec.Channel, &direction,
			&subject, &fromName, &fromEmail, &toEmail,
			&receivedAt, &createdAt,
			&bodyFull, &content, &preview, &body,
			&threadID, &leadID, &status,
		)
		if err != nil {
			return rec, err
		}

		rec.Direction = types.Direction(direction)
		rec.Subject = subject.String
		rec.FromName = fromName.String
		rec.FromEmail = fromEmail.String
		rec.ToEmail = toEmail.String
		rec.ReceivedAt = timePtr(receivedAt)
		rec.CreatedAt = timePtr(createdAt)
		rec.BodyFull = bodyFull.String
		rec.Content = content.String
		rec.Preview = preview.String
		rec.Body = body.String
		rec.ThreadID = threadID.String
		rec.LeadID = leadID.String
		rec.Status = status.String
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return out, nil
}

func messageArgs(rec types.RawEmailRecord) []any {
	channel := rec.Channel
	if channel == "" {
		channel = types.ChannelEmail
	}
	direction := rec.Direction
	if direction == "" {
		direction = types.DirectionInbound
	}
	return []any{
		rec.ID, rec.CustomerID, channel, string(direction),
		text(rec.Subject), text(rec.FromName), text(rec.FromEmail), text(rec.ToEmail),
		timestamptz(rec.ReceivedAt), timestamptz(rec.CreatedAt),
		text(rec.BodyFull), text(rec.Content), text(rec.Preview), text(rec.Body),
		text(rec.ThreadID), text(rec.LeadID), text(rec.Status),
	}
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil || t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
