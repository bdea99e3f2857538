package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/brandon/crm-timeline/pkg/types"
)

// Search limits
const (
	DefaultSearchLimit = 100
	MaxSearchLimit     = 1000
)

// SearchOptions contains message search parameters
type SearchOptions struct {
	CustomerID string
	Channel    string
	Query      string
	Limit      int
}

// SearchMessages runs a full-text search over one customer's messages and
// returns matches newest first
func (s *Store) SearchMessages(ctx context.Context, opts SearchOptions) ([]types.RawEmailRecord, error) {
	terms := ftsQuery(opts.Query)
	if terms == "" {
		return nil, nil
	}

	conditions := []string{
		"rowid IN (SELECT rowid FROM customer_messages_fts WHERE customer_messages_fts MATCH ?)",
		"customer_id = ?",
	}
	args := []interface{}{terms, opts.CustomerID}
	if opts.Channel != "" {
		conditions = append(conditions, "channel = ?")
		args = append(args, opts.Channel)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s
		FROM customer_messages
		WHERE %s
		ORDER BY COALESCE(received_at, created_at) DESC
		LIMIT ?`, messageColumns, strings.Join(conditions, " AND "))

	rows, err := s.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ftsQuery quotes every word so user input is never parsed as FTS5 syntax
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}
