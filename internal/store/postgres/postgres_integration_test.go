//go:build integration

package postgres

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandon/crm-timeline/internal/store"
	"github.com/brandon/crm-timeline/internal/timeline"
	"github.com/brandon/crm-timeline/pkg/types"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := New(context.Background(), dbURL, logger)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestIntegration_TimelineRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	suffix := uuid.New().String()[:8]
	customerID := "it-customer-" + suffix
	leadID := "it-lead-" + suffix

	if err := s.UpsertCustomer(ctx, types.Customer{ID: customerID, Email: suffix + "@example.com"}); err != nil {
		t.Fatalf("UpsertCustomer failed: %v", err)
	}
	if err := s.InsertLead(ctx, leadID, customerID, "Kök"); err != nil {
		t.Fatalf("InsertLead failed: %v", err)
	}

	received := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.InsertMessage(ctx, types.RawEmailRecord{
		ID: "it-m-" + suffix, CustomerID: customerID, Subject: "Offert", BodyFull: "Hej", ReceivedAt: &received,
	}); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	if err := s.InsertForm(ctx, types.RawFormRecord{ID: "it-f-" + suffix, LeadID: leadID, Message: "Ring mig", CreatedAt: &created}); err != nil {
		t.Fatalf("InsertForm failed: %v", err)
	}
	if err := s.InsertForm(ctx, types.RawFormRecord{ID: "it-s-" + suffix, LeadID: leadID, Message: "spam", Status: types.FormStatusSpam}); err != nil {
		t.Fatalf("InsertForm failed: %v", err)
	}

	id, err := s.CustomerIDByEmail(ctx, suffix+"@EXAMPLE.com")
	if err != nil || id != customerID {
		t.Fatalf("CustomerIDByEmail = %q, %v", id, err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	fetcher := timeline.NewFetcher(s, s, s, types.ChannelEmail, logger)
	pipeline := timeline.NewPipeline(fetcher, timeline.NewNormalizer(nil, timeline.DefaultFieldPolicy(), timeline.DefaultCaps()), timeline.DedupRawID, logger)

	res, err := pipeline.Run(ctx, customerID)
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(res.Items))
	}
	if res.Items[0].Type != timeline.TypeEmail || res.Items[1].Type != timeline.TypeForm {
		t.Errorf("unexpected order: %s, %s", res.Items[0].Key(), res.Items[1].Key())
	}

	hits, err := s.SearchMessages(ctx, store.SearchOptions{CustomerID: customerID, Query: "offert"})
	if err != nil || len(hits) != 1 {
		t.Fatalf("SearchMessages = %d hits, %v", len(hits), err)
	}

	if err := s.DeleteMessage(ctx, "it-m-"+suffix); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	if err := s.DeleteMessage(ctx, "it-m-"+suffix); err == nil {
		t.Error("expected not found on second delete")
	}
}

func TestIntegration_Queue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	id := "it-q-" + uuid.New().String()[:8]
	now := time.Now().UTC()

	if err := s.InsertMessage(ctx, types.RawEmailRecord{
		ID: id, CustomerID: "it-queue", Direction: types.DirectionOutbound, Status: types.StatusQueued, CreatedAt: &now,
	}); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	if err := s.MarkStatus(ctx, id, types.StatusSent); err != nil {
		t.Fatalf("MarkStatus failed: %v", err)
	}

	queued, err := s.ListQueued(ctx, types.ChannelEmail, 1000)
	if err != nil {
		t.Fatalf("ListQueued failed: %v", err)
	}
	for _, rec := range queued {
		if rec.ID == id {
			t.Errorf("sent message %s still queued", id)
		}
	}
}
