package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/crm-timeline/internal/events"
	"github.com/brandon/crm-timeline/internal/store"
	"github.com/brandon/crm-timeline/internal/timeline"
	"github.com/brandon/crm-timeline/pkg/types"
)

type fixture struct {
	srv   *Server
	store *store.Store
	bus   *events.Local
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ctx := context.Background()

	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "timeline.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.NewStore(db, logger)

	received := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	created := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpsertCustomer(ctx, types.Customer{ID: "c1", Name: "Anna", Email: "anna@example.com"}))
	require.NoError(t, st.InsertLead(ctx, "l1", "c1", "Kök"))
	require.NoError(t, st.InsertMessage(ctx, types.RawEmailRecord{
		ID: "m1", CustomerID: "c1", Subject: "Offert", FromEmail: "anna@example.com",
		BodyFull: strings.Repeat("Hej! ", 100), ReceivedAt: &received,
	}))
	require.NoError(t, st.InsertForm(ctx, types.RawFormRecord{
		ID: "f1", LeadID: "l1", Email: "anna@example.com", Message: "Ring mig g=C3=A4rna", CreatedAt: &created,
	}))

	bus := events.NewLocal()
	t.Cleanup(bus.Close)

	normalizer := timeline.NewNormalizer(nil, timeline.DefaultFieldPolicy(), timeline.DefaultCaps())
	fetcher := timeline.NewFetcher(st, st, st, types.ChannelEmail, logger)
	pipeline := timeline.NewPipeline(fetcher, normalizer, timeline.DedupRawID, logger)
	coordinator := timeline.NewCoordinator(st, bus, timeline.Sender{Name: "Köksbolaget", Email: "info@example.com"}, logger)

	registry := NewRegistry(func() *timeline.View {
		return timeline.NewView(pipeline, coordinator, logger)
	}, logger)
	t.Cleanup(registry.Close)

	srv := NewServer(8080, registry, st, normalizer, types.ChannelEmail, logger)
	require.NoError(t, srv.Subscribe(bus))
	return &fixture{srv: srv, store: st, bus: bus}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
}

func TestGetTimeline(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/customers/c1/timeline", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[timelineResponse](t, w)
	assert.Equal(t, "c1", resp.CustomerID)
	assert.False(t, resp.Empty)
	require.Len(t, resp.Items, 2)

	email := resp.Items[0]
	assert.Equal(t, "email:m1", email.Key)
	assert.True(t, email.HasMore)
	assert.True(t, email.Deletable)
	assert.False(t, email.Expanded)
	assert.True(t, strings.HasSuffix(email.DisplayPreview, timeline.PreviewSuffix))
	assert.Equal(t, email.Preview, email.Content)

	form := resp.Items[1]
	assert.Equal(t, "form:f1", form.Key)
	assert.Equal(t, "Ring mig gärna", form.FullContent)
	assert.False(t, form.Deletable)
}

func TestGetTimeline_UnknownCustomerIsEmpty(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/customers/nobody/timeline", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[timelineResponse](t, w)
	assert.True(t, resp.Empty)
	assert.Empty(t, resp.Items)
	assert.Empty(t, resp.Error)
}

func TestToggleItem(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/customers/c1/timeline/items/email:m1/toggle", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, true, body["expanded"])
	assert.Equal(t, strings.TrimSpace(strings.Repeat("Hej! ", 100)), body["content"])

	w = f.do(t, http.MethodGet, "/api/v1/customers/c1/timeline", "")
	resp := decode[timelineResponse](t, w)
	assert.True(t, resp.Items[0].Expanded)
	assert.False(t, resp.Items[1].Expanded)

	w = f.do(t, http.MethodPost, "/api/v1/customers/c1/timeline/items/email:nope/toggle", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostReply(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/customers/c1/timeline/replies", `{"item_key":"form:f1","body":"Vi ringer i morgon"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	resp := decode[timelineResponse](t, w)
	require.Len(t, resp.Items, 3)
	assert.Equal(t, types.DirectionOutbound, resp.Items[0].Direction)
	assert.Equal(t, "Re: Web form", resp.Items[0].Title)

	queued, err := f.store.ListQueued(context.Background(), types.ChannelEmail, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "anna@example.com", queued[0].ToEmail)

	tests := []struct {
		name, body string
		code       int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"missing key", `{"body":"x"}`, http.StatusBadRequest},
		{"empty body", `{"item_key":"email:m1","body":"  "}`, http.StatusBadRequest},
		{"unknown item", `{"item_key":"email:zzz","body":"x"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/v1/customers/c1/timeline/replies", tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.NotEmpty(t, decode[map[string]string](t, w)["error"])
		})
	}
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodDelete, "/api/v1/customers/c1/timeline/messages/m1", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[timelineResponse](t, w)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "form:f1", resp.Items[0].Key)

	w = f.do(t, http.MethodDelete, "/api/v1/customers/c1/timeline/messages/m1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventsRefreshLoadedViews(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/v1/customers/c1/timeline", "")

	// Another process imports a message, then announces it
	now := time.Now().UTC()
	require.NoError(t, f.store.UpsertInbound(context.Background(), types.RawEmailRecord{
		ID: "in-1", CustomerID: "c1", Subject: "Ny fråga", BodyFull: "Hej igen", ReceivedAt: &now,
	}))
	require.NoError(t, f.bus.Publish(timeline.SubjectMessageReceived, timeline.MessageEvent{CustomerID: "c1", MessageID: "in-1"}))

	view, ok := f.srv.views.Lookup("c1")
	require.True(t, ok)
	snap := view.Snapshot()
	require.Len(t, snap.Items, 3)
	assert.Equal(t, "email:in-1", snap.Items[0].Key())

	// Unloaded customers are not fetched
	require.NoError(t, f.bus.Publish(timeline.SubjectMessageReceived, timeline.MessageEvent{CustomerID: "c9"}))
	_, ok = f.srv.views.Lookup("c9")
	assert.False(t, ok)
}

func TestGetContext(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/customers/c1/context?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, true, body["valid"])
	summary, _ := body["summary"].(string)
	assert.Contains(t, summary, "Offert")
	assert.NotContains(t, summary, "Web form")
}

func TestSearchMessages(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/customers/c1/messages/search?q=offert", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Items []timeline.Item `json:"items"`
		Count int             `json:"count"`
	}](t, w)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "m1", body.Items[0].ID)

	w = f.do(t, http.MethodGet, "/api/v1/customers/c1/messages/search", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotFoundEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
