package timeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/crm-timeline/pkg/types"
)

func seededStore() *memoryStore {
	store := newMemoryStore()
	store.messages = []types.RawEmailRecord{
		{ID: "m1", CustomerID: "c1", Channel: types.ChannelEmail, Direction: types.DirectionInbound,
			Subject: "Offert", FromEmail: "anna@example.com", BodyFull: "Hej, kan ni skicka en offert?",
			ReceivedAt: ts("2024-01-02T10:00:00Z")},
		{ID: "m2", CustomerID: "c2", Channel: types.ChannelEmail, Subject: "Annan kund",
			ReceivedAt: ts("2024-01-03T10:00:00Z")},
	}
	store.leads["c1"] = []string{"l1"}
	store.forms = []types.RawFormRecord{
		{ID: "f1", LeadID: "l1", Email: "anna@example.com", Message: "Ring mig", CreatedAt: ts("2024-01-01T10:00:00Z")},
	}
	return store
}

func newTestView(store *memoryStore) *View {
	return NewView(newTestPipeline(store, DedupRawID), newTestCoordinator(store, nil), quietLogger())
}

func TestView_SetCustomer(t *testing.T) {
	v := newTestView(seededStore())
	defer v.Close()

	assert.ErrorIs(t, v.Refresh(context.Background()), ErrNoCustomer)

	require.NoError(t, v.SetCustomer(context.Background(), "c1"))
	snap := v.Snapshot()
	assert.Equal(t, "c1", snap.CustomerID)
	assert.Equal(t, []string{"email:m1", "form:f1"}, keys(snap.Items))
	assert.False(t, snap.Loading)
	assert.False(t, snap.Empty)
	assert.NoError(t, snap.Err)

	actx := v.AssistantContext()
	assert.True(t, actx.Valid)
	assert.Equal(t, "c1", actx.CustomerID)
	assert.Contains(t, actx.Summary(1), "Offert")
	assert.NotContains(t, actx.Summary(1), "Web form")

	_, err := v.Toggle("email:m1")
	require.NoError(t, err)
	assert.True(t, v.Expansion().IsExpanded("email:m1"))

	require.NoError(t, v.SetCustomer(context.Background(), "c2"))
	assert.Equal(t, []string{"email:m2"}, keys(v.Snapshot().Items))
	assert.Equal(t, "c2", v.AssistantContext().CustomerID)
	assert.False(t, v.Expansion().IsExpanded("email:m1"))
}

func TestView_EmptyCustomer(t *testing.T) {
	v := newTestView(seededStore())
	defer v.Close()

	require.NoError(t, v.SetCustomer(context.Background(), "nobody"))
	snap := v.Snapshot()
	assert.True(t, snap.Empty)
	assert.Empty(t, snap.Items)
	assert.NoError(t, snap.Err)
}

func TestView_FetchErrorKeepsItems(t *testing.T) {
	store := seededStore()
	v := newTestView(store)
	defer v.Close()
	require.NoError(t, v.SetCustomer(context.Background(), "c1"))
	before := v.Snapshot()

	store.mu.Lock()
	store.listErr = errors.New("timeout")
	store.mu.Unlock()

	err := v.Refresh(context.Background())
	var fe *FetchError
	require.ErrorAs(t, err, &fe)

	// The last complete result stays, nothing from the failed fetch is mixed in
	snap := v.Snapshot()
	assert.ErrorIs(t, snap.Err, store.listErr)
	assert.Equal(t, before.Items, snap.Items)
	assert.Equal(t, before.FetchedAt, snap.FetchedAt)
	assert.Equal(t, "c1", snap.CustomerID)
	assert.False(t, snap.Loading)
}

func TestView_ReplyRebuildsTimeline(t *testing.T) {
	store := seededStore()
	v := newTestView(store)
	defer v.Close()
	require.NoError(t, v.SetCustomer(context.Background(), "c1"))

	require.NoError(t, v.Reply(context.Background(), "email:m1", "Absolut, den kommer i morgon.", ""))

	snap := v.Snapshot()
	require.Len(t, snap.Items, 3)
	reply := snap.Items[0]
	assert.Equal(t, "email:reply-1", reply.Key())
	assert.Equal(t, types.DirectionOutbound, reply.Direction)
	assert.Equal(t, "Re: Offert", reply.Title)
	assert.Equal(t, "anna@example.com", reply.ReplyTo)
}

func TestView_FailedMutationLeavesSnapshot(t *testing.T) {
	store := seededStore()
	v := newTestView(store)
	defer v.Close()
	require.NoError(t, v.SetCustomer(context.Background(), "c1"))
	before := v.Snapshot()

	store.mu.Lock()
	store.insertErr = errors.New("read only")
	store.deleteErr = errors.New("read only")
	store.mu.Unlock()

	assert.Error(t, v.Reply(context.Background(), "email:m1", "Hej", ""))
	assert.Error(t, v.Delete(context.Background(), "email:m1"))
	assert.ErrorIs(t, v.Delete(context.Background(), "form:f1"), ErrNotDeletable)
	assert.ErrorIs(t, v.Delete(context.Background(), "email:missing"), ErrNotFound)

	after := v.Snapshot()
	assert.Equal(t, before.Generation, after.Generation)
	assert.Equal(t, keys(before.Items), keys(after.Items))
}

func TestView_DeleteRebuildsTimeline(t *testing.T) {
	v := newTestView(seededStore())
	defer v.Close()
	require.NoError(t, v.SetCustomer(context.Background(), "c1"))

	require.NoError(t, v.Delete(context.Background(), "email:m1"))
	assert.Equal(t, []string{"form:f1"}, keys(v.Snapshot().Items))
}

func TestView_StaleResultAfterCustomerChange(t *testing.T) {
	store := seededStore()
	started := make(chan struct{})
	store.onList = func(ctx context.Context, customerID string) error {
		if customerID != "c1" {
			return nil
		}
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	v := newTestView(store)
	defer v.Close()

	errc := make(chan error, 1)
	go func() { errc <- v.SetCustomer(context.Background(), "c1") }()
	<-started

	require.NoError(t, v.SetCustomer(context.Background(), "c2"))
	assert.ErrorIs(t, <-errc, ErrStaleResult)

	snap := v.Snapshot()
	assert.Equal(t, "c2", snap.CustomerID)
	assert.Equal(t, []string{"email:m2"}, keys(snap.Items))
	assert.NoError(t, snap.Err)
}

func TestView_OnlyLatestRefreshApplies(t *testing.T) {
	store := seededStore()
	v := newTestView(store)
	defer v.Close()
	require.NoError(t, v.SetCustomer(context.Background(), "c1"))

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	store.onList = func(ctx context.Context, _ string) error {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	}

	errc := make(chan error, 1)
	go func() { errc <- v.Refresh(context.Background()) }()
	<-started

	store.mu.Lock()
	store.messages[0].Subject = "Uppdaterad"
	store.mu.Unlock()
	require.NoError(t, v.Refresh(context.Background()))
	latest := v.Snapshot().Generation

	close(release)
	assert.ErrorIs(t, <-errc, ErrStaleResult)
	snap := v.Snapshot()
	assert.Equal(t, latest, snap.Generation)
	assert.Equal(t, "Uppdaterad", snap.Items[0].Title)
}

func TestView_Close(t *testing.T) {
	store := seededStore()
	v := newTestView(store)
	require.NoError(t, v.SetCustomer(context.Background(), "c1"))

	var wg sync.WaitGroup
	started := make(chan struct{})
	store.onList = func(ctx context.Context, _ string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	wg.Add(1)
	var inflight error
	go func() {
		defer wg.Done()
		inflight = v.Refresh(context.Background())
	}()
	<-started

	v.Close()
	wg.Wait()
	assert.ErrorIs(t, inflight, ErrStaleResult)
	assert.False(t, v.AssistantContext().Valid)
	assert.Empty(t, v.AssistantContext().Summary(10))
	assert.ErrorIs(t, v.Refresh(context.Background()), ErrViewClosed)
	assert.ErrorIs(t, v.SetCustomer(context.Background(), "c2"), ErrViewClosed)
	v.Close()
}

func TestCustomerContext_Summary(t *testing.T) {
	c := CustomerContext{Valid: true, Items: []Item{
		{Type: TypeEmail, Title: "Offert", From: "Anna", Preview: "Hej", Timestamp: ts("2024-01-02T10:00:00Z")},
		{Type: TypeForm, Title: FormTitle, From: "Bo", Preview: "Ring"},
	}}
	lines := strings.Split(strings.TrimSpace(c.Summary(0)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[2024-01-02 10:00] email Offert from Anna: Hej", lines[0])
	assert.Contains(t, lines[1], "unknown date")
}
