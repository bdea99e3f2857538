package timeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrViewClosed  = errors.New("timeline view is closed")
	ErrNoCustomer  = errors.New("no customer selected")
	ErrNotFound    = errors.New("timeline item not found")
	ErrStaleResult = errors.New("timeline result superseded by a newer fetch")
)

// Snapshot is what the presentation layer renders. When a refresh fails, Err
// is set and Items, FetchedAt and Collisions still hold the last complete
// result for the same customer. A partially fetched result is never applied.
type Snapshot struct {
	CustomerID string
	Items      []Item
	Loading    bool
	Err        error
	Empty      bool
	Generation uint64
	FetchedAt  time.Time
	Collisions []Collision
}

// CustomerContext is the explicit summary context handed to assistant
// features. It is rebuilt on every applied fetch and invalidated when the
// customer changes or the view closes.
type CustomerContext struct {
	CustomerID string
	Generation uint64
	Items      []Item
	BuiltAt    time.Time
	Valid      bool
}

// Summary renders the newest items as plain text lines
func (c CustomerContext) Summary(limit int) string {
	if !c.Valid {
		return ""
	}
	var b strings.Builder
	for i, it := range c.Items {
		if limit > 0 && i >= limit {
			break
		}
		when := "unknown date"
		if it.Timestamp != nil {
			when = it.Timestamp.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(&b, "[%s] %s %s from %s: %s\n", when, it.Type, it.Title, it.From, it.Preview)
	}
	return b.String()
}

// View owns the timeline state for one customer at a time. Rebuilds are
// triggered explicitly: SetCustomer, Refresh, or a successful mutation.
// Every fetch carries a generation number and only the latest one is applied.
type View struct {
	pipeline    *Pipeline
	coordinator *Coordinator
	expansion   *ExpansionState
	logger      *logrus.Logger

	mu            sync.Mutex
	customerID    string
	generation    uint64
	session       context.Context
	cancelSession context.CancelFunc
	snapshot      Snapshot
	assistant     CustomerContext
	closed        bool
}

// NewView creates a view with no customer selected
func NewView(pipeline *Pipeline, coordinator *Coordinator, logger *logrus.Logger) *View {
	session, cancel := context.WithCancel(context.Background())
	return &View{
		pipeline:      pipeline,
		coordinator:   coordinator,
		expansion:     NewExpansionState(),
		logger:        logger,
		session:       session,
		cancelSession: cancel,
	}
}

// SetCustomer switches the view to another customer. In-flight fetches for
// the previous customer are cancelled and their results discarded.
func (v *View) SetCustomer(ctx context.Context, customerID string) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	v.cancelSession()
	v.session, v.cancelSession = context.WithCancel(context.Background())
	v.generation++
	v.customerID = customerID
	v.snapshot = Snapshot{CustomerID: customerID, Generation: v.generation}
	v.assistant = CustomerContext{}
	v.expansion.Reset()
	v.mu.Unlock()

	return v.Refresh(ctx)
}

// Refresh rebuilds the timeline. ErrStaleResult means a newer fetch started
// meanwhile and this result was dropped.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	if v.customerID == "" {
		v.mu.Unlock()
		return ErrNoCustomer
	}
	v.generation++
	gen := v.generation
	customerID := v.customerID
	session := v.session
	v.snapshot.Loading = true
	v.mu.Unlock()

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(session, cancel)
	defer stop()

	res, err := v.pipeline.Run(fetchCtx, customerID)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || gen != v.generation || customerID != v.customerID {
		v.logger.WithFields(logrus.Fields{
			"customer_id": customerID,
			"generation":  gen,
			"latest":      v.generation,
		}).Debug("Discarding stale timeline result")
		return ErrStaleResult
	}

	v.snapshot.Loading = false
	v.snapshot.Generation = gen
	if err != nil {
		v.snapshot.Err = err
		v.logger.WithError(err).WithField("customer_id", customerID).Error("Failed to build timeline")
		return err
	}

	v.snapshot = Snapshot{
		CustomerID: customerID,
		Items:      res.Items,
		Empty:      res.Empty(),
		Generation: gen,
		FetchedAt:  time.Now().UTC(),
		Collisions: res.Collisions,
	}
	v.assistant = CustomerContext{
		CustomerID: customerID,
		Generation: gen,
		Items:      res.Items,
		BuiltAt:    v.snapshot.FetchedAt,
		Valid:      true,
	}
	v.expansion.Retain(res.Items)
	return nil
}

// Snapshot returns the current state
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	snap := v.snapshot
	snap.Items = append([]Item(nil), v.snapshot.Items...)
	return snap
}

// AssistantContext returns the current customer context
func (v *View) AssistantContext() CustomerContext {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.assistant
}

// Item looks up an item of the current snapshot by key
func (v *View) Item(key string) (Item, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, it := range v.snapshot.Items {
		if it.Key() == key {
			return it, nil
		}
	}
	return Item{}, ErrNotFound
}

// Toggle flips the expanded state of one item
func (v *View) Toggle(key string) (bool, error) {
	if _, err := v.Item(key); err != nil {
		return false, err
	}
	return v.expansion.Toggle(key), nil
}

// Expansion exposes the per-item view state
func (v *View) Expansion() *ExpansionState {
	return v.expansion
}

// Reply queues a reply to the item with the given key and rebuilds the timeline
func (v *View) Reply(ctx context.Context, key, body, subject string) error {
	it, err := v.Item(key)
	if err != nil {
		return err
	}
	customerID := v.currentCustomer()

	if _, err := v.coordinator.Reply(ctx, customerID, ReplyInput{To: it, Body: body, Subject: subject}); err != nil {
		return err
	}
	v.refreshAfterMutation(ctx)
	return nil
}

// Delete removes the item with the given key and rebuilds the timeline
func (v *View) Delete(ctx context.Context, key string) error {
	it, err := v.Item(key)
	if err != nil {
		return err
	}
	customerID := v.currentCustomer()

	if err := v.coordinator.Delete(ctx, customerID, it); err != nil {
		return err
	}
	v.refreshAfterMutation(ctx)
	return nil
}

// refreshAfterMutation rebuilds from the stores; the mutation itself has
// already succeeded, so fetch problems only show up in the snapshot
func (v *View) refreshAfterMutation(ctx context.Context) {
	if err := v.Refresh(ctx); err != nil && !errors.Is(err, ErrStaleResult) {
		v.logger.WithError(err).Warn("Timeline refresh after mutation failed")
	}
}

func (v *View) currentCustomer() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.customerID
}

// Close discards any in-flight fetch and invalidates the assistant context
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	v.generation++
	v.cancelSession()
	v.assistant = CustomerContext{}
}
