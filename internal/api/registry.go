package api

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brandon/crm-timeline/internal/timeline"
)

// Registry holds one View per customer. A view is loaded the first time its
// customer is requested.
type Registry struct {
	newView func() *timeline.View
	logger  *logrus.Logger

	mu    sync.Mutex
	views map[string]*entry
}

type entry struct {
	view *timeline.View
	once sync.Once
}

// NewRegistry creates an empty registry
func NewRegistry(newView func() *timeline.View, logger *logrus.Logger) *Registry {
	return &Registry{
		newView: newView,
		logger:  logger,
		views:   make(map[string]*entry),
	}
}

// Get returns the view of a customer, loading it on first use. Load failures
// are reported through the view snapshot.
func (r *Registry) Get(ctx context.Context, customerID string) *timeline.View {
	r.mu.Lock()
	e, ok := r.views[customerID]
	if !ok {
		e = &entry{view: r.newView()}
		r.views[customerID] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		err := e.view.SetCustomer(ctx, customerID)
		if err != nil && !errors.Is(err, timeline.ErrStaleResult) {
			r.logger.WithError(err).WithField("customer_id", customerID).Warn("Initial timeline load failed")
		}
	})
	return e.view
}

// Lookup returns the view of a customer if it was loaded before
func (r *Registry) Lookup(customerID string) (*timeline.View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.views[customerID]
	if !ok {
		return nil, false
	}
	return e.view, true
}

// Refresh rebuilds a loaded view; customers nobody looked at are ignored
func (r *Registry) Refresh(ctx context.Context, customerID string) {
	view, ok := r.Lookup(customerID)
	if !ok {
		return
	}
	err := view.Refresh(ctx)
	if err != nil && !errors.Is(err, timeline.ErrStaleResult) && !errors.Is(err, timeline.ErrViewClosed) {
		r.logger.WithError(err).WithField("customer_id", customerID).Warn("Failed to refresh timeline")
	}
}

// Len returns the number of loaded views
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

// Close closes every view
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.views {
		e.view.Close()
		delete(r.views, id)
	}
}
