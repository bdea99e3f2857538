package timeline

import "sync"

// ExpansionState tracks, per item, whether the full content is shown instead
// of the preview. Items are independent; toggling one never touches another.
type ExpansionState struct {
	mu       sync.RWMutex
	expanded map[string]bool
}

// NewExpansionState returns a state with every item collapsed
func NewExpansionState() *ExpansionState {
	return &ExpansionState{expanded: make(map[string]bool)}
}

// IsExpanded reports the state of the item with the given key
func (s *ExpansionState) IsExpanded(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expanded[key]
}

// Toggle flips one item and returns its new state
func (s *ExpansionState) Toggle(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := !s.expanded[key]
	if next {
		s.expanded[key] = true
	} else {
		delete(s.expanded, key)
	}
	return next
}

// Set forces the state of one item
func (s *ExpansionState) Set(key string, expanded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expanded {
		s.expanded[key] = true
	} else {
		delete(s.expanded, key)
	}
}

// Content returns the text to display for an item
func (s *ExpansionState) Content(it Item) string {
	if s.IsExpanded(it.Key()) {
		return it.FullContent
	}
	return it.Preview
}

// Retain forgets items that are no longer on the timeline
func (s *ExpansionState) Retain(items []Item) {
	keep := make(map[string]struct{}, len(items))
	for _, it := range items {
		keep[it.Key()] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.expanded {
		if _, ok := keep[key]; !ok {
			delete(s.expanded, key)
		}
	}
}

// Reset collapses every item
func (s *ExpansionState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expanded = make(map[string]bool)
}
