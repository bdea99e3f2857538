package events

import (
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// Local is an in-process Bus used when no NATS server is configured. Handlers
// run synchronously on the publishing goroutine.
type Local struct {
	mu     sync.RWMutex
	subs   []localSub
	closed bool
}

type localSub struct {
	pattern []string
	handler Handler
}

// NewLocal creates an empty in-process bus
func NewLocal() *Local {
	return &Local{}
}

// Publish delivers data as JSON to every matching subscriber
func (l *Local) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil
	}
	tokens := strings.Split(subject, ".")
	var handlers []Handler
	for _, sub := range l.subs {
		if matchSubject(sub.pattern, tokens) {
			handlers = append(handlers, sub.handler)
		}
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(subject, payload)
	}
	return nil
}

// Subscribe registers handler for a subject pattern using NATS wildcards
func (l *Local) Subscribe(subject string, handler Handler) error {
	if subject == "" {
		return fmt.Errorf("empty subject")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, localSub{pattern: strings.Split(subject, "."), handler: handler})
	return nil
}

// Close drops all subscribers
func (l *Local) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.subs = nil
}

// matchSubject applies NATS rules: "*" matches one token, a trailing ">"
// matches one or more
func matchSubject(pattern, subject []string) bool {
	for i, p := range pattern {
		if p == ">" {
			return i == len(pattern)-1 && len(subject) > i
		}
		if i >= len(subject) {
			return false
		}
		if p != "*" && p != subject[i] {
			return false
		}
	}
	return len(pattern) == len(subject)
}
