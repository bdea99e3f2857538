package timeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/crm-timeline/pkg/types"
)

type memoryStore struct {
	mu       sync.Mutex
	messages []types.RawEmailRecord
	leads    map[string][]string
	forms    []types.RawFormRecord

	listErr   error
	leadErr   error
	formErr   error
	insertErr error
	deleteErr error

	formCalls int
	onList    func(ctx context.Context, customerID string) error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{leads: make(map[string][]string)}
}

func (m *memoryStore) ListMessagesByCustomer(ctx context.Context, customerID, channel string) ([]types.RawEmailRecord, error) {
	if m.onList != nil {
		if err := m.onList(ctx, customerID); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []types.RawEmailRecord
	for _, rec := range m.messages {
		if rec.CustomerID == customerID && rec.Channel == channel {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memoryStore) InsertMessage(_ context.Context, rec types.RawEmailRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.messages = append(m.messages, rec)
	return nil
}

func (m *memoryStore) DeleteMessage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for i, rec := range m.messages {
		if rec.ID == id {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			return nil
		}
	}
	return errors.New("not found")
}

func (m *memoryStore) LeadIDsByCustomer(_ context.Context, customerID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leadErr != nil {
		return nil, m.leadErr
	}
	return m.leads[customerID], nil
}

func (m *memoryStore) ListFormsByLeads(_ context.Context, leadIDs []string) ([]types.RawFormRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.formCalls++
	if m.formErr != nil {
		return nil, m.formErr
	}
	want := make(map[string]bool, len(leadIDs))
	for _, id := range leadIDs {
		want[id] = true
	}
	var out []types.RawFormRecord
	for _, rec := range m.forms {
		if want[rec.LeadID] {
			out = append(out, rec)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (p *recordingPublisher) Publish(subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return p.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func newTestPipeline(store *memoryStore, dedup DedupPolicy) *Pipeline {
	logger := quietLogger()
	fetcher := NewFetcher(store, store, store, types.ChannelEmail, logger)
	normalizer := NewNormalizer(nil, DefaultFieldPolicy(), DefaultCaps())
	return NewPipeline(fetcher, normalizer, dedup, logger)
}
