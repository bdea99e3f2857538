package delivery

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/crm-timeline/internal/timeline"
	"github.com/brandon/crm-timeline/pkg/types"
)

type fakeQueue struct {
	queued  []types.RawEmailRecord
	status  map[string]string
	listErr error
	markErr error
}

func (q *fakeQueue) ListQueued(_ context.Context, channel string, limit int) ([]types.RawEmailRecord, error) {
	if q.listErr != nil {
		return nil, q.listErr
	}
	var out []types.RawEmailRecord
	for _, rec := range q.queued {
		if q.status[rec.ID] == "" && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (q *fakeQueue) MarkStatus(_ context.Context, id, status string) error {
	if q.markErr != nil {
		return q.markErr
	}
	q.status[id] = status
	return nil
}

type fakeTransport struct {
	mu   sync.Mutex
	sent map[string][]byte
	fail map[string]bool
}

func (t *fakeTransport) Send(_ context.Context, from string, to []string, msg []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail[to[0]] {
		return errors.New("550 mailbox unavailable")
	}
	t.sent[to[0]] = msg
	return nil
}

type subjects struct {
	mu  sync.Mutex
	got []string
}

func (s *subjects) Publish(subject string, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, subject)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func queuedReply(id, to string) types.RawEmailRecord {
	return types.RawEmailRecord{
		ID: id, CustomerID: "c1", Direction: types.DirectionOutbound, Status: types.StatusQueued,
		FromName: "Köksbolaget", FromEmail: "info@example.com", ToEmail: to,
		Subject: "Re: Offert kök", BodyFull: "Hej Anna!\nOfferten kommer i morgon.", ThreadID: "abc@mail.example.com",
	}
}

func TestWorker_RunOnce(t *testing.T) {
	q := &fakeQueue{
		queued: []types.RawEmailRecord{queuedReply("r1", "anna@example.com"), queuedReply("r2", "bounce@example.com")},
		status: map[string]string{},
	}
	tr := &fakeTransport{sent: map[string][]byte{}, fail: map[string]bool{"bounce@example.com": true}}
	pub := &subjects{}

	w := NewWorker(q, tr, pub, "", quietLogger())
	stats, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Sent: 1, Failed: 1}, stats)
	assert.Equal(t, types.StatusSent, q.status["r1"])
	assert.Equal(t, types.StatusFailed, q.status["r2"])
	assert.Equal(t, []string{timeline.SubjectMessageSent, timeline.SubjectMessageFailed}, pub.got)
	require.Contains(t, tr.sent, "anna@example.com")

	stats, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestWorker_StoreErrors(t *testing.T) {
	q := &fakeQueue{listErr: errors.New("locked"), status: map[string]string{}}
	w := NewWorker(q, &fakeTransport{sent: map[string][]byte{}}, nil, types.ChannelEmail, quietLogger())
	_, err := w.RunOnce(context.Background())
	assert.ErrorIs(t, err, q.listErr)

	q = &fakeQueue{queued: []types.RawEmailRecord{queuedReply("r1", "anna@example.com")}, status: map[string]string{}, markErr: errors.New("locked")}
	w = NewWorker(q, &fakeTransport{sent: map[string][]byte{}}, nil, types.ChannelEmail, quietLogger())
	stats, err := w.RunOnce(context.Background())
	assert.ErrorIs(t, err, q.markErr)
	assert.Equal(t, 1, stats.Sent)
}

func TestCompose(t *testing.T) {
	now := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	raw, err := Compose(queuedReply("r1", "anna@example.com"), now)
	require.NoError(t, err)

	r, err := mail.CreateReader(strings.NewReader(string(raw)))
	require.NoError(t, err)

	subject, err := r.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Re: Offert kök", subject)

	from, err := r.Header.AddressList("From")
	require.NoError(t, err)
	require.Len(t, from, 1)
	assert.Equal(t, "info@example.com", from[0].Address)
	assert.Equal(t, "Köksbolaget", from[0].Name)

	id, err := r.Header.MessageID()
	require.NoError(t, err)
	assert.Equal(t, "r1@example.com", id)

	refs, err := r.Header.MsgIDList("In-Reply-To")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc@mail.example.com"}, refs)

	part, err := r.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Equal(t, "Hej Anna!\nOfferten kommer i morgon.", strings.ReplaceAll(string(body), "\r\n", "\n"))
}

func TestCompose_FormReplyHasNoThreadHeaders(t *testing.T) {
	rec := queuedReply("r1", "anna@example.com")
	rec.ThreadID = "f-123"
	raw, err := Compose(rec, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "In-Reply-To")

	rec.ToEmail = ""
	_, err = Compose(rec, time.Now())
	assert.Error(t, err)
}
