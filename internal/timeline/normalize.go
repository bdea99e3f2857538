package timeline

import (
	"context"
	"mime"
	"runtime"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/brandon/crm-timeline/internal/textdecode"
	"github.com/brandon/crm-timeline/pkg/types"
)

// parallelThreshold is the record count above which normalization fans out
const parallelThreshold = 256

// Normalizer maps raw records of either store onto timeline items
type Normalizer struct {
	decoder *textdecode.Decoder
	policy  FieldPolicy
	caps    Caps
	words   *mime.WordDecoder
}

// NewNormalizer creates a normalizer. A nil decoder uses textdecode defaults.
func NewNormalizer(decoder *textdecode.Decoder, policy FieldPolicy, caps Caps) *Normalizer {
	if decoder == nil {
		decoder = textdecode.New()
	}
	return &Normalizer{
		decoder: decoder,
		policy:  policy,
		caps:    caps,
		words:   new(mime.WordDecoder),
	}
}

// Policy returns the field policy in use
func (n *Normalizer) Policy() FieldPolicy {
	return n.policy
}

// NormalizeEmail maps one message store record
func (n *Normalizer) NormalizeEmail(rec types.RawEmailRecord) Item {
	fields := n.policy.Email
	fullRaw, _ := resolve(rec, fields.FullContent)
	previewRaw, _ := resolve(rec, fields.Preview)

	item := Item{
		ID:        rec.ID,
		Type:      TypeEmail,
		Title:     n.header(resolveOr(rec, fields.Subject, NoSubject)),
		From:      n.header(resolveOr(rec, fields.Sender, UnknownSender)),
		Timestamp: pickTimestamp(rec.ReceivedAt, rec.CreatedAt),
		Direction: rec.Direction,
		ThreadID:  rec.ThreadID,
		LeadID:    rec.LeadID,
	}
	if rec.Direction == types.DirectionOutbound {
		item.ReplyTo = rec.ToEmail
	} else {
		item.ReplyTo = rec.FromEmail
	}

	n.fillContent(&item, previewRaw, fullRaw)
	return item
}

// NormalizeForm maps one form store record
func (n *Normalizer) NormalizeForm(rec types.RawFormRecord) Item {
	fields := n.policy.Form
	fullRaw, _ := resolve(rec, fields.FullContent)
	previewRaw, _ := resolve(rec, fields.Preview)

	item := Item{
		ID:        rec.ID,
		Type:      TypeForm,
		Title:     FormTitle,
		From:      resolveOr(rec, fields.Sender, UnknownSender),
		Timestamp: pickTimestamp(nil, rec.CreatedAt),
		ReplyTo:   rec.Email,
		LeadID:    rec.LeadID,
	}

	n.fillContent(&item, previewRaw, fullRaw)
	return item
}

// fillContent decodes preview and full content independently; they may come
// from different source fields and differ after decoding
func (n *Normalizer) fillContent(item *Item, previewRaw, fullRaw string) {
	limit := n.caps.For(item.Type)
	full := n.decoder.Decode(fullRaw)
	item.FullContent = full
	item.Preview = truncateRunes(n.decoder.Decode(previewRaw), limit)
	item.HasMore = utf8.RuneCountInString(full) > limit
}

// NormalizeEmails maps records in order, fanning out for large histories
func (n *Normalizer) NormalizeEmails(ctx context.Context, recs []types.RawEmailRecord) ([]Item, error) {
	return normalizeAll(ctx, recs, n.NormalizeEmail)
}

// NormalizeForms maps records in order, fanning out for large histories
func (n *Normalizer) NormalizeForms(ctx context.Context, recs []types.RawFormRecord) ([]Item, error) {
	return normalizeAll(ctx, recs, n.NormalizeForm)
}

func normalizeAll[T any](ctx context.Context, recs []T, fn func(T) Item) ([]Item, error) {
	out := make([]Item, len(recs))
	if len(recs) <= parallelThreshold {
		for i := range recs {
			out[i] = fn(recs[i])
		}
		return out, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range recs {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = fn(recs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (n *Normalizer) header(s string) string {
	decoded, err := n.words.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// pickTimestamp prefers received over created; both may be missing
func pickTimestamp(received, created *time.Time) *time.Time {
	switch {
	case received != nil && !received.IsZero():
		t := *received
		return &t
	case created != nil && !created.IsZero():
		t := *created
		return &t
	default:
		return nil
	}
}
