package timeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/crm-timeline/pkg/types"
)

// MessageStore is the transactional message store
type MessageStore interface {
	ListMessagesByCustomer(ctx context.Context, customerID, channel string) ([]types.RawEmailRecord, error)
	InsertMessage(ctx context.Context, rec types.RawEmailRecord) error
	DeleteMessage(ctx context.Context, id string) error
}

// LeadStore resolves the inquiries/leads a customer owns
type LeadStore interface {
	LeadIDsByCustomer(ctx context.Context, customerID string) ([]string, error)
}

// FormStore is the web form inbox. Implementations exclude spam.
type FormStore interface {
	ListFormsByLeads(ctx context.Context, leadIDs []string) ([]types.RawFormRecord, error)
}

// Source names used in FetchError
const (
	SourceMessages = "messages"
	SourceLeads    = "leads"
	SourceForms    = "forms"
)

// FetchError aborts a whole pipeline run
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// RawBatch is everything read for one customer in one run
type RawBatch struct {
	Emails  []types.RawEmailRecord
	Forms   []types.RawFormRecord
	LeadIDs []string
}

// Fetcher reads raw records for a customer from both stores
type Fetcher struct {
	messages MessageStore
	leads    LeadStore
	forms    FormStore
	channel  string
	logger   *logrus.Logger
}

// NewFetcher creates a fetcher reading messages of the given channel
func NewFetcher(messages MessageStore, leads LeadStore, forms FormStore, channel string, logger *logrus.Logger) *Fetcher {
	if channel == "" {
		channel = types.ChannelEmail
	}
	return &Fetcher{
		messages: messages,
		leads:    leads,
		forms:    forms,
		channel:  channel,
		logger:   logger,
	}
}

// Fetch reads messages, then lead ids, then forms for those leads. The form
// store is only queried when the customer has at least one lead. Any failed
// read fails the whole fetch.
func (f *Fetcher) Fetch(ctx context.Context, customerID string) (*RawBatch, error) {
	emails, err := f.messages.ListMessagesByCustomer(ctx, customerID, f.channel)
	if err != nil {
		return nil, &FetchError{Source: SourceMessages, Err: err}
	}

	leadIDs, err := f.leads.LeadIDsByCustomer(ctx, customerID)
	if err != nil {
		return nil, &FetchError{Source: SourceLeads, Err: err}
	}

	batch := &RawBatch{Emails: emails, LeadIDs: leadIDs}
	if len(leadIDs) == 0 {
		return batch, nil
	}

	forms, err := f.forms.ListFormsByLeads(ctx, leadIDs)
	if err != nil {
		return nil, &FetchError{Source: SourceForms, Err: err}
	}

	batch.Forms = make([]types.RawFormRecord, 0, len(forms))
	for _, rec := range forms {
		if rec.Status == types.FormStatusSpam {
			continue
		}
		batch.Forms = append(batch.Forms, rec)
	}

	f.logger.WithFields(logrus.Fields{
		"customer_id": customerID,
		"emails":      len(batch.Emails),
		"leads":       len(leadIDs),
		"forms":       len(batch.Forms),
	}).Debug("Fetched timeline sources")
	return batch, nil
}
