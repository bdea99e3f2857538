package timeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Result is the output of one pipeline run
type Result struct {
	CustomerID string
	Items      []Item
	Dropped    int
	Collisions []Collision
}

// Empty reports whether neither store had anything for the customer
func (r *Result) Empty() bool {
	return len(r.Items) == 0
}

// Pipeline runs fetch, normalize and merge for one customer
type Pipeline struct {
	fetcher    *Fetcher
	normalizer *Normalizer
	dedup      DedupPolicy
	logger     *logrus.Logger
}

// NewPipeline creates a pipeline
func NewPipeline(fetcher *Fetcher, normalizer *Normalizer, dedup DedupPolicy, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		fetcher:    fetcher,
		normalizer: normalizer,
		dedup:      dedup,
		logger:     logger,
	}
}

// Run rebuilds the timeline from the stores. Nothing is cached between runs.
func (p *Pipeline) Run(ctx context.Context, customerID string) (*Result, error) {
	batch, err := p.fetcher.Fetch(ctx, customerID)
	if err != nil {
		return nil, err
	}

	emailItems, err := p.normalizer.NormalizeEmails(ctx, batch.Emails)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize messages: %w", err)
	}
	formItems, err := p.normalizer.NormalizeForms(ctx, batch.Forms)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize forms: %w", err)
	}

	report := MergeWithPolicy(p.dedup, emailItems, formItems)
	for _, c := range report.Collisions {
		p.logger.WithFields(logrus.Fields{
			"customer_id": customerID,
			"id":          c.ID,
			"kept":        c.Kept,
			"other":       c.Other,
			"dropped":     c.Dropped,
			"policy":      p.dedup,
		}).Warn("Timeline id shared by email and form")
	}

	return &Result{
		CustomerID: customerID,
		Items:      report.Items,
		Dropped:    report.Dropped,
		Collisions: report.Collisions,
	}, nil
}
