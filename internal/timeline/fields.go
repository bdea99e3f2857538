package timeline

import (
	"strings"

	"github.com/brandon/crm-timeline/pkg/types"
)

// FieldPolicyVersion is the version of DefaultFieldPolicy
const FieldPolicyVersion = "v3"

// Fallback labels used when every candidate field is empty
const (
	UnknownSender = "Unknown sender"
	NoSubject     = "(no subject)"
	FormTitle     = "Web form"
)

// Accessor reads one candidate source field of a record
type Accessor[T any] struct {
	Field string
	Get   func(T) string
}

// EmailFields lists the candidate fields per logical email field, in priority order
type EmailFields struct {
	FullContent []Accessor[types.RawEmailRecord]
	Preview     []Accessor[types.RawEmailRecord]
	Subject     []Accessor[types.RawEmailRecord]
	Sender      []Accessor[types.RawEmailRecord]
}

// FormFields lists the candidate fields per logical form field, in priority order
type FormFields struct {
	FullContent []Accessor[types.RawFormRecord]
	Preview     []Accessor[types.RawFormRecord]
	Sender      []Accessor[types.RawFormRecord]
}

// FieldPolicy keeps records written under older schema versions readable.
// Every logical field is resolved from an ordered candidate list and the first
// non-empty candidate wins.
type FieldPolicy struct {
	Version string
	Email   EmailFields
	Form    FormFields
}

func emailField(name string, get func(types.RawEmailRecord) string) Accessor[types.RawEmailRecord] {
	return Accessor[types.RawEmailRecord]{Field: name, Get: get}
}

func formField(name string, get func(types.RawFormRecord) string) Accessor[types.RawFormRecord] {
	return Accessor[types.RawFormRecord]{Field: name, Get: get}
}

var (
	emailBodyFull  = emailField("body_full", func(r types.RawEmailRecord) string { return r.BodyFull })
	emailContent   = emailField("content", func(r types.RawEmailRecord) string { return r.Content })
	emailPreview   = emailField("preview", func(r types.RawEmailRecord) string { return r.Preview })
	emailBody      = emailField("body", func(r types.RawEmailRecord) string { return r.Body })
	emailSubject   = emailField("subject", func(r types.RawEmailRecord) string { return r.Subject })
	emailFromName  = emailField("from_name", func(r types.RawEmailRecord) string { return r.FromName })
	emailFromEmail = emailField("from_email", func(r types.RawEmailRecord) string { return r.FromEmail })

	formMessage = formField("message", func(r types.RawFormRecord) string { return r.Message })
	formName    = formField("name", func(r types.RawFormRecord) string { return r.Name })
	formEmail   = formField("email", func(r types.RawFormRecord) string { return r.Email })
)

// DefaultFieldPolicy returns the current field resolution policy
func DefaultFieldPolicy() FieldPolicy {
	return FieldPolicy{
		Version: FieldPolicyVersion,
		Email: EmailFields{
			FullContent: []Accessor[types.RawEmailRecord]{emailBodyFull, emailContent, emailBody, emailPreview},
			Preview:     []Accessor[types.RawEmailRecord]{emailPreview, emailContent, emailBodyFull, emailBody},
			Subject:     []Accessor[types.RawEmailRecord]{emailSubject},
			Sender:      []Accessor[types.RawEmailRecord]{emailFromName, emailFromEmail},
		},
		Form: FormFields{
			FullContent: []Accessor[types.RawFormRecord]{formMessage},
			Preview:     []Accessor[types.RawFormRecord]{formMessage},
			Sender:      []Accessor[types.RawFormRecord]{formName, formEmail},
		},
	}
}

// resolve returns the first candidate with non-blank content and the name of
// the field it came from
func resolve[T any](rec T, candidates []Accessor[T]) (value, field string) {
	for _, c := range candidates {
		if v := c.Get(rec); strings.TrimSpace(v) != "" {
			return v, c.Field
		}
	}
	return "", ""
}

func resolveOr[T any](rec T, candidates []Accessor[T], fallback string) string {
	if v, _ := resolve(rec, candidates); v != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}
