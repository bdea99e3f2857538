// Package textdecode turns raw message text written by several generations of
// mail tooling into clean display text.
//
// Decoding runs five stages in a fixed order: quoted-printable, HTML, legacy
// charset repair, quoted-reply stripping and whitespace normalization. Each
// stage repairs what is left when the previous one was never applied upstream,
// so the order must not change.
package textdecode

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// DefaultQuoteMinOffset is the number of characters a reply marker must be
// preceded by before the text is truncated at it.
const DefaultQuoteMinOffset = 50

type stage struct {
	name string
	fn   func(string) (string, error)
}

// Decoder is a stateless, reusable text decoding pipeline
type Decoder struct {
	stages         []stage
	quoteMinOffset int
	logger         logrus.FieldLogger
}

// Option configures a Decoder
type Option func(*Decoder)

// WithLogger sets the logger used to report stages that fell back to their input
func WithLogger(logger logrus.FieldLogger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithQuoteMinOffset overrides DefaultQuoteMinOffset
func WithQuoteMinOffset(n int) Option {
	return func(d *Decoder) {
		if n >= 0 {
			d.quoteMinOffset = n
		}
	}
}

// New creates a decoder
func New(opts ...Option) *Decoder {
	d := &Decoder{
		quoteMinOffset: DefaultQuoteMinOffset,
		logger:         discardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.stages = []stage{
		{name: "quoted-printable", fn: decodeQuotedPrintable},
		{name: "html", fn: stripHTML},
		{name: "charset", fn: repairCharset},
		{name: "quoted-reply", fn: func(s string) (string, error) {
			return stripQuotedReply(s, d.quoteMinOffset), nil
		}},
		{name: "whitespace", fn: normalizeWhitespace},
	}
	return d
}

// Decode runs every stage over raw. It never panics; a stage that fails
// passes its input through unchanged.
func (d *Decoder) Decode(raw string) string {
	if raw == "" {
		return ""
	}
	text := raw
	for _, st := range d.stages {
		text = d.run(st, text)
	}
	return text
}

func (d *Decoder) run(st stage, in string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"stage": st.name,
				"panic": fmt.Sprint(r),
			}).Debug("Decode stage panicked, keeping input")
			out = in
		}
	}()

	res, err := st.fn(in)
	if err != nil {
		d.logger.WithError(err).WithField("stage", st.name).Debug("Decode stage failed, keeping input")
		return in
	}
	return res
}

var defaultDecoder = New()

// Decode decodes raw with a decoder using default options
func Decode(raw string) string {
	return defaultDecoder.Decode(raw)
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
