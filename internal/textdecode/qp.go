package textdecode

import (
	"regexp"
	"strconv"

	"golang.org/x/text/encoding/charmap"
)

var (
	qpSoftBreak = regexp.MustCompile(`=\r?\n`)
	qpEscape    = regexp.MustCompile(`=[0-9A-Fa-f]{2}`)
)

// decodeQuotedPrintable expands =XX escapes to the Windows-1252 character with
// that code. Multi-byte UTF-8 sequences therefore come out as the same mojibake
// the charset stage is built from, and get repaired there. Escapes that are not
// two hex digits stay verbatim.
func decodeQuotedPrintable(s string) (string, error) {
	s = qpSoftBreak.ReplaceAllString(s, "")
	return qpEscape.ReplaceAllStringFunc(s, func(m string) string {
		b, err := strconv.ParseUint(m[1:], 16, 8)
		if err != nil {
			return m
		}
		return string(charmap.Windows1252.DecodeByte(byte(b)))
	}), nil
}
