package textdecode

import (
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// stripHTML decodes character entities and drops markup. Every dropped tag,
// comment or doctype becomes one space so words from adjacent elements stay apart.
func stripHTML(s string) (string, error) {
	if !strings.ContainsAny(s, "<&") {
		return s, nil
	}

	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	b.Grow(len(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", err
			}
			return strings.ReplaceAll(b.String(), "\u00a0", " "), nil
		case html.TextToken:
			b.Write(z.Text())
		default:
			b.WriteByte(' ')
		}
	}
}
