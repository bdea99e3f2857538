package textdecode

import (
	"regexp"
	"strings"
)

var blankRun = regexp.MustCompile(`\n(?:[ \t]*\n){2,}`)

func normalizeWhitespace(s string) (string, error) {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s), nil
}
