package textdecode

import (
	"regexp"
	"unicode/utf8"
)

// replyMarkers match the first line of a quoted original message
var replyMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^[ \t]*On [^\n]{1,200} wrote:[ \t]*$`),
	regexp.MustCompile(`(?m)^[ \t]*Den [^\n]{1,200} skrev [^\n]{0,200}:[ \t]*$`),
	regexp.MustCompile(`(?m)^[ \t]*Am [^\n]{1,200} schrieb [^\n]{0,200}:[ \t]*$`),
	regexp.MustCompile(`(?m)^[ \t]*Le [^\n]{1,200} a écrit ?:[ \t]*$`),
	regexp.MustCompile(`(?mi)^[ \t]*-{2,}[ \t]*(?:original message|ursprungligt meddelande|originalmeddelande)[ \t]*-{2,}`),
	regexp.MustCompile(`(?m)^[ \t]*From:[^\n]*?\s+Sent:[^\n]*?\s+To:`),
	regexp.MustCompile(`(?m)^[ \t]*Från:[^\n]*?\s+Skickat:[^\n]*?\s+Till:`),
	regexp.MustCompile(`(?m)^[ \t]*_{20,}[ \t]*$`),
}

var quoteLine = regexp.MustCompile(`(?m)^[ \t]*>[^\n]*(?:\n|$)`)

// stripQuotedReply cuts s at the earliest reply marker when at least
// minOffset characters precede it, then drops every ">" quoted line.
func stripQuotedReply(s string, minOffset int) string {
	if cut := firstReplyMarker(s); cut >= 0 && utf8.RuneCountInString(s[:cut]) >= minOffset {
		s = s[:cut]
	}
	return quoteLine.ReplaceAllString(s, "")
}

func firstReplyMarker(s string) int {
	first := -1
	for _, re := range replyMarkers {
		loc := re.FindStringIndex(s)
		if loc == nil {
			continue
		}
		if first < 0 || loc[0] < first {
			first = loc[0]
		}
	}
	return first
}
