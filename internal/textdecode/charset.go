package textdecode

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

type replacement struct {
	from string
	to   string
}

// Characters whose UTF-8 bytes were read as Windows-1252 somewhere upstream.
// The garbled side of each entry is derived with the same charmap.
var (
	punctuationRunes = []rune("’‘“–—…•€")
	glyphRunes       = []rune("█▓▒░")
	latinRunes       = []rune("åäöÅÄÖéèêëüÜøØæÆáàóòúíñç")
)

// charsetTable is applied entry by entry, once per entry, in this order.
// Three-byte sequences come before the two-byte "Ã?" letters, and the bare
// "â€" entry comes after every longer "â€?" entry.
var charsetTable = buildCharsetTable()

func buildCharsetTable() []replacement {
	table := []replacement{
		{from: "ï¿½", to: ""},
	}
	for _, r := range punctuationRunes {
		table = appendGarbled(table, r, string(r))
	}
	table = append(table,
		replacement{from: "â€\u009d", to: "”"},
		replacement{from: "â€", to: "”"},
	)
	for _, r := range glyphRunes {
		table = appendGarbled(table, r, "")
		table = append(table, replacement{from: string(r), to: ""})
	}
	for _, r := range latinRunes {
		table = appendGarbled(table, r, string(r))
	}
	return append(table,
		replacement{from: "Â\u00a0", to: " "},
		replacement{from: "Â ", to: " "},
		replacement{from: "Â°", to: "°"},
		replacement{from: "Â§", to: "§"},
		replacement{from: "\uFFFD", to: ""},
	)
}

func appendGarbled(table []replacement, r rune, to string) []replacement {
	garbled, err := charmap.Windows1252.NewDecoder().String(string(r))
	if err != nil || garbled == string(r) {
		return table
	}
	return append(table, replacement{from: garbled, to: to})
}

func repairCharset(s string) (string, error) {
	for _, r := range charsetTable {
		if strings.Contains(s, r.from) {
			s = strings.ReplaceAll(s, r.from, r.to)
		}
	}
	return s, nil
}
