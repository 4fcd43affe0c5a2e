package config

import (
	"strings"
	"unicode"
)

// SplitQuotedFields splits in on whitespace like strings.Fields, but
// whitespace inside a region delimited by quote belongs to the field.
// A backslash inside a quoted region escapes the next character, so a
// literal quote is written as '\''.
func SplitQuotedFields(in string, quote rune) []string {
	var (
		fields  []string
		buf     strings.Builder
		open    bool
		escaped bool
		started bool
	)

	for _, ch := range in {
		switch {
		case escaped:
			buf.WriteRune(ch)
			escaped = false
		case open && ch == '\\':
			escaped = true
		case ch == quote:
			open = !open
			started = true
		case open:
			buf.WriteRune(ch)
		case unicode.IsSpace(ch):
			if started {
				fields = append(fields, buf.String())
				buf.Reset()
				started = false
			}
		default:
			buf.WriteRune(ch)
			started = true
		}
	}
	if buf.Len() != 0 {
		fields = append(fields, buf.String())
	}

	return fields
}
