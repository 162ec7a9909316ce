package util

import (
	"html"
	"strings"
	"unicode"
)

const maxEventTypeLength = 45

// SanitizeInput trims and escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// NormalizeEventType trims a client supplied event type and rejects values
// that cannot be stored in the event_type column. Case and content are kept
// as sent; event types are free-form.
func NormalizeEventType(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxEventTypeLength {
		return "", false
	}
	if strings.IndexFunc(s, unicode.IsControl) >= 0 {
		return "", false
	}
	return s, true
}
