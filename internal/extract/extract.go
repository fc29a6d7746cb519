// Package extract turns raw record payloads into flat field maps and derives
// the per-source category labels used by the profile aggregator.
package extract

import (
	"strings"

	"github.com/kalambet/persona/internal/storage"
)

// Extract decodes rec's payload and returns its processed fields. It never
// mutates rec. Malformed payloads and unknown sources yield an *Error.
func Extract(rec storage.RawRecord) (map[string]any, error) {
	p, err := Decode(rec)
	if err != nil {
		return nil, err
	}
	return Fields(p), nil
}

// Fields flattens a decoded payload into its processed field map.
func Fields(p Payload) map[string]any {
	switch v := p.(type) {
	case GmailMessage:
		return gmailFields(v)
	case DriveFile:
		return driveFields(v)
	case Contact:
		return contactFields(v)
	case CalendarEvent:
		return calendarFields(v)
	}
	return map[string]any{}
}

// containsAny reports whether s contains any of the substrings.
func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
