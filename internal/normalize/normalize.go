// Package normalize canonicalizes phone numbers and timestamps coming from
// the CRM and messaging APIs so records from both sources join cleanly.
package normalize

import (
	"strconv"
	"strings"
	"time"
)

// Phone strips a raw phone value down to its canonical 11-digit form.
// 10-digit numbers get the country digit prepended, 11-digit numbers starting
// with the national trunk prefix "8" get it replaced with "7", and anything
// longer is truncated to the last 11 digits. An input with no digits returns
// the empty string and is treated as "no phone".
func Phone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	switch {
	case len(digits) == 10:
		digits = "7" + digits
	case len(digits) == 11 && strings.HasPrefix(digits, "8"):
		digits = "7" + digits[1:]
	case len(digits) > 11:
		digits = digits[len(digits)-11:]
	}
	return digits
}

// ParseTime parses a timestamp as sent by the upstream APIs: a unix epoch in
// seconds, or ISO-8601 with or without a trailing "Z". Naive timestamps are
// assumed UTC. Unparsable values return the zero time so callers exclude the
// item from window filters instead of failing.
func ParseTime(raw string) time.Time {
	text := strings.TrimSpace(raw)
	if text == "" {
		return time.Time{}
	}
	if isDigits(text) {
		secs, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return time.Time{}
		}
		return time.Unix(secs, 0).UTC()
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// FormatTime renders a UTC instant the way the analytic store and messaging
// cursors expect it.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
