// Package dates normalizes date values used in queries against date fields.
//
// Accepted forms:
//   - YYYY-MM-DD
//   - RFC3339, YYYY-MM-DDTHH:MM and YYYY-MM-DDTHH:MM:SS datetimes
//   - the relative keywords today, yesterday and tomorrow
package dates

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var dateRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
}

// IsValidDate checks if a string is a valid YYYY-MM-DD date.
func IsValidDate(s string) bool {
	if !dateRegex.MatchString(s) {
		return false
	}
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

// ParseDatetime parses a datetime in one of the accepted layouts.
func ParseDatetime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("invalid datetime: empty")
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime: %q", s)
}

// IsRelativeKeyword reports whether value is a relative date keyword.
func IsRelativeKeyword(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "today", "yesterday", "tomorrow":
		return true
	}
	return false
}

// Resolve returns the canonical query form of value: dates and datetimes
// are returned as typed, relative keywords become a YYYY-MM-DD date relative
// to now.
func Resolve(value string, now time.Time) (string, error) {
	trimmed := strings.TrimSpace(value)
	anchor := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch strings.ToLower(trimmed) {
	case "today":
		return anchor.Format(dateLayout), nil
	case "yesterday":
		return anchor.AddDate(0, 0, -1).Format(dateLayout), nil
	case "tomorrow":
		return anchor.AddDate(0, 0, 1).Format(dateLayout), nil
	}

	if IsValidDate(trimmed) {
		return trimmed, nil
	}
	if _, err := ParseDatetime(trimmed); err == nil {
		return trimmed, nil
	}
	return "", fmt.Errorf("invalid date %q, use YYYY-MM-DD, a datetime or today/yesterday/tomorrow", value)
}
