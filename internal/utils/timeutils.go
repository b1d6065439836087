package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 parses an archive query bound. Empty values are an error;
// callers treat an absent parameter as an open bound before parsing.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}
