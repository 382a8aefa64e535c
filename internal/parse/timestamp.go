package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var epochMillisRe = regexp.MustCompile(`^\d{12,14}$`)

// localLayouts are accepted for timestamps without a zone; they are read in
// the caller's location.
var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Timestamp parses a client supplied instant. Terminals send RFC3339 strings,
// epoch milliseconds, or a zone-less local time. An empty string yields nil.
func Timestamp(raw string, loc *time.Location) (*time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}

	if epochMillisRe.MatchString(s) {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse epoch millis %q: %w", raw, err)
		}
		t := time.UnixMilli(ms).UTC()
		return &t, nil
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t = t.UTC()
		return &t, nil
	}

	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised timestamp %q", raw)
}

// OptionalBool parses "true"/"false" query values; anything else is unset.
func OptionalBool(raw string) *bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1":
		b := true
		return &b
	case "false", "0":
		b := false
		return &b
	}
	return nil
}

// OptionalFloat parses a finite float query value; empty or invalid is unset.
func OptionalFloat(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != f || f > 1e9 || f < -1e9 {
		return nil
	}
	return &f
}
