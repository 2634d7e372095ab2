package watch

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dyluth/daub/internal/feed"
)

// Filter selects events. Zero fields match everything; set fields are ANDed.
type Filter struct {
	SinceMs int64  // Unix milliseconds, 0 = no lower bound
	Type    string // exact event type
	Outcome string // glob over the outcome, e.g. "cred*"
}

// Matches reports whether e passes every set criterion.
func (f *Filter) Matches(e *feed.Event) bool {
	if f == nil {
		return true
	}
	if f.SinceMs > 0 && e.TimestampMs < f.SinceMs {
		return false
	}
	if f.Type != "" && string(e.Type) != f.Type {
		return false
	}
	if f.Outcome != "" {
		ok, err := filepath.Match(f.Outcome, e.Outcome)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// Apply returns the events that match, preserving order.
func (f *Filter) Apply(events []*feed.Event) []*feed.Event {
	out := make([]*feed.Event, 0, len(events))
	for _, e := range events {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// ParseSince turns a --since value into Unix milliseconds. It accepts a Go
// duration counted back from now ("90s", "1h30m") or an RFC3339 timestamp.
func ParseSince(value string, now time.Time) (int64, error) {
	if value == "" {
		return 0, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UnixMilli(), nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("invalid --since %q: duration must not be negative", value)
		}
		return now.Add(-d).UnixMilli(), nil
	}
	return 0, fmt.Errorf("invalid --since %q (use a duration like '10m' or RFC3339 like '2025-10-29T13:00:00Z')", value)
}
