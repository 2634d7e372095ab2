// Package feed publishes daub's activity to Redis so operators can follow a
// run from elsewhere. Every paint outcome, snapshot refresh and stream
// reconnect becomes an Event on an instance-scoped Pub/Sub channel; a capped
// list keeps the most recent events and a hash keeps running totals.
//
// All keys and channels are namespaced by instance name so several daemons
// can share one Redis server.
package feed

import (
	"fmt"

	"github.com/google/uuid"
)

// Event is one entry in the activity feed.
type Event struct {
	ID          string    `json:"id"`               // UUID of this event
	RunID       string    `json:"run_id"`           // UUID of the daemon run that produced it
	Type        EventType `json:"type"`             // what happened
	X           int       `json:"x"`                // board position, paint events only
	Y           int       `json:"y"`                // board position, paint events only
	Color       int       `json:"color"`            // requested colour, paint events only
	Outcome     string    `json:"outcome"`          // e.g. "success", "rejected", "ok", "failed"
	Worker      int       `json:"worker,omitempty"` // worker index, paint events only
	Detail      string    `json:"detail,omitempty"` // error text or other context
	TimestampMs int64     `json:"timestamp_ms"`     // Unix milliseconds
}

// EventType identifies the source of an event.
type EventType string

const (
	// EventTypePaint is a classified paint attempt
	EventTypePaint EventType = "paint"

	// EventTypeSnapshot is a board snapshot refresh
	EventTypeSnapshot EventType = "snapshot"

	// EventTypeStream is a stream connection change
	EventTypeStream EventType = "stream"
)

// Validate checks if the EventType is a known value.
func (t EventType) Validate() error {
	switch t {
	case EventTypePaint, EventTypeSnapshot, EventTypeStream:
		return nil
	default:
		return fmt.Errorf("unknown event type: %q", t)
	}
}

// Validate checks the event's structural fields.
func (e *Event) Validate() error {
	if !isValidUUID(e.ID) {
		return fmt.Errorf("invalid event ID: not a valid UUID")
	}

	if !isValidUUID(e.RunID) {
		return fmt.Errorf("invalid run ID: not a valid UUID")
	}

	if err := e.Type.Validate(); err != nil {
		return fmt.Errorf("invalid event type: %w", err)
	}

	if e.Outcome == "" {
		return fmt.Errorf("outcome cannot be empty")
	}

	if e.TimestampMs <= 0 {
		return fmt.Errorf("timestamp_ms must be positive, got %d", e.TimestampMs)
	}

	return nil
}

func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// EventsChannel returns the Pub/Sub channel for an instance's events.
// Pattern: daub:{instance}:events
func EventsChannel(instance string) string {
	return fmt.Sprintf("daub:%s:events", instance)
}

// RecentKey returns the key of the capped recent-events list.
// Pattern: daub:{instance}:recent
func RecentKey(instance string) string {
	return fmt.Sprintf("daub:%s:recent", instance)
}

// TotalsKey returns the key of the outcome totals hash.
// Pattern: daub:{instance}:totals
func TotalsKey(instance string) string {
	return fmt.Sprintf("daub:%s:totals", instance)
}
