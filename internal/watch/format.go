// Package watch renders the activity feed for operators: a table of recent
// events, a live line-per-event stream, and line-delimited JSON for tools.
package watch

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dyluth/daub/internal/feed"
)

// OutputFormat specifies how events are written.
type OutputFormat string

const (
	// OutputFormatDefault is human-readable output
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL is one compact JSON event per line
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, OutputFormatJSONL:
		return OutputFormat(s), nil
	case "json":
		return OutputFormatJSONL, nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

// FormatTable writes events as a table, oldest first, and returns how many
// rows were written.
func FormatTable(w io.Writer, events []*feed.Event, instance string) int {
	if len(events) == 0 {
		fmt.Fprintf(w, "No events recorded for instance '%s'\n", instance)
		return 0
	}

	sorted := append([]*feed.Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampMs < sorted[j].TimestampMs
	})

	fmt.Fprintf(w, "Recent events for instance '%s':\n\n", instance)
	fmt.Fprintf(w, "%-8s %-9s %-11s %-6s %-18s %s\n", "AGE", "TYPE", "PIXEL", "WORKER", "OUTCOME", "DETAIL")
	fmt.Fprintf(w, "%-8s %-9s %-11s %-6s %-18s %s\n", "--------", "---------", "-----------", "------", "------------------", "----------------------------------------")

	for _, e := range sorted {
		fmt.Fprintf(w, "%-8s %-9s %-11s %-6s %-18s %s\n",
			formatAge(e.TimestampMs),
			e.Type,
			formatPixel(e),
			formatWorker(e),
			e.Outcome,
			formatDetail(e.Detail),
		)
	}

	noun := "event"
	if len(sorted) != 1 {
		noun = "events"
	}
	fmt.Fprintf(w, "\n%d %s\n", len(sorted), noun)
	return len(sorted)
}

// FormatJSONL writes each event as a single JSON line.
func FormatJSONL(w io.Writer, events []*feed.Event) error {
	for _, e := range events {
		if err := writeJSONLine(w, e); err != nil {
			return err
		}
	}
	return nil
}

// FormatTotals writes the "type:outcome" counters sorted by key.
func FormatTotals(w io.Writer, totals map[string]int64) {
	if len(totals) == 0 {
		fmt.Fprintln(w, "No totals recorded")
		return
	}
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-30s %d\n", k, totals[k])
	}
}

// FormatLine writes one event in the live stream format.
func FormatLine(w io.Writer, e *feed.Event) {
	ts := time.UnixMilli(e.TimestampMs).Format("15:04:05")
	switch e.Type {
	case feed.EventTypePaint:
		fmt.Fprintf(w, "[%s] %s worker %d painted %s colour %d: %s%s\n",
			ts, outcomeIcon(e.Outcome), e.Worker, formatPixel(e), e.Color, e.Outcome, suffix(e.Detail))
	case feed.EventTypeSnapshot:
		fmt.Fprintf(w, "[%s] 🖼️  snapshot %s%s\n", ts, e.Outcome, suffix(e.Detail))
	case feed.EventTypeStream:
		fmt.Fprintf(w, "[%s] 📡 stream %s%s\n", ts, e.Outcome, suffix(e.Detail))
	default:
		fmt.Fprintf(w, "[%s] %s %s%s\n", ts, e.Type, e.Outcome, suffix(e.Detail))
	}
}

func writeJSONLine(w io.Writer, e *feed.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write JSONL output: %w", err)
	}
	return nil
}

func outcomeIcon(outcome string) string {
	switch outcome {
	case "success":
		return "✅"
	case "credential_invalid":
		return "🔑"
	case "transport":
		return "🔌"
	default:
		return "❌"
	}
}

func suffix(detail string) string {
	if detail == "" {
		return ""
	}
	return " (" + detail + ")"
}

func formatPixel(e *feed.Event) string {
	if e.Type != feed.EventTypePaint {
		return "-"
	}
	return fmt.Sprintf("(%d,%d)", e.X, e.Y)
}

func formatWorker(e *feed.Event) string {
	if e.Type != feed.EventTypePaint {
		return "-"
	}
	return fmt.Sprintf("%d", e.Worker)
}

// formatDetail keeps table rows on one line.
func formatDetail(detail string) string {
	if detail == "" {
		return "-"
	}
	if len(detail) > 40 {
		return detail[:37] + "..."
	}
	return detail
}

// formatAge renders a millisecond timestamp relative to now.
func formatAge(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}
	diff := time.Since(time.UnixMilli(timestampMs))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
