package watch

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dyluth/daub/internal/feed"
)

// Source is the part of the feed client the viewers read from.
type Source interface {
	Recent(ctx context.Context, n int) ([]*feed.Event, error)
	Subscribe(ctx context.Context) (*feed.Subscription, error)
}

// ListRecent writes up to n of the newest events that pass filter.
func ListRecent(ctx context.Context, src Source, instance string, n int, format OutputFormat, filter *Filter, w io.Writer) error {
	events, err := src.Recent(ctx, n)
	if err != nil {
		return err
	}
	events = filter.Apply(events)

	switch format {
	case OutputFormatDefault:
		FormatTable(w, events, instance)
		return nil
	case OutputFormatJSONL:
		return FormatJSONL(w, events)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// StreamActivity follows the live feed, writing every event that passes
// filter, until ctx is cancelled (nil) or the subscription ends.
func StreamActivity(ctx context.Context, src Source, format OutputFormat, filter *Filter, w io.Writer) error {
	sub, err := src.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	if format == OutputFormatDefault {
		fmt.Fprintln(w, "Watching for activity (Ctrl+C to stop)...")
	}

	events := sub.Events()
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("event subscription closed")
			}
			if !filter.Matches(e) {
				continue
			}
			if format == OutputFormatJSONL {
				if err := writeJSONLine(w, e); err != nil {
					return err
				}
				continue
			}
			FormatLine(w, e)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(os.Stderr, "⚠️  Skipping bad event: %v\n", err)
		}
	}
}
