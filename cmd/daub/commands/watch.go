package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/daub/internal/config"
	"github.com/dyluth/daub/internal/feed"
	"github.com/dyluth/daub/internal/printer"
	"github.com/dyluth/daub/internal/watch"
	"github.com/spf13/cobra"
)

// feedFlags locate the event feed. Unset flags fall back to the
// configuration file.
type feedFlags struct {
	redisURL string
	instance string
	output   string
	since    string
	typ      string
	outcome  string
}

func (f *feedFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.redisURL, "redis-url", "", "Redis URL of the event feed (default: redis_url from the configuration)")
	cmd.Flags().StringVarP(&f.instance, "instance", "n", "", "Instance name (default: instance from the configuration)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "default", "Output format (default or jsonl)")
	cmd.Flags().StringVar(&f.since, "since", "", "Only events after this time (duration like '10m' or RFC3339)")
	cmd.Flags().StringVar(&f.typ, "type", "", "Only events of this type (paint, snapshot, stream)")
	cmd.Flags().StringVar(&f.outcome, "outcome", "", "Only events whose outcome matches this glob")
}

func (f *feedFlags) filter() (*watch.Filter, error) {
	since, err := watch.ParseSince(f.since, time.Now())
	if err != nil {
		return nil, err
	}
	if f.typ != "" {
		if err := feed.EventType(f.typ).Validate(); err != nil {
			return nil, err
		}
	}
	return &watch.Filter{SinceMs: since, Type: f.typ, Outcome: f.outcome}, nil
}

// connect resolves the feed location and opens a verified client.
func (f *feedFlags) connect(ctx context.Context) (*feed.Client, string, error) {
	redisURL, instance := f.redisURL, f.instance
	if redisURL == "" || instance == "" {
		if cfg, err := config.Load(configPath); err == nil {
			if redisURL == "" {
				redisURL = cfg.RedisURL
			}
			if instance == "" {
				instance = cfg.Instance
			}
		}
	}
	if instance == "" {
		instance = config.DefaultInstance
	}
	if redisURL == "" {
		return nil, "", printer.Error(
			"no event feed configured",
			"Neither --redis-url nor redis_url in the configuration is set.",
			[]string{"Pass the feed address:\n  daub watch --redis-url redis://localhost:6379"},
		)
	}

	client, err := feed.Dial(redisURL, instance)
	if err != nil {
		return nil, "", printer.Error("invalid Redis URL", err.Error(), nil)
	}
	pingCtx, cancel := context.WithTimeout(ctx, feedPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, "", printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", redisURL),
			map[string]string{"Instance": instance},
			[]string{"Check that Redis is running and reachable"},
		)
	}
	return client, instance, nil
}

var watchFlags feedFlags

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a running daemon's activity",
	Long: `Stream paint outcomes, snapshot refreshes and stream reconnects from a
daemon's event feed as they happen.

Output Formats:
  default - Human-readable output with timestamps and emojis
  jsonl   - Line-delimited JSON for programmatic processing

Examples:
  # Watch the instance named in daub.yml
  daub watch

  # Watch only failed paints of another instance
  daub watch --redis-url redis://localhost:6379 --instance prod --type paint --outcome 'cred*'`,
	RunE: runWatch,
}

func init() {
	watchFlags.register(watchCmd)
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseOutputFormat(watchFlags.output)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
	}
	filter, err := watchFlags.filter()
	if err != nil {
		return printer.Error("invalid filter", err.Error(), nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, _, err := watchFlags.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	return watch.StreamActivity(ctx, client, format, filter, os.Stdout)
}
