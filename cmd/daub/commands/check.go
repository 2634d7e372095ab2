package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/daub/internal/board"
	"github.com/dyluth/daub/internal/canvas"
	"github.com/dyluth/daub/internal/config"
	"github.com/dyluth/daub/internal/printer"
	"github.com/dyluth/daub/internal/target"
	"github.com/spf13/cobra"
)

var checkSnapshot bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and input files",
	Long: `Load the configuration, the credential directory and the target file
exactly as 'daub run' would, and print a summary without painting anything.

With --snapshot, also download the board once and report how many targets
already show their desired colour.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkSnapshot, "snapshot", false, "Fetch the board and count targets already in place")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return printer.StartupError(err)
	}
	in, err := loadInputs(cfg)
	if err != nil {
		return printer.StartupError(err)
	}

	printSummary(printer.Out, cfg, in)
	printer.Success("Configuration is valid\n")

	if !checkSnapshot {
		return nil
	}

	printer.Step("Fetching board snapshot from %s\n", cfg.BoardAddr)
	converged, err := convergedOnBoard(cmd.Context(), cfg, in.entries)
	if err != nil {
		return printer.ErrorWithContext(
			"snapshot failed",
			err.Error(),
			map[string]string{"Board": cfg.BoardAddr},
			[]string{"Check board_addr and that the board is reachable"},
		)
	}
	printer.Info("%d of %d targets already match the board\n", converged, len(in.entries))
	return nil
}

func printSummary(w io.Writer, cfg *config.Config, in *inputs) {
	fmt.Fprintf(w, "Board:        %s (%dx%d)\n", cfg.BoardAddr, cfg.BoardWidth, cfg.BoardHeight)
	fmt.Fprintf(w, "Stream:       %s\n", cfg.WebsocketAddr)
	fmt.Fprintf(w, "Credentials:  %d (cooldown %s, auth %s)\n", len(in.creds), cfg.Timing.Cooldown, cfg.AuthMode)
	fmt.Fprintf(w, "Targets:      %d\n", len(in.entries))
	fmt.Fprintf(w, "Workers:      %d (pace %s, fan-out %d)\n", cfg.ThreadNum, cfg.Timing.Pace, cfg.NodeRetryTimes)
	fmt.Fprintf(w, "Snapshots:    every %s, %d attempts\n", cfg.Timing.PollInterval, cfg.PollRetries)
	if cfg.RedisURL != "" {
		fmt.Fprintf(w, "Event feed:   %s (instance %s)\n", cfg.RedisURL, cfg.Instance)
	}
	if cfg.HealthAddr != "" {
		fmt.Fprintf(w, "Health:       %s\n", cfg.HealthAddr)
	}
}

func convergedOnBoard(ctx context.Context, cfg *config.Config, entries []target.Entry) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	body, err := board.NewClient(cfg, nil).FetchSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	snap, err := canvas.DecodeSnapshot(body, cfg.BoardWidth, cfg.BoardHeight)
	if err != nil {
		return 0, err
	}
	grid := canvas.NewGrid(cfg.BoardWidth, cfg.BoardHeight)
	grid.Apply(snap)
	return target.NewQueue(entries, target.Options{}).Converged(grid), nil
}
