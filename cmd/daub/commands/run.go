package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/daub/internal/config"
	"github.com/dyluth/daub/internal/credential"
	"github.com/dyluth/daub/internal/logging"
	"github.com/dyluth/daub/internal/printer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	runOnce     bool
	runLogLevel string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Paint the board until it matches the targets",
	Long: `Start the daemon: load credentials and targets, follow the board, and
repaint every target pixel that differs from its desired colour.

The daemon runs until interrupted (SIGINT/SIGTERM) or until every credential
has been rejected by the board. With --once it exits as soon as all targets
match.

Examples:
  # Run with daub.yml in the current directory
  daub run

  # Paint once and exit, with debug logging
  daub run --config prod.toml --once --log-level debug`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Exit once every target matches the board")
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "", "Override log_level from the configuration")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return printer.StartupError(err)
	}
	if runLogLevel != "" {
		cfg.LogLevel = runLogLevel
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return printer.Error("invalid logging configuration", err.Error(), []string{"Valid levels: debug, info, warn, error"})
	}

	in, err := loadInputs(cfg)
	if err != nil {
		return printer.StartupError(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, in, logger, daemonOptions{once: runOnce})
	if err != nil {
		return printer.StartupError(err)
	}

	logger.WithFields(logrus.Fields{
		"board":       cfg.BoardAddr,
		"credentials": len(in.creds),
		"targets":     len(in.entries),
		"workers":     cfg.ThreadNum,
	}).Info("daub starting")

	if err := d.run(ctx); err != nil {
		if errors.Is(err, credential.ErrExhausted) {
			return printer.Error(
				"all credentials rejected",
				fmt.Sprintf("The board refused every one of the %d credentials in %s.", len(in.creds), cfg.CookieDir),
				[]string{"Refresh the cookie files and start daub again"},
			)
		}
		return printer.Error("daub stopped", err.Error(), nil)
	}

	logger.Info("daub stopped")
	return nil
}
