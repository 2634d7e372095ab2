package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	configPath string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "daub",
	Short: "daub - keep a shared pixel board painted the way you want it",
	Long: `daub repaints a shared online pixel board until it matches a target
image, and keeps repainting whatever others draw over it.

It spreads paint requests over a pool of session credentials, each with its
own cooldown, and follows the board through periodic snapshots and a live
update stream.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
	// A bare "daub --flag" must fail instead of silently printing help.
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the CLI. Errors are already printed by the printer package,
// so cobra's own error and usage output is silenced.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo records build metadata for --version.
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "daub.yml", "Path to the configuration file (.yml or .toml)")
	flags.BoolVar(&noColor, "no-color", false, "Disable coloured output")
}
