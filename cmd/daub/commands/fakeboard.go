package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/daub/internal/canvas"
	"github.com/dyluth/daub/internal/fakeboard"
	"github.com/dyluth/daub/internal/logging"
	"github.com/dyluth/daub/internal/printer"
	"github.com/spf13/cobra"
)

var (
	fakeListen   string
	fakeWidth    int
	fakeHeight   int
	fakeFill     int
	fakeCooldown time.Duration
	fakeTokens   []string
)

var fakeboardCmd = &cobra.Command{
	Use:   "fakeboard",
	Short: "Serve an in-memory paint board for local trials",
	Long: `Run a local board that speaks the same protocol as the real service:
GET /board for snapshots, POST /paint for pixels and /ws for the update
stream. Point board_addr and websocket_addr at it to try a configuration
without touching the real board.

Examples:
  daub fakeboard --listen :3000 --width 100 --height 60 --cooldown 5s`,
	RunE: runFakeboard,
}

func init() {
	fakeboardCmd.Flags().StringVar(&fakeListen, "listen", ":3000", "Address to listen on")
	fakeboardCmd.Flags().IntVar(&fakeWidth, "width", 1000, "Board width")
	fakeboardCmd.Flags().IntVar(&fakeHeight, "height", 600, "Board height")
	fakeboardCmd.Flags().IntVar(&fakeFill, "fill", 0, "Initial colour of every cell")
	fakeboardCmd.Flags().DurationVar(&fakeCooldown, "cooldown", 0, "Per-token minimum gap between paints")
	fakeboardCmd.Flags().StringSliceVar(&fakeTokens, "token", nil, "Accepted token (repeatable; default accepts any)")
	rootCmd.AddCommand(fakeboardCmd)
}

func runFakeboard(cmd *cobra.Command, args []string) error {
	if fakeWidth < 1 || fakeHeight < 1 {
		return printer.Error("invalid board size", "--width and --height must be positive", nil)
	}
	if !canvas.ValidColor(fakeFill) {
		return printer.Error("invalid fill colour", fmt.Sprintf("--fill must be between 0 and %d", canvas.MaxColor), nil)
	}

	logger, err := logging.New("info", "text", os.Stderr)
	if err != nil {
		return err
	}

	board := fakeboard.New(fakeboard.Options{
		Width:    fakeWidth,
		Height:   fakeHeight,
		Fill:     canvas.Color(fakeFill),
		Cooldown: fakeCooldown,
		Tokens:   fakeTokens,
		Logger:   logging.Component(logger, "fakeboard"),
	})
	srv := &http.Server{Addr: fakeListen, Handler: board.Handler(), ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	printer.Success("Fake board %dx%d listening on %s\n", fakeWidth, fakeHeight, fakeListen)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return printer.Error("fake board failed", err.Error(), nil)
		}
		return nil
	case <-ctx.Done():
	}

	board.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	stats := board.Stats()
	printer.Info("Painted %d, cooling %d, expired %d, invalid %d, unknown token %d\n",
		stats.Painted, stats.Cooling, stats.Expired, stats.Invalid, stats.Unknown)
	return nil
}
