// Package boardsync keeps the local canvas close to the remote board: a
// poller downloads full snapshots on an interval and a streamer applies
// per-pixel updates pushed over a websocket.
package boardsync

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/dyluth/daub/internal/canvas"
	"github.com/sirupsen/logrus"
)

// DefaultRetryWait is the pause between attempts of one refresh.
const DefaultRetryWait = time.Second

// SnapshotFetcher downloads the raw board text.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context) ([]byte, error)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Interval  time.Duration
	Retries   int // attempts per refresh, at least 1
	RetryWait time.Duration

	Clock  clock.Clock
	Logger logrus.FieldLogger

	// OnSnapshot runs after a snapshot has been applied to the grid.
	OnSnapshot func(*canvas.Snapshot)
	// OnFailure runs when every attempt of a refresh failed.
	OnFailure func(error)
}

// Poller refreshes the whole canvas from board snapshots.
type Poller struct {
	fetcher SnapshotFetcher
	grid    *canvas.Grid
	cfg     PollerConfig
	logger  logrus.FieldLogger
}

// NewPoller builds a poller writing into grid.
func NewPoller(fetcher SnapshotFetcher, grid *canvas.Grid, cfg PollerConfig) *Poller {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.RetryWait == 0 {
		cfg.RetryWait = DefaultRetryWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Poller{fetcher: fetcher, grid: grid, cfg: cfg, logger: logger}
}

// Run refreshes immediately and then once per interval until ctx is done.
// Failed refreshes are logged and leave the canvas untouched; they never
// stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	p.refreshLogged(ctx)

	ticker := p.cfg.Clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			p.refreshLogged(ctx)
		}
	}
}

func (p *Poller) refreshLogged(ctx context.Context) {
	if err := p.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.WithError(err).Warn("Board snapshot refresh failed, keeping previous canvas")
		if p.cfg.OnFailure != nil {
			p.cfg.OnFailure(err)
		}
	}
}

// Refresh downloads and applies one snapshot, retrying up to the configured
// number of attempts. The canvas is only written once a snapshot has been
// fully decoded.
func (p *Poller) Refresh(ctx context.Context) error {
	var snap *canvas.Snapshot
	attempt := 0

	fetch := func() error {
		attempt++
		body, err := p.fetcher.FetchSnapshot(ctx)
		if err != nil {
			return err
		}
		s, err := canvas.DecodeSnapshot(body, p.grid.Width(), p.grid.Height())
		if err != nil {
			return err
		}
		snap = s
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.cfg.RetryWait), uint64(p.cfg.Retries-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"attempt":  attempt,
			"retry_in": wait,
		}).Debug("Snapshot fetch failed, retrying")
	}

	if err := backoff.RetryNotify(fetch, b, notify); err != nil {
		return fmt.Errorf("snapshot refresh failed after %d attempts: %w", attempt, err)
	}

	p.grid.Apply(snap)
	if snap.Invalid > 0 {
		p.logger.WithField("invalid", snap.Invalid).Warn("Snapshot contained undecodable digits")
	}
	p.logger.WithField("columns", len(snap.Columns)).Debug("Applied board snapshot")

	if p.cfg.OnSnapshot != nil {
		p.cfg.OnSnapshot(snap)
	}
	return nil
}
