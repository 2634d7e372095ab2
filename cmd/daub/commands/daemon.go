package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/daub/internal/board"
	"github.com/dyluth/daub/internal/boardsync"
	"github.com/dyluth/daub/internal/canvas"
	"github.com/dyluth/daub/internal/config"
	"github.com/dyluth/daub/internal/credential"
	"github.com/dyluth/daub/internal/feed"
	"github.com/dyluth/daub/internal/health"
	"github.com/dyluth/daub/internal/logging"
	"github.com/dyluth/daub/internal/metrics"
	"github.com/dyluth/daub/internal/scheduler"
	"github.com/dyluth/daub/internal/target"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	feedPingTimeout = 3 * time.Second
	shutdownTimeout = 5 * time.Second
)

// inputs are the files a run needs besides the configuration.
type inputs struct {
	creds   []credential.Credential
	entries []target.Entry
}

// loadInputs reads credentials and targets. Both failures are startup-fatal.
func loadInputs(cfg *config.Config) (*inputs, error) {
	creds, err := credential.LoadDir(cfg.CookieDir)
	if err != nil {
		return nil, err
	}
	entries, err := target.LoadFile(cfg.NodeFile, cfg.BoardWidth, cfg.BoardHeight)
	if err != nil {
		return nil, err
	}
	if cfg.ShuffleTargets {
		target.Shuffle(entries, nil)
	}
	return &inputs{creds: creds, entries: entries}, nil
}

// daemon is one fully wired run: engine plus the optional feed and health
// listener.
type daemon struct {
	cfg     *config.Config
	logger  logrus.FieldLogger
	engine  *scheduler.Engine
	metrics *metrics.Metrics
	feed    *feed.Client
	health  *health.Server
}

type daemonOptions struct {
	once bool
}

func newDaemon(ctx context.Context, cfg *config.Config, in *inputs, logger *logrus.Logger, opts daemonOptions) (*daemon, error) {
	d := &daemon{cfg: cfg, logger: logger, metrics: metrics.New()}

	// The feed is optional and best-effort: an unreachable Redis disables it
	// rather than stopping the run.
	var pub feed.Publisher
	if cfg.RedisURL != "" {
		fc, err := feed.Dial(cfg.RedisURL, cfg.Instance)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, feedPingTimeout)
		err = fc.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.WithError(err).Warn("Event feed unreachable, continuing without it")
			fc.Close()
		} else {
			d.feed = fc
			pub = fc
		}
	}

	grid := canvas.NewGrid(cfg.BoardWidth, cfg.BoardHeight)
	queue := target.NewQueue(in.entries, target.Options{
		FanOut:       cfg.NodeRetryTimes,
		RecheckDelay: cfg.Timing.RecheckDelay,
	})
	pool := credential.NewPool(in.creds, cfg.Timing.Cooldown, nil)
	client := board.NewClient(cfg, nil)

	d.engine = scheduler.NewEngine(scheduler.Deps{
		Canvas:            grid,
		Queue:             queue,
		Pool:              pool,
		Painter:           client,
		Workers:           cfg.ThreadNum,
		Pace:              cfg.Timing.Pace,
		StopWhenConverged: opts.once,
		Metrics:           d.metrics,
		Recorder:          feed.NewRecorder(pub, uuid.New().String(), logging.Component(logger, "feed")),
		Logger:            logging.Component(logger, "engine"),
	})
	d.engine.AttachPoller(client, boardsync.PollerConfig{
		Interval: cfg.Timing.PollInterval,
		Retries:  cfg.PollRetries,
		Logger:   logging.Component(logger, "poller"),
	})
	d.engine.AttachStreamer(boardsync.StreamerConfig{
		URL:    cfg.WebsocketAddr,
		Logger: logging.Component(logger, "streamer"),
	})

	if cfg.HealthAddr != "" {
		var pinger health.Pinger
		if d.feed != nil {
			pinger = d.feed
		}
		d.health = health.NewServer(cfg.HealthAddr, d.engine, pinger, d.metrics.Registry, logging.Component(logger, "health"))
	}

	return d, nil
}

// run blocks until the engine stops. It returns nil on cancellation or,
// with --once, convergence.
func (d *daemon) run(ctx context.Context) error {
	defer d.close()

	if d.health != nil {
		if err := d.health.Start(); err != nil {
			return fmt.Errorf("failed to start health server on %s: %w", d.cfg.HealthAddr, err)
		}
		d.logger.WithField("addr", d.health.Addr()).Info("Health server listening")
	}

	err := d.engine.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (d *daemon) close() {
	if d.health != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.health.Shutdown(ctx); err != nil {
			d.logger.WithError(err).Warn("Health server shutdown failed")
		}
		cancel()
	}
	if d.feed != nil {
		d.feed.Close()
	}
}
