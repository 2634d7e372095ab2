// Package scheduler runs the convergence loop: a bounded pool of workers
// that each take an unconverged target, borrow a credential, paint, and feed
// the outcome back into the queue, the pool and the local canvas.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dyluth/daub/internal/board"
	"github.com/dyluth/daub/internal/boardsync"
	"github.com/dyluth/daub/internal/canvas"
	"github.com/dyluth/daub/internal/credential"
	"github.com/dyluth/daub/internal/feed"
	"github.com/dyluth/daub/internal/metrics"
	"github.com/dyluth/daub/internal/target"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultMonitorInterval is how often gauges are refreshed and convergence
// is checked.
const DefaultMonitorInterval = time.Second

// Painter issues one paint request. *board.Client implements it.
type Painter interface {
	Paint(ctx context.Context, e target.Entry, cred *credential.Credential) board.Result
}

// Runner is a long-lived background task.
type Runner interface {
	Run(ctx context.Context) error
}

// Deps are the engine's collaborators. Canvas, Queue, Pool and Painter are
// required; the rest are optional.
type Deps struct {
	Canvas  *canvas.Grid
	Queue   *target.Queue
	Pool    *credential.Pool
	Painter Painter

	Workers int
	Pace    time.Duration // minimum gap between one worker's cycles

	// StopWhenConverged ends Run with nil once every target matches the
	// canvas and nothing is in flight.
	StopWhenConverged bool
	MonitorInterval   time.Duration

	Metrics  *metrics.Metrics
	Recorder *feed.Recorder
	Logger   logrus.FieldLogger
}

// Engine owns the worker pool and the synchronizer tasks.
type Engine struct {
	deps   Deps
	logger logrus.FieldLogger

	poller   Runner
	streamer Runner

	started  time.Time
	outcomes [4]atomic.Int64 // indexed by board.Outcome
}

// NewEngine builds an engine. Workers defaults to 1.
func NewEngine(deps Deps) *Engine {
	if deps.Workers < 1 {
		deps.Workers = 1
	}
	if deps.MonitorInterval == 0 {
		deps.MonitorInterval = DefaultMonitorInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{deps: deps, logger: logger, started: time.Now()}
}

// AttachPoller adds a snapshot poller whose results reconcile the queue.
func (e *Engine) AttachPoller(fetcher boardsync.SnapshotFetcher, cfg boardsync.PollerConfig) {
	cfg.OnSnapshot = e.onSnapshot
	cfg.OnFailure = e.onRefreshFailure
	if cfg.Logger == nil {
		cfg.Logger = e.logger.WithField("component", "poller")
	}
	e.poller = boardsync.NewPoller(fetcher, e.deps.Canvas, cfg)
}

// AttachStreamer adds a stream listener whose updates re-queue targets.
func (e *Engine) AttachStreamer(cfg boardsync.StreamerConfig) {
	cfg.OnUpdate = e.onUpdate
	cfg.OnDrop = e.onDrop
	cfg.OnConnect = e.onConnect
	if cfg.Logger == nil {
		cfg.Logger = e.logger.WithField("component", "streamer")
	}
	e.streamer = boardsync.NewStreamer(e.deps.Canvas, cfg)
}

// Run starts the synchronizer tasks, the workers and the monitor, and
// blocks until ctx is cancelled (nil), every credential has been
// invalidated (credential.ErrExhausted) or, with StopWhenConverged, the
// canvas has converged (nil).
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(e.deps.Workers + 3)

	e.logEvent("engine_starting", logrus.Fields{
		"workers": e.deps.Workers,
		"targets": e.deps.Queue.Stats().Targets,
		"pace":    e.deps.Pace,
	})

	if e.poller != nil {
		g.Go(func() error { return e.poller.Run(gctx) })
	}
	if e.streamer != nil {
		g.Go(func() error { return e.streamer.Run(gctx) })
	}
	g.Go(func() error { return e.monitor(gctx, cancel) })
	for i := 0; i < e.deps.Workers; i++ {
		worker := i
		g.Go(func() error { return e.worker(gctx, worker) })
	}

	err := g.Wait()
	if err != nil {
		e.logger.WithError(err).Error("Engine stopped")
		return err
	}
	e.logEvent("engine_stopped", logrus.Fields{"uptime": time.Since(e.started).Round(time.Second)})
	return nil
}

// worker runs paced cycles until ctx is done or the pool is exhausted.
func (e *Engine) worker(ctx context.Context, id int) error {
	limit := rate.Inf
	if e.deps.Pace > 0 {
		limit = rate.Every(e.deps.Pace)
	}
	limiter := rate.NewLimiter(limit, 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := e.RunCycle(ctx, id); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// RunCycle performs one unit of work for worker id: take a target, borrow
// a credential, paint and apply the outcome. It returns an error only when
// the engine cannot continue: ctx's error or credential.ErrExhausted.
func (e *Engine) RunCycle(ctx context.Context, id int) error {
	entry, err := e.deps.Queue.GetTarget(ctx, e.deps.Canvas)
	if err != nil {
		return err
	}

	cred, err := e.deps.Pool.Acquire(ctx)
	if err != nil {
		e.deps.Queue.Requeue(entry)
		if errors.Is(err, credential.ErrExhausted) {
			e.logger.WithField("worker", id).Error("Every credential has been invalidated, stopping")
		}
		return err
	}

	// The wait for a credential can be long; someone may have painted the
	// pixel for us in the meantime.
	if e.deps.Canvas.Get(entry.Pos) == entry.Color {
		e.deps.Pool.Putback(cred)
		e.deps.Queue.Drop(entry)
		e.logger.WithFields(logrus.Fields{"worker": id, "pos": entry.Pos}).Debug("Target converged while waiting for a credential")
		return nil
	}

	start := time.Now()
	res := e.deps.Painter.Paint(ctx, entry, cred)
	took := time.Since(start)

	switch res.Outcome {
	case board.Success:
		if !e.deps.Queue.Done(entry, e.deps.Canvas) {
			e.logger.WithFields(logrus.Fields{"worker": id, "pos": entry.Pos}).Debug("Target overwritten while painting, requeued")
		}
		e.deps.Pool.Release(cred)
	case board.CredentialInvalid:
		e.deps.Pool.Invalidate(cred)
		e.deps.Queue.Requeue(entry)
	default:
		e.deps.Pool.Release(cred)
		e.deps.Queue.Requeue(entry)
	}

	e.record(ctx, id, entry, res, took)
	return nil
}

func (e *Engine) record(ctx context.Context, id int, entry target.Entry, res board.Result, took time.Duration) {
	if int(res.Outcome) < len(e.outcomes) {
		e.outcomes[res.Outcome].Add(1)
	}
	e.deps.Metrics.ObservePaint(res.Outcome.String(), took)

	fields := logrus.Fields{
		"worker":  id,
		"x":       entry.Pos.X,
		"y":       entry.Pos.Y,
		"color":   int(entry.Color),
		"outcome": res.Outcome.String(),
		"took":    took.Round(time.Millisecond),
	}
	detail := ""
	if res.Err != nil {
		detail = res.Err.Error()
		fields["error"] = detail
	}

	switch res.Outcome {
	case board.Success:
		e.logger.WithFields(fields).Debug("Painted pixel")
	case board.CredentialInvalid:
		e.logger.WithFields(fields).Warn("Credential rejected by board, invalidating")
	default:
		e.logger.WithFields(fields).Info("Paint failed, target re-queued")
	}

	e.deps.Recorder.Record(ctx, feed.Event{
		Type:    feed.EventTypePaint,
		X:       entry.Pos.X,
		Y:       entry.Pos.Y,
		Color:   int(entry.Color),
		Outcome: res.Outcome.String(),
		Worker:  id,
		Detail:  detail,
	})
}

// monitor refreshes gauges and, with StopWhenConverged, ends the run once
// the canvas has converged.
func (e *Engine) monitor(ctx context.Context, stop context.CancelFunc) error {
	ticker := time.NewTicker(e.deps.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		qs := e.deps.Queue.Stats()
		ps := e.deps.Pool.Stats()
		e.deps.Metrics.SetQueue(qs.Queued, e.deps.Queue.Converged(e.deps.Canvas))
		e.deps.Metrics.SetCredentials(ps.Available, ps.Held, ps.Invalidated)

		if e.deps.StopWhenConverged && e.deps.Queue.QueueEmpty(e.deps.Canvas) {
			e.logEvent("canvas_converged", logrus.Fields{"targets": qs.Targets})
			stop()
			return nil
		}
	}
}

func (e *Engine) onSnapshot(s *canvas.Snapshot) {
	requeued := e.deps.Queue.Reconcile(e.deps.Canvas)
	e.deps.Metrics.ObserveRefresh(true)
	if requeued > 0 {
		e.logger.WithField("requeued", requeued).Info("Snapshot found overwritten targets")
	}
	e.deps.Recorder.Record(context.Background(), feed.Event{
		Type:    feed.EventTypeSnapshot,
		Outcome: "ok",
		Detail:  fmt.Sprintf("%d columns, %d requeued, %d invalid digits", len(s.Columns), requeued, s.Invalid),
	})
}

func (e *Engine) onRefreshFailure(err error) {
	e.deps.Metrics.ObserveRefresh(false)
	e.deps.Recorder.Record(context.Background(), feed.Event{
		Type:    feed.EventTypeSnapshot,
		Outcome: "failed",
		Detail:  err.Error(),
	})
}

func (e *Engine) onUpdate(p canvas.Pos, c canvas.Color) {
	e.deps.Metrics.StreamUpdate()
	if e.deps.Queue.Observe(e.deps.Canvas, p, c) {
		e.logger.WithFields(logrus.Fields{"pos": p, "color": int(c)}).Debug("Stream update overwrote a target")
	}
}

func (e *Engine) onDrop(error) {
	e.deps.Metrics.StreamDropped()
}

func (e *Engine) onConnect() {
	e.deps.Metrics.StreamConnected()
	e.deps.Recorder.Record(context.Background(), feed.Event{
		Type:    feed.EventTypeStream,
		Outcome: "connected",
	})
}

// logEvent emits a structured engine lifecycle log line.
func (e *Engine) logEvent(event string, fields logrus.Fields) {
	e.logger.WithFields(fields).WithField("event", event).Info("Engine event")
}
