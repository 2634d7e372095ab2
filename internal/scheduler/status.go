package scheduler

import (
	"time"

	"github.com/dyluth/daub/internal/board"
	"github.com/dyluth/daub/internal/credential"
	"github.com/dyluth/daub/internal/target"
)

// Stats is the engine's state as served on /status.
type Stats struct {
	RunID       string               `json:"run_id,omitempty"`
	Workers     int                  `json:"workers"`
	Uptime      string               `json:"uptime"`
	Targets     int                  `json:"targets"`
	Converged   int                  `json:"converged"`
	KnownCells  int                  `json:"known_cells"`
	Queue       target.QueueStats    `json:"queue"`
	Credentials credential.PoolStats `json:"credentials"`
	Paints      map[string]int64     `json:"paints"`
}

// Stats aggregates queue, pool and canvas state.
func (e *Engine) Stats() Stats {
	qs := e.deps.Queue.Stats()
	paints := make(map[string]int64, len(e.outcomes))
	for i := range e.outcomes {
		paints[board.Outcome(i).String()] = e.outcomes[i].Load()
	}

	s := Stats{
		Workers:     e.deps.Workers,
		Uptime:      time.Since(e.started).Round(time.Second).String(),
		Targets:     qs.Targets,
		Converged:   e.deps.Queue.Converged(e.deps.Canvas),
		KnownCells:  e.deps.Canvas.Known(),
		Queue:       qs,
		Credentials: e.deps.Pool.Stats(),
		Paints:      paints,
	}
	if e.deps.Recorder != nil {
		s.RunID = e.deps.Recorder.RunID()
	}
	return s
}

// Status implements health.StatusSource.
func (e *Engine) Status() any {
	return e.Stats()
}
