// Package target holds the desired state: which colour every target position
// should have, and the queue of positions still believed to be wrong.
//
// The queue's invariant is that GetTarget never hands out an entry whose
// position already shows the desired colour. Entries found converged are
// discarded rather than re-queued; they come back only when a worker or the
// synchronizer reports the position as wrong again.
package target

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/dyluth/daub/internal/canvas"
)

// idlePoll bounds how long GetTarget sleeps on an empty queue.
const idlePoll = time.Second

// Entry is one desired pixel. Entries are immutable values.
type Entry struct {
	Pos   canvas.Pos   `json:"pos"`
	Color canvas.Color `json:"color"`
}

// Options tune the queue.
type Options struct {
	// FanOut is the number of random probes among the first FanOut queued
	// entries before falling back to a scan from the head. 0 selects strict
	// head-of-queue order.
	FanOut int

	// RecheckDelay is how long a successfully painted entry waits before it
	// is re-examined against the canvas. 0 disables rechecks.
	RecheckDelay time.Duration

	Clock clock.Clock

	// IntN returns a pseudo-random int in [0, n). Defaults to math/rand/v2.
	IntN func(n int) int
}

// QueueStats is a point-in-time view of the queue.
type QueueStats struct {
	Targets  int `json:"targets"`
	Queued   int `json:"queued"`
	InFlight int `json:"in_flight"`
	Pending  int `json:"pending_recheck"`
}

type pendingEntry struct {
	entry Entry
	due   time.Time
}

// Queue is the reconciler's work queue. It is safe for concurrent use.
//
// Lock order: the queue lock may be held while reading single canvas cells;
// the canvas never calls back into the queue.
type Queue struct {
	opts Options

	mu        sync.Mutex
	desired   map[canvas.Pos]canvas.Color
	order     []canvas.Pos
	queue     []Entry
	queued    map[canvas.Pos]struct{}
	inFlight  map[canvas.Pos]struct{}
	dirty     map[canvas.Pos]struct{} // in flight, observed in a non-desired colour
	pending   []pendingEntry // ordered by due
	inRecheck map[canvas.Pos]struct{}
	wake      chan struct{}
}

// NewQueue builds a queue holding every entry. When two entries name the
// same position the later one wins.
func NewQueue(entries []Entry, opts Options) *Queue {
	if opts.Clock == nil {
		opts.Clock = clock.NewClock()
	}
	if opts.IntN == nil {
		opts.IntN = rand.IntN
	}

	q := &Queue{
		opts:      opts,
		desired:   make(map[canvas.Pos]canvas.Color, len(entries)),
		queued:    make(map[canvas.Pos]struct{}, len(entries)),
		inFlight:  make(map[canvas.Pos]struct{}),
		dirty:     make(map[canvas.Pos]struct{}),
		inRecheck: make(map[canvas.Pos]struct{}),
		wake:      make(chan struct{}),
	}
	for _, e := range entries {
		if _, dup := q.desired[e.Pos]; !dup {
			q.order = append(q.order, e.Pos)
		}
		q.desired[e.Pos] = e.Color
	}
	for _, p := range q.order {
		q.queue = append(q.queue, Entry{Pos: p, Color: q.desired[p]})
		q.queued[p] = struct{}{}
	}
	return q
}

// GetTarget returns the next entry whose position differs from cv, marking
// it in flight. It blocks while nothing is unconverged, until an entry is
// re-queued or ctx is done.
func (q *Queue) GetTarget(ctx context.Context, cv canvas.Canvas) (Entry, error) {
	for {
		q.mu.Lock()
		now := q.opts.Clock.Now()
		q.promoteDue(now)

		if e, ok := q.pick(cv); ok {
			q.inFlight[e.Pos] = struct{}{}
			q.mu.Unlock()
			return e, nil
		}

		wait := idlePoll
		if len(q.pending) > 0 {
			if d := q.pending[0].due.Sub(now); d < wait {
				wait = d
			}
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-wake:
		case <-q.opts.Clock.After(wait):
		}
	}
}

// pick removes and returns one unconverged entry, discarding converged ones
// it encounters. Callers hold q.mu.
func (q *Queue) pick(cv canvas.Canvas) (Entry, bool) {
	for probe := 0; probe < q.opts.FanOut && len(q.queue) > 0; probe++ {
		window := min(q.opts.FanOut, len(q.queue))
		i := q.opts.IntN(window)
		e := q.removeAt(i)
		if cv.Get(e.Pos) != e.Color {
			return e, true
		}
	}

	for len(q.queue) > 0 {
		e := q.removeAt(0)
		if cv.Get(e.Pos) != e.Color {
			return e, true
		}
	}
	return Entry{}, false
}

func (q *Queue) removeAt(i int) Entry {
	e := q.queue[i]
	if i == 0 {
		q.queue = q.queue[1:]
	} else {
		q.queue = append(q.queue[:i], q.queue[i+1:]...)
	}
	delete(q.queued, e.Pos)
	return e
}

// promoteDue moves rechecks whose delay has elapsed back into the queue.
// Callers hold q.mu.
func (q *Queue) promoteDue(now time.Time) {
	n := 0
	for n < len(q.pending) && !q.pending[n].due.After(now) {
		p := q.pending[n]
		delete(q.inRecheck, p.entry.Pos)
		q.enqueue(p.entry)
		n++
	}
	q.pending = q.pending[n:]
}

// enqueue appends e unless its position is already queued. Callers hold q.mu.
func (q *Queue) enqueue(e Entry) {
	if _, ok := q.queued[e.Pos]; ok {
		return
	}
	q.queue = append(q.queue, e)
	q.queued[e.Pos] = struct{}{}
}

// tracked reports whether p is queued, in flight or awaiting a recheck.
// Callers hold q.mu.
func (q *Queue) tracked(p canvas.Pos) bool {
	if _, ok := q.queued[p]; ok {
		return true
	}
	if _, ok := q.inFlight[p]; ok {
		return true
	}
	_, ok := q.inRecheck[p]
	return ok
}

// broadcast wakes waiting GetTarget calls. Callers hold q.mu.
func (q *Queue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Done reports a successful paint. Unless the position was observed in
// another colour while the paint was in flight, the painted colour is written
// to cv and the entry is re-examined after RecheckDelay; otherwise the entry
// goes straight back to the queue and cv keeps the observed colour. Done
// reports whether the paint was applied to cv.
func (q *Queue) Done(e Entry, cv canvas.Canvas) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inFlight, e.Pos)
	if _, ok := q.dirty[e.Pos]; ok {
		delete(q.dirty, e.Pos)
		q.enqueue(e)
		q.broadcast()
		return false
	}

	cv.Set(e.Pos, e.Color)
	if q.opts.RecheckDelay <= 0 {
		return true
	}
	if _, ok := q.inRecheck[e.Pos]; ok {
		return true
	}
	q.pending = append(q.pending, pendingEntry{entry: e, due: q.opts.Clock.Now().Add(q.opts.RecheckDelay)})
	q.inRecheck[e.Pos] = struct{}{}
	return true
}

// Requeue reports a failed paint; the entry goes back to the tail.
func (q *Queue) Requeue(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inFlight, e.Pos)
	delete(q.dirty, e.Pos)
	q.enqueue(e)
	q.broadcast()
}

// Drop discards an in-flight entry that turned out to be converged.
func (q *Queue) Drop(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, e.Pos)
	delete(q.dirty, e.Pos)
}

// ReportMismatch re-queues the target at p if cv shows a colour other than
// the desired one. It reports whether the target was queued.
func (q *Queue) ReportMismatch(p canvas.Pos, cv canvas.Canvas) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.observe(p, cv.Get(p))
}

// Observe records a colour just seen at p by the update stream. The colour is
// written to cv under the queue lock, so a concurrent Done cannot overwrite
// it with the painted colour. It reports whether the target was queued.
func (q *Queue) Observe(cv canvas.Canvas, p canvas.Pos, observed canvas.Color) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	cv.Set(p, observed)
	return q.observe(p, observed)
}

// observe applies a mismatch report. An in-flight target is marked dirty and
// re-queued by Done; a target awaiting its recheck is queued at once.
// Callers hold q.mu.
func (q *Queue) observe(p canvas.Pos, observed canvas.Color) bool {
	want, ok := q.desired[p]
	if !ok || observed == want {
		return false
	}
	if _, ok := q.inFlight[p]; ok {
		q.dirty[p] = struct{}{}
		return false
	}
	if _, ok := q.queued[p]; ok {
		return false
	}
	if _, ok := q.inRecheck[p]; ok {
		q.cancelRecheck(p)
	}
	q.enqueue(Entry{Pos: p, Color: want})
	q.broadcast()
	return true
}

// cancelRecheck removes p's pending recheck. Callers hold q.mu.
func (q *Queue) cancelRecheck(p canvas.Pos) {
	delete(q.inRecheck, p)
	for i, pe := range q.pending {
		if pe.entry.Pos == p {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// Reconcile queues every untracked target that differs from cv, typically
// after a full snapshot. It returns the number of targets queued.
func (q *Queue) Reconcile(cv canvas.Canvas) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	added := 0
	for _, p := range q.order {
		want := q.desired[p]
		if q.tracked(p) || cv.Get(p) == want {
			continue
		}
		q.enqueue(Entry{Pos: p, Color: want})
		added++
	}
	if added > 0 {
		q.broadcast()
	}
	return added
}

// QueueEmpty reports full convergence: nothing in flight and every target
// position showing its desired colour on cv.
func (q *Queue) QueueEmpty(cv canvas.Canvas) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.inFlight) > 0 {
		return false
	}
	for _, p := range q.order {
		if cv.Get(p) != q.desired[p] {
			return false
		}
	}
	return true
}

// Converged counts target positions that currently match cv.
func (q *Queue) Converged(cv canvas.Canvas) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, p := range q.order {
		if cv.Get(p) == q.desired[p] {
			n++
		}
	}
	return n
}

// Contains reports whether p is currently queued.
func (q *Queue) Contains(p canvas.Pos) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.queued[p]
	return ok
}

// Stats reports queue occupancy.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Targets:  len(q.order),
		Queued:   len(q.queue),
		InFlight: len(q.inFlight),
		Pending:  len(q.pending),
	}
}
