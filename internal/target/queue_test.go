package target

import (
	"context"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/dyluth/daub/internal/canvas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(x, y int, c canvas.Color) Entry {
	return Entry{Pos: canvas.Pos{X: x, Y: y}, Color: c}
}

func blankGrid(w, h int, c canvas.Color) *canvas.Grid {
	g := canvas.NewGrid(w, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			g.Set(canvas.Pos{X: x, Y: y}, c)
		}
	}
	return g
}

func quickCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestQueue_StrictOrderSkipsConverged(t *testing.T) {
	g := blankGrid(2, 2, 0)
	g.Set(canvas.Pos{X: 0, Y: 1}, 3) // already correct

	q := NewQueue([]Entry{entry(0, 0, 1), entry(0, 1, 3), entry(1, 0, 2)}, Options{})
	ctx := quickCtx(t)

	e, err := q.GetTarget(ctx, g)
	require.NoError(t, err)
	assert.Equal(t, entry(0, 0, 1), e)

	e, err = q.GetTarget(ctx, g)
	require.NoError(t, err)
	assert.Equal(t, entry(1, 0, 2), e, "converged head entry is discarded")

	stats := q.Stats()
	assert.Equal(t, 3, stats.Targets)
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 2, stats.InFlight)
}

func TestQueue_NeverReturnsConverged(t *testing.T) {
	g := blankGrid(10, 10, 0)
	var entries []Entry
	for x := 0; x < 10; x++ {
		for y := 0; y < 10; y++ {
			entries = append(entries, entry(x, y, canvas.Color((x+y)%3)))
		}
	}

	for _, fanOut := range []int{0, 1, 8, 500} {
		q := NewQueue(entries, Options{FanOut: fanOut})
		ctx := quickCtx(t)
		for !q.QueueEmpty(g) {
			e, err := q.GetTarget(ctx, g)
			require.NoError(t, err)
			assert.NotEqual(t, e.Color, g.Get(e.Pos), "fan-out %d returned a converged entry", fanOut)
			assert.True(t, q.Done(e, g))
		}
		assert.True(t, q.QueueEmpty(g))

		// reset for the next strategy
		g = blankGrid(10, 10, 0)
	}
}

func TestQueue_FanOutProbesWithinWindow(t *testing.T) {
	g := blankGrid(10, 1, 0)
	var entries []Entry
	for x := 0; x < 10; x++ {
		entries = append(entries, entry(x, 0, 1))
	}

	var windows []int
	q := NewQueue(entries, Options{
		FanOut: 3,
		IntN: func(n int) int {
			windows = append(windows, n)
			return n - 1
		},
	})

	e, err := q.GetTarget(quickCtx(t), g)
	require.NoError(t, err)
	assert.Equal(t, entry(2, 0, 1), e, "picks within the first FanOut entries")
	assert.Equal(t, []int{3}, windows)
}

func TestQueue_FanOutFallsBackToScan(t *testing.T) {
	g := blankGrid(6, 1, 1)
	g.Set(canvas.Pos{X: 5, Y: 0}, 0) // only the last entry needs paint

	var entries []Entry
	for x := 0; x < 6; x++ {
		entries = append(entries, entry(x, 0, 1))
	}
	q := NewQueue(entries, Options{FanOut: 2, IntN: func(int) int { return 0 }})

	e, err := q.GetTarget(quickCtx(t), g)
	require.NoError(t, err)
	assert.Equal(t, entry(5, 0, 1), e)
	assert.Equal(t, 0, q.Stats().Queued, "converged entries were discarded")
}

func TestQueue_BlocksUntilRequeued(t *testing.T) {
	g := blankGrid(2, 1, 0)
	q := NewQueue([]Entry{entry(0, 0, 1)}, Options{})
	ctx := quickCtx(t)

	e, err := q.GetTarget(ctx, g)
	require.NoError(t, err)

	got := make(chan Entry, 1)
	go func() {
		next, err := q.GetTarget(ctx, g)
		if err == nil {
			got <- next
		}
	}()

	select {
	case <-got:
		t.Fatal("GetTarget returned while nothing was queued")
	case <-time.After(30 * time.Millisecond):
	}

	q.Requeue(e)
	select {
	case next := <-got:
		assert.Equal(t, e, next)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("requeue did not wake the waiting GetTarget")
	}
}

func TestQueue_GetTargetCancelled(t *testing.T) {
	g := blankGrid(1, 1, 1)
	q := NewQueue([]Entry{entry(0, 0, 1)}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := q.GetTarget(ctx, g)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_RecheckAfterDelay(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Unix(1000, 0))
	g := blankGrid(1, 1, 0)
	q := NewQueue([]Entry{entry(0, 0, 4)}, Options{RecheckDelay: 5 * time.Second, Clock: fc})
	ctx := quickCtx(t)

	e, err := q.GetTarget(ctx, g)
	require.NoError(t, err)
	require.True(t, q.Done(e, g))
	assert.Equal(t, canvas.Color(4), g.Get(e.Pos))
	assert.Equal(t, 1, q.Stats().Pending)

	// A snapshot silently overwrites the pixel; only the recheck notices.
	g.Set(e.Pos, 9)

	got := make(chan Entry, 1)
	go func() {
		next, err := q.GetTarget(ctx, g)
		if err == nil {
			got <- next
		}
	}()

	fc.WaitForWatcherAndIncrement(5 * time.Second)
	select {
	case next := <-got:
		assert.Equal(t, e, next)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("recheck did not surface the overwritten pixel")
	}
}

func TestQueue_RecheckOfConvergedIsDiscarded(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Unix(1000, 0))
	g := blankGrid(1, 1, 0)
	q := NewQueue([]Entry{entry(0, 0, 4)}, Options{RecheckDelay: time.Second, Clock: fc})

	e, err := q.GetTarget(quickCtx(t), g)
	require.NoError(t, err)
	q.Done(e, g)

	fc.Increment(time.Second)
	assert.True(t, q.QueueEmpty(g))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = q.GetTarget(ctx, g)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, QueueStats{Targets: 1}, q.Stats())
}

func TestQueue_ObserveAndReportMismatch(t *testing.T) {
	g := blankGrid(3, 1, 1)
	q := NewQueue([]Entry{entry(0, 0, 1), entry(1, 0, 1)}, Options{})

	// Drain: both already converged.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.GetTarget(ctx, g)
	require.Error(t, err)
	require.Equal(t, 0, q.Stats().Queued)

	assert.False(t, q.Observe(g, canvas.Pos{X: 2, Y: 0}, 7), "not a target")
	assert.Equal(t, canvas.Color(7), g.Get(canvas.Pos{X: 2, Y: 0}), "observation is recorded anyway")
	assert.False(t, q.Observe(g, canvas.Pos{X: 0, Y: 0}, 1), "matches desired")
	assert.True(t, q.Observe(g, canvas.Pos{X: 0, Y: 0}, 7))
	assert.False(t, q.Observe(g, canvas.Pos{X: 0, Y: 0}, 8), "already queued")
	assert.True(t, q.Contains(canvas.Pos{X: 0, Y: 0}))
	assert.Equal(t, canvas.Color(8), g.Get(canvas.Pos{X: 0, Y: 0}))

	g.Set(canvas.Pos{X: 1, Y: 0}, 5)
	assert.True(t, q.ReportMismatch(canvas.Pos{X: 1, Y: 0}, g))
	assert.Equal(t, 2, q.Stats().Queued)
}

func TestQueue_OverwriteDuringPaintIsRequeued(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Unix(1000, 0))
	g := blankGrid(1, 1, 0)
	q := NewQueue([]Entry{entry(0, 0, 5)}, Options{RecheckDelay: 5 * time.Second, Clock: fc})
	ctx := quickCtx(t)

	e, err := q.GetTarget(ctx, g)
	require.NoError(t, err)

	// The stream reports another colour while the paint is in flight.
	assert.False(t, q.Observe(g, e.Pos, 7))

	assert.False(t, q.Done(e, g), "a newer observation wins over the paint")
	assert.Equal(t, canvas.Color(7), g.Get(e.Pos))
	assert.False(t, q.QueueEmpty(g))
	assert.Equal(t, QueueStats{Targets: 1, Queued: 1}, q.Stats())

	next, err := q.GetTarget(ctx, g)
	require.NoError(t, err)
	assert.Equal(t, e, next)

	// The mark does not outlive the flight it was set in.
	assert.True(t, q.Done(next, g))
	assert.Equal(t, canvas.Color(5), g.Get(e.Pos))
}

func TestQueue_OverwriteAfterPaintCancelsRecheck(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Unix(1000, 0))
	g := blankGrid(1, 1, 0)
	q := NewQueue([]Entry{entry(0, 0, 5)}, Options{RecheckDelay: 5 * time.Second, Clock: fc})
	ctx := quickCtx(t)

	e, err := q.GetTarget(ctx, g)
	require.NoError(t, err)
	require.True(t, q.Done(e, g))
	require.Equal(t, 1, q.Stats().Pending)

	assert.True(t, q.Observe(g, e.Pos, 7))
	assert.Equal(t, QueueStats{Targets: 1, Queued: 1}, q.Stats())

	next, err := q.GetTarget(ctx, g)
	require.NoError(t, err, "no need to wait for the recheck delay")
	assert.Equal(t, e, next)
}

func TestQueue_RequeueClearsOverwriteMark(t *testing.T) {
	g := blankGrid(1, 1, 0)
	q := NewQueue([]Entry{entry(0, 0, 5)}, Options{})
	ctx := quickCtx(t)

	e, err := q.GetTarget(ctx, g)
	require.NoError(t, err)
	q.Observe(g, e.Pos, 7)
	q.Requeue(e)

	e, err = q.GetTarget(ctx, g)
	require.NoError(t, err)
	assert.True(t, q.Done(e, g))
}

func TestQueue_Reconcile(t *testing.T) {
	g := blankGrid(4, 1, 0)
	q := NewQueue([]Entry{entry(0, 0, 1), entry(1, 0, 1), entry(2, 0, 0), entry(3, 0, 1)}, Options{})
	ctx := quickCtx(t)

	inFlight, err := q.GetTarget(ctx, g)
	require.NoError(t, err)
	require.Equal(t, canvas.Pos{X: 0, Y: 0}, inFlight.Pos)

	// Drain the rest by painting them.
	for q.Stats().Queued > 0 {
		e, err := q.GetTarget(ctx, g)
		require.NoError(t, err)
		q.Done(e, g)
	}

	// A snapshot shows two targets reverted; the in-flight one is left alone.
	g.Set(canvas.Pos{X: 1, Y: 0}, 0)
	g.Set(canvas.Pos{X: 3, Y: 0}, 0)
	assert.Equal(t, 2, q.Reconcile(g))
	assert.Equal(t, 0, q.Reconcile(g), "already queued")
	assert.Equal(t, 1, q.Stats().InFlight)
}

func TestQueue_QueueEmpty(t *testing.T) {
	g := blankGrid(2, 1, 0)
	q := NewQueue([]Entry{entry(0, 0, 1), entry(1, 0, 1)}, Options{})
	assert.False(t, q.QueueEmpty(g))

	ctx := quickCtx(t)
	e1, err := q.GetTarget(ctx, g)
	require.NoError(t, err)
	e2, err := q.GetTarget(ctx, g)
	require.NoError(t, err)

	g.Set(e1.Pos, e1.Color)
	g.Set(e2.Pos, e2.Color)
	assert.False(t, q.QueueEmpty(g), "entries still in flight")

	q.Done(e1, g)
	q.Drop(e2)
	assert.True(t, q.QueueEmpty(g))
	assert.Equal(t, 2, q.Converged(g))
}

func TestQueue_DuplicateTargetsLastWins(t *testing.T) {
	q := NewQueue([]Entry{entry(0, 0, 1), entry(0, 0, 2)}, Options{})
	g := blankGrid(1, 1, 0)

	e, err := q.GetTarget(quickCtx(t), g)
	require.NoError(t, err)
	assert.Equal(t, entry(0, 0, 2), e)
	assert.Equal(t, 1, q.Stats().Targets)
}

func TestQueue_UnknownCellsNeedPaint(t *testing.T) {
	g := canvas.NewGrid(1, 1)
	q := NewQueue([]Entry{entry(0, 0, 0)}, Options{})

	e, err := q.GetTarget(quickCtx(t), g)
	require.NoError(t, err)
	assert.Equal(t, entry(0, 0, 0), e)
}
