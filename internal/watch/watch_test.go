package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/daub/internal/feed"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeed(t *testing.T) *feed.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := feed.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func event(typ feed.EventType, outcome string, ts time.Time) *feed.Event {
	return &feed.Event{
		ID:          uuid.New().String(),
		RunID:       uuid.New().String(),
		Type:        typ,
		X:           3,
		Y:           4,
		Color:       7,
		Outcome:     outcome,
		Worker:      1,
		TimestampMs: ts.UnixMilli(),
	}
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("default")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatDefault, f)

	f, err = ParseOutputFormat("json")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSONL, f)

	_, err = ParseOutputFormat("xml")
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	now := time.Now()
	old := event(feed.EventTypePaint, "success", now.Add(-time.Hour))
	fresh := event(feed.EventTypePaint, "credential_invalid", now)
	snap := event(feed.EventTypeSnapshot, "ok", now)

	tests := []struct {
		name   string
		filter *Filter
		want   []*feed.Event
	}{
		{"nil matches all", nil, []*feed.Event{old, fresh, snap}},
		{"since", &Filter{SinceMs: now.Add(-time.Minute).UnixMilli()}, []*feed.Event{fresh, snap}},
		{"type", &Filter{Type: "snapshot"}, []*feed.Event{snap}},
		{"outcome glob", &Filter{Outcome: "cred*"}, []*feed.Event{fresh}},
		{"anded", &Filter{Type: "paint", Outcome: "success"}, []*feed.Event{old}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Apply([]*feed.Event{old, fresh, snap}))
		})
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC)

	ms, err := ParseSince("", now)
	require.NoError(t, err)
	assert.Zero(t, ms)

	ms, err = ParseSince("1h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour).UnixMilli(), ms)

	ms, err = ParseSince("2025-10-29T12:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour).UnixMilli(), ms)

	_, err = ParseSince("-5m", now)
	assert.Error(t, err)
	_, err = ParseSince("yesterday", now)
	assert.Error(t, err)
}

func TestFormatTable(t *testing.T) {
	var buf bytes.Buffer
	assert.Zero(t, FormatTable(&buf, nil, "prod"))
	assert.Contains(t, buf.String(), "No events recorded for instance 'prod'")

	buf.Reset()
	e := event(feed.EventTypePaint, "rejected", time.Now())
	e.Detail = strings.Repeat("x", 60)
	n := FormatTable(&buf, []*feed.Event{e, event(feed.EventTypeStream, "connected", time.Now())}, "prod")
	assert.Equal(t, 2, n)

	out := buf.String()
	assert.Contains(t, out, "(3,4)")
	assert.Contains(t, out, strings.Repeat("x", 37)+"...")
	assert.Contains(t, out, "2 events")
}

func TestFormatLine(t *testing.T) {
	var buf bytes.Buffer
	FormatLine(&buf, event(feed.EventTypePaint, "success", time.Now()))
	assert.Contains(t, buf.String(), "✅ worker 1 painted (3,4) colour 7: success")

	buf.Reset()
	e := event(feed.EventTypeSnapshot, "failed", time.Now())
	e.Detail = "timeout"
	FormatLine(&buf, e)
	assert.Contains(t, buf.String(), "snapshot failed (timeout)")
}

func TestFormatTotals(t *testing.T) {
	var buf bytes.Buffer
	FormatTotals(&buf, map[string]int64{"paint:success": 4, "paint:rejected": 1})
	out := buf.String()
	assert.Less(t, strings.Index(out, "paint:rejected"), strings.Index(out, "paint:success"))
	assert.Contains(t, out, "4")
}

func TestListRecent(t *testing.T) {
	ctx := context.Background()
	client := newFeed(t)

	for _, outcome := range []string{"success", "rejected", "success"} {
		require.NoError(t, client.Publish(ctx, event(feed.EventTypePaint, outcome, time.Now())))
	}

	var buf bytes.Buffer
	require.NoError(t, ListRecent(ctx, client, "test-instance", 10, OutputFormatJSONL, &Filter{Outcome: "success"}, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, l := range lines {
		var e feed.Event
		require.NoError(t, json.Unmarshal([]byte(l), &e))
		assert.Equal(t, "success", e.Outcome)
	}

	buf.Reset()
	require.NoError(t, ListRecent(ctx, client, "test-instance", 10, OutputFormatDefault, nil, &buf))
	assert.Contains(t, buf.String(), "3 events")
}

// syncBuffer guards a bytes.Buffer written by StreamActivity's goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStreamActivity(t *testing.T) {
	client := newFeed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- StreamActivity(ctx, client, OutputFormatDefault, &Filter{Type: "paint"}, out)
	}()

	// The subscription is live once the banner is written.
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Watching for activity")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Publish(ctx, event(feed.EventTypeSnapshot, "ok", time.Now())))
	require.NoError(t, client.Publish(ctx, event(feed.EventTypePaint, "transport", time.Now())))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "🔌 worker 1 painted (3,4)")
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotContains(t, out.String(), "snapshot ok")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
}
