package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePaint(t *testing.T) {
	m := New()
	m.ObservePaint("success", 20*time.Millisecond)
	m.ObservePaint("success", 30*time.Millisecond)
	m.ObservePaint("rejected", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.paints.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paints.WithLabelValues("rejected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.paints.WithLabelValues("transport")))
}

func TestSyncCounters(t *testing.T) {
	m := New()
	m.ObserveRefresh(true)
	m.ObserveRefresh(false)
	m.ObserveRefresh(false)
	m.StreamUpdate()
	m.StreamDropped()
	m.StreamConnected()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.refreshes.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamUpdates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamConnects))
}

func TestGauges(t *testing.T) {
	m := New()
	m.SetQueue(12, 88)
	m.SetCredentials(3, 1, 2)

	expected := `
# HELP daub_credential_count The number of credentials, by state
# TYPE daub_credential_count gauge
daub_credential_count{state="available"} 3
daub_credential_count{state="held"} 1
daub_credential_count{state="invalidated"} 2
# HELP daub_target_queued The number of targets waiting to be painted
# TYPE daub_target_queued gauge
daub_target_queued 12
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(expected),
		"daub_credential_count", "daub_target_queued"))
	assert.Equal(t, 88.0, testutil.ToFloat64(m.converged))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePaint("success", time.Second)
		m.ObserveRefresh(true)
		m.StreamUpdate()
		m.StreamDropped()
		m.StreamConnected()
		m.SetQueue(1, 1)
		m.SetCredentials(1, 1, 1)
	})
}
