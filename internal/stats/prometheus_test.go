package stats

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	ps, err := NewPromStats(reg)
	require.NoError(t, err)

	ps.Incr(FramesReceived)
	ps.Incr(FramesReceived)
	ps.Incr(IntentsDropped)
	ps.Decr(FramesReceived)
	ps.Incr(ActiveSessions)
	ps.Incr(ActiveSessions)
	ps.Decr(ActiveSessions)
	ps.Incr("NotAMetric")

	assert.Equal(t, float64(2), promtest.ToFloat64(ps.counters[FramesReceived]), "expected counters to ignore Decr")
	assert.Equal(t, float64(1), promtest.ToFloat64(ps.counters[IntentsDropped]))
	assert.Equal(t, float64(1), promtest.ToFloat64(ps.gauges[ActiveSessions]))

	expected := `
# HELP ticketchat_active_sessions Chat sessions currently open.
# TYPE ticketchat_active_sessions gauge
ticketchat_active_sessions 1
`
	assert.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected), "ticketchat_active_sessions"))
}

func TestPromStatsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPromStats(reg)
	require.NoError(t, err)

	_, err = NewPromStats(reg)
	assert.Error(t, err, "expected registering twice on one registry to fail")
}

func TestMulti(t *testing.T) {
	a, b := new(MockStatsUpdater), new(MockStatsUpdater)
	a.On("Incr", Reconnects).Once()
	b.On("Incr", Reconnects).Once()
	a.On("Decr", ActiveSessions).Once()
	b.On("Decr", ActiveSessions).Once()

	m := Multi{a, b}
	m.Incr(Reconnects)
	m.Decr(ActiveSessions)

	a.AssertExpectations(t)
	b.AssertExpectations(t)
}
