package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux, "ticketchat-stats-test")
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")

	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")

	su.Run()
	su.Incr(FramesReceived)
	su.Incr(FramesReceived)
	su.Incr(ActiveSessions)
	su.Decr(ActiveSessions)
	su.Incr("NotAMetric")
	su.Stop()

	assert.Equal(t, int64(2), su.Value(FramesReceived))
	assert.Equal(t, int64(0), su.Value(ActiveSessions))
	assert.Equal(t, int64(0), su.Value("NotAMetric"), "expected unknown metric to be ignored")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body[FramesReceived])
	assert.Contains(t, body, "Uptime")
}

func TestNop(t *testing.T) {
	var p StatsProvider = Nop{}
	assert.NotPanics(t, func() {
		p.Incr(FramesReceived)
		p.Decr(ActiveSessions)
	})
}
