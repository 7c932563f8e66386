package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistogramIsCumulative(t *testing.T) {
	h := newHistogram()
	h.observe(0.07)
	h.observe(3)
	h.observe(500)

	assert.Equal(t, uint64(3), h.count)
	assert.Equal(t, uint64(0), h.counts[0]) // 0.05
	assert.Equal(t, uint64(1), h.counts[1]) // 0.1
	assert.Equal(t, uint64(2), h.counts[7]) // 10
	assert.Equal(t, uint64(2), h.counts[len(h.counts)-1])
}

func TestHTTPCollectorRender(t *testing.T) {
	c := newHTTPCollector()
	c.observe("/api/v1/submit", http.MethodPost, 200, 20*time.Millisecond)
	c.observe("/api/v1/submit", http.MethodPost, 500, 2*time.Second)

	var b strings.Builder
	c.render(&b)
	out := b.String()
	assert.Contains(t, out, `openbobs_http_requests_total{handler="/api/v1/submit",method="POST",code="200"} 1`)
	assert.Contains(t, out, `openbobs_http_requests_total{handler="/api/v1/submit",method="POST",code="500"} 1`)
	assert.Contains(t, out, `openbobs_http_request_errors_total{handler="/api/v1/submit",method="POST"} 1`)
	assert.Contains(t, out, `openbobs_http_request_duration_seconds_count{handler="/api/v1/submit",method="POST"} 2`)
}

func TestRuntimeCountersAndLines(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	r := newRuntimeWithClock(func() time.Time { return clock })

	r.Inc(Runs)
	r.Add(Cycles, 3)
	r.Inc(DelegationFailures)
	r.Inc("unknown")
	clock = now.Add(42 * time.Second)

	snap := r.Snapshot()
	assert.True(t, snap.OK)
	assert.Equal(t, uint64(1), snap.Metrics[Runs])
	assert.Equal(t, uint64(3), snap.Metrics[Cycles])
	assert.Equal(t, int64(42), snap.UptimeSeconds)
	assert.NotContains(t, snap.Metrics, "unknown")

	lines := r.Lines()
	require.Len(t, lines, len(counterNames)+1)
	assert.Equal(t, "runs: 1", lines[0])
	assert.Equal(t, "cycles: 3", lines[1])
	assert.Equal(t, "uptimeSeconds: 42", lines[len(lines)-1])
}

func TestNilRuntimeIsSafe(t *testing.T) {
	var r *Runtime
	r.Inc(Runs)
	assert.Zero(t, r.Get(Runs))
}

func TestHandlerIncludesRuntime(t *testing.T) {
	r := NewRuntime()
	r.Inc(Commands)
	ObserveHTTPRequest("/metrics", http.MethodGet, 200, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(r).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), `openbobs_runtime_events_total{event="commands"} 1`)
	assert.Contains(t, rec.Body.String(), `handler="/metrics"`)
}
