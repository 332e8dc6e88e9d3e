package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := NewMetrics()

	m.IncrementAlerts("PORT_SCAN")
	m.IncrementAlerts("PORT_SCAN")
	m.IncrementAlerts("THREAT")
	m.IncrementChannelFailure("sound")
	m.IncrementSkipped("connections", "malformed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues("PORT_SCAN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues("THREAT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChannelFailures.WithLabelValues("sound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsSkipped.WithLabelValues("connections", "malformed")))
}

func TestIndependentRegistries(t *testing.T) {
	// two instances must not collide on registration
	a := NewMetrics()
	b := NewMetrics()
	a.IncrementDropped()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.AlertsDropped))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.AlertsDropped))
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.IncrementEvents("packets")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hids_events_total{source="packets"} 1`)
}
