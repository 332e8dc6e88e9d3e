package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/metrics"
	"aegisflux/agents/hids/internal/model"
	"aegisflux/agents/hids/internal/store"
)

type mockAgent struct {
	sources []SourceStatus
}

func (m *mockAgent) GetUptime() time.Duration { return 90 * time.Second }
func (m *mockAgent) GetVersion() string { return "test" }
func (m *mockAgent) GetSources() []SourceStatus {
	return m.sources
}
func (m *mockAgent) GetDetectorStats() map[string]interface{} {
	return map[string]interface{}{"scan": map[string]interface{}{"tracked_sources": 2}}
}
func (m *mockAgent) GetPendingAlerts() int { return 3 }
func (m *mockAgent) GetForwarderState() string { return "disabled" }

func newTestServer(t *testing.T, agent *mockAgent) (*Server, *store.AlertStore, *metrics.Metrics) {
	t.Helper()
	alerts := store.NewAlertStore(10)
	m := metrics.NewMetrics()
	return NewServer(logging.Discard(), "host-001", "127.0.0.1:0", agent, alerts, m.Handler()), alerts, m
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	agent := &mockAgent{sources: []SourceStatus{
		{Name: "packets", State: SourceUnavailable},
		{Name: "files", State: SourceRunning},
	}}
	s, _, _ := newTestServer(t, agent)

	rec := get(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Sources)
	assert.Equal(t, "host-001", health.HostID)

	agent.sources = nil
	rec = get(t, s, "/healthz")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
}

func TestStatus(t *testing.T) {
	s, alerts, _ := newTestServer(t, &mockAgent{})
	alerts.Add(model.NewAlert(model.KindThreat, "connections", "x", time.Now()))

	rec := get(t, s, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 3, status.Pending)
	assert.Equal(t, "disabled", status.Forwarder)
	assert.EqualValues(t, 1, status.Alerts["total_alerts"])
	assert.Contains(t, status.Detectors, "scan")
}

func TestAlerts(t *testing.T) {
	s, alerts, _ := newTestServer(t, &mockAgent{})
	now := time.Now()
	alerts.Add(model.NewAlert(model.KindFileCreated, "files", "created", now))
	alerts.Add(model.NewAlert(model.KindPortScan, "packets", "scan", now))
	alerts.Add(model.NewAlert(model.KindThreat, "connections", "threat", now))

	tests := []struct {
		name     string
		target   string
		code     int
		messages []string
	}{
		{"all newest first", "/alerts", http.StatusOK, []string{"threat", "scan", "created"}},
		{"limited", "/alerts?limit=1", http.StatusOK, []string{"threat"}},
		{"by kind", "/alerts?kind=PORT_SCAN", http.StatusOK, []string{"scan"}},
		{"by severity", "/alerts?min_severity=high", http.StatusOK, []string{"threat", "scan"}},
		{"unknown kind", "/alerts?kind=NOPE", http.StatusOK, []string{}},
		{"bad limit", "/alerts?limit=-2", http.StatusBadRequest, nil},
		{"bad severity", "/alerts?min_severity=urgent", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, s, tt.target)
			require.Equal(t, tt.code, rec.Code)
			if tt.messages == nil {
				return
			}

			var resp AlertsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			got := make([]string, 0, len(resp.Alerts))
			for _, a := range resp.Alerts {
				got = append(got, a.Message)
			}
			assert.Equal(t, tt.messages, got)
			assert.Equal(t, len(tt.messages), resp.Total)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, m := newTestServer(t, &mockAgent{})
	m.IncrementAlerts("THREAT")

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "hids_alerts_total"))
}

func TestMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t, &mockAgent{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
