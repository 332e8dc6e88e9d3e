package http

import "aegisflux/agents/hids/internal/model"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	HostID    string `json:"host_id"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
	Version   string `json:"version"`
	Sources   int    `json:"active_sources"`
}

// SourceStatus reports the lifecycle state of one event source
type SourceStatus struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Events uint64 `json:"events"`
	Error  string `json:"error,omitempty"`
}

// Source states
const (
	SourceRunning     = "running"
	SourceUnavailable = "unavailable"
	SourceDisabled    = "disabled"
	SourceStopped     = "stopped"
)

// StatusResponse represents the status response
type StatusResponse struct {
	HostID    string                 `json:"host_id"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	Sources   []SourceStatus         `json:"sources"`
	Detectors map[string]interface{} `json:"detectors"`
	Alerts    map[string]interface{} `json:"alerts"`
	Pending   int                    `json:"pending_alerts"`
	Forwarder string                 `json:"forwarder"`
}

// AlertsResponse represents the recent alerts listing
type AlertsResponse struct {
	Alerts []model.Alert `json:"alerts"`
	Total  int           `json:"total"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}
