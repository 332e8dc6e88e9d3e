package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the Prometheus metrics for the agent
type Metrics struct {
	registry *prometheus.Registry

	AlertsTotal      *prometheus.CounterVec
	AlertsDropped    prometheus.Counter
	AlertsOverflowed prometheus.Counter
	ChannelFailures  *prometheus.CounterVec
	EventsTotal      *prometheus.CounterVec
	EventsSkipped    *prometheus.CounterVec
	ItemFailures     *prometheus.CounterVec
	TrackedSources   prometheus.Gauge
	ProcessCount     prometheus.Gauge
}

// NewMetrics creates a Metrics instance on its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hids_alerts_total",
			Help: "Total number of alerts dispatched, by kind",
		}, []string{"kind"}),
		AlertsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "hids_alerts_dropped_total",
			Help: "Alerts refused because shutdown had begun",
		}),
		AlertsOverflowed: factory.NewCounter(prometheus.CounterOpts{
			Name: "hids_alerts_overflow_total",
			Help: "Alerts written straight to the durable log because the queue was full",
		}),
		ChannelFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hids_alert_channel_failures_total",
			Help: "Alert delivery failures, by channel",
		}, []string{"channel"}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hids_events_total",
			Help: "Events analyzed, by source",
		}, []string{"source"}),
		EventsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hids_events_skipped_total",
			Help: "Events skipped, by source and reason",
		}, []string{"source", "reason"}),
		ItemFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hids_item_failures_total",
			Help: "Per-item analysis failures recovered inside a worker loop",
		}, []string{"source"}),
		TrackedSources: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hids_scan_tracked_sources",
			Help: "Source addresses currently tracked by the scan detector",
		}),
		ProcessCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hids_process_count",
			Help: "Processes in the most recent snapshot",
		}),
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncrementAlerts increments the per-kind alert counter
func (m *Metrics) IncrementAlerts(kind string) {
	m.AlertsTotal.WithLabelValues(kind).Inc()
}

// IncrementDropped increments the dropped-after-shutdown counter
func (m *Metrics) IncrementDropped() {
	m.AlertsDropped.Inc()
}

// IncrementOverflow increments the queue overflow counter
func (m *Metrics) IncrementOverflow() {
	m.AlertsOverflowed.Inc()
}

// IncrementChannelFailure increments the failure counter of one alert channel
func (m *Metrics) IncrementChannelFailure(channel string) {
	m.ChannelFailures.WithLabelValues(channel).Inc()
}

// IncrementEvents increments the analyzed events counter
func (m *Metrics) IncrementEvents(source string) {
	m.EventsTotal.WithLabelValues(source).Inc()
}

// IncrementSkipped increments the skipped events counter
func (m *Metrics) IncrementSkipped(source, reason string) {
	m.EventsSkipped.WithLabelValues(source, reason).Inc()
}

// IncrementItemFailure increments the recovered failure counter
func (m *Metrics) IncrementItemFailure(source string) {
	m.ItemFailures.WithLabelValues(source).Inc()
}
