package alert

import (
	"fmt"
	"io"
	"strings"

	"aegisflux/agents/hids/internal/evidence"
	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/metrics"
	"aegisflux/agents/hids/internal/model"
	"aegisflux/agents/hids/internal/store"
)

// Recorder is the durable alert log
type Recorder interface {
	Write(severity, message string) error
}

// Sounder produces an audible cue
type Sounder interface {
	Play() error
}

// Notifier raises a visual interruption
type Notifier interface {
	Notify(title, message string) error
}

// Forwarder hands alerts to an external consumer without blocking
type Forwarder interface {
	Forward(alert model.Alert) error
}

const bannerWidth = 70

// Sink delivers an alert to every configured channel. The durable log is
// always written first; every other channel is best-effort.
type Sink struct {
	logger    *logging.Logger
	durable   Recorder
	console   io.Writer
	sounder   Sounder
	notifier  Notifier
	forwarder Forwarder
	metrics   *metrics.Metrics
	store     *store.AlertStore
}

// Option configures a Sink
type Option func(*Sink)

// WithConsole sets the writer used for the console banner
func WithConsole(w io.Writer) Option {
	return func(s *Sink) { s.console = w }
}

// WithSounder sets the audible channel
func WithSounder(sounder Sounder) Option {
	return func(s *Sink) { s.sounder = sounder }
}

// WithNotifier sets the visual channel
func WithNotifier(notifier Notifier) Option {
	return func(s *Sink) { s.notifier = notifier }
}

// WithForwarder sets the bus channel
func WithForwarder(forwarder Forwarder) Option {
	return func(s *Sink) { s.forwarder = forwarder }
}

// WithMetrics enables alert counters
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sink) { s.metrics = m }
}

// WithStore records dispatched alerts for the status API
func WithStore(st *store.AlertStore) Option {
	return func(s *Sink) { s.store = st }
}

// NewSink creates a sink around the durable alert log
func NewSink(logger *logging.Logger, durable Recorder, opts ...Option) *Sink {
	s := &Sink{
		logger:   logger.WithComponent("alert_sink"),
		durable:  durable,
		notifier: NoopNotifier{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch delivers the alert to all channels. It never returns an error:
// a failing channel is logged and counted, and the others still run.
func (s *Sink) Dispatch(alert model.Alert) {
	s.Record(alert)

	if s.console != nil {
		if _, err := io.WriteString(s.console, Banner(alert)); err != nil {
			s.channelFailed("console", alert, err)
		}
	}

	if alert.PlaySound && s.sounder != nil {
		if err := s.sounder.Play(); err != nil {
			s.channelFailed("sound", alert, err)
		}
	}

	if alert.Notify && s.notifier != nil {
		title, message := FormatNotification(alert)
		if err := s.notifier.Notify(title, message); err != nil {
			s.channelFailed("visual", alert, err)
		}
	}

	if s.forwarder != nil {
		if err := s.forwarder.Forward(alert); err != nil {
			s.channelFailed("bus", alert, err)
		}
	}

	s.logger.LogAlertEvent("alert_dispatched",
		"alert_id", alert.ID,
		"kind", alert.Kind,
		"severity", alert.Severity,
		"message", alert.Message)
}

// Record writes the alert to the durable log only
func (s *Sink) Record(alert model.Alert) {
	if err := s.durable.Write(string(alert.Kind), alert.Message); err != nil {
		s.channelFailed("durable", alert, err)
	}
	if s.store != nil {
		s.store.Add(alert)
	}
	if s.metrics != nil {
		s.metrics.IncrementAlerts(string(alert.Kind))
	}
}

func (s *Sink) channelFailed(channel string, alert model.Alert, err error) {
	if s.metrics != nil {
		s.metrics.IncrementChannelFailure(channel)
	}
	s.logger.LogAlertEvent("channel_failed",
		"channel", channel,
		"alert_id", alert.ID,
		"error", err)
}

// Banner renders the console form of an alert
func Banner(alert model.Alert) string {
	rule := strings.Repeat("=", bannerWidth)
	return fmt.Sprintf("\n%s\n🚨 ALERT: %s\nTime: %s\n%s\n%s\n\n",
		rule,
		alert.Kind,
		alert.Timestamp.Format(evidence.TimestampLayout),
		alert.Message,
		rule)
}

// maxNotificationLen caps the visual channel message, ellipsis included
const maxNotificationLen = 200

const ellipsis = "..."

// FormatNotification returns the popup title and the truncated message
func FormatNotification(alert model.Alert) (string, string) {
	message := alert.Message
	if runes := []rune(message); len(runes) > maxNotificationLen {
		message = string(runes[:maxNotificationLen-len(ellipsis)]) + ellipsis
	}
	return "🚨 " + string(alert.Kind), message
}
