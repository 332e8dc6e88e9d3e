package detector

import (
	"time"

	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/model"
)

// Emitter receives alerts produced by a classifier
type Emitter interface {
	Emit(alert model.Alert) error
}

// Recorder is an evidence log
type Recorder interface {
	Write(severity, message string) error
}

// Clock returns the current time; tests substitute a fixed clock
type Clock func() time.Time

type discardRecorder struct{}

func (discardRecorder) Write(string, string) error { return nil }

type discardEmitter struct{}

func (discardEmitter) Emit(model.Alert) error { return nil }

func orRecorder(r Recorder) Recorder {
	if r == nil {
		return discardRecorder{}
	}
	return r
}

func orEmitter(e Emitter) Emitter {
	if e == nil {
		return discardEmitter{}
	}
	return e
}

// record writes one evidence line. Evidence is best-effort, so a failed
// write is only logged.
func record(logger *logging.Logger, r Recorder, severity, message string) {
	if err := r.Write(severity, message); err != nil {
		logger.Debug("Evidence write failed", "severity", severity, "error", err)
	}
}

func emit(logger *logging.Logger, e Emitter, alert model.Alert) {
	if err := e.Emit(alert); err != nil {
		logger.Debug("Alert emit failed", "alert_id", alert.ID, "kind", alert.Kind, "error", err)
	}
}

func truncate(s string, n int) string {
	if runes := []rune(s); len(runes) > n {
		return string(runes[:n])
	}
	return s
}
