package detector

import (
	"sync"

	"aegisflux/agents/hids/internal/model"
)

type recordingEmitter struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (e *recordingEmitter) Emit(a model.Alert) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alerts = append(e.alerts, a)
	return nil
}

func (e *recordingEmitter) count(kind model.Kind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, a := range e.alerts {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

type evidenceLine struct {
	severity string
	message  string
}

type recordingEvidence struct {
	mu    sync.Mutex
	lines []evidenceLine
}

func (r *recordingEvidence) Write(severity, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, evidenceLine{severity, message})
	return nil
}

func (r *recordingEvidence) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	for i, l := range r.lines {
		out[i] = l.message
	}
	return out
}
