package detector

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/model"
)

// ProcessConfig tunes the process watcher
type ProcessConfig struct {
	SuspiciousPatterns []string
	CPUThreshold       float64
	MemoryThreshold    float64
	StreakThreshold    int
}

// ProcessWatcher diffs consecutive process snapshots for new processes and
// tracks consecutive over-threshold readings per process.
type ProcessWatcher struct {
	mu         sync.Mutex
	cfg        ProcessConfig
	patterns   []string
	known      map[int32]struct{}
	cpuStreaks map[int32]int
	memStreaks map[int32]int
	emitter    Emitter
	evidence   Recorder
	logger     *logging.Logger
	now        Clock
}

// NewProcessWatcher creates a watcher with an empty baseline
func NewProcessWatcher(cfg ProcessConfig, emitter Emitter, evidence Recorder, logger *logging.Logger) *ProcessWatcher {
	patterns := make([]string, 0, len(cfg.SuspiciousPatterns))
	for _, p := range cfg.SuspiciousPatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}

	return &ProcessWatcher{
		cfg:        cfg,
		patterns:   patterns,
		known:      make(map[int32]struct{}),
		cpuStreaks: make(map[int32]int),
		memStreaks: make(map[int32]int),
		emitter:    orEmitter(emitter),
		evidence:   orRecorder(evidence),
		logger:     logger.WithComponent("process_watcher"),
		now:        time.Now,
	}
}

// Prime takes snapshot as the baseline so processes already running are not reported as new
func (w *ProcessWatcher) Prime(snapshot model.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.known = pidSet(snapshot)
	w.logger.Info("Process baseline established", "processes", len(w.known))
}

// MatchSuspicious returns the first pattern contained in name, case-insensitively
func (w *ProcessWatcher) MatchSuspicious(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, p := range w.patterns {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}

// Tick analyzes one snapshot and returns the alerts it produced
func (w *ProcessWatcher) Tick(snapshot model.Snapshot) []model.Alert {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := snapshot.Taken
	if now.IsZero() {
		now = w.now()
	}

	var alerts []model.Alert
	alerts = append(alerts, w.checkNew(snapshot, now)...)
	alerts = append(alerts, w.checkResources(snapshot, now)...)

	w.known = pidSet(snapshot)

	for _, alert := range alerts {
		emit(w.logger, w.emitter, alert)
	}
	return alerts
}

func (w *ProcessWatcher) checkNew(snapshot model.Snapshot, now time.Time) []model.Alert {
	var alerts []model.Alert
	for _, p := range snapshot.Processes {
		if _, known := w.known[p.PID]; known {
			continue
		}

		command := truncate(p.Cmdline, 100)
		record(w.logger, w.evidence, "NEW_PROCESS", fmt.Sprintf("PID: %d, Name: %s, User: %s, Command: %s",
			p.PID, p.Name, p.Username, command))

		pattern, suspicious := w.MatchSuspicious(p.Name)
		if !suspicious {
			continue
		}

		alert := model.NewAlert(model.KindSuspiciousProcess, "processes",
			fmt.Sprintf("SUSPICIOUS PROCESS DETECTED | Name: %s | PID: %d | User: %s | Command: %s",
				p.Name, p.PID, p.Username, command),
			now)
		alert.PlaySound = true
		alert.Attributes = map[string]string{
			"pid":     strconv.Itoa(int(p.PID)),
			"name":    p.Name,
			"user":    p.Username,
			"pattern": pattern,
		}
		w.logger.Warn("Suspicious process detected", "pid", p.PID, "name", p.Name, "pattern", pattern)
		alerts = append(alerts, alert)
	}
	return alerts
}

func (w *ProcessWatcher) checkResources(snapshot model.Snapshot, now time.Time) []model.Alert {
	var alerts []model.Alert
	present := make(map[int32]struct{}, len(snapshot.Processes))

	for _, p := range snapshot.Processes {
		present[p.PID] = struct{}{}

		if p.CPUPercent != nil {
			if alert, ok := w.advance(w.cpuStreaks, p, *p.CPUPercent, w.cfg.CPUThreshold, model.KindHighCPU, now); ok {
				alerts = append(alerts, alert)
			}
		}
		if p.MemoryPercent != nil {
			if alert, ok := w.advance(w.memStreaks, p, *p.MemoryPercent, w.cfg.MemoryThreshold, model.KindHighMemory, now); ok {
				alerts = append(alerts, alert)
			}
		}
	}

	// streaks of exited processes can never complete
	for pid := range w.cpuStreaks {
		if _, ok := present[pid]; !ok {
			delete(w.cpuStreaks, pid)
		}
	}
	for pid := range w.memStreaks {
		if _, ok := present[pid]; !ok {
			delete(w.memStreaks, pid)
		}
	}
	return alerts
}

// advance moves one streak forward and reports an alert when it completes
func (w *ProcessWatcher) advance(streaks map[int32]int, p model.ProcessRecord, value, threshold float64, kind model.Kind, now time.Time) (model.Alert, bool) {
	if value <= threshold {
		delete(streaks, p.PID)
		return model.Alert{}, false
	}

	streaks[p.PID]++
	if streaks[p.PID] < w.cfg.StreakThreshold {
		return model.Alert{}, false
	}
	delete(streaks, p.PID)

	label, metric := "CPU", "CPU"
	if kind == model.KindHighMemory {
		label, metric = "MEMORY", "Memory"
	}
	thresholdText := strconv.FormatFloat(threshold, 'f', -1, 64)

	record(w.logger, w.evidence, string(kind), fmt.Sprintf("PID: %d, Name: %s, %s: %.1f%%", p.PID, p.Name, metric, value))

	alert := model.NewAlert(kind, "processes",
		fmt.Sprintf("HIGH %s USAGE | Process: %s (PID: %d) | %s: %.1f%% (threshold: %s%%)",
			label, p.Name, p.PID, metric, value, thresholdText),
		now)
	alert.Attributes = map[string]string{
		"pid":   strconv.Itoa(int(p.PID)),
		"name":  p.Name,
		"value": strconv.FormatFloat(value, 'f', 1, 64),
	}
	return alert, true
}

// Streak returns the current CPU and memory streaks of pid
func (w *ProcessWatcher) Streak(pid int32) (cpu, mem int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cpuStreaks[pid], w.memStreaks[pid]
}

// LogSummary logs the host-wide resource picture
func (w *ProcessWatcher) LogSummary(summary model.SystemSummary) {
	w.logger.Info("Process summary",
		"total_processes", summary.ProcessCount,
		"cpu_percent", fmt.Sprintf("%.1f", summary.CPUPercent),
		"memory_percent", fmt.Sprintf("%.1f", summary.MemoryPercent),
		"memory_available_gb", fmt.Sprintf("%.2f", float64(summary.MemoryAvailable)/(1<<30)))
}

func pidSet(snapshot model.Snapshot) map[int32]struct{} {
	set := make(map[int32]struct{}, len(snapshot.Processes))
	for _, p := range snapshot.Processes {
		set[p.PID] = struct{}{}
	}
	return set
}
