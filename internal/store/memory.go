package store

import (
	"container/ring"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"aegisflux/agents/hids/internal/model"
)

var severityLevels = map[string]int{
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

// AlertStore keeps the most recent alerts in a ring buffer for the status API.
// An LRU of alert IDs guards against recording the same alert twice.
type AlertStore struct {
	mu        sync.RWMutex
	alerts    *ring.Ring
	seen      *lru.Cache[string, bool]
	maxAlerts int
	total     int
	byKind    map[model.Kind]int
}

// NewAlertStore creates a store retaining at most maxAlerts alerts
func NewAlertStore(maxAlerts int) *AlertStore {
	if maxAlerts <= 0 {
		maxAlerts = 1
	}
	seen, _ := lru.New[string, bool](maxAlerts * 2)

	return &AlertStore{
		alerts:    ring.New(maxAlerts),
		seen:      seen,
		maxAlerts: maxAlerts,
		byKind:    make(map[model.Kind]int),
	}
}

// Add records an alert; it returns false if the alert ID was already recorded
func (s *AlertStore) Add(alert model.Alert) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alert.ID != "" {
		if _, exists := s.seen.Get(alert.ID); exists {
			return false
		}
		s.seen.Add(alert.ID, true)
	}

	s.alerts.Value = alert
	s.alerts = s.alerts.Next()
	s.total++
	s.byKind[alert.Kind]++
	return true
}

// Recent returns up to limit alerts, newest first. limit <= 0 returns all.
func (s *AlertStore) Recent(limit int) []model.Alert {
	return s.collect(limit, func(model.Alert) bool { return true })
}

// ByKind returns retained alerts of one kind, newest first
func (s *AlertStore) ByKind(kind model.Kind) []model.Alert {
	return s.collect(0, func(a model.Alert) bool { return a.Kind == kind })
}

// BySeverity returns retained alerts at or above minSeverity, newest first
func (s *AlertStore) BySeverity(minSeverity string) []model.Alert {
	minLevel := severityLevels[minSeverity]
	return s.collect(0, func(a model.Alert) bool {
		return severityLevels[a.Severity] >= minLevel
	})
}

func (s *AlertStore) collect(limit int, keep func(model.Alert) bool) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Alert
	// s.alerts points at the next write slot; walk backwards from the newest
	for r := s.alerts.Prev(); ; r = r.Prev() {
		if alert, ok := r.Value.(model.Alert); ok && keep(alert) {
			out = append(out, alert)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		if r == s.alerts {
			break
		}
	}
	return out
}

// GetStats returns store statistics
func (s *AlertStore) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	retained := 0
	s.alerts.Do(func(value interface{}) {
		if value != nil {
			retained++
		}
	})

	byKind := make(map[string]int, len(s.byKind))
	for kind, n := range s.byKind {
		byKind[string(kind)] = n
	}

	return map[string]interface{}{
		"total_alerts":    s.total,
		"retained_alerts": retained,
		"max_alerts":      s.maxAlerts,
		"by_kind":         byKind,
	}
}
