package detector

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/model"
)

// FileEventClassifier turns filesystem notifications into alerts.
// created and modified events are deduplicated per path; deleted and moved never are.
type FileEventClassifier struct {
	mu       sync.Mutex
	recent   *lru.Cache[string, time.Time]
	window   time.Duration
	emitter  Emitter
	evidence Recorder
	logger   *logging.Logger
	now      Clock
}

// NewFileEventClassifier creates a classifier suppressing repeats within window
func NewFileEventClassifier(window time.Duration, cacheSize int, emitter Emitter, evidence Recorder, logger *logging.Logger) (*FileEventClassifier, error) {
	recent, err := lru.New[string, time.Time](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create file dedup cache: %w", err)
	}
	return &FileEventClassifier{
		recent:   recent,
		window:   window,
		emitter:  orEmitter(emitter),
		evidence: orRecorder(evidence),
		logger:   logger.WithComponent("file_classifier"),
		now:      time.Now,
	}, nil
}

// Observe analyzes one event and returns the alert it produced, if any
func (c *FileEventClassifier) Observe(ev model.FileEvent) *model.Alert {
	if ev.IsDir || ev.Path == "" {
		return nil
	}

	now := ev.Time
	if now.IsZero() {
		now = c.now()
	}

	var alert model.Alert
	switch ev.Op {
	case model.FileCreated:
		record(c.logger, c.evidence, string(model.KindFileCreated), "CREATED: "+ev.Path)
		if !c.shouldAlert("created:"+ev.Path, now) {
			return nil
		}
		alert = model.NewAlert(model.KindFileCreated, "files", "File created: "+ev.Path, now)

	case model.FileModified:
		record(c.logger, c.evidence, string(model.KindFileModified), "MODIFIED: "+ev.Path)
		if !c.shouldAlert("modified:"+ev.Path, now) {
			return nil
		}
		alert = model.NewAlert(model.KindFileModified, "files", "File modified: "+ev.Path, now)

	case model.FileDeleted:
		record(c.logger, c.evidence, string(model.KindFileDeleted), "DELETED: "+ev.Path)
		alert = model.NewAlert(model.KindFileDeleted, "files", "FILE DELETION DETECTED: "+ev.Path, now)
		alert.PlaySound = true

	case model.FileMoved:
		record(c.logger, c.evidence, string(model.KindFileMoved), fmt.Sprintf("MOVED from %s to %s", ev.Path, ev.DestPath))
		alert = model.NewAlert(model.KindFileMoved, "files", fmt.Sprintf("File moved: %s -> %s", ev.Path, ev.DestPath), now)
		alert.Attributes = map[string]string{"dest_path": ev.DestPath}

	default:
		c.logger.Debug("Ignoring unknown file operation", "op", ev.Op, "path", ev.Path)
		return nil
	}

	if alert.Attributes == nil {
		alert.Attributes = map[string]string{}
	}
	alert.Attributes["path"] = ev.Path

	emit(c.logger, c.emitter, alert)
	return &alert
}

// shouldAlert reports whether key is outside its suppression window and,
// if so, starts a new window at now.
func (c *FileEventClassifier) shouldAlert(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.recent.Get(key); ok && now.Sub(last) < c.window {
		return false
	}
	c.recent.Add(key, now)
	return true
}

// Tracked returns the number of remembered dedup keys
func (c *FileEventClassifier) Tracked() int {
	return c.recent.Len()
}
