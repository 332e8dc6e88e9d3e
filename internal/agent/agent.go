package agent

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"aegisflux/agents/hids/internal/alert"
	"aegisflux/agents/hids/internal/bus"
	"aegisflux/agents/hids/internal/config"
	"aegisflux/agents/hids/internal/detector"
	"aegisflux/agents/hids/internal/evidence"
	hidshttp "aegisflux/agents/hids/internal/http"
	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/metrics"
	"aegisflux/agents/hids/internal/model"
	"aegisflux/agents/hids/internal/store"
	"aegisflux/agents/hids/internal/systemd"
)

// Version is reported by the status API
const Version = "1.0.0"

// Source names used in logs, metrics and the status API
const (
	SourcePackets     = "packets"
	SourceFiles       = "files"
	SourceProcesses   = "processes"
	SourceConnections = "connections"
)

// localAddrRefresh is how often interface addresses are re-read
const localAddrRefresh = time.Minute

// sourceState tracks one monitor for the status API
type sourceState struct {
	state  atomic.Value // string
	err    atomic.Value // string
	events atomic.Uint64
}

func newSourceState(state string) *sourceState {
	s := &sourceState{}
	s.state.Store(state)
	s.err.Store("")
	return s
}

// Agent wires event sources through the classifiers into the alert sink
type Agent struct {
	logger *logging.Logger
	config *config.Config
	deps   Deps

	evidence   *evidence.Set
	metrics    *metrics.Metrics
	store      *store.AlertStore
	sink       *alert.Sink
	dispatcher *alert.Dispatcher

	scan        *detector.ScanDetector
	connections *detector.ConnectionClassifier
	files       *detector.FileEventClassifier
	processes   *detector.ProcessWatcher

	forwarder  Forwarder
	httpServer *hidshttp.Server
	systemd    *systemd.Notifier

	sources   map[string]*sourceState
	workers   sync.WaitGroup
	startTime time.Time
}

// New creates a new agent instance. Evidence logs are opened here, so a
// bad log directory fails before anything starts.
func New(logger *logging.Logger, cfg *config.Config, deps Deps) (*Agent, error) {
	ev, err := evidence.OpenSet(cfg.LogDir, cfg.LogMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to open evidence logs: %w", err)
	}

	a := &Agent{
		logger:    logger,
		config:    cfg,
		deps:      deps,
		evidence:  ev,
		metrics:   metrics.NewMetrics(),
		store:     store.NewAlertStore(cfg.RecentAlerts),
		forwarder: deps.Forwarder,
		systemd:   deps.Systemd,
		startTime: time.Now(),
	}
	if a.systemd == nil {
		a.systemd = systemd.NewNotifier()
	}

	if a.forwarder == nil && cfg.NATSURL != "" {
		fwd, err := bus.Connect(cfg.NATSURL, cfg.NATSSubject, cfg.HostID, logger)
		if err != nil {
			// forwarding is optional; local delivery still works
			logger.LogNATSEvent("nats_error", "error", err)
		} else {
			a.forwarder = fwd
		}
	}

	a.sink = alert.NewSink(logger, ev.Alerts, a.sinkOptions()...)
	a.dispatcher = alert.NewDispatcher(a.sink, cfg.AlertQueueSize, logger, a.metrics)

	a.scan = detector.NewScanDetector(detector.ScanConfig{
		Threshold: cfg.ScanThreshold,
		Window:    cfg.ScanWindow,
	}, a.dispatcher, ev.Connections, logger)

	a.connections, err = detector.NewConnectionClassifier(cfg.ConnCacheSize, nil, a.dispatcher, ev.Connections, logger)
	if err != nil {
		ev.Close()
		return nil, fmt.Errorf("failed to create connection classifier: %w", err)
	}
	if namer, ok := deps.Connections.(detector.ProcessNamer); ok {
		a.connections.SetProcessNamer(namer)
	}

	a.files, err = detector.NewFileEventClassifier(cfg.FileDedupWindow, cfg.FileCacheSize, a.dispatcher, ev.Files, logger)
	if err != nil {
		ev.Close()
		return nil, fmt.Errorf("failed to create file classifier: %w", err)
	}

	a.processes = detector.NewProcessWatcher(detector.ProcessConfig{
		SuspiciousPatterns: cfg.SuspiciousPatterns,
		CPUThreshold:       cfg.CPUThreshold,
		MemoryThreshold:    cfg.MemoryThreshold,
		StreakThreshold:    cfg.StreakThreshold,
	}, a.dispatcher, ev.Processes, logger)

	a.sources = map[string]*sourceState{
		SourcePackets:     newSourceState(enabledState(deps.Packets != nil && cfg.EnablePackets)),
		SourceFiles:       newSourceState(enabledState(deps.Files != nil && cfg.EnableFiles)),
		SourceProcesses:   newSourceState(enabledState(deps.Processes != nil && cfg.EnableProcesses)),
		SourceConnections: newSourceState(enabledState(deps.Connections != nil && cfg.EnableConnections)),
	}

	if cfg.HTTPAddress != "" {
		a.httpServer = hidshttp.NewServer(logger, cfg.HostID, cfg.HTTPAddress, a, a.store, a.metrics.Handler())
	}

	return a, nil
}

func enabledState(enabled bool) string {
	if enabled {
		return hidshttp.SourceStopped
	}
	return hidshttp.SourceDisabled
}

func (a *Agent) sinkOptions() []alert.Option {
	console := a.deps.Console
	if console == nil {
		console = os.Stdout
	}
	sounder := a.deps.Sounder
	if sounder == nil {
		sounder = alert.NewBellSounder(console, a.config.BellCount, a.config.SoundCommand)
	}
	notifier := a.deps.Notifier
	if notifier == nil {
		notifier = alert.NewNotifier(a.config.NotifyMode)
	}

	opts := []alert.Option{
		alert.WithConsole(console),
		alert.WithSounder(sounder),
		alert.WithNotifier(notifier),
		alert.WithMetrics(a.metrics),
		alert.WithStore(a.store),
	}
	if a.forwarder != nil {
		opts = append(opts, alert.WithForwarder(a.forwarder))
	}
	return opts
}

// Run starts every enabled monitor and blocks until ctx is cancelled
func (a *Agent) Run(ctx context.Context) error {
	a.logger.LogSystemEvent("agent_started", "version", Version)

	go a.dispatcher.Run(ctx)

	a.refreshLocalAddrs(ctx)
	a.primeProcesses(ctx)

	a.startWorker(ctx, SourcePackets, a.config.EnablePackets && a.deps.Packets != nil, a.runPackets)
	a.startWorker(ctx, SourceFiles, a.config.EnableFiles && a.deps.Files != nil, a.runFiles)
	a.startWorker(ctx, SourceProcesses, a.config.EnableProcesses && a.deps.Processes != nil, a.runProcesses)
	a.startWorker(ctx, SourceConnections, a.config.EnableConnections && a.deps.Connections != nil, a.runConnections)

	if a.config.EnablePackets {
		a.scan.StartGC(a.config.ScanWindow)
	}

	if a.httpServer != nil {
		a.workers.Add(1)
		go func() {
			defer a.workers.Done()
			if err := a.httpServer.Start(ctx); err != nil {
				a.logger.Error("HTTP server error", "error", err)
			}
		}()
	}

	if a.systemd.IsAvailable() {
		if err := a.systemd.NotifyReady(); err != nil {
			a.logger.Warn("Failed to notify systemd ready", "error", err)
		}
		a.systemd.StartWatchdog(ctx, a.config.WatchdogInterval, a.logger)
	}

	<-ctx.Done()
	return a.shutdown()
}

// RunOnce performs a single process and connection poll, delivers the
// resulting alerts and returns.
func (a *Agent) RunOnce(ctx context.Context) error {
	dispatchCtx, cancel := context.WithCancel(context.Background())
	go a.dispatcher.Run(dispatchCtx)

	a.refreshLocalAddrs(ctx)
	if a.config.EnableProcesses && a.deps.Processes != nil {
		a.pollProcesses(ctx)
	}
	if a.config.EnableConnections && a.deps.Connections != nil {
		a.pollConnections(ctx)
	}

	// let the consumer deliver everything queued before stopping it
	ticker := time.NewTicker(10 * time.Millisecond)
	for a.dispatcher.Pending() > 0 && ctx.Err() == nil {
		<-ticker.C
	}
	ticker.Stop()
	cancel()
	<-a.dispatcher.Done()

	return a.close()
}

func (a *Agent) shutdown() error {
	a.logger.LogSystemEvent("shutdown_signal")
	if err := a.systemd.NotifyStopping(); err != nil {
		a.logger.Debug("Failed to notify systemd stopping", "error", err)
	}

	a.scan.StopGC()
	a.workers.Wait()
	<-a.dispatcher.Done()

	err := a.close()
	a.logger.LogSystemEvent("agent_stopped", "uptime", a.GetUptime().String())
	return err
}

func (a *Agent) close() error {
	if a.forwarder != nil {
		if err := a.forwarder.Close(); err != nil {
			a.logger.LogNATSEvent("nats_error", "error", err)
		}
	}
	a.systemd.Close()
	if err := a.evidence.Close(); err != nil {
		return fmt.Errorf("failed to close evidence logs: %w", err)
	}
	return nil
}

// startWorker runs fn in its own goroutine when enabled
func (a *Agent) startWorker(ctx context.Context, name string, enabled bool, fn func(context.Context) error) {
	if !enabled {
		a.logger.LogSourceEvent(name, "source_unavailable", "reason", "disabled")
		return
	}

	a.workers.Add(1)
	go func() {
		defer a.workers.Done()
		state := a.sources[name]
		state.state.Store(hidshttp.SourceRunning)
		a.logger.LogSourceEvent(name, "source_started")

		if err := fn(ctx); err != nil {
			// a monitor that cannot open is skipped; the others carry on
			state.state.Store(hidshttp.SourceUnavailable)
			state.err.Store(err.Error())
			a.logger.LogSourceEvent(name, "source_unavailable", "error", err)
			return
		}
		state.state.Store(hidshttp.SourceStopped)
		a.logger.LogSourceEvent(name, "source_stopped")
	}()
}

// safely runs one item's analysis, turning a panic into a logged item failure
func (a *Agent) safely(source string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.metrics.IncrementItemFailure(source)
			a.logger.LogSourceEvent(source, "item_failed", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func (a *Agent) countEvent(source string) {
	a.sources[source].events.Add(1)
	a.metrics.IncrementEvents(source)
}

func (a *Agent) runPackets(ctx context.Context) error {
	packets, err := a.deps.Packets.Packets(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-packets:
			if !ok {
				if failing, ok := a.deps.Packets.(interface{ Err() error }); ok {
					return failing.Err()
				}
				return nil
			}
			a.countEvent(SourcePackets)
			a.safely(SourcePackets, func() {
				a.scan.ObservePacket(pkt, time.Now())
				a.metrics.TrackedSources.Set(float64(a.scan.TrackedSources()))
			})
		}
	}
}

func (a *Agent) runFiles(ctx context.Context) error {
	events, err := a.deps.Files.Events(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			a.countEvent(SourceFiles)
			a.safely(SourceFiles, func() {
				if ev.IsDir {
					a.metrics.IncrementSkipped(SourceFiles, "directory")
				}
				a.files.Observe(ev)
			})
		}
	}
}

func (a *Agent) primeProcesses(ctx context.Context) {
	if !a.config.EnableProcesses || a.deps.Processes == nil || a.config.ProcessAlertExisting {
		return
	}
	snapshot, err := a.deps.Processes.Snapshot(ctx)
	if err != nil {
		a.logger.LogSourceEvent(SourceProcesses, "source_error", "error", err)
		return
	}
	a.processes.Prime(snapshot)
}

func (a *Agent) runProcesses(ctx context.Context) error {
	ticker := time.NewTicker(a.config.ProcessPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.pollProcesses(ctx)
		}
	}
}

func (a *Agent) pollProcesses(ctx context.Context) {
	snapshot, err := a.deps.Processes.Snapshot(ctx)
	if err != nil {
		a.logger.LogSourceEvent(SourceProcesses, "source_error", "error", err)
		return
	}
	a.countEvent(SourceProcesses)
	a.metrics.ProcessCount.Set(float64(len(snapshot.Processes)))
	a.safely(SourceProcesses, func() { a.processes.Tick(snapshot) })

	summary, err := a.deps.Processes.Summary(ctx)
	if err != nil {
		a.logger.LogSourceEvent(SourceProcesses, "source_error", "error", err)
		return
	}
	a.processes.LogSummary(summary)
}

func (a *Agent) runConnections(ctx context.Context) error {
	ticker := time.NewTicker(a.config.ConnPollInterval)
	defer ticker.Stop()
	refresh := time.NewTicker(localAddrRefresh)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh.C:
			a.refreshLocalAddrs(ctx)
		case <-ticker.C:
			a.pollConnections(ctx)
		}
	}
}

func (a *Agent) pollConnections(ctx context.Context) {
	conns, err := a.deps.Connections.Connections(ctx)
	if err != nil {
		a.logger.LogSourceEvent(SourceConnections, "source_error", "error", err)
		return
	}
	for _, conn := range conns {
		a.countEvent(SourceConnections)
		a.safely(SourceConnections, func() {
			if a.connections.Observe(conn) == detector.Malformed {
				a.metrics.IncrementSkipped(SourceConnections, "malformed")
			}
		})
	}
}

func (a *Agent) refreshLocalAddrs(ctx context.Context) {
	if a.deps.Connections == nil {
		return
	}
	addrs, err := a.deps.Connections.LocalAddrs(ctx)
	if err != nil {
		a.logger.LogSourceEvent(SourceConnections, "source_error", "error", err)
		return
	}
	a.connections.SetLocalAddrs(addrs)
}

// Emit lets callers outside the monitors raise an alert through the same path
func (a *Agent) Emit(event model.Alert) error {
	return a.dispatcher.Emit(event)
}

// GetUptime returns time since the agent was created
func (a *Agent) GetUptime() time.Duration {
	return time.Since(a.startTime)
}

// GetVersion returns the agent version
func (a *Agent) GetVersion() string {
	return Version
}

// GetSources reports each monitor's state
func (a *Agent) GetSources() []hidshttp.SourceStatus {
	out := make([]hidshttp.SourceStatus, 0, len(a.sources))
	for _, name := range []string{SourcePackets, SourceFiles, SourceProcesses, SourceConnections} {
		s := a.sources[name]
		out = append(out, hidshttp.SourceStatus{
			Name:   name,
			State:  s.state.Load().(string),
			Events: s.events.Load(),
			Error:  s.err.Load().(string),
		})
	}
	return out
}

// GetDetectorStats returns per-classifier statistics
func (a *Agent) GetDetectorStats() map[string]interface{} {
	return map[string]interface{}{
		"scan": a.scan.GetStats(),
		"connections": map[string]interface{}{
			"identities_seen": a.connections.Seen(),
		},
		"files": map[string]interface{}{
			"tracked_keys": a.files.Tracked(),
		},
	}
}

// GetPendingAlerts returns the dispatcher queue depth
func (a *Agent) GetPendingAlerts() int {
	return a.dispatcher.Pending()
}

// GetForwarderState describes the bus forwarder
func (a *Agent) GetForwarderState() string {
	switch {
	case a.forwarder == nil:
		return "disabled"
	case a.forwarder.IsReady():
		return "connected"
	default:
		return "disconnected"
	}
}

// Store exposes retained alerts
func (a *Agent) Store() *store.AlertStore {
	return a.store
}
