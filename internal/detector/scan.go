package detector

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/model"
)

// ScanConfig tunes the port-scan heuristic
type ScanConfig struct {
	Threshold int
	Window    time.Duration
}

// DefaultScanConfig alerts on 5 distinct ports within 10 seconds
var DefaultScanConfig = ScanConfig{Threshold: 5, Window: 10 * time.Second}

// sourceState is the window of one source address
type sourceState struct {
	ports     map[uint16]struct{}
	firstSeen time.Time
	lastSeen  time.Time
}

// ScanDetector counts distinct destination ports per source address inside a
// window that resets once it has been open longer than Window.
type ScanDetector struct {
	mu       sync.Mutex
	sources  map[string]*sourceState
	cfg      ScanConfig
	emitter  Emitter
	evidence Recorder
	logger   *logging.Logger

	gcTicker *time.Ticker
	stopGC   chan struct{}
}

// NewScanDetector creates a scan detector. evidence receives one line per counted packet.
func NewScanDetector(cfg ScanConfig, emitter Emitter, evidence Recorder, logger *logging.Logger) *ScanDetector {
	return &ScanDetector{
		sources:  make(map[string]*sourceState),
		cfg:      cfg,
		emitter:  orEmitter(emitter),
		evidence: orRecorder(evidence),
		logger:   logger.WithComponent("scan_detector"),
	}
}

// ObservePacket applies the capture policy: TCP counts only with SYN set,
// UDP always counts, anything else is ignored.
func (d *ScanDetector) ObservePacket(pkt model.Packet, now time.Time) *model.Alert {
	switch pkt.Protocol {
	case model.ProtocolTCP:
		if !pkt.SYN {
			return nil
		}
		record(d.logger, d.evidence, "PACKET", fmt.Sprintf("SYN | Source: %s:%d -> Dest: %s:%d | Protocol: TCP",
			pkt.SrcIP, pkt.SrcPort, pkt.DstIP, pkt.DstPort))
	case model.ProtocolUDP:
		record(d.logger, d.evidence, "PACKET", fmt.Sprintf("UDP | Source: %s:%d -> Dest: %s:%d | Protocol: UDP",
			pkt.SrcIP, pkt.SrcPort, pkt.DstIP, pkt.DstPort))
	default:
		return nil
	}
	return d.Observe(pkt.SrcIP, pkt.DstIP, pkt.DstPort, pkt.Protocol, now)
}

// Observe records one probe from source to target:port and returns the
// alert if this probe completed a scan.
func (d *ScanDetector) Observe(source, target string, port uint16, protocol string, now time.Time) *model.Alert {
	if source == "" {
		return nil
	}

	d.mu.Lock()
	state, exists := d.sources[source]
	if !exists {
		state = &sourceState{ports: make(map[uint16]struct{}), firstSeen: now}
		d.sources[source] = state
	}

	if now.Sub(state.firstSeen) > d.cfg.Window {
		state.ports = make(map[uint16]struct{})
		state.firstSeen = now
	}

	state.ports[port] = struct{}{}
	state.lastSeen = now

	if len(state.ports) < d.cfg.Threshold {
		d.mu.Unlock()
		return nil
	}

	ports := sortedPorts(state.ports)
	elapsed := now.Sub(state.firstSeen)
	state.ports = make(map[uint16]struct{})
	state.firstSeen = now
	d.mu.Unlock()

	alert := model.NewAlert(model.KindPortScan, "packets", scanMessage(source, target, ports, elapsed, protocol), now)
	alert.Attributes = map[string]string{
		"source_ip":  source,
		"target_ip":  target,
		"port_count": strconv.Itoa(len(ports)),
		"protocol":   protocol,
	}

	d.logger.Warn("Port scan detected", "source_ip", source, "target_ip", target, "ports", len(ports))
	emit(d.logger, d.emitter, alert)
	return &alert
}

func sortedPorts(set map[uint16]struct{}) []uint16 {
	ports := make([]uint16, 0, len(set))
	for p := range set {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

func scanMessage(source, target string, ports []uint16, elapsed time.Duration, protocol string) string {
	shown := ports
	suffix := ""
	if len(shown) > 10 {
		shown = shown[:10]
		suffix = "..."
	}
	list := make([]string, len(shown))
	for i, p := range shown {
		list[i] = strconv.Itoa(int(p))
	}
	return fmt.Sprintf("PORT SCAN DETECTED | Source: %s -> Target: %s | Scanned %d ports in %.1fs | Ports: [%s]%s | Protocol: %s",
		source, target, len(ports), elapsed.Seconds(), strings.Join(list, ", "), suffix, protocol)
}

// GC drops sources whose last probe is older than the window; it returns
// how many were removed.
func (d *ScanDetector) GC(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for source, state := range d.sources {
		if now.Sub(state.lastSeen) > d.cfg.Window {
			delete(d.sources, source)
			removed++
		}
	}
	return removed
}

// StartGC starts periodic garbage collection
func (d *ScanDetector) StartGC(interval time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.gcTicker != nil {
		return
	}
	d.gcTicker = time.NewTicker(interval)
	d.stopGC = make(chan struct{})

	go d.gcRoutine(d.gcTicker, d.stopGC)
}

// StopGC stops periodic garbage collection
func (d *ScanDetector) StopGC() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.gcTicker != nil {
		d.gcTicker.Stop()
		d.gcTicker = nil
	}
	if d.stopGC != nil {
		close(d.stopGC)
		d.stopGC = nil
	}
}

func (d *ScanDetector) gcRoutine(ticker *time.Ticker, stop chan struct{}) {
	for {
		select {
		case now := <-ticker.C:
			if removed := d.GC(now); removed > 0 {
				d.logger.Debug("Scan state collected", "removed_sources", removed)
			}
		case <-stop:
			return
		}
	}
}

// TrackedSources returns the number of source addresses with live state
func (d *ScanDetector) TrackedSources() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sources)
}

// GetStats returns detector statistics
func (d *ScanDetector) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"tracked_sources": d.TrackedSources(),
		"threshold":       d.cfg.Threshold,
		"window_seconds":  d.cfg.Window.Seconds(),
	}
}
