package detector

import (
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/model"
)

// Classification is the outcome of analyzing one connection
type Classification int

const (
	Benign Classification = iota
	ListeningSurface
	InboundThreat
	Duplicate
	Malformed
)

func (c Classification) String() string {
	switch c {
	case ListeningSurface:
		return "listening_surface"
	case InboundThreat:
		return "inbound_threat"
	case Duplicate:
		return "duplicate"
	case Malformed:
		return "malformed"
	default:
		return "benign"
	}
}

// ProcessNamer resolves a pid to a process name
type ProcessNamer interface {
	ProcessName(pid int32) (string, error)
}

// ConnectionClassifier analyzes each distinct connection identity once and
// flags established sessions a foreign peer opened to this machine.
type ConnectionClassifier struct {
	seen     *lru.Cache[model.ConnectionIdentity, struct{}]
	emitter  Emitter
	evidence Recorder
	namer    ProcessNamer
	logger   *logging.Logger
	now      Clock

	mu    sync.RWMutex
	local map[string]struct{}
}

// NewConnectionClassifier remembers up to cacheSize identities
func NewConnectionClassifier(cacheSize int, localAddrs []string, emitter Emitter, evidence Recorder, logger *logging.Logger) (*ConnectionClassifier, error) {
	seen, err := lru.New[model.ConnectionIdentity, struct{}](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection cache: %w", err)
	}

	c := &ConnectionClassifier{
		seen:     seen,
		emitter:  orEmitter(emitter),
		evidence: orRecorder(evidence),
		logger:   logger.WithComponent("connection_classifier"),
		now:      time.Now,
	}
	c.SetLocalAddrs(localAddrs)
	return c, nil
}

// SetProcessNamer enables pid to name resolution for rows that carry no name.
// Lookups happen only for identities not seen before.
func (c *ConnectionClassifier) SetProcessNamer(namer ProcessNamer) {
	c.namer = namer
}

// SetLocalAddrs replaces the set of addresses that belong to this machine
func (c *ConnectionClassifier) SetLocalAddrs(addrs []string) {
	local := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		local[normalizeIP(a)] = struct{}{}
	}

	c.mu.Lock()
	c.local = local
	c.mu.Unlock()
}

// Observe analyzes a connection. Identities already seen return Duplicate
// without side effects.
func (c *ConnectionClassifier) Observe(conn model.Connection) Classification {
	id, ok := conn.Identity()
	if !ok {
		return Malformed
	}

	if found, _ := c.seen.ContainsOrAdd(id, struct{}{}); found {
		return Duplicate
	}

	process := conn.Process
	if process == "" && c.namer != nil && conn.PID > 0 {
		if name, err := c.namer.ProcessName(conn.PID); err == nil {
			process = name
		}
	}
	if process == "" {
		process = "Unknown"
	}
	remote := "N/A"
	if conn.Remote != nil && conn.Remote.IP != "" {
		remote = conn.Remote.String()
	}

	record(c.logger, c.evidence, "CONNECTION", fmt.Sprintf("Local: %s | Remote: %s | Status: %s | Process: %s (PID: %d)",
		conn.Local.String(), remote, conn.Status, process, conn.PID))

	switch {
	case c.IsInboundThreat(conn):
		alert := model.NewAlert(model.KindThreat, "connections",
			fmt.Sprintf("INBOUND CONNECTION DETECTED - Remote IP: %s attempting to connect to your machine at %s | Process: %s (PID: %d)",
				conn.Remote.IP, conn.Local.String(), process, conn.PID),
			c.now())
		alert.Attributes = map[string]string{
			"remote_ip": conn.Remote.IP,
			"local":     conn.Local.String(),
			"process":   process,
			"pid":       fmt.Sprint(conn.PID),
		}
		c.logger.Warn("Inbound connection detected", "remote_ip", conn.Remote.IP, "local", conn.Local.String(), "process", process)
		emit(c.logger, c.emitter, alert)
		return InboundThreat

	case conn.Status == model.StatusListen:
		c.logger.Info("Listening socket observed", "local", conn.Local.String(), "process", process, "pid", conn.PID)
		return ListeningSurface
	}

	return Benign
}

// IsInboundThreat is the inbound rule on its own, without dedup
func (c *ConnectionClassifier) IsInboundThreat(conn model.Connection) bool {
	if conn.Status != model.StatusEstablished {
		return false
	}
	if conn.Local == nil || conn.Local.IP == "" || conn.Remote == nil || conn.Remote.IP == "" {
		return false
	}

	c.mu.RLock()
	_, localIsOurs := c.local[normalizeIP(conn.Local.IP)]
	_, remoteIsOurs := c.local[normalizeIP(conn.Remote.IP)]
	c.mu.RUnlock()

	return localIsOurs && !remoteIsOurs && !isLoopback(conn.Remote.IP)
}

// Seen returns the number of remembered identities
func (c *ConnectionClassifier) Seen() int {
	return c.seen.Len()
}

// normalizeIP maps IPv4-in-IPv6 to IPv4 and strips zones so set lookups
// match the interface listing.
func normalizeIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	return addr.Unmap().WithZone("").String()
}

func isLoopback(ip string) bool {
	if addr, err := netip.ParseAddr(ip); err == nil {
		return addr.Unmap().IsLoopback()
	}
	return strings.HasPrefix(ip, "127.")
}
