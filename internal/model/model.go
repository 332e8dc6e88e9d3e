package model

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the category of an alert
type Kind string

const (
	KindPortScan          Kind = "PORT_SCAN"
	KindThreat            Kind = "THREAT"
	KindFileCreated       Kind = "FILE_CREATED"
	KindFileModified      Kind = "FILE_MODIFIED"
	KindFileDeleted       Kind = "FILE_DELETED"
	KindFileMoved         Kind = "FILE_MOVED"
	KindSuspiciousProcess Kind = "SUSPICIOUS_PROCESS"
	KindHighCPU           Kind = "HIGH_CPU"
	KindHighMemory        Kind = "HIGH_MEMORY"
)

// Severity returns the severity bucket used by the status API and the bus
func (k Kind) Severity() string {
	switch k {
	case KindThreat, KindSuspiciousProcess:
		return "critical"
	case KindPortScan, KindFileDeleted:
		return "high"
	case KindHighCPU, KindHighMemory, KindFileMoved:
		return "medium"
	default:
		return "low"
	}
}

// Alert is an immutable detection result handed to the sink exactly once
type Alert struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Severity   string            `json:"severity"`
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
	PlaySound  bool              `json:"play_sound"`
	Notify     bool              `json:"notify"`
	Source     string            `json:"source"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewAlert creates an alert stamped with a fresh ID
func NewAlert(kind Kind, source, message string, ts time.Time) Alert {
	return Alert{
		ID:        uuid.New().String(),
		Kind:      kind,
		Severity:  kind.Severity(),
		Message:   message,
		Timestamp: ts,
		Notify:    true,
		Source:    source,
	}
}

// Protocol names as reported by the packet source
const (
	ProtocolTCP = "TCP"
	ProtocolUDP = "UDP"
)

// Packet is a decoded transport-layer packet descriptor
type Packet struct {
	SrcIP    string
	DstIP    string
	Protocol string
	SrcPort  uint16
	DstPort  uint16
	SYN      bool
}

// Endpoint is an address/port pair
type Endpoint struct {
	IP   string `json:"ip"`
	Port uint32 `json:"port"`
}

func (e Endpoint) String() string {
	if addr, err := netip.ParseAddr(e.IP); err == nil && addr.Is6() && !addr.Is4In6() {
		return fmt.Sprintf("[%s]:%d", e.IP, e.Port)
	}
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// Connection statuses the classifier cares about
const (
	StatusEstablished = "ESTABLISHED"
	StatusListen      = "LISTEN"
)

// Connection is one row of the socket table
type Connection struct {
	Local   *Endpoint `json:"local,omitempty"`
	Remote  *Endpoint `json:"remote,omitempty"`
	Status  string    `json:"status"`
	PID     int32     `json:"pid"`
	Process string    `json:"process"`
}

// ConnectionIdentity is the dedup key of a connection
type ConnectionIdentity struct {
	LocalIP    string
	LocalPort  uint32
	RemoteIP   string
	RemotePort uint32
	Status     string
}

func (id ConnectionIdentity) String() string {
	if id.RemoteIP == "" {
		return fmt.Sprintf("%s:%d-%s", id.LocalIP, id.LocalPort, id.Status)
	}
	return fmt.Sprintf("%s:%d-%s:%d-%s", id.LocalIP, id.LocalPort, id.RemoteIP, id.RemotePort, id.Status)
}

// Identity returns the dedup key; ok is false when the connection has no local endpoint.
func (c Connection) Identity() (ConnectionIdentity, bool) {
	if c.Local == nil || c.Local.IP == "" {
		return ConnectionIdentity{}, false
	}
	id := ConnectionIdentity{
		LocalIP:   c.Local.IP,
		LocalPort: c.Local.Port,
		Status:    c.Status,
	}
	if c.Remote != nil && c.Remote.IP != "" {
		id.RemoteIP = c.Remote.IP
		id.RemotePort = c.Remote.Port
	}
	return id, true
}

// FileOp is the kind of filesystem change
type FileOp string

const (
	FileCreated  FileOp = "created"
	FileModified FileOp = "modified"
	FileDeleted  FileOp = "deleted"
	FileMoved    FileOp = "moved"
)

// FileEvent is a filesystem change notification
type FileEvent struct {
	Op       FileOp
	Path     string
	DestPath string
	IsDir    bool
	Time     time.Time
}

// ProcessRecord is one entry of a process table snapshot.
// CPUPercent and MemoryPercent are nil when the reading was unavailable.
type ProcessRecord struct {
	PID           int32    `json:"pid"`
	Name          string   `json:"name"`
	Username      string   `json:"username"`
	Cmdline       string   `json:"cmdline"`
	CPUPercent    *float64 `json:"cpu_percent,omitempty"`
	MemoryPercent *float64 `json:"memory_percent,omitempty"`
}

// Percent is a helper for building ProcessRecord readings
func Percent(v float64) *float64 {
	return &v
}

// Snapshot is the process table at one poll tick
type Snapshot struct {
	Processes []ProcessRecord
	Taken     time.Time
}

// ByPID indexes the snapshot by process id
func (s Snapshot) ByPID() map[int32]ProcessRecord {
	out := make(map[int32]ProcessRecord, len(s.Processes))
	for _, p := range s.Processes {
		out[p.PID] = p
	}
	return out
}

// SystemSummary is the host-wide resource picture logged each process tick
type SystemSummary struct {
	ProcessCount    int     `json:"process_count"`
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryPercent   float64 `json:"memory_percent"`
	MemoryAvailable uint64  `json:"memory_available"`
}
