package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"aegisflux/agents/hids/internal/alert"
	"aegisflux/agents/hids/internal/model"
	"aegisflux/agents/hids/internal/systemd"
)

// PacketSource streams decoded packets until ctx ends
type PacketSource interface {
	Packets(ctx context.Context) (<-chan model.Packet, error)
}

// FileSource streams filesystem changes until ctx ends
type FileSource interface {
	Events(ctx context.Context) (<-chan model.FileEvent, error)
}

// ProcessSource lists running processes
type ProcessSource interface {
	Snapshot(ctx context.Context) (model.Snapshot, error)
	Summary(ctx context.Context) (model.SystemSummary, error)
}

// ConnectionSource reads the socket table
type ConnectionSource interface {
	Connections(ctx context.Context) ([]model.Connection, error)
	LocalAddrs(ctx context.Context) ([]string, error)
}

// Forwarder ships alerts off the host
type Forwarder interface {
	alert.Forwarder
	IsReady() bool
	Close() error
}

// Deps are the collaborators the agent runs against. A nil source disables
// that monitor; nil channels fall back to their defaults.
type Deps struct {
	Packets     PacketSource
	Files       FileSource
	Processes   ProcessSource
	Connections ConnectionSource

	Forwarder Forwarder
	Sounder   alert.Sounder
	Notifier  alert.Notifier
	Console   io.Writer
	Systemd   *systemd.Notifier
}

// ErrNotRoot is returned when the agent lacks the privileges capture needs
var ErrNotRoot = errors.New("root privileges required")

// RootRemediation is printed when the privilege check fails
const RootRemediation = "run with: sudo hids"

// CheckPrivileges fails unless euid is 0
func CheckPrivileges(euid int) error {
	if euid != 0 {
		return fmt.Errorf("%w (effective uid %d): %s", ErrNotRoot, euid, RootRemediation)
	}
	return nil
}

// CheckCurrentPrivileges checks the running process
func CheckCurrentPrivileges() error {
	return CheckPrivileges(os.Geteuid())
}
