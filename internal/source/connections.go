package source

import (
	"context"
	"fmt"
	"net/netip"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"aegisflux/agents/hids/internal/model"
)

// ConnectionTable reads the inet socket table through gopsutil
type ConnectionTable struct{}

// NewConnectionTable creates a connection table reader
func NewConnectionTable() *ConnectionTable {
	return &ConnectionTable{}
}

// Connections returns the current TCP and UDP sockets over IPv4 and IPv6
func (t *ConnectionTable) Connections(ctx context.Context) ([]model.Connection, error) {
	stats, err := psnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, fmt.Errorf("failed to read socket table: %w", err)
	}
	return ConvertConnections(stats), nil
}

// ConvertConnections maps gopsutil rows onto the connection model
func ConvertConnections(stats []psnet.ConnectionStat) []model.Connection {
	conns := make([]model.Connection, 0, len(stats))
	for _, c := range stats {
		conns = append(conns, model.Connection{
			Local:  endpoint(c.Laddr),
			Remote: endpoint(c.Raddr),
			Status: c.Status,
			PID:    c.Pid,
		})
	}
	return conns
}

func endpoint(addr psnet.Addr) *model.Endpoint {
	if addr.IP == "" {
		return nil
	}
	return &model.Endpoint{IP: addr.IP, Port: addr.Port}
}

// LocalAddrs lists every address assigned to a local interface
func (t *ConnectionTable) LocalAddrs(ctx context.Context) ([]string, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var addrs []string
	for _, iface := range ifaces {
		for _, a := range iface.Addrs {
			if ip, ok := interfaceIP(a.Addr); ok {
				addrs = append(addrs, ip)
			}
		}
	}
	return addrs, nil
}

// interfaceIP accepts both CIDR ("192.168.1.10/24") and bare address forms
func interfaceIP(s string) (string, bool) {
	if prefix, err := netip.ParsePrefix(s); err == nil {
		return prefix.Addr().String(), true
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.String(), true
	}
	return "", false
}

// ProcessName resolves pid to its process name
func (t *ConnectionTable) ProcessName(pid int32) (string, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return "", err
	}
	return p.Name()
}
