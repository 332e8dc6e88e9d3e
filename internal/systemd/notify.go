package systemd

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"aegisflux/agents/hids/internal/logging"
)

// Notifier provides systemd integration
type Notifier struct {
	socket string
	mu     sync.Mutex
	conn   net.Conn
}

// NewNotifier creates a notifier for $NOTIFY_SOCKET
func NewNotifier() *Notifier {
	return NewNotifierForSocket(os.Getenv("NOTIFY_SOCKET"))
}

// NewNotifierForSocket creates a notifier for an explicit socket path.
// A leading '@' names an abstract socket.
func NewNotifierForSocket(socket string) *Notifier {
	return &Notifier{socket: socket}
}

// IsAvailable checks if systemd notification is available
func (n *Notifier) IsAvailable() bool {
	return n.socket != ""
}

// send writes one state message, dialling lazily
func (n *Notifier) send(state string) error {
	if !n.IsAvailable() {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		addr := &net.UnixAddr{Name: n.socket, Net: "unixgram"}
		if n.socket[0] == '@' {
			addr.Name = "\x00" + n.socket[1:]
		}
		conn, err := net.DialUnix("unixgram", nil, addr)
		if err != nil {
			return fmt.Errorf("failed to connect to systemd socket: %w", err)
		}
		n.conn = conn
	}

	_, err := n.conn.Write([]byte(state + "\n"))
	return err
}

// NotifyReady notifies systemd that the service is ready
func (n *Notifier) NotifyReady() error {
	return n.send("READY=1")
}

// NotifyStopping notifies systemd that the service is stopping
func (n *Notifier) NotifyStopping() error {
	return n.send("STOPPING=1")
}

// NotifyWatchdog notifies systemd watchdog
func (n *Notifier) NotifyWatchdog() error {
	return n.send("WATCHDOG=1")
}

// NotifyStatus updates the free-form status line
func (n *Notifier) NotifyStatus(status string) error {
	return n.send("STATUS=" + status)
}

// Close closes the systemd notification connection
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		err := n.conn.Close()
		n.conn = nil
		return err
	}
	return nil
}

// StartWatchdog pings the watchdog every interval until ctx ends
func (n *Notifier) StartWatchdog(ctx context.Context, interval time.Duration, logger *logging.Logger) {
	if !n.IsAvailable() || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := n.NotifyWatchdog(); err != nil {
					logger.Warn("Failed to notify systemd watchdog", "error", err)
				}
			}
		}
	}()
}
