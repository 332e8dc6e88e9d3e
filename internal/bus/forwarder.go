// Package bus forwards alerts to a NATS subject for central collection.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/model"
)

const (
	// DefaultSubject for published alerts
	DefaultSubject = "hids.alerts"
	// ConnectTimeout bounds the initial dial
	ConnectTimeout = 10 * time.Second
	// ReconnectWait between reconnect attempts
	ReconnectWait = 5 * time.Second
	// QueueSize of alerts awaiting publish
	QueueSize = 1000
)

// ErrQueueFull is returned when the publish queue cannot take another alert
var ErrQueueFull = errors.New("alert forward queue is full")

// ErrClosed is returned by Forward after Close
var ErrClosed = errors.New("alert forwarder closed")

// Publisher is the part of a NATS connection the forwarder uses
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
	IsConnected() bool
}

// Forwarder publishes alerts asynchronously so a slow broker never delays
// local delivery.
type Forwarder struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
	hostID  string
	logger  *logging.Logger

	queue  chan model.Alert
	mu     sync.RWMutex
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// Connect dials natsURL and returns a running forwarder
func Connect(natsURL, subject, hostID string, logger *logging.Logger) (*Forwarder, error) {
	logger = logger.WithComponent("nats_forwarder")

	conn, err := nats.Connect(natsURL,
		nats.Name("hids-"+hostID),
		nats.Timeout(ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.LogNATSEvent("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.LogNATSEvent("nats_connected", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.LogNATSEvent("nats_error", "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsURL, err)
	}
	logger.LogNATSEvent("nats_connected", "url", natsURL, "subject", subject)

	f := NewForwarder(conn, subject, hostID, logger)
	f.conn = conn
	return f, nil
}

// NewForwarder wraps an existing publisher and starts the send loop
func NewForwarder(pub Publisher, subject, hostID string, logger *logging.Logger) *Forwarder {
	if subject == "" {
		subject = DefaultSubject
	}
	f := &Forwarder{
		pub:     pub,
		subject: subject,
		hostID:  hostID,
		logger:  logger,
		queue:   make(chan model.Alert, QueueSize),
		done:    make(chan struct{}),
	}
	f.wg.Add(1)
	go f.sendLoop()
	return f
}

// Forward queues alert for publishing without blocking
func (f *Forwarder) Forward(alert model.Alert) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return ErrClosed
	}
	select {
	case f.queue <- alert:
		return nil
	default:
		return ErrQueueFull
	}
}

func (f *Forwarder) sendLoop() {
	defer f.wg.Done()
	for {
		select {
		case alert := <-f.queue:
			f.publish(alert)
		case <-f.done:
			// flush what was accepted before Close
			for {
				select {
				case alert := <-f.queue:
					f.publish(alert)
				default:
					return
				}
			}
		}
	}
}

func (f *Forwarder) publish(alert model.Alert) {
	msg, err := f.message(alert)
	if err != nil {
		f.logger.LogNATSEvent("nats_error", "alert_id", alert.ID, "error", err)
		return
	}
	if err := f.pub.PublishMsg(msg); err != nil {
		f.logger.LogNATSEvent("nats_error", "alert_id", alert.ID, "error", err)
		return
	}
	f.logger.LogNATSEvent("alert_forwarded", "alert_id", alert.ID, "subject", f.subject)
}

func (f *Forwarder) message(alert model.Alert) (*nats.Msg, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert: %w", err)
	}

	msg := nats.NewMsg(f.subject)
	msg.Data = data
	msg.Header.Set("x-host-id", f.hostID)
	msg.Header.Set("x-alert-id", alert.ID)
	msg.Header.Set("x-alert-kind", string(alert.Kind))
	msg.Header.Set("x-severity", alert.Severity)
	msg.Header.Set("x-timestamp", fmt.Sprintf("%d", alert.Timestamp.UnixMilli()))
	return msg, nil
}

// IsReady reports whether the broker connection is up
func (f *Forwarder) IsReady() bool {
	return f.pub != nil && f.pub.IsConnected()
}

// Close flushes queued alerts and closes the connection
func (f *Forwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.done)
	f.mu.Unlock()

	f.wg.Wait()
	if f.conn != nil {
		if err := f.conn.FlushTimeout(2 * time.Second); err != nil {
			f.logger.LogNATSEvent("nats_error", "error", err)
		}
		f.conn.Close()
	}
	return nil
}
