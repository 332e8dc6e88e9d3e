package alert

import (
	"context"
	"errors"
	"sync"

	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/metrics"
	"aegisflux/agents/hids/internal/model"
)

// ErrStopped is returned by Emit once shutdown has begun
var ErrStopped = errors.New("alert dispatcher stopped")

// Dispatcher is the single consumer between classifiers and the sink.
// Emit never blocks; Run delivers queued alerts one at a time.
type Dispatcher struct {
	sink    *Sink
	queue   chan model.Alert
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	stopped bool
	done    chan struct{}
}

// NewDispatcher creates a dispatcher with a bounded queue
func NewDispatcher(sink *Sink, queueSize int, logger *logging.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan model.Alert, queueSize),
		logger:  logger.WithComponent("dispatcher"),
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Emit queues an alert. A full queue falls back to the durable log so the
// alert is never lost; after shutdown the alert is refused.
func (d *Dispatcher) Emit(alert model.Alert) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		if d.metrics != nil {
			d.metrics.IncrementDropped()
		}
		d.logger.LogAlertEvent("alert_dropped", "kind", alert.Kind, "message", alert.Message)
		return ErrStopped
	}

	select {
	case d.queue <- alert:
	default:
		if d.metrics != nil {
			d.metrics.IncrementOverflow()
		}
		d.logger.LogAlertEvent("alert_overflow", "kind", alert.Kind)
		d.sink.Record(alert)
	}
	return nil
}

// Run consumes the queue until ctx is cancelled. Alerts still queued at that
// point are recorded to the durable log but not dispatched to any other channel.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			d.stop()
			return
		case alert := <-d.queue:
			if ctx.Err() != nil {
				d.sink.Record(alert)
				continue
			}
			d.sink.Dispatch(alert)
		}
	}
}

func (d *Dispatcher) stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	// no Emit can be sending now, so this drains everything
	for {
		select {
		case alert := <-d.queue:
			d.sink.Record(alert)
		default:
			return
		}
	}
}

// Done is closed once Run has returned and the queue is drained
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Pending returns the number of queued alerts
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}
