package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"

	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/model"
)

const (
	defaultRetryDelay  = 100 * time.Millisecond
	defaultMaxFailures = 50
)

// ErrCaptureFailed is returned once packet reads keep failing
var ErrCaptureFailed = errors.New("packet capture failed")

// PacketReader yields captured packets; *gopacket.PacketSource satisfies it
type PacketReader interface {
	NextPacket() (gopacket.Packet, error)
}

// PacketLoop decodes packets from a reader onto a channel
type PacketLoop struct {
	Reader PacketReader
	Logger *logging.Logger

	// Idle reports read errors that only mean nothing arrived in time
	Idle func(error) bool

	RetryDelay  time.Duration
	MaxFailures int
}

// Run reads until ctx ends or the reader is exhausted. Consecutive read
// failures back off by RetryDelay and give up after MaxFailures.
func (l *PacketLoop) Run(ctx context.Context, out chan<- model.Packet) error {
	delay := l.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	limit := l.MaxFailures
	if limit <= 0 {
		limit = defaultMaxFailures
	}

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		packet, err := l.Reader.NextPacket()
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, io.EOF):
			return nil
		case l.Idle != nil && l.Idle(err):
			failures = 0
			continue
		default:
			failures++
			if failures >= limit {
				return fmt.Errorf("%w after %d consecutive read errors: %v", ErrCaptureFailed, failures, err)
			}
			l.Logger.Debug("Packet read failed", "error", err, "failures", failures)
			if !sleepCtx(ctx, delay) {
				return nil
			}
			continue
		}

		pkt, ok := DecodePacket(packet)
		if !ok {
			continue
		}
		select {
		case out <- pkt:
		case <-ctx.Done():
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
