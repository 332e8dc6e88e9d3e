// Package capture reads live packets through libpcap.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/model"
	"aegisflux/agents/hids/internal/source"
)

const (
	snapLen     = 1600
	readTimeout = time.Second
)

// LiveSource captures TCP and UDP headers from a network interface
type LiveSource struct {
	iface  string
	filter string
	logger *logging.Logger

	mu  sync.Mutex
	err error
}

// NewLiveSource creates a capture on iface restricted by a BPF filter
func NewLiveSource(iface, filter string, logger *logging.Logger) *LiveSource {
	return &LiveSource{
		iface:  iface,
		filter: filter,
		logger: logger.WithComponent("capture"),
	}
}

// Packets opens the interface and streams decoded packets until ctx ends.
// Opening fails without capture privileges or when libpcap cannot bind iface.
// The channel also closes when reads keep failing; Err then reports why.
func (s *LiveSource) Packets(ctx context.Context) (<-chan model.Packet, error) {
	handle, err := pcap.OpenLive(s.iface, snapLen, true, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open interface %s: %w", s.iface, err)
	}
	if s.filter != "" {
		if err := handle.SetBPFFilter(s.filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set capture filter %q: %w", s.filter, err)
		}
	}

	src := gopacket.NewPacketSource(handle, handle.LinkType())
	src.NoCopy = true
	loop := &source.PacketLoop{
		Reader: src,
		Idle: func(err error) bool {
			return errors.Is(err, pcap.NextErrorTimeoutExpired)
		},
		Logger: s.logger,
	}

	out := make(chan model.Packet, 1024)
	go func() {
		defer close(out)
		defer handle.Close()
		if err := loop.Run(ctx, out); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return out, nil
}

// Err returns the error that ended the last capture, if any
func (s *LiveSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
