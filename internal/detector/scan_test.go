package detector

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/model"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newScan(emitter Emitter, evidence Recorder) *ScanDetector {
	return NewScanDetector(DefaultScanConfig, emitter, evidence, logging.Discard())
}

func TestScanDetector_FivePortsWithinWindow(t *testing.T) {
	em := &recordingEmitter{}
	d := newScan(em, nil)

	ports := []uint16{22, 80, 443, 3306, 8080}
	var alert *model.Alert
	for i, p := range ports {
		alert = d.Observe("10.0.0.5", "192.168.1.10", p, model.ProtocolTCP, t0.Add(time.Duration(i)*time.Second))
		if i < len(ports)-1 {
			assert.Nil(t, alert, "no alert before the fifth port")
		}
	}

	require.NotNil(t, alert)
	assert.Equal(t, model.KindPortScan, alert.Kind)
	assert.Equal(t,
		"PORT SCAN DETECTED | Source: 10.0.0.5 -> Target: 192.168.1.10 | Scanned 5 ports in 4.0s | Ports: [22, 80, 443, 3306, 8080] | Protocol: TCP",
		alert.Message)
	assert.Equal(t, 1, em.count(model.KindPortScan))
}

func TestScanDetector_RepeatedPortDoesNotCount(t *testing.T) {
	em := &recordingEmitter{}
	d := newScan(em, nil)

	for i := 0; i < 20; i++ {
		d.Observe("10.0.0.5", "192.168.1.10", 22, model.ProtocolTCP, t0.Add(time.Duration(i)*100*time.Millisecond))
	}
	d.Observe("10.0.0.5", "192.168.1.10", 23, model.ProtocolTCP, t0.Add(3*time.Second))
	d.Observe("10.0.0.5", "192.168.1.10", 24, model.ProtocolTCP, t0.Add(3*time.Second))
	d.Observe("10.0.0.5", "192.168.1.10", 25, model.ProtocolTCP, t0.Add(3*time.Second))

	assert.Equal(t, 0, em.count(model.KindPortScan))
}

func TestScanDetector_WindowReset(t *testing.T) {
	em := &recordingEmitter{}
	d := newScan(em, nil)

	for i, p := range []uint16{1, 2, 3, 4} {
		d.Observe("10.0.0.9", "h", p, model.ProtocolTCP, t0.Add(time.Duration(i)*time.Second))
	}
	// 11s after the window opened: reset, this port starts a new window
	assert.Nil(t, d.Observe("10.0.0.9", "h", 5, model.ProtocolTCP, t0.Add(11*time.Second)))

	for i, p := range []uint16{6, 7, 8} {
		assert.Nil(t, d.Observe("10.0.0.9", "h", p, model.ProtocolTCP, t0.Add(time.Duration(12+i)*time.Second)))
	}
	alert := d.Observe("10.0.0.9", "h", 9, model.ProtocolTCP, t0.Add(15*time.Second))
	require.NotNil(t, alert)
	assert.Contains(t, alert.Message, "Ports: [5, 6, 7, 8, 9]")
	assert.Contains(t, alert.Message, "in 4.0s")
}

func TestScanDetector_WindowBoundaryInclusive(t *testing.T) {
	d := newScan(&recordingEmitter{}, nil)

	for i, p := range []uint16{1, 2, 3, 4} {
		d.Observe("s", "t", p, model.ProtocolUDP, t0.Add(time.Duration(i)*time.Second))
	}
	// exactly window seconds after firstSeen is still inside the window
	alert := d.Observe("s", "t", 5, model.ProtocolUDP, t0.Add(10*time.Second))
	require.NotNil(t, alert)
	assert.Contains(t, alert.Message, "in 10.0s")
}

func TestScanDetector_ResetAfterAlert(t *testing.T) {
	em := &recordingEmitter{}
	d := newScan(em, nil)

	for i := uint16(1); i <= 5; i++ {
		d.Observe("s", "t", i, model.ProtocolTCP, t0)
	}
	require.Equal(t, 1, em.count(model.KindPortScan))

	// the same five ports again must start a fresh count
	for i := uint16(1); i <= 4; i++ {
		assert.Nil(t, d.Observe("s", "t", i, model.ProtocolTCP, t0.Add(time.Second)))
	}
	assert.NotNil(t, d.Observe("s", "t", 5, model.ProtocolTCP, t0.Add(time.Second)))
	assert.Equal(t, 2, em.count(model.KindPortScan))
}

func TestScanDetector_SourcesIndependent(t *testing.T) {
	em := &recordingEmitter{}
	d := newScan(em, nil)

	for i := uint16(1); i <= 4; i++ {
		d.Observe("a", "t", i, model.ProtocolTCP, t0)
		d.Observe("b", "t", i+100, model.ProtocolTCP, t0)
	}
	assert.Equal(t, 0, em.count(model.KindPortScan))
	assert.Equal(t, 2, d.TrackedSources())
}

func TestScanDetector_PortListTruncated(t *testing.T) {
	cfg := ScanConfig{Threshold: 12, Window: 10 * time.Second}
	d := NewScanDetector(cfg, &recordingEmitter{}, nil, logging.Discard())

	var alert *model.Alert
	for p := uint16(100); p < 112; p++ {
		alert = d.Observe("s", "t", p, model.ProtocolTCP, t0)
	}
	require.NotNil(t, alert)
	assert.Contains(t, alert.Message, "Scanned 12 ports")
	assert.Contains(t, alert.Message, "Ports: [100, 101, 102, 103, 104, 105, 106, 107, 108, 109]... |")
}

func TestScanDetector_ObservePacketPolicy(t *testing.T) {
	em := &recordingEmitter{}
	ev := &recordingEvidence{}
	d := newScan(em, ev)

	tests := []struct {
		name    string
		pkt     model.Packet
		counted bool
	}{
		{"tcp syn", model.Packet{SrcIP: "1.1.1.1", DstIP: "2.2.2.2", Protocol: model.ProtocolTCP, SrcPort: 5000, DstPort: 22, SYN: true}, true},
		{"tcp ack", model.Packet{SrcIP: "1.1.1.1", DstIP: "2.2.2.2", Protocol: model.ProtocolTCP, SrcPort: 5000, DstPort: 23}, false},
		{"udp", model.Packet{SrcIP: "1.1.1.1", DstIP: "2.2.2.2", Protocol: model.ProtocolUDP, SrcPort: 5000, DstPort: 53}, true},
		{"other", model.Packet{SrcIP: "1.1.1.1", DstIP: "2.2.2.2", Protocol: "ICMP"}, false},
	}

	counted := 0
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(ev.messages())
			d.ObservePacket(tt.pkt, t0)
			if tt.counted {
				counted++
				assert.Len(t, ev.messages(), before+1)
			} else {
				assert.Len(t, ev.messages(), before)
			}
		})
	}
	assert.Equal(t, 2, counted)
	assert.Equal(t, "SYN | Source: 1.1.1.1:5000 -> Dest: 2.2.2.2:22 | Protocol: TCP", ev.messages()[0])
}

func TestScanDetector_GC(t *testing.T) {
	d := newScan(&recordingEmitter{}, nil)

	d.Observe("old", "t", 1, model.ProtocolTCP, t0)
	d.Observe("new", "t", 1, model.ProtocolTCP, t0.Add(9*time.Second))

	removed := d.GC(t0.Add(15 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, d.TrackedSources())
	assert.Equal(t, 1, d.GetStats()["tracked_sources"])
}

func TestScanDetector_StartStopGC(t *testing.T) {
	d := newScan(&recordingEmitter{}, nil)
	d.StartGC(10 * time.Millisecond)
	d.StartGC(10 * time.Millisecond)
	d.StopGC()
	d.StopGC()
}

func TestScanDetector_ConcurrentObserve(t *testing.T) {
	em := &recordingEmitter{}
	d := newScan(em, nil)

	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func(port uint16) {
			defer wg.Done()
			d.Observe("10.0.0.5", "t", port, model.ProtocolTCP, t0)
		}(uint16(w + 1))
	}
	wg.Wait()

	assert.Equal(t, 1, em.count(model.KindPortScan))
}
