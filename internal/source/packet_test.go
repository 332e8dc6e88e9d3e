package source

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegisflux/agents/hids/internal/model"
)

func buildPacket(t *testing.T, network gopacket.SerializableLayer, transport gopacket.SerializableLayer, ethType layers.EthernetType) gopacket.Packet {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: ethType,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	layerList := []gopacket.SerializableLayer{eth, network}
	if transport != nil {
		layerList = append(layerList, transport)
	}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, layerList...))

	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

func TestDecodePacket_TCPSyn(t *testing.T) {
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 0, 5),
		DstIP:    net.IPv4(192, 168, 1, 10),
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 22, SYN: true, DataOffset: 5}

	pkt, ok := DecodePacket(buildPacket(t, ip, tcp, layers.EthernetTypeIPv4))
	require.True(t, ok)
	assert.Equal(t, model.Packet{
		SrcIP: "10.0.0.5", DstIP: "192.168.1.10",
		Protocol: model.ProtocolTCP, SrcPort: 40000, DstPort: 22, SYN: true,
	}, pkt)
}

func TestDecodePacket_TCPAck(t *testing.T) {
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 0, 5),
		DstIP:    net.IPv4(192, 168, 1, 10),
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 22, ACK: true, DataOffset: 5}

	pkt, ok := DecodePacket(buildPacket(t, ip, tcp, layers.EthernetTypeIPv4))
	require.True(t, ok)
	assert.False(t, pkt.SYN)
}

func TestDecodePacket_UDPv6(t *testing.T) {
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      net.ParseIP("2001:db8::1"),
		DstIP:      net.ParseIP("2001:db8::2"),
	}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 161}

	pkt, ok := DecodePacket(buildPacket(t, ip, udp, layers.EthernetTypeIPv6))
	require.True(t, ok)
	assert.Equal(t, model.ProtocolUDP, pkt.Protocol)
	assert.Equal(t, "2001:db8::1", pkt.SrcIP)
	assert.Equal(t, uint16(161), pkt.DstPort)
}

func TestDecodePacket_ICMPIgnored(t *testing.T) {
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    net.IPv4(10, 0, 0, 5),
		DstIP:    net.IPv4(10, 0, 0, 6),
	}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}

	_, ok := DecodePacket(buildPacket(t, ip, icmp, layers.EthernetTypeIPv4))
	assert.False(t, ok)
}
