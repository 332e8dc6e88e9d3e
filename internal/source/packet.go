package source

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"aegisflux/agents/hids/internal/model"
)

// DecodePacket extracts the transport descriptor from a captured packet.
// ok is false for packets that are neither TCP nor UDP over IPv4/IPv6.
func DecodePacket(packet gopacket.Packet) (model.Packet, bool) {
	var pkt model.Packet

	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		ip, _ := ipLayer.(*layers.IPv4)
		pkt.SrcIP = ip.SrcIP.String()
		pkt.DstIP = ip.DstIP.String()
	} else if ipLayer := packet.Layer(layers.LayerTypeIPv6); ipLayer != nil {
		ip, _ := ipLayer.(*layers.IPv6)
		pkt.SrcIP = ip.SrcIP.String()
		pkt.DstIP = ip.DstIP.String()
	} else {
		return pkt, false
	}

	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp, _ := tcpLayer.(*layers.TCP)
		pkt.Protocol = model.ProtocolTCP
		pkt.SrcPort = uint16(tcp.SrcPort)
		pkt.DstPort = uint16(tcp.DstPort)
		pkt.SYN = tcp.SYN
		return pkt, true
	}

	if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp, _ := udpLayer.(*layers.UDP)
		pkt.Protocol = model.ProtocolUDP
		pkt.SrcPort = uint16(udp.SrcPort)
		pkt.DstPort = uint16(udp.DstPort)
		return pkt, true
	}

	return pkt, false
}
