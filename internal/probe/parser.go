package probe

import (
	"errors"
	"net"
	"time"

	"KSpectra/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/uuid"
)

// ErrUnsupportedPacket is returned for frames that carry neither ARP nor IP traffic.
var ErrUnsupportedPacket = errors.New("unsupported packet")

// ParsePacket decodes an Ethernet frame into packet metadata.
func ParsePacket(data []byte) (model.Packet, error) {
	return parseFrame(data, layers.LayerTypeEthernet, time.Time{})
}

// parseFrame decodes data starting at the given link layer. A zero ts means now.
func parseFrame(data []byte, first gopacket.Decoder, ts time.Time) (model.Packet, error) {
	packet := gopacket.NewPacket(data, first, gopacket.Default)
	if ts.IsZero() {
		ts = time.Now()
	}

	info := model.Packet{
		ID:        uuid.NewString(),
		Timestamp: ts.UTC(),
		Size:      len(data),
	}

	if l := packet.Layer(layers.LayerTypeARP); l != nil {
		arp := l.(*layers.ARP)
		info.Protocol = model.ProtocolARP
		info.SourceIP = net.IP(arp.SourceProtAddress).String()
		info.DestinationIP = net.IP(arp.DstProtAddress).String()
		return info, nil
	}

	switch {
	case packet.Layer(layers.LayerTypeIPv4) != nil:
		ip := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		info.SourceIP, info.DestinationIP = ip.SrcIP.String(), ip.DstIP.String()
	case packet.Layer(layers.LayerTypeIPv6) != nil:
		ip := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		info.SourceIP, info.DestinationIP = ip.SrcIP.String(), ip.DstIP.String()
	default:
		return model.Packet{}, ErrUnsupportedPacket
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		port := servicePort(uint16(tcp.SrcPort), uint16(tcp.DstPort))
		info.Port = model.PortOf(port)
		switch port {
		case 443:
			info.Protocol = model.ProtocolHTTPS
		case 80, 8080:
			info.Protocol = model.ProtocolHTTP
		case 53:
			info.Protocol = model.ProtocolDNS
		default:
			info.Protocol = model.ProtocolTCP
		}
		return info, nil
	}

	if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		port := servicePort(uint16(udp.SrcPort), uint16(udp.DstPort))
		info.Port = model.PortOf(port)
		info.Protocol = model.ProtocolUDP
		if port == 53 {
			info.Protocol = model.ProtocolDNS
		}
		return info, nil
	}

	if packet.Layer(layers.LayerTypeICMPv4) != nil || packet.Layer(layers.LayerTypeICMPv6) != nil {
		info.Protocol = model.ProtocolICMP
		return info, nil
	}

	return model.Packet{}, ErrUnsupportedPacket
}

var wellKnownPorts = map[uint16]bool{53: true, 80: true, 443: true, 8080: true}

// servicePort picks the port identifying the service: a well known source port wins
// over an ephemeral destination, otherwise the destination port is used.
func servicePort(src, dst uint16) uint16 {
	if wellKnownPorts[src] && !wellKnownPorts[dst] {
		return src
	}
	return dst
}
