package model

import (
	"time"
)

// Protocol is the protocol tag attached to a parsed packet.
type Protocol string

const (
	ProtocolHTTP  Protocol = "HTTP"
	ProtocolHTTPS Protocol = "HTTPS"
	ProtocolTCP   Protocol = "TCP"
	ProtocolUDP   Protocol = "UDP"
	ProtocolDNS   Protocol = "DNS"
	ProtocolARP   Protocol = "ARP"
	ProtocolICMP  Protocol = "ICMP"
)

// Protocols lists every protocol tag the pipeline knows about.
var Protocols = []Protocol{
	ProtocolHTTP, ProtocolHTTPS, ProtocolTCP, ProtocolUDP, ProtocolDNS, ProtocolARP, ProtocolICMP,
}

// Valid reports whether p is one of the known protocol tags.
func (p Protocol) Valid() bool {
	for _, known := range Protocols {
		if p == known {
			return true
		}
	}
	return false
}

// Packet holds the metadata of a single pre-parsed packet.
// Packets are never mutated after ingestion.
type Packet struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	SourceIP      string    `json:"sourceIp"`
	DestinationIP string    `json:"destinationIp"`
	Protocol      Protocol  `json:"protocol"`
	Size          int       `json:"size"`
	Port          *uint16   `json:"port,omitempty"`
}

// HasPort reports whether the packet carries a usable port.
// Port 0 is treated the same as an absent port.
func (p Packet) HasPort() bool {
	return p.Port != nil && *p.Port != 0
}

// PortOf returns a pointer suitable for Packet.Port.
func PortOf(port uint16) *uint16 {
	return &port
}

// AlertType is the category of a security alert.
type AlertType string

const (
	AlertARPSpoofing       AlertType = "ARP_SPOOFING"
	AlertSYNFlood          AlertType = "SYN_FLOOD"
	AlertPortScan          AlertType = "PORT_SCAN"
	AlertDNSPoisoning      AlertType = "DNS_POISONING"
	AlertSuspiciousTraffic AlertType = "SUSPICIOUS_TRAFFIC"
)

// AlertTypes lists every alert category the pipeline knows about.
var AlertTypes = []AlertType{
	AlertARPSpoofing, AlertSYNFlood, AlertPortScan, AlertDNSPoisoning, AlertSuspiciousTraffic,
}

// Valid reports whether t is one of the known alert categories.
func (t AlertType) Valid() bool {
	for _, known := range AlertTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity is the totally ordered severity of an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the position of s in the severity order, or 0 for unknown values.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// Keys used in Alert.Details.
const (
	DetailConfidence   = "aiConfidence"
	DetailPattern      = "pattern"
	DetailPortsScanned = "portsScanned"
)

// Alert is a security alert, either received from the stream or produced by a heuristic.
type Alert struct {
	ID           string         `json:"id"`
	Type         AlertType      `json:"type"`
	Severity     Severity       `json:"severity"`
	Timestamp    time.Time      `json:"timestamp"`
	Description  string         `json:"description"`
	InvolvedIPs  []string       `json:"involvedIps"`
	InvolvedMACs []string       `json:"involvedMacs,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Confidence returns the confidence score carried in the details bag, if any.
func (a Alert) Confidence() (float64, bool) {
	v, ok := a.Details[DetailConfidence]
	if !ok {
		return 0, false
	}
	switch c := v.(type) {
	case float64:
		return c, true
	case float32:
		return float64(c), true
	case int:
		return float64(c), true
	default:
		return 0, false
	}
}

// IPCount pairs an address with the number of packets seen for it.
type IPCount struct {
	IP    string `json:"ip"`
	Count int64  `json:"count"`
}

// StatsSnapshot is an incremental statistics contribution. Zero values mean "absent".
type StatsSnapshot struct {
	TotalPackets         int64              `json:"totalPackets"`
	PacketsPerSecond     float64            `json:"packetsPerSecond"`
	TotalAlerts          int64              `json:"totalAlerts"`
	ActiveConnections    int64              `json:"activeConnections"`
	ProtocolDistribution map[Protocol]int64 `json:"protocolDistribution,omitempty"`
	TopSourceIPs         []IPCount          `json:"topSourceIps,omitempty"`
	TopDestinationIPs    []IPCount          `json:"topDestinationIps,omitempty"`
}

// AggregateStats is the cumulative view of all merged deltas.
// The protocol distribution is not required to sum to TotalPackets.
type AggregateStats struct {
	TotalPackets         int64              `json:"totalPackets"`
	PacketsPerSecond     float64            `json:"packetsPerSecond"`
	TotalAlerts          int64              `json:"totalAlerts"`
	ActiveConnections    int64              `json:"activeConnections"`
	ProtocolDistribution map[Protocol]int64 `json:"protocolDistribution"`
	TopSourceIPs         []IPCount          `json:"topSourceIps"`
	TopDestinationIPs    []IPCount          `json:"topDestinationIps"`
}

// NewAggregateStats returns empty cumulative stats with non-nil collections.
func NewAggregateStats() AggregateStats {
	return AggregateStats{
		ProtocolDistribution: make(map[Protocol]int64),
		TopSourceIPs:         []IPCount{},
		TopDestinationIPs:    []IPCount{},
	}
}

// Clone returns a deep copy that shares no maps or slices with s.
func (s AggregateStats) Clone() AggregateStats {
	out := s
	out.ProtocolDistribution = make(map[Protocol]int64, len(s.ProtocolDistribution))
	for k, v := range s.ProtocolDistribution {
		out.ProtocolDistribution[k] = v
	}
	out.TopSourceIPs = append([]IPCount{}, s.TopSourceIPs...)
	out.TopDestinationIPs = append([]IPCount{}, s.TopDestinationIPs...)
	return out
}
