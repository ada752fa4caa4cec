package detect

import (
	"KSpectra/internal/model"
)

// Rule inspects a packet window and reports at most one candidate alert.
// The engine fills in the id and timestamp of a matched alert.
type Rule interface {
	Name() string
	Match(window []model.Packet) (model.Alert, bool)
}

// ARPBurstRule flags windows with more than Threshold ARP packets.
type ARPBurstRule struct {
	Threshold  int
	Confidence float64
}

// NewARPBurstRule returns the rule with its standard threshold of 3 and confidence 0.87.
func NewARPBurstRule() ARPBurstRule {
	return ARPBurstRule{Threshold: 3, Confidence: 0.87}
}

func (ARPBurstRule) Name() string { return "arp_burst" }

func (r ARPBurstRule) Match(window []model.Packet) (model.Alert, bool) {
	var sources []string
	for _, p := range window {
		if p.Protocol == model.ProtocolARP {
			sources = append(sources, p.SourceIP)
		}
	}
	if len(sources) <= r.Threshold {
		return model.Alert{}, false
	}
	return model.Alert{
		Type:        model.AlertARPSpoofing,
		Severity:    model.SeverityHigh,
		Description: "Unusual ARP traffic pattern suggesting a potential spoofing attack",
		InvolvedIPs: sources,
		Details: map[string]any{
			model.DetailConfidence: r.Confidence,
			model.DetailPattern:    "excessive_arp_requests",
		},
	}, true
}

// PortFanoutRule flags windows touching more than Threshold distinct ports.
// Packets without a port, or with port 0, are ignored.
type PortFanoutRule struct {
	Threshold  int
	Confidence float64
}

// NewPortFanoutRule returns the rule with its standard threshold of 5 and confidence 0.73.
func NewPortFanoutRule() PortFanoutRule {
	return PortFanoutRule{Threshold: 5, Confidence: 0.73}
}

func (PortFanoutRule) Name() string { return "port_fanout" }

func (r PortFanoutRule) Match(window []model.Packet) (model.Alert, bool) {
	ports := make(map[uint16]struct{})
	for _, p := range window {
		if p.HasPort() {
			ports[*p.Port] = struct{}{}
		}
	}
	if len(ports) <= r.Threshold {
		return model.Alert{}, false
	}

	seen := make(map[string]struct{})
	var sources []string
	for _, p := range window {
		if _, ok := seen[p.SourceIP]; ok {
			continue
		}
		seen[p.SourceIP] = struct{}{}
		sources = append(sources, p.SourceIP)
	}

	return model.Alert{
		Type:        model.AlertPortScan,
		Severity:    model.SeverityMedium,
		Description: "Potential port scanning behavior across multiple source addresses",
		InvolvedIPs: sources,
		Details: map[string]any{
			model.DetailConfidence:   r.Confidence,
			model.DetailPortsScanned: len(ports),
		},
	}, true
}
