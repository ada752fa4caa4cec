package ingest

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"KSpectra/internal/model"
	"KSpectra/internal/wire"
)

// decoder turns raw event payloads into model values, filling in what the source left out.
type decoder struct {
	codec wire.Codec
	now   func() time.Time
	newID func() string
}

func (d decoder) packet(data []byte) (model.Packet, error) {
	var p model.Packet
	if err := d.codec.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("undecodable packet: %w", err)
	}
	p.Protocol = model.Protocol(strings.ToUpper(string(p.Protocol)))
	if !p.Protocol.Valid() {
		return p, fmt.Errorf("packet has unknown protocol '%s'", p.Protocol)
	}
	if p.ID == "" {
		p.ID = d.newID()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = d.now()
	}
	return p, nil
}

func (d decoder) alert(data []byte) (model.Alert, error) {
	var a model.Alert
	if err := d.codec.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("undecodable alert: %w", err)
	}
	if a.Type == "" {
		return a, fmt.Errorf("alert has no type")
	}
	a.Type = model.AlertType(strings.ToUpper(string(a.Type)))
	if !a.Type.Valid() {
		return a, fmt.Errorf("alert has unknown type '%s'", a.Type)
	}
	if a.ID == "" {
		a.ID = d.newID()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = d.now()
	}
	if a.Severity.Rank() == 0 {
		a.Severity = model.SeverityLow
	}
	return a, nil
}

// stats decodes a delta field by field. A field of the wrong type counts as absent,
// so one bad field does not cost the rest of the delta.
func (d decoder) stats(data []byte) (model.StatsSnapshot, error) {
	var fields map[string]any
	if err := d.codec.Unmarshal(data, &fields); err != nil {
		return model.StatsSnapshot{}, fmt.Errorf("undecodable stats: %w", err)
	}

	var s model.StatsSnapshot
	s.TotalPackets = count(fields["totalPackets"])
	s.PacketsPerSecond = number(fields["packetsPerSecond"])
	s.TotalAlerts = count(fields["totalAlerts"])
	s.ActiveConnections = count(fields["activeConnections"])

	if dist, ok := fields["protocolDistribution"].(map[string]any); ok {
		s.ProtocolDistribution = make(map[model.Protocol]int64, len(dist))
		for k, v := range dist {
			if c := count(v); c != 0 {
				s.ProtocolDistribution[model.Protocol(strings.ToUpper(k))] = c
			}
		}
	}
	s.TopSourceIPs = ipCounts(fields["topSourceIps"])
	s.TopDestinationIPs = ipCounts(fields["topDestinationIps"])
	return s, nil
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

// count reads a non-negative integer. Anything else, including values beyond the int64
// range, reads as 0 and so counts as absent.
func count(v any) int64 {
	n := number(v)
	if n < 0 || n >= math.MaxInt64 {
		return 0
	}
	return int64(n)
}

// ipCounts accepts both [{"ip":..,"count":..}] and the compact {"ip": count} form.
func ipCounts(v any) []model.IPCount {
	switch list := v.(type) {
	case []any:
		out := make([]model.IPCount, 0, len(list))
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			ip, _ := m["ip"].(string)
			if ip == "" {
				continue
			}
			out = append(out, model.IPCount{IP: ip, Count: count(m["count"])})
		}
		return out
	case map[string]any:
		ips := make([]string, 0, len(list))
		for ip := range list {
			ips = append(ips, ip)
		}
		sort.Strings(ips)
		out := make([]model.IPCount, 0, len(ips))
		for _, ip := range ips {
			out = append(out, model.IPCount{IP: ip, Count: count(list[ip])})
		}
		return out
	default:
		return nil
	}
}
