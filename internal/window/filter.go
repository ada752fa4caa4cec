package window

import (
	"fmt"
	"strings"
	"time"

	"KSpectra/internal/model"
)

// Range limits a filter to packets younger than a fixed age.
type Range string

const (
	RangeAll       Range = "all"
	RangeLast5Min  Range = "5m"
	RangeLast15Min Range = "15m"
	RangeLastHour  Range = "1h"
)

// ParseRange accepts the supported range names; the empty string means RangeAll.
func ParseRange(s string) (Range, error) {
	switch r := Range(strings.ToLower(strings.TrimSpace(s))); r {
	case "", RangeAll:
		return RangeAll, nil
	case RangeLast5Min, RangeLast15Min, RangeLastHour:
		return r, nil
	default:
		return "", fmt.Errorf("unknown time range '%s'", s)
	}
}

func (r Range) maxAge() time.Duration {
	switch r {
	case RangeLast5Min:
		return 5 * time.Minute
	case RangeLast15Min:
		return 15 * time.Minute
	case RangeLastHour:
		return time.Hour
	default:
		return 0
	}
}

// Filter selects packets by protocol, address substring and age. Empty fields match everything.
type Filter struct {
	Protocol      model.Protocol
	SourceIP      string
	DestinationIP string
	Range         Range
}

// Match reports whether p passes the filter at time now.
func (f Filter) Match(p model.Packet, now time.Time) bool {
	if f.Protocol != "" && p.Protocol != f.Protocol {
		return false
	}
	if f.SourceIP != "" && !strings.Contains(p.SourceIP, f.SourceIP) {
		return false
	}
	if f.DestinationIP != "" && !strings.Contains(p.DestinationIP, f.DestinationIP) {
		return false
	}
	if age := f.Range.maxAge(); age > 0 && now.Sub(p.Timestamp) > age {
		return false
	}
	return true
}

// Apply returns the packets that match, preserving their order.
func (f Filter) Apply(packets []model.Packet, now time.Time) []model.Packet {
	out := make([]model.Packet, 0, len(packets))
	for _, p := range packets {
		if f.Match(p, now) {
			out = append(out, p)
		}
	}
	return out
}
