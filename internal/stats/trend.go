package stats

import (
	"sort"
	"sync"
	"time"

	"KSpectra/internal/model"
	"KSpectra/internal/window"
)

// TrendPoint is one sample of the traffic trend series.
type TrendPoint struct {
	Timestamp        time.Time `json:"timestamp"`
	PacketsPerSecond float64   `json:"packets"`
	Alerts           int       `json:"alerts"`
}

// Trend keeps the last N trend points.
type Trend struct {
	mu     sync.RWMutex
	points *window.Ring[TrendPoint]
}

// NewTrend creates a trend series holding at most size points.
func NewTrend(size int) *Trend {
	return &Trend{points: window.NewRing[TrendPoint](size)}
}

// Record appends a point.
func (t *Trend) Record(p TrendPoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.points.Push(p)
}

// Points returns the series oldest first, ready for plotting.
func (t *Trend) Points() []TrendPoint {
	t.mu.RLock()
	recent := t.points.All()
	t.mu.RUnlock()

	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent
}

// ProtocolShare is one slice of the protocol breakdown.
type ProtocolShare struct {
	Protocol   model.Protocol `json:"name"`
	Count      int64          `json:"value"`
	Percentage float64        `json:"percentage"`
}

// Breakdown turns a distribution into shares, largest first. Zero counts are dropped.
func Breakdown(dist map[model.Protocol]int64) []ProtocolShare {
	var total int64
	for _, c := range dist {
		total += c
	}
	if total < 1 {
		total = 1
	}

	shares := make([]ProtocolShare, 0, len(dist))
	for proto, c := range dist {
		if c <= 0 {
			continue
		}
		shares = append(shares, ProtocolShare{
			Protocol:   proto,
			Count:      c,
			Percentage: float64(c) * 100 / float64(total),
		})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Count != shares[j].Count {
			return shares[i].Count > shares[j].Count
		}
		return shares[i].Protocol < shares[j].Protocol
	})
	return shares
}
