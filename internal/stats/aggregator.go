package stats

import (
	"fmt"
	"sort"
	"sync"

	"KSpectra/internal/model"
)

// Source selects where the protocol distribution and top-N rankings come from.
type Source string

const (
	// SourceDeltas accumulates distribution and rankings from merged stats events.
	SourceDeltas Source = "deltas"
	// SourcePackets recomputes distribution and rankings from the packet history on refresh.
	SourcePackets Source = "packets"
)

// ParseSource validates a configured source name.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceDeltas, SourcePackets:
		return Source(s), nil
	default:
		return "", fmt.Errorf("unknown stats source '%s'", s)
	}
}

// DefaultTopN is the ranking length used when none is configured.
const DefaultTopN = 10

// Merge folds delta into prev and returns the new cumulative stats. prev is not modified.
//
// Rankings are re-derived from the already truncated prior rankings plus the delta, so counts of
// addresses that once dropped out of the top N are lost for good.
func Merge(prev model.AggregateStats, delta model.StatsSnapshot, topN int) model.AggregateStats {
	next := prev.Clone()

	next.TotalPackets += delta.TotalPackets
	next.TotalAlerts += delta.TotalAlerts
	if delta.PacketsPerSecond != 0 {
		next.PacketsPerSecond = delta.PacketsPerSecond
	}
	if delta.ActiveConnections != 0 {
		next.ActiveConnections = delta.ActiveConnections
	}

	for proto, count := range delta.ProtocolDistribution {
		next.ProtocolDistribution[proto] += count
	}

	next.TopSourceIPs = mergeRanking(prev.TopSourceIPs, delta.TopSourceIPs, topN)
	next.TopDestinationIPs = mergeRanking(prev.TopDestinationIPs, delta.TopDestinationIPs, topN)
	return next
}

// Recompute derives the protocol distribution and both rankings from a packet history given
// newest first. Ties in the rankings go to the address seen earliest.
func Recompute(history []model.Packet, topN int) (map[model.Protocol]int64, []model.IPCount, []model.IPCount) {
	dist := make(map[model.Protocol]int64)
	var src, dst []model.IPCount
	for i := len(history) - 1; i >= 0; i-- {
		p := history[i]
		dist[p.Protocol]++
		src = append(src, model.IPCount{IP: p.SourceIP, Count: 1})
		dst = append(dst, model.IPCount{IP: p.DestinationIP, Count: 1})
	}
	return dist, rank(src, topN), rank(dst, topN)
}

func mergeRanking(prior, delta []model.IPCount, topN int) []model.IPCount {
	combined := make([]model.IPCount, 0, len(prior)+len(delta))
	combined = append(combined, prior...)
	combined = append(combined, delta...)
	return rank(combined, topN)
}

// rank sums counts per address, sorts by count descending with first-seen order on ties,
// and keeps the first topN entries.
func rank(entries []model.IPCount, topN int) []model.IPCount {
	if topN <= 0 {
		topN = DefaultTopN
	}
	index := make(map[string]int, len(entries))
	out := make([]model.IPCount, 0, len(entries))
	for _, e := range entries {
		if e.IP == "" {
			continue
		}
		if i, ok := index[e.IP]; ok {
			out[i].Count += e.Count
			continue
		}
		index[e.IP] = len(out)
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// Aggregator holds the cumulative stats and is their only writer.
type Aggregator struct {
	mu     sync.RWMutex
	state  model.AggregateStats
	source Source
	topN   int
}

// NewAggregator creates an aggregator with empty state.
func NewAggregator(source Source, topN int) *Aggregator {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Aggregator{
		state:  model.NewAggregateStats(),
		source: source,
		topN:   topN,
	}
}

// Source returns the configured source of truth.
func (a *Aggregator) Source() Source {
	return a.source
}

// Merge folds a delta into the held state and returns a copy of the result.
// Totals, rates and connection counts always come from deltas. With SourcePackets the
// distribution and rankings carried by the delta are ignored, Refresh owns them.
func (a *Aggregator) Merge(delta model.StatsSnapshot) model.AggregateStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.source == SourcePackets {
		delta.ProtocolDistribution = nil
		delta.TopSourceIPs = nil
		delta.TopDestinationIPs = nil
	}
	a.state = Merge(a.state, delta, a.topN)
	return a.state.Clone()
}

// Refresh recomputes distribution and rankings from history when the source is SourcePackets.
// It reports whether the state changed.
func (a *Aggregator) Refresh(history []model.Packet) bool {
	if a.source != SourcePackets || len(history) == 0 {
		return false
	}
	dist, src, dst := Recompute(history, a.topN)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.ProtocolDistribution = dist
	a.state.TopSourceIPs = src
	a.state.TopDestinationIPs = dst
	return true
}

// Snapshot returns a deep copy of the current state.
func (a *Aggregator) Snapshot() model.AggregateStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Clone()
}
