package stats

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"KSpectra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomDelta(r *rand.Rand) model.StatsSnapshot {
	d := model.StatsSnapshot{
		TotalPackets:         int64(r.Intn(100)),
		TotalAlerts:          int64(r.Intn(5)),
		ProtocolDistribution: map[model.Protocol]int64{},
	}
	if r.Intn(2) == 0 {
		d.PacketsPerSecond = float64(r.Intn(120))
	}
	for _, p := range model.Protocols[:r.Intn(len(model.Protocols))] {
		d.ProtocolDistribution[p] = int64(r.Intn(10))
	}
	n := r.Intn(15)
	for i := 0; i < n; i++ {
		d.TopSourceIPs = append(d.TopSourceIPs, model.IPCount{IP: fmt.Sprintf("10.0.0.%d", r.Intn(30)), Count: int64(r.Intn(20) + 1)})
		d.TopDestinationIPs = append(d.TopDestinationIPs, model.IPCount{IP: fmt.Sprintf("10.1.0.%d", r.Intn(30)), Count: int64(r.Intn(20) + 1)})
	}
	return d
}

func TestMerge_AccumulatesAndRanks(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	state := model.NewAggregateStats()
	var wantPackets, wantAlerts int64

	for i := 0; i < 200; i++ {
		d := randomDelta(r)
		wantPackets += d.TotalPackets
		wantAlerts += d.TotalAlerts
		state = Merge(state, d, 10)

		assert.Equal(t, wantPackets, state.TotalPackets)
		assert.Equal(t, wantAlerts, state.TotalAlerts)
		for _, ranking := range [][]model.IPCount{state.TopSourceIPs, state.TopDestinationIPs} {
			assert.LessOrEqual(t, len(ranking), 10)
			assert.True(t, sort.SliceIsSorted(ranking, func(i, j int) bool {
				return ranking[i].Count > ranking[j].Count
			}), "ranking must be non-increasing: %v", ranking)
		}
	}
}

func TestMerge_LastWriteWinsWithoutRegressing(t *testing.T) {
	state := Merge(model.NewAggregateStats(), model.StatsSnapshot{PacketsPerSecond: 80, ActiveConnections: 12}, 10)
	state = Merge(state, model.StatsSnapshot{TotalPackets: 3}, 10)

	assert.Equal(t, 80.0, state.PacketsPerSecond)
	assert.Equal(t, int64(12), state.ActiveConnections)

	state = Merge(state, model.StatsSnapshot{PacketsPerSecond: 55, ActiveConnections: 20}, 10)
	assert.Equal(t, 55.0, state.PacketsPerSecond)
	assert.Equal(t, int64(20), state.ActiveConnections)
}

func TestMerge_EmptyDeltaIsIdempotent(t *testing.T) {
	state := Merge(model.NewAggregateStats(), model.StatsSnapshot{
		TotalPackets:         10,
		PacketsPerSecond:     42,
		ActiveConnections:    7,
		ProtocolDistribution: map[model.Protocol]int64{model.ProtocolTCP: 4, model.ProtocolDNS: 6},
		TopSourceIPs:         []model.IPCount{{IP: "a", Count: 2}, {IP: "b", Count: 2}, {IP: "c", Count: 5}},
	}, 10)

	after := Merge(state, model.StatsSnapshot{}, 10)
	assert.Equal(t, state, after)
}

func TestMerge_DoesNotAliasPrevious(t *testing.T) {
	prev := Merge(model.NewAggregateStats(), model.StatsSnapshot{
		ProtocolDistribution: map[model.Protocol]int64{model.ProtocolUDP: 1},
	}, 10)
	next := Merge(prev, model.StatsSnapshot{
		ProtocolDistribution: map[model.Protocol]int64{model.ProtocolUDP: 2, model.ProtocolARP: 1},
	}, 10)

	assert.Equal(t, int64(1), prev.ProtocolDistribution[model.ProtocolUDP])
	assert.Equal(t, int64(3), next.ProtocolDistribution[model.ProtocolUDP])
	assert.Equal(t, int64(1), next.ProtocolDistribution[model.ProtocolARP])
}

func TestMerge_RankingTiesKeepFirstSeenOrder(t *testing.T) {
	state := Merge(model.NewAggregateStats(), model.StatsSnapshot{
		TopSourceIPs: []model.IPCount{{IP: "x", Count: 3}, {IP: "y", Count: 3}},
	}, 10)
	state = Merge(state, model.StatsSnapshot{
		TopSourceIPs: []model.IPCount{{IP: "z", Count: 3}, {IP: "y", Count: 1}},
	}, 10)

	assert.Equal(t, []model.IPCount{{IP: "y", Count: 4}, {IP: "x", Count: 3}, {IP: "z", Count: 3}}, state.TopSourceIPs)
}

func TestMerge_TruncatedRankingLosesCounts(t *testing.T) {
	var first []model.IPCount
	for i := 0; i < 11; i++ {
		first = append(first, model.IPCount{IP: fmt.Sprintf("h%02d", i), Count: int64(20 - i)})
	}
	state := Merge(model.NewAggregateStats(), model.StatsSnapshot{TopSourceIPs: first}, 10)
	require.Len(t, state.TopSourceIPs, 10)

	// h10 had 10 packets but fell out of the ranking; only the new contribution counts now.
	state = Merge(state, model.StatsSnapshot{TopSourceIPs: []model.IPCount{{IP: "h10", Count: 2}}}, 10)
	for _, e := range state.TopSourceIPs {
		assert.NotEqual(t, "h10", e.IP)
	}
}

func TestRecompute(t *testing.T) {
	now := time.Now()
	// newest first
	history := []model.Packet{
		{SourceIP: "b", DestinationIP: "d1", Protocol: model.ProtocolTCP, Timestamp: now},
		{SourceIP: "a", DestinationIP: "d1", Protocol: model.ProtocolDNS, Timestamp: now.Add(-time.Second)},
		{SourceIP: "b", DestinationIP: "d2", Protocol: model.ProtocolTCP, Timestamp: now.Add(-2 * time.Second)},
		{SourceIP: "a", DestinationIP: "d3", Protocol: model.ProtocolTCP, Timestamp: now.Add(-3 * time.Second)},
	}

	dist, src, dst := Recompute(history, 10)
	assert.Equal(t, map[model.Protocol]int64{model.ProtocolTCP: 3, model.ProtocolDNS: 1}, dist)
	// a was seen first (oldest packet), so it wins the tie.
	assert.Equal(t, []model.IPCount{{IP: "a", Count: 2}, {IP: "b", Count: 2}}, src)
	assert.Equal(t, model.IPCount{IP: "d1", Count: 2}, dst[0])
	assert.Len(t, dst, 3)
}

func TestAggregator_SourceOfTruth(t *testing.T) {
	delta := model.StatsSnapshot{
		TotalPackets:         5,
		ProtocolDistribution: map[model.Protocol]int64{model.ProtocolHTTP: 5},
		TopSourceIPs:         []model.IPCount{{IP: "1.1.1.1", Count: 5}},
	}
	history := []model.Packet{{SourceIP: "2.2.2.2", DestinationIP: "3.3.3.3", Protocol: model.ProtocolARP}}

	deltas := NewAggregator(SourceDeltas, 10)
	deltas.Merge(delta)
	assert.False(t, deltas.Refresh(history))
	snap := deltas.Snapshot()
	assert.Equal(t, int64(5), snap.ProtocolDistribution[model.ProtocolHTTP])
	assert.Equal(t, "1.1.1.1", snap.TopSourceIPs[0].IP)

	packets := NewAggregator(SourcePackets, 10)
	packets.Merge(delta)
	assert.True(t, packets.Refresh(history))
	snap = packets.Snapshot()
	assert.Equal(t, int64(5), snap.TotalPackets, "totals still come from deltas")
	assert.Equal(t, map[model.Protocol]int64{model.ProtocolARP: 1}, snap.ProtocolDistribution)
	assert.Equal(t, []model.IPCount{{IP: "2.2.2.2", Count: 1}}, snap.TopSourceIPs)
}

func TestAggregator_SnapshotIsACopy(t *testing.T) {
	agg := NewAggregator(SourceDeltas, 10)
	agg.Merge(model.StatsSnapshot{ProtocolDistribution: map[model.Protocol]int64{model.ProtocolUDP: 1}})

	snap := agg.Snapshot()
	snap.ProtocolDistribution[model.ProtocolUDP] = 100
	assert.Equal(t, int64(1), agg.Snapshot().ProtocolDistribution[model.ProtocolUDP])
}

func TestParseSource(t *testing.T) {
	s, err := ParseSource("packets")
	require.NoError(t, err)
	assert.Equal(t, SourcePackets, s)

	_, err = ParseSource("both")
	assert.Error(t, err)
}

func TestTrend_KeepsLastPointsOldestFirst(t *testing.T) {
	tr := NewTrend(3)
	base := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		tr.Record(TrendPoint{Timestamp: base.Add(time.Duration(i) * time.Second), Alerts: i})
	}

	points := tr.Points()
	require.Len(t, points, 3)
	assert.Equal(t, 2, points[0].Alerts)
	assert.Equal(t, 4, points[2].Alerts)
}

func TestBreakdown(t *testing.T) {
	shares := Breakdown(map[model.Protocol]int64{
		model.ProtocolTCP:  3,
		model.ProtocolUDP:  1,
		model.ProtocolICMP: 0,
	})
	require.Len(t, shares, 2)
	assert.Equal(t, model.ProtocolTCP, shares[0].Protocol)
	assert.InDelta(t, 75.0, shares[0].Percentage, 0.001)
	assert.InDelta(t, 25.0, shares[1].Percentage, 0.001)

	assert.Empty(t, Breakdown(nil))
}
