package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"KSpectra/internal/insight"
	"KSpectra/internal/metrics"
	"KSpectra/internal/model"
	"KSpectra/internal/pipeline"
	"KSpectra/internal/stats"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticSource struct {
	snap     pipeline.Snapshot
	history  []model.Packet
	throttle insight.ThrottleState
}

func (s staticSource) Snapshot() pipeline.Snapshot { return s.snap }

func (s staticSource) History() []model.Packet { return s.history }

func (s staticSource) ThrottleState() insight.ThrottleState { return s.throttle }

var apiNow = time.Date(2024, 9, 12, 18, 0, 0, 0, time.UTC)

func fixture() pipeline.Snapshot {
	return pipeline.Snapshot{
		Connected: true,
		Packets: []model.Packet{
			{ID: "1", Timestamp: apiNow.Add(-time.Minute), SourceIP: "192.168.1.5", DestinationIP: "8.8.8.8", Protocol: model.ProtocolDNS, Port: model.PortOf(53)},
			{ID: "2", Timestamp: apiNow.Add(-20 * time.Minute), SourceIP: "192.168.1.6", DestinationIP: "10.0.0.1", Protocol: model.ProtocolHTTPS, Port: model.PortOf(443)},
		},
		Alerts: []model.Alert{
			{ID: "a1", Type: model.AlertSYNFlood, Severity: model.SeverityCritical},
			{ID: "a2", Type: model.AlertDNSPoisoning, Severity: model.SeverityLow},
		},
		HeuristicAlerts: []model.Alert{{ID: "h1", Type: model.AlertPortScan, Severity: model.SeverityMedium}},
		Stats: model.AggregateStats{
			TotalPackets:         30,
			ProtocolDistribution: map[model.Protocol]int64{model.ProtocolDNS: 1, model.ProtocolHTTPS: 3},
			TopSourceIPs:         []model.IPCount{},
			TopDestinationIPs:    []model.IPCount{},
		},
		Insight:          "## Summary\n\n* **ARP** burst from 192.168.1.5",
		InsightUpdatedAt: apiNow,
		AIAvailable:      true,
		Trends:           []stats.TrendPoint{{Timestamp: apiNow, PacketsPerSecond: 80, Alerts: 2}},
	}
}

func newTestRouter(gatherer prometheus.Gatherer) http.Handler {
	h := &APIHandler{source: staticSource{snap: fixture()}, now: func() time.Time { return apiNow }, logger: zap.NewNop()}
	return h.routes(gatherer)
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestPacketsFilter(t *testing.T) {
	h := newTestRouter(nil)

	rec := get(t, h, "/api/v1/packets")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Packet](t, rec), 2)

	rec = get(t, h, "/api/v1/packets?protocol=dns")
	got := decode[[]model.Packet](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)

	rec = get(t, h, "/api/v1/packets?range=15m&src=192.168")
	got = decode[[]model.Packet](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/packets?protocol=sctp").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/packets?range=2d").Code)
}

func TestAlertsSeverityFloor(t *testing.T) {
	h := newTestRouter(nil)

	assert.Len(t, decode[[]model.Alert](t, get(t, h, "/api/v1/alerts")), 2)

	got := decode[[]model.Alert](t, get(t, h, "/api/v1/alerts?severity=high"))
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/alerts?severity=urgent").Code)
	assert.Len(t, decode[[]model.Alert](t, get(t, h, "/api/v1/heuristics")), 1)
}

func TestStatsEndpoints(t *testing.T) {
	h := newTestRouter(nil)

	s := decode[model.AggregateStats](t, get(t, h, "/api/v1/stats"))
	assert.Equal(t, int64(30), s.TotalPackets)

	shares := decode[[]stats.ProtocolShare](t, get(t, h, "/api/v1/stats/protocols"))
	require.Len(t, shares, 2)
	assert.Equal(t, model.ProtocolHTTPS, shares[0].Protocol)
	assert.InDelta(t, 75.0, shares[0].Percentage, 0.001)

	trends := decode[[]stats.TrendPoint](t, get(t, h, "/api/v1/trends"))
	require.Len(t, trends, 1)
	assert.Equal(t, 80.0, trends[0].PacketsPerSecond)
}

func TestInsight(t *testing.T) {
	h := newTestRouter(nil)

	resp := decode[insightResponse](t, get(t, h, "/api/v1/insight"))
	assert.True(t, resp.AIAvailable)
	assert.Equal(t, apiNow, resp.UpdatedAt)
	assert.True(t, strings.HasPrefix(resp.Insight, "## Summary"))

	rec := get(t, h, "/api/v1/insight?format=html")
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "<h2")
	assert.Contains(t, body, "<strong>ARP</strong>")
}

func TestExport(t *testing.T) {
	rec := get(t, newTestRouter(nil), "/api/v1/export?protocol=https")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="network-analysis-2024-09-12.json"`, rec.Header().Get("Content-Disposition"))

	doc := decode[exportDocument](t, rec)
	require.Len(t, doc.Packets, 1)
	assert.Equal(t, "2", doc.Packets[0].ID)
	assert.Len(t, doc.Alerts, 2)
	assert.Equal(t, apiNow, doc.ExportTime)
}

func TestSnapshotAndHealth(t *testing.T) {
	h := newTestRouter(nil)

	snap := decode[pipeline.Snapshot](t, get(t, h, "/api/v1/snapshot"))
	assert.True(t, snap.Connected)
	assert.Len(t, snap.Packets, 2)

	health := decode[map[string]any](t, get(t, h, "/healthz"))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, true, health["connected"])

	assert.Equal(t, http.StatusMethodNotAllowed, func() int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/stats", nil))
		return rec.Code
	}())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.ObserveEvent("packet")

	rec := get(t, newTestRouter(reg), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kspectra_events_total{kind="packet"} 1`)

	assert.Equal(t, http.StatusNotFound, get(t, newTestRouter(nil), "/metrics").Code)
}

func TestNewRouterIsInstrumented(t *testing.T) {
	h := NewRouter(staticSource{snap: fixture()}, nil, nil)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
}

func TestHistoryFilter(t *testing.T) {
	snap := fixture()
	history := append([]model.Packet{
		{ID: "0", Timestamp: apiNow.Add(-2 * time.Hour), SourceIP: "192.168.1.9", DestinationIP: "10.0.0.1", Protocol: model.ProtocolARP},
	}, snap.Packets...)
	h := (&APIHandler{source: staticSource{snap: snap, history: history}, now: func() time.Time { return apiNow }, logger: zap.NewNop()}).routes(nil)

	assert.Len(t, decode[[]model.Packet](t, get(t, h, "/api/v1/history")), 3)

	got := decode[[]model.Packet](t, get(t, h, "/api/v1/history?range=1h"))
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/history?range=forever").Code)
}

func TestThrottleDiagnostics(t *testing.T) {
	state := insight.ThrottleState{
		LastCall:     apiNow.Add(-10 * time.Second),
		LastHash:     "cbf29ce484222325",
		BackoffUntil: apiNow.Add(50 * time.Second),
	}
	src := staticSource{snap: fixture(), throttle: state}
	h := (&APIHandler{source: src, now: func() time.Time { return apiNow }, logger: zap.NewNop()}).routes(nil)

	resp := decode[throttleResponse](t, get(t, h, "/api/v1/insight/throttle"))
	assert.Equal(t, state.LastHash, resp.LastHash)
	assert.True(t, resp.LastCall.Equal(state.LastCall))
	assert.True(t, resp.BackingOff)
	assert.True(t, resp.AIAvailable)

	src.throttle.BackoffUntil = apiNow.Add(-time.Second)
	h = (&APIHandler{source: src, now: func() time.Time { return apiNow }, logger: zap.NewNop()}).routes(nil)
	assert.False(t, decode[throttleResponse](t, get(t, h, "/api/v1/insight/throttle")).BackingOff)
}
