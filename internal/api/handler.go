package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"KSpectra/internal/insight"
	"KSpectra/internal/logging"
	"KSpectra/internal/model"
	"KSpectra/internal/pipeline"
	"KSpectra/internal/stats"
	"KSpectra/internal/window"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Source is the pipeline state the API reads from.
type Source interface {
	Snapshot() pipeline.Snapshot
	History() []model.Packet
	ThrottleState() insight.ThrottleState
}

// APIHandler serves the read surface of the pipeline.
type APIHandler struct {
	source Source
	now    func() time.Time
	logger *zap.Logger
}

// NewRouter builds the routes. gatherer backs /metrics; nil disables it.
func NewRouter(source Source, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	h := &APIHandler{source: source, now: time.Now, logger: logging.OrNop(logger).Named("api")}
	return otelhttp.NewHandler(h.routes(gatherer), "kspectra-api")
}

func (h *APIHandler) routes(gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/snapshot", h.snapshotHandler).Methods(http.MethodGet)
	v1.HandleFunc("/packets", h.packetsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/history", h.historyHandler).Methods(http.MethodGet)
	v1.HandleFunc("/alerts", h.alertsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/heuristics", h.heuristicsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/stats", h.statsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/stats/protocols", h.protocolsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/trends", h.trendsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/insight", h.insightHandler).Methods(http.MethodGet)
	v1.HandleFunc("/insight/throttle", h.throttleHandler).Methods(http.MethodGet)
	v1.HandleFunc("/export", h.exportHandler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.healthHandler).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *APIHandler) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.source.Snapshot())
}

// parseFilter reads protocol, src, dst and range from the query string.
func parseFilter(r *http.Request) (window.Filter, error) {
	q := r.URL.Query()
	var f window.Filter

	if p := q.Get("protocol"); p != "" && !strings.EqualFold(p, "all") {
		f.Protocol = model.Protocol(strings.ToUpper(p))
		if !f.Protocol.Valid() {
			return f, fmt.Errorf("unknown protocol '%s'", p)
		}
	}
	f.SourceIP = q.Get("src")
	f.DestinationIP = q.Get("dst")

	rng, err := window.ParseRange(q.Get("range"))
	if err != nil {
		return f, err
	}
	f.Range = rng
	return f, nil
}

func (h *APIHandler) packetsHandler(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, f.Apply(h.source.Snapshot().Packets, h.now()))
}

// historyHandler serves the longer packet history the heuristics read from.
func (h *APIHandler) historyHandler(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, f.Apply(h.source.History(), h.now()))
}

// filterAlerts keeps alerts at or above the severity named by the "severity" parameter.
func filterAlerts(r *http.Request, alerts []model.Alert) ([]model.Alert, error) {
	floor := model.Severity(strings.ToLower(r.URL.Query().Get("severity")))
	if floor == "" {
		return alerts, nil
	}
	if floor.Rank() == 0 {
		return nil, fmt.Errorf("unknown severity '%s'", floor)
	}
	out := make([]model.Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Severity.AtLeast(floor) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (h *APIHandler) alertsHandler(w http.ResponseWriter, r *http.Request) {
	alerts, err := filterAlerts(r, h.source.Snapshot().Alerts)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, alerts)
}

func (h *APIHandler) heuristicsHandler(w http.ResponseWriter, r *http.Request) {
	alerts, err := filterAlerts(r, h.source.Snapshot().HeuristicAlerts)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, alerts)
}

func (h *APIHandler) statsHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.source.Snapshot().Stats)
}

func (h *APIHandler) protocolsHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, stats.Breakdown(h.source.Snapshot().Stats.ProtocolDistribution))
}

func (h *APIHandler) trendsHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.source.Snapshot().Trends)
}

type insightResponse struct {
	Insight     string    `json:"insight"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Analyzing   bool      `json:"analyzing"`
	AIAvailable bool      `json:"aiAvailable"`
}

// renderMarkdown converts model output to HTML.
func renderMarkdown(md string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.SkipHTML})
	return markdown.ToHTML([]byte(md), p, renderer)
}

func (h *APIHandler) insightHandler(w http.ResponseWriter, r *http.Request) {
	snap := h.source.Snapshot()
	if r.URL.Query().Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(renderMarkdown(snap.Insight))
		return
	}
	h.writeJSON(w, http.StatusOK, insightResponse{
		Insight:     snap.Insight,
		UpdatedAt:   snap.InsightUpdatedAt,
		Analyzing:   snap.Analyzing,
		AIAvailable: snap.AIAvailable,
	})
}

type throttleResponse struct {
	insight.ThrottleState
	BackingOff  bool `json:"backingOff"`
	AIAvailable bool `json:"aiAvailable"`
	Analyzing   bool `json:"analyzing"`
}

func (h *APIHandler) throttleHandler(w http.ResponseWriter, r *http.Request) {
	state := h.source.ThrottleState()
	snap := h.source.Snapshot()
	h.writeJSON(w, http.StatusOK, throttleResponse{
		ThrottleState: state,
		BackingOff:    h.now().Before(state.BackoffUntil),
		AIAvailable:   snap.AIAvailable,
		Analyzing:     snap.Analyzing,
	})
}

type exportDocument struct {
	Packets    []model.Packet       `json:"packets"`
	Alerts     []model.Alert        `json:"alerts"`
	Stats      model.AggregateStats `json:"stats"`
	ExportTime time.Time            `json:"exportTime"`
}

func (h *APIHandler) exportHandler(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := h.now()
	snap := h.source.Snapshot()
	doc := exportDocument{
		Packets:    f.Apply(snap.Packets, now),
		Alerts:     snap.Alerts,
		Stats:      snap.Stats,
		ExportTime: now.UTC(),
	}
	filename := fmt.Sprintf("network-analysis-%s.json", now.UTC().Format("2006-01-02"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	h.writeJSON(w, http.StatusOK, doc)
}

func (h *APIHandler) healthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"connected": h.source.Snapshot().Connected,
	})
}
