package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the pipeline.
type Metrics struct {
	EventsTotal          *prometheus.CounterVec
	EventsInvalidTotal   *prometheus.CounterVec
	TransportConnected   prometheus.Gauge
	HeuristicAlertsTotal *prometheus.CounterVec
	InsightRequestsTotal *prometheus.CounterVec
	WindowItems          *prometheus.GaugeVec
	PublishErrorsTotal   prometheus.Counter
}

// NewMetrics registers all collectors with reg. A nil reg leaves them unregistered,
// which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kspectra_events_total",
			Help: "Total number of stream events accepted, by kind",
		}, []string{"kind"}),
		EventsInvalidTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kspectra_events_invalid_total",
			Help: "Total number of stream events dropped as undecodable, by kind",
		}, []string{"kind"}),
		TransportConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "kspectra_transport_connected",
			Help: "1 while the event transport is connected",
		}),
		HeuristicAlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kspectra_heuristic_alerts_total",
			Help: "Total number of alerts raised by heuristic rules, by type",
		}, []string{"type"}),
		InsightRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kspectra_insight_requests_total",
			Help: "Insight requests by outcome",
		}, []string{"outcome"}),
		WindowItems: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kspectra_window_items",
			Help: "Items currently held in each rolling buffer",
		}, []string{"buffer"}),
		PublishErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "kspectra_publish_errors_total",
			Help: "Total number of events the probe failed to publish",
		}),
	}
}

// ObserveEvent counts an accepted event of kind.
func (m *Metrics) ObserveEvent(kind string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind).Inc()
}

// ObserveInvalid counts a dropped event of kind.
func (m *Metrics) ObserveInvalid(kind string) {
	if m == nil {
		return
	}
	m.EventsInvalidTotal.WithLabelValues(kind).Inc()
}

// SetConnected records the transport state.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.TransportConnected.Set(1)
	} else {
		m.TransportConnected.Set(0)
	}
}

// ObserveHeuristicAlert counts an alert raised by a rule.
func (m *Metrics) ObserveHeuristicAlert(alertType string) {
	if m == nil {
		return
	}
	m.HeuristicAlertsTotal.WithLabelValues(alertType).Inc()
}

// ObserveInsight counts an insight request outcome.
func (m *Metrics) ObserveInsight(outcome string) {
	if m == nil {
		return
	}
	m.InsightRequestsTotal.WithLabelValues(outcome).Inc()
}

// SetWindowItems records the size of a rolling buffer.
func (m *Metrics) SetWindowItems(buffer string, n int) {
	if m == nil {
		return
	}
	m.WindowItems.WithLabelValues(buffer).Set(float64(n))
}

// IncrementPublishErrors counts a failed probe publish.
func (m *Metrics) IncrementPublishErrors() {
	if m == nil {
		return
	}
	m.PublishErrorsTotal.Inc()
}
