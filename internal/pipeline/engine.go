package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"KSpectra/internal/config"
	"KSpectra/internal/detect"
	"KSpectra/internal/insight"
	"KSpectra/internal/logging"
	"KSpectra/internal/metrics"
	"KSpectra/internal/model"
	"KSpectra/internal/schedule"
	"KSpectra/internal/stats"
	"KSpectra/internal/window"

	"go.uber.org/zap"
)

// Snapshot is the complete read surface of the pipeline. Every field is a copy.
type Snapshot struct {
	Connected        bool                 `json:"connected"`
	Packets          []model.Packet       `json:"packets"`
	Alerts           []model.Alert        `json:"alerts"`
	Stats            model.AggregateStats `json:"stats"`
	HeuristicAlerts  []model.Alert        `json:"heuristicAlerts"`
	Insight          string               `json:"insight"`
	InsightUpdatedAt time.Time            `json:"insightUpdatedAt"`
	Analyzing        bool                 `json:"analyzing"`
	AIAvailable      bool                 `json:"aiAvailable"`
	Trends           []stats.TrendPoint   `json:"trends"`
}

// Options carries the optional collaborators of an Engine.
type Options struct {
	Clock   schedule.Clock
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Engine wires the rolling windows, stats aggregation, heuristics and insight throttling
// together. It is the Sink of the stream ingestor.
type Engine struct {
	store      *window.Store
	aggregator *stats.Aggregator
	trend      *stats.Trend
	detector   *detect.Engine
	throttler  *insight.Throttler
	scheduler  *schedule.Scheduler
	clock      schedule.Clock
	metrics    *metrics.Metrics
	logger     *zap.Logger

	analysisInterval time.Duration
	refreshInterval  time.Duration
	retention        time.Duration

	heuristicsMu sync.RWMutex
	heuristics   *window.Ring[model.Alert]

	connected atomic.Value // func() bool
	analyzing atomic.Bool

	insightMu     sync.RWMutex
	insightText   string
	lastDisplayed time.Time
}

// NewEngine builds the pipeline from configuration. backend answers insight prompts.
func NewEngine(cfg *config.Config, backend model.Analyzer, opts Options) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("pipeline needs an insight backend")
	}
	source, err := stats.ParseSource(cfg.Stats.Source)
	if err != nil {
		return nil, fmt.Errorf("invalid stats config: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = schedule.RealClock{}
	}
	logger := logging.OrNop(opts.Logger)

	e := &Engine{
		store: window.NewStore(window.Capacities{
			Packets: cfg.Window.PacketCapacity,
			History: cfg.Window.HistoryCapacity,
			Alerts:  cfg.Window.AlertCapacity,
		}),
		aggregator: stats.NewAggregator(source, cfg.Stats.TopN),
		trend:      stats.NewTrend(cfg.Stats.TrendPoints),
		detector: detect.NewEngine(cfg.Detector.MaxWindow, cfg.Detector.HistoryCapacity,
			detect.WithClock(clock.Now)),
		throttler: insight.NewThrottler(backend, insight.Config{
			MinInterval:      cfg.Insight.MinInterval.Std(),
			Backoff:          cfg.Insight.Backoff.Std(),
			RequestTimeout:   cfg.Insight.RequestTimeout.Std(),
			MaxPromptPackets: cfg.Insight.MaxPromptPackets,
		}, clock, logger),
		scheduler:        schedule.NewScheduler(clock, logger),
		clock:            clock,
		metrics:          opts.Metrics,
		logger:           logger.Named("pipeline"),
		analysisInterval: cfg.Insight.AnalysisInterval.Std(),
		refreshInterval:  cfg.Stats.RefreshInterval.Std(),
		retention:        cfg.Insight.DisplayRetention.Std(),
		heuristics:       window.NewRing[model.Alert](cfg.Window.HeuristicAlertCapacity),
	}
	e.SetConnectivity(func() bool { return false })
	return e, nil
}

// SetConnectivity installs the function the snapshot reads the transport state from.
func (e *Engine) SetConnectivity(fn func() bool) {
	e.connected.Store(fn)
}

// HandlePacket records a packet in the display window and the history.
func (e *Engine) HandlePacket(p model.Packet) {
	e.store.AppendPacket(p)
	e.detector.Observe(p)
	e.observeWindows()
}

// HandleAlert records a stream alert.
func (e *Engine) HandleAlert(a model.Alert) {
	e.store.AppendAlert(a)
	e.observeWindows()
}

// HandleStats folds a statistics delta into the cumulative stats.
func (e *Engine) HandleStats(s model.StatsSnapshot) {
	e.aggregator.Merge(s)
}

func (e *Engine) observeWindows() {
	if e.metrics == nil {
		return
	}
	c := e.store.Counts()
	e.metrics.SetWindowItems("packets", c.Packets)
	e.metrics.SetWindowItems("history", c.History)
	e.metrics.SetWindowItems("alerts", c.Alerts)
}

// AnalyzeOnce runs one heuristic and insight pass. It returns immediately when a previous
// pass is still running or no packets have arrived yet.
func (e *Engine) AnalyzeOnce(ctx context.Context) {
	if !e.analyzing.CompareAndSwap(false, true) {
		return
	}
	defer e.analyzing.Store(false)

	packets := e.store.RecentPackets(-1)
	if len(packets) == 0 {
		return
	}

	// heuristics pause while the insight service is degraded
	if e.throttler.Available() {
		found := e.detector.Evaluate(packets)
		if len(found) > 0 {
			e.heuristicsMu.Lock()
			for i := len(found) - 1; i >= 0; i-- {
				e.heuristics.Push(found[i])
			}
			e.heuristicsMu.Unlock()
			for _, a := range found {
				e.metrics.ObserveHeuristicAlert(string(a.Type))
				e.logger.Info("Heuristic alert raised",
					zap.String("type", string(a.Type)),
					zap.Strings("ips", a.InvolvedIPs))
			}
		}
	}

	res := e.throttler.Request(ctx, packets, e.store.RecentAlerts(-1))
	if res.Called {
		e.metrics.ObserveInsight("sent")
	}
	e.metrics.ObserveInsight(res.Outcome())
	e.displayInsight(res.Message)
}

// displayInsight replaces the shown insight unless the current one is still within its
// retention, the new text is a "nothing new" placeholder, or the text is unchanged.
func (e *Engine) displayInsight(msg string) bool {
	if msg == "" || insight.IsPlaceholder(msg) {
		return false
	}
	now := e.clock.Now()

	e.insightMu.Lock()
	defer e.insightMu.Unlock()
	if msg == e.insightText {
		return false
	}
	if !e.lastDisplayed.IsZero() && now.Sub(e.lastDisplayed) < e.retention {
		return false
	}
	e.insightText = msg
	e.lastDisplayed = now
	return true
}

// RefreshStats recomputes the stats from history when packets are the source of truth,
// and records a trend point.
func (e *Engine) RefreshStats() {
	if e.aggregator.Refresh(e.store.History(-1)) {
		e.logger.Debug("Recomputed stats from packet history")
	}
	s := e.aggregator.Snapshot()
	e.trend.Record(stats.TrendPoint{
		Timestamp:        e.clock.Now(),
		PacketsPerSecond: s.PacketsPerSecond,
		Alerts:           int(s.TotalAlerts),
	})
}

// Start schedules the analysis and stats refresh loops.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.scheduler.Every("analysis", e.analysisInterval, e.AnalyzeOnce, true); err != nil {
		return err
	}
	if err := e.scheduler.Every("stats-refresh", e.refreshInterval, func(context.Context) { e.RefreshStats() }, false); err != nil {
		return err
	}
	e.scheduler.Start(ctx)
	e.logger.Info("Pipeline started",
		zap.Duration("analysis_interval", e.analysisInterval),
		zap.Duration("refresh_interval", e.refreshInterval),
		zap.String("stats_source", string(e.aggregator.Source())))
	return nil
}

// Stop cancels the periodic loops and waits for them. An insight call in flight is abandoned.
func (e *Engine) Stop() {
	e.logger.Info("Pipeline stopping...")
	e.scheduler.Stop()
	e.logger.Info("Pipeline stopped.")
}

// Snapshot returns copies of all pipeline state.
func (e *Engine) Snapshot() Snapshot {
	e.heuristicsMu.RLock()
	heuristics := e.heuristics.All()
	e.heuristicsMu.RUnlock()

	e.insightMu.RLock()
	text, at := e.insightText, e.lastDisplayed
	e.insightMu.RUnlock()

	return Snapshot{
		Connected:        e.connected.Load().(func() bool)(),
		Packets:          e.store.RecentPackets(-1),
		Alerts:           e.store.RecentAlerts(-1),
		Stats:            e.aggregator.Snapshot(),
		HeuristicAlerts:  heuristics,
		Insight:          text,
		InsightUpdatedAt: at,
		Analyzing:        e.analyzing.Load(),
		AIAvailable:      e.throttler.Available(),
		Trends:           e.trend.Points(),
	}
}

// History returns the packet history newest first.
func (e *Engine) History() []model.Packet {
	return e.store.History(-1)
}

// ThrottleState exposes the throttler bookkeeping for diagnostics.
func (e *Engine) ThrottleState() insight.ThrottleState {
	return e.throttler.State()
}
