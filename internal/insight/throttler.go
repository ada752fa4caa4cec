package insight

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"KSpectra/internal/logging"
	"KSpectra/internal/model"
	"KSpectra/internal/schedule"

	"go.uber.org/zap"
)

// State is the throttler gate that decided a request.
type State string

const (
	StateReady     State = "ready"
	StateThrottled State = "throttled"
	StateDeduped   State = "deduped"
	StateBackoff   State = "backoff"
	StateInFlight  State = "in_flight"
)

// Placeholder texts returned instead of a model answer.
const (
	MsgBackoff   = "AI temporarily paused due to rate limiting."
	MsgThrottled = "Waiting to avoid frequent AI requests..."
	MsgDeduped   = "No significant network changes detected."
	MsgInFlight  = "AI analysis already in progress."
	MsgFailure   = "Error contacting AI API."
	MsgEmpty     = "No insights available."
)

// IsPlaceholder reports whether msg is a "nothing new" placeholder that should not
// replace a real insight on display.
func IsPlaceholder(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "no significant")
}

const (
	DefaultMinInterval = 15 * time.Second
	DefaultBackoff     = 60 * time.Second
)

// ThrottleState is the bookkeeping the throttler gates on.
type ThrottleState struct {
	LastCall     time.Time `json:"lastCall"`
	LastHash     string    `json:"lastHash"`
	BackoffUntil time.Time `json:"backoffUntil"`
}

// Result describes the outcome of one Request.
type Result struct {
	State   State
	Message string
	// Called is true when the backend was actually invoked.
	Called bool
	Err    error
}

// Outcome returns a short label suitable for metrics.
func (r Result) Outcome() string {
	if !r.Called {
		return string(r.State)
	}
	switch {
	case r.Err == nil:
		return "ok"
	case errors.Is(r.Err, ErrRateLimited):
		return "rate_limited"
	default:
		return "failed"
	}
}

// Config tunes a Throttler. Zero values take the defaults.
type Config struct {
	MinInterval      time.Duration
	Backoff          time.Duration
	RequestTimeout   time.Duration
	MaxPromptPackets int
}

// Throttler gates calls to an insight backend: one call in flight, a minimum interval
// between calls, no repeat of an identical prompt, and a pause after rate limiting.
type Throttler struct {
	backend model.Analyzer
	clock   schedule.Clock
	cfg     Config
	logger  *zap.Logger

	mu        sync.Mutex
	state     ThrottleState
	inFlight  bool
	available bool
}

// NewThrottler creates a throttler in front of backend. A nil clock means the system clock.
func NewThrottler(backend model.Analyzer, cfg Config, clock schedule.Clock, logger *zap.Logger) *Throttler {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxPromptPackets <= 0 {
		cfg.MaxPromptPackets = DefaultMaxPromptPackets
	}
	if clock == nil {
		clock = schedule.RealClock{}
	}
	return &Throttler{
		backend:   backend,
		clock:     clock,
		cfg:       cfg,
		logger:    logging.OrNop(logger).Named("throttler"),
		available: true,
	}
}

// Request asks for an insight on packets (newest first) and alerts. It blocks only when
// the backend is actually called.
func (t *Throttler) Request(ctx context.Context, packets []model.Packet, alerts []model.Alert) Result {
	t.mu.Lock()
	if t.inFlight {
		t.mu.Unlock()
		return Result{State: StateInFlight, Message: MsgInFlight}
	}

	now := t.clock.Now()
	if now.Before(t.state.BackoffUntil) {
		t.mu.Unlock()
		t.logger.Debug("Backoff active, skipping insight call", zap.Time("until", t.state.BackoffUntil))
		return Result{State: StateBackoff, Message: MsgBackoff}
	}
	if !t.state.LastCall.IsZero() && now.Sub(t.state.LastCall) < t.cfg.MinInterval {
		t.mu.Unlock()
		return Result{State: StateThrottled, Message: MsgThrottled}
	}

	prompt := BuildPrompt(packets, alerts, t.cfg.MaxPromptPackets)
	hash := HashPrompt(prompt)
	if hash == t.state.LastHash {
		t.mu.Unlock()
		return Result{State: StateDeduped, Message: MsgDeduped}
	}

	t.state.LastHash = hash
	t.state.LastCall = now
	t.inFlight = true
	t.mu.Unlock()

	callCtx := ctx
	if t.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t.cfg.RequestTimeout)
		defer cancel()
	}
	msg, err := t.backend.AnalyzeTraffic(callCtx, prompt)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight = false

	switch {
	case err == nil:
		t.available = true
		if msg == "" {
			msg = MsgEmpty
		}
		return Result{State: StateReady, Message: msg, Called: true}
	case errors.Is(err, ErrRateLimited):
		t.state.BackoffUntil = t.clock.Now().Add(t.cfg.Backoff)
		t.logger.Warn("Insight service rate limited, backing off",
			zap.Duration("backoff", t.cfg.Backoff))
		return Result{State: StateBackoff, Message: MsgBackoff, Called: true, Err: err}
	case ctx.Err() != nil:
		// abandoned by shutdown; availability is unknown, not degraded
		t.logger.Debug("Insight call abandoned", zap.Error(err))
		return Result{State: StateReady, Message: MsgFailure, Called: true, Err: err}
	default:
		t.available = false
		t.logger.Error("Insight call failed", zap.Error(err))
		return Result{State: StateReady, Message: MsgFailure, Called: true, Err: err}
	}
}

// Available reports whether the last completed call did not hard-fail.
func (t *Throttler) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.available
}

// InFlight reports whether a backend call is running.
func (t *Throttler) InFlight() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}

// State returns a copy of the throttle bookkeeping.
func (t *Throttler) State() ThrottleState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
