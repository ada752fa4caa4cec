package detect

import (
	"sync"
	"time"

	"KSpectra/internal/model"
	"KSpectra/internal/window"

	"github.com/google/uuid"
)

const (
	DefaultMaxWindow       = 10
	DefaultHistoryCapacity = 100
)

// Engine evaluates heuristic rules over the most recent packets.
// Evaluate keeps no state between calls; the packet history is context only.
type Engine struct {
	rules     []Rule
	maxWindow int

	mu      sync.RWMutex
	history *window.Ring[model.Packet]

	newID func() string
	now   func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithIDGenerator replaces uuid.NewString as the alert id source.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithClock replaces time.Now as the alert timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

// WithRules replaces the default rule set.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) { e.rules = rules }
}

// NewEngine creates an engine with the ARP burst and port fan-out rules.
func NewEngine(maxWindow, historyCapacity int, opts ...Option) *Engine {
	if maxWindow <= 0 {
		maxWindow = DefaultMaxWindow
	}
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	e := &Engine{
		rules:     []Rule{NewARPBurstRule(), NewPortFanoutRule()},
		maxWindow: maxWindow,
		history:   window.NewRing[model.Packet](historyCapacity),
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs every rule over the first maxWindow packets of w, which is ordered newest first.
// Alerts are returned in rule order.
func (e *Engine) Evaluate(w []model.Packet) []model.Alert {
	if len(w) > e.maxWindow {
		w = w[:e.maxWindow]
	}
	if len(w) == 0 {
		return nil
	}

	var alerts []model.Alert
	ts := e.now()
	for _, r := range e.rules {
		a, ok := r.Match(w)
		if !ok {
			continue
		}
		a.ID = e.newID()
		a.Timestamp = ts
		alerts = append(alerts, a)
	}
	return alerts
}

// Observe appends packets, given oldest first, to the context history.
func (e *Engine) Observe(packets ...model.Packet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range packets {
		e.history.Push(p)
	}
}

// History returns the context history newest first.
func (e *Engine) History() []model.Packet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.All()
}
