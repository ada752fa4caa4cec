package schedule

import (
	"sort"
	"sync"
	"time"
)

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock abstracts wall time so periodic work can be driven virtually in tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// RealClock is the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// FakeClock is a virtual clock. Time only moves through Advance and Set.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

// NewFakeClock creates a virtual clock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("schedule: non-positive ticker interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{
		clock:    f,
		interval: d,
		next:     f.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	f.tickers = append(f.tickers, t)
	return t
}

// Advance moves the clock forward by d, firing every ticker deadline passed on the way.
// A ticker whose previous tick has not been received drops the new one, like time.Ticker.
func (f *FakeClock) Advance(d time.Duration) {
	f.Set(f.Now().Add(d))
}

// Set moves the clock to t. Moving backwards only changes Now.
func (f *FakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !t.After(f.now) {
		f.now = t
		return
	}

	for {
		due := f.dueTickers(t)
		if len(due) == 0 {
			break
		}
		tk := due[0]
		f.now = tk.next
		tk.fire(tk.next)
		tk.next = tk.next.Add(tk.interval)
	}
	f.now = t
}

// dueTickers returns live tickers with a deadline at or before t, earliest first.
func (f *FakeClock) dueTickers(t time.Time) []*fakeTicker {
	var due []*fakeTicker
	for _, tk := range f.tickers {
		if !tk.stopped && !tk.next.After(t) {
			due = append(due, tk)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].next.Before(due[j].next) })
	return due
}

func (f *FakeClock) removeTicker(t *fakeTicker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.stopped = true
	for i, tk := range f.tickers {
		if tk == t {
			f.tickers = append(f.tickers[:i], f.tickers[i+1:]...)
			return
		}
	}
}

type fakeTicker struct {
	clock    *FakeClock
	interval time.Duration
	next     time.Time
	ch       chan time.Time
	stopped  bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() { t.clock.removeTicker(t) }

func (t *fakeTicker) fire(at time.Time) {
	select {
	case t.ch <- at:
	default:
	}
}
