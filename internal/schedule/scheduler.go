package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"KSpectra/internal/logging"

	"go.uber.org/zap"
)

// TaskFunc is one run of a periodic task. ctx is cancelled when the scheduler stops.
type TaskFunc func(ctx context.Context)

type task struct {
	name      string
	interval  time.Duration
	fn        TaskFunc
	immediate bool
}

// Scheduler runs named periodic tasks, each on its own goroutine and ticker.
// Runs of the same task never overlap.
type Scheduler struct {
	clock  Clock
	logger *zap.Logger

	mu      sync.Mutex
	tasks   []task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a scheduler driven by clock. A nil clock means RealClock.
func NewScheduler(clock Clock, logger *zap.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{clock: clock, logger: logging.OrNop(logger).Named("scheduler")}
}

// Every registers fn to run every interval. With runImmediately the first run happens on Start.
// Tasks must be registered before Start.
func (s *Scheduler) Every(name string, interval time.Duration, fn TaskFunc, runImmediately bool) error {
	if interval <= 0 {
		return fmt.Errorf("task '%s': interval must be positive, got %s", name, interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("task '%s': scheduler already started", name)
	}
	s.tasks = append(s.tasks, task{name: name, interval: interval, fn: fn, immediate: runImmediately})
	return nil
}

// Start launches every registered task. Tickers are created before Start returns.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range s.tasks {
		ticker := s.clock.NewTicker(t.interval)
		s.wg.Add(1)
		go s.run(ctx, t, ticker)
		s.logger.Info("Started task", zap.String("task", t.name), zap.Duration("interval", t.interval))
	}
}

func (s *Scheduler) run(ctx context.Context, t task, ticker Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	if t.immediate {
		t.fn(ctx)
	}
	for {
		select {
		case <-ticker.C():
			if ctx.Err() != nil {
				return
			}
			t.fn(ctx)
		case <-ctx.Done():
			s.logger.Debug("Task shutting down", zap.String("task", t.name))
			return
		}
	}
}

// Stop cancels all tasks and waits for running invocations to return. It is safe to call twice.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}
