package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazz-dev/gatecheck/internal/config"
	"github.com/hazz-dev/gatecheck/internal/orchestrator"
	"github.com/hazz-dev/gatecheck/internal/storage"
)

// Store defines the storage operations required by the scheduler.
type Store interface {
	InsertActivation(ctx context.Context, a orchestrator.Activation) error
	LatestActivation(ctx context.Context) (*storage.Record, error)
}

// Runner performs one activation.
type Runner interface {
	Run(ctx context.Context, ep config.Endpoint) orchestrator.Activation
}

// Scheduler triggers activations: once at start, on every tick of the watch
// interval, and on demand through Activate. Each trigger is a fresh
// activation; nothing is retried.
type Scheduler struct {
	runner   Runner
	endpoint config.Endpoint
	interval time.Duration
	store    Store
	onResult func(orchestrator.Activation, *orchestrator.Outcome)
	logger   *slog.Logger
	wg       sync.WaitGroup

	mu   sync.Mutex
	prev *orchestrator.Outcome
}

// New creates a new Scheduler. A zero interval disables periodic activations.
// A nil store disables history; pass nil logger to use the default logger.
func New(runner Runner, ep config.Endpoint, interval time.Duration, store Store, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		endpoint: ep,
		interval: interval,
		store:    store,
		logger:   logger,
	}
}

// SetOnResult sets the callback invoked after each published activation.
// prev is the previous outcome (nil when there is none).
func (s *Scheduler) SetOnResult(fn func(orchestrator.Activation, *orchestrator.Outcome)) {
	s.onResult = fn
}

// Start runs the first activation in the background and, when an interval is
// configured, keeps re-activating until ctx is done. It is non-blocking.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Wait blocks until the background loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	// Run immediately.
	s.Activate(ctx)

	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Activate(ctx)
		}
	}
}

// Activate runs one activation, records it, and notifies the result callback.
// Stale activations are returned but neither stored nor reported.
//
// The activation is detached from ctx cancellation: a caller that goes away
// (an HTTP client disconnecting, shutdown) must not publish a failure for a
// healthy backend. Each call stays bounded by the endpoint timeout.
func (s *Scheduler) Activate(ctx context.Context) orchestrator.Activation {
	ctx = context.WithoutCancel(ctx)
	prev := s.previousOutcome(ctx)

	act := s.runner.Run(ctx, s.endpoint)
	if act.Stale {
		return act
	}

	s.mu.Lock()
	outcome := act.Outcome
	s.prev = &outcome
	s.mu.Unlock()

	if s.store != nil {
		storeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.store.InsertActivation(storeCtx, act); err != nil {
			s.logger.Error("storing activation", "activation", act.ID, "error", err)
		}
		cancel()
	}

	if s.onResult != nil {
		s.onResult(act, prev)
	}
	return act
}

func (s *Scheduler) previousOutcome(ctx context.Context) *orchestrator.Outcome {
	s.mu.Lock()
	prev := s.prev
	s.mu.Unlock()
	if prev != nil || s.store == nil {
		return prev
	}

	rec, err := s.store.LatestActivation(ctx)
	if err != nil {
		s.logger.Warn("fetching previous activation", "error", err)
		return nil
	}
	if rec == nil {
		return nil
	}
	outcome := orchestrator.Outcome(rec.Outcome)
	return &outcome
}
