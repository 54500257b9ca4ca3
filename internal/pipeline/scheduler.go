package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Lllllllleong/slideflow/internal/metrics"
)

const (
	DefaultConcurrency  = 3
	DefaultPollInterval = 300 * time.Millisecond
)

// Advancer performs one stage advancement for a unit. *Machine implements it.
type Advancer interface {
	Advance(ctx context.Context, id string) error
}

// SchedulerConfig controls dispatch. Zero values fall back to the defaults.
type SchedulerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Pipeline
}

// Scheduler repeatedly scans the store and dispatches eligible units to the
// Advancer, never exceeding Concurrency advancements in flight and never
// running two advancements for the same unit at once.
//
// The scheduler reacts only to the stages it observes, so units changed out
// of band (retries, manual re-runs) are picked up on the next tick.
type Scheduler struct {
	store    *Store
	advancer Advancer
	limit    int
	poll     time.Duration
	sem      *semaphore.Weighted
	logger   *slog.Logger
	metrics  *metrics.Pipeline

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a Scheduler for the units in store.
func NewScheduler(store *Store, advancer Advancer, cfg SchedulerConfig) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewPipeline(nil)
	}
	return &Scheduler{
		store:    store,
		advancer: advancer,
		limit:    cfg.Concurrency,
		poll:     cfg.PollInterval,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger:   logger,
		metrics:  m,
		inFlight: make(map[string]struct{}),
	}
}

// Run ticks every poll interval until ctx is cancelled, then waits for
// in-flight advancements to finish.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	defer s.Wait()

	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunUntilSettled ticks until no unit is eligible and nothing is in flight.
// Units left in error or other non-automatic stages do not keep it running.
func (s *Scheduler) RunUntilSettled(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	defer s.Wait()

	for {
		s.Tick(ctx)
		if s.Settled() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick dispatches eligible units in document order while slots are free and
// returns how many were dispatched.
func (s *Scheduler) Tick(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	dispatched := 0
	for _, u := range s.store.Snapshot() {
		if !Eligible(u.Stage) {
			continue
		}
		if !s.sem.TryAcquire(1) {
			break
		}
		if !s.markInFlight(u.ID) {
			s.sem.Release(1)
			continue
		}
		dispatched++
		s.dispatch(ctx, u.ID)
	}
	return dispatched
}

func (s *Scheduler) dispatch(ctx context.Context, id string) {
	s.metrics.Dispatches.Inc()
	s.metrics.InFlight.Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(id)

		err := s.advancer.Advance(ctx, id)
		switch {
		case err == nil:
			s.metrics.Advancements.WithLabelValues("ok").Inc()
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotDispatchable):
			// The unit changed underneath the dispatch; the next tick re-evaluates it.
			s.metrics.Advancements.WithLabelValues("skipped").Inc()
			s.logger.Debug("Advancement skipped.", "unitId", id, "reason", err)
		default:
			s.metrics.Advancements.WithLabelValues("error").Inc()
			s.logger.Warn("Advancement failed.", "unitId", id, "error", err)
		}
	}()
}

func (s *Scheduler) markInFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
	s.sem.Release(1)
	s.metrics.InFlight.Dec()
}

// Concurrency returns the maximum number of simultaneous advancements.
func (s *Scheduler) Concurrency() int {
	return s.limit
}

// InFlight returns the number of advancements currently running.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// IsInFlight reports whether the unit is being advanced right now.
func (s *Scheduler) IsInFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[id]
	return ok
}

// Settled reports whether nothing is in flight and no unit is eligible.
func (s *Scheduler) Settled() bool {
	if s.InFlight() > 0 {
		return false
	}
	for _, u := range s.store.Snapshot() {
		if Eligible(u.Stage) {
			return false
		}
	}
	return true
}

// Wait blocks until every dispatched advancement has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
