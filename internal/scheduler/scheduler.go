// Package scheduler implements the Scheduler (SPEC_FULL.md §4.9): a
// per-replica polling loop over a bounded worker pool, feeding due loaders
// to the Loader Executor.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vitaliisemenov/etl-signal-loader/internal/loaderstore"
)

// Runner is the subset of executor.Executor the scheduler depends on.
type Runner interface {
	Run(ctx context.Context, c loaderstore.Candidate, now time.Time) (outcome string, err error)
}

// executorFunc adapts a function to Runner, used so the scheduler does not
// need to import the concrete executor.Outcome type just to widen it to
// string for logging.
type executorFunc func(ctx context.Context, c loaderstore.Candidate, now time.Time) (string, error)

func (f executorFunc) Run(ctx context.Context, c loaderstore.Candidate, now time.Time) (string, error) {
	return f(ctx, c, now)
}

// NewRunner adapts any function matching the Loader Executor's Run
// signature (outcome type widened to a fmt.Stringer-compatible string) into
// a Runner.
func NewRunner(run func(ctx context.Context, c loaderstore.Candidate, now time.Time) (string, error)) Runner {
	return executorFunc(run)
}

// Config controls polling cadence, worker pool sizing, and backoff.
type Config struct {
	PollInterval time.Duration // default 1s, per §4.9
	Workers      int           // default 10 core workers, per §5
	QueueSize    int           // default 50, per §5's "10 core / 50 max"

	// BackoffBase/BackoffCap implement §4.9's "exponential with a cap" FAILED
	// retry gate: the nth consecutive failure waits
	// min(BackoffCap, BackoffBase*2^n).
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 50
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Minute
	}
}

// Store is the subset of loaderstore.Store the scheduler depends on.
type Store interface {
	ListSchedulable(ctx context.Context) ([]loaderstore.Candidate, error)
}

// Scheduler is one replica's polling loop and worker pool.
type Scheduler struct {
	store  Store
	runner Runner
	cfg    Config
	logger *slog.Logger

	jobs chan loaderstore.Candidate

	mu      sync.Mutex
	inFlight map[string]bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Scheduler. Workers are not started until Start is called.
func New(store Store, runner Runner, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store: store, runner: runner, cfg: cfg, logger: logger,
		jobs:     make(chan loaderstore.Candidate, cfg.QueueSize),
		inFlight: make(map[string]bool),
		stop:     make(chan struct{}),
	}
}

// backoff implements §4.9's exponential backoff with a cap, keyed off how
// long the loader has been in FAILED.
func (s *Scheduler) backoff(failedSince time.Time) time.Duration {
	elapsed := time.Since(failedSince)
	delay := s.cfg.BackoffBase
	for delay < elapsed && delay < s.cfg.BackoffCap {
		delay *= 2
	}
	if delay > s.cfg.BackoffCap {
		delay = s.cfg.BackoffCap
	}
	return delay
}

// Start launches the poll loop and the worker pool. It returns
// immediately; call Stop for graceful shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.wg.Add(1)
	go s.pollLoop(ctx)

	s.logger.Info("scheduler started", "workers", s.cfg.Workers, "queueSize", s.cfg.QueueSize,
		"pollInterval", s.cfg.PollInterval)
}

// Stop signals the poll loop and workers to exit and waits up to
// gracePeriod for in-flight jobs to finish.
func (s *Scheduler) Stop(gracePeriod time.Duration) error {
	close(s.stop)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped gracefully")
		return nil
	case <-time.After(gracePeriod):
		s.logger.Warn("scheduler stop timed out, in-flight runs may be abandoned", "gracePeriod", gracePeriod)
		return fmt.Errorf("scheduler: stop timeout after %s", gracePeriod)
	}
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick implements §4.9 steps 1–4: fetch schedulable loaders, filter to
// due ones not already running on this replica, sort for fairness, and
// submit as many as the queue has room for.
func (s *Scheduler) tick(ctx context.Context) {
	candidates, err := s.store.ListSchedulable(ctx)
	if err != nil {
		s.logger.Error("failed to list schedulable loaders", "error", err)
		return
	}

	now := time.Now().UTC()
	due := make([]loaderstore.Candidate, 0, len(candidates))

	s.mu.Lock()
	for _, c := range candidates {
		if s.inFlight[c.Loader.Code] {
			continue
		}
		if c.Loader.Due(now, s.backoff) {
			due = append(due, c)
		}
	}
	s.mu.Unlock()

	sortByPriority(due)

	for _, c := range due {
		select {
		case s.jobs <- c:
			s.mu.Lock()
			s.inFlight[c.Loader.Code] = true
			s.mu.Unlock()
		default:
			s.logger.Warn("worker queue full, deferring loader to next tick", "loaderCode", c.Loader.Code)
			return
		}
	}
}

// sortByPriority implements §4.9 step 3: priority is maxIntervalSeconds
// ascending (tighter schedules win ties), then oldest lastLoadTimestamp
// first to prevent starvation.
func sortByPriority(candidates []loaderstore.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].Loader, candidates[j].Loader
		if a.MaxIntervalSeconds != b.MaxIntervalSeconds {
			return a.MaxIntervalSeconds < b.MaxIntervalSeconds
		}
		switch {
		case a.LastLoadTimestamp == nil:
			return true
		case b.LastLoadTimestamp == nil:
			return false
		default:
			return a.LastLoadTimestamp.Before(*b.LastLoadTimestamp)
		}
	})
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case c, ok := <-s.jobs:
			if !ok {
				return
			}
			s.runJob(ctx, id, c)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, workerID int, c loaderstore.Candidate) {
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, c.Loader.Code)
		s.mu.Unlock()
	}()

	start := time.Now()
	outcome, err := s.runner.Run(ctx, c, start)
	if err != nil {
		s.logger.Error("loader run finished with error", "workerId", workerID, "loaderCode", c.Loader.Code,
			"outcome", outcome, "duration", time.Since(start), "error", err)
		return
	}
	s.logger.Info("loader run finished", "workerId", workerID, "loaderCode", c.Loader.Code,
		"outcome", outcome, "duration", time.Since(start))
}
