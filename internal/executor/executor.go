// Package executor implements the Loader Executor (SPEC_FULL.md §4.10):
// the end-to-end orchestration of one loader run, wiring the Lock Manager,
// Execution History Store, Time Window Calculator, Query Runner, Row
// Transformer, and Ingest Service together and normalizing loader state on
// every exit path.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/history"
	"github.com/vitaliisemenov/etl-signal-loader/internal/ingest"
	"github.com/vitaliisemenov/etl-signal-loader/internal/loaderstore"
	"github.com/vitaliisemenov/etl-signal-loader/internal/lock"
	"github.com/vitaliisemenov/etl-signal-loader/internal/timewindow"
	"github.com/vitaliisemenov/etl-signal-loader/internal/transform"
)

// Outcome is the terminal result of a single Run call, reported back to
// the scheduler for logging/metrics only — all durable state is already
// persisted by the time Run returns.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomePartial Outcome = "PARTIAL"
	OutcomeFailed  Outcome = "FAILED"
	OutcomeSkipped Outcome = "SKIPPED"
)

// QueryRunner is the subset of queryrunner.Runner this package depends on.
type QueryRunner interface {
	Run(ctx context.Context, dbCode, querySQL string, tzOffsetHours int, fromTime, toTime time.Time, timeout time.Duration) ([]domain.SourceRow, error)
}

// Transformer is the subset of transform.Transformer this package depends on.
type Transformer interface {
	Transform(ctx context.Context, loaderCode string, tzOffsetHours int, rows []domain.SourceRow) (*transform.Result, error)
}

// Executor runs one loader end to end.
type Executor struct {
	locks       *lock.Manager
	history     *history.Store
	store       *loaderstore.Store
	windows     *timewindow.Calculator
	runner      QueryRunner
	transformer Transformer
	ingest      *ingest.Service
	replicaName string
	queryTimeout time.Duration
	logger      *slog.Logger
}

// Config bundles the collaborators and tuning knobs for New.
type Config struct {
	Locks        *lock.Manager
	History      *history.Store
	Store        *loaderstore.Store
	Windows      *timewindow.Calculator
	Runner       QueryRunner
	Transformer  Transformer
	Ingest       *ingest.Service
	ReplicaName  string
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

// New builds an Executor.
func New(cfg Config) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 60 * time.Second
	}
	return &Executor{
		locks: cfg.Locks, history: cfg.History, store: cfg.Store, windows: cfg.Windows,
		runner: cfg.Runner, transformer: cfg.Transformer, ingest: cfg.Ingest,
		replicaName: cfg.ReplicaName, queryTimeout: cfg.QueryTimeout, logger: cfg.Logger,
	}
}

// errPartial signals the FAIL_ON_DUPLICATE ingest-conflict branch of
// §4.10's state machine, which finalizes the run as PARTIAL rather than
// FAILED and does not advance the watermark.
var errPartial = errors.New("executor: ingest refused duplicate keys")

// Run executes one pass of §4.10's pseudocode for the given loader and
// its resolved source database code. It returns OutcomeSkipped without
// touching history when another replica already holds the lock.
func (e *Executor) Run(ctx context.Context, c loaderstore.Candidate, now time.Time) (Outcome, error) {
	l := c.Loader

	handle, err := e.locks.TryAcquire(ctx, l.Code, e.replicaName)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return OutcomeSkipped, nil
		}
		return OutcomeFailed, fmt.Errorf("executor: acquire lock for %s: %w", l.Code, err)
	}
	defer func() {
		if relErr := e.locks.Release(ctx, handle); relErr != nil {
			e.logger.Error("failed to release lock", "loaderCode", l.Code, "error", relErr)
		}
	}()

	window := e.windows.Compute(l.LastLoadTimestamp, l.MaxQueryPeriodSeconds, now)

	h, err := e.history.StartRun(ctx, l.Code, l.VersionNumber, e.replicaName, window.FromTime, window.ToTime)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("executor: start history for %s: %w", l.Code, err)
	}

	if err := e.store.MarkRunning(ctx, l.Code); err != nil {
		e.logger.Error("failed to mark loader running", "loaderCode", l.Code, "error", err)
	}

	outcome, runErr := e.runPhases(ctx, l, c.SourceDBCode, window, h, now)
	return outcome, runErr
}

func (e *Executor) runPhases(ctx context.Context, l domain.Loader, sourceDBCode string, window timewindow.Window, h *domain.LoadHistory, now time.Time) (Outcome, error) {
	rows, err := e.runner.Run(ctx, sourceDBCode, l.SQL, l.SourceTimezoneOffsetHours, window.FromTime, window.ToTime, e.queryTimeout)
	if err != nil {
		e.finalizeFailed(ctx, l.Code, h.ID, now, err)
		return OutcomeFailed, err
	}

	result, err := e.transformer.Transform(ctx, l.Code, l.SourceTimezoneOffsetHours, rows)
	if err != nil {
		e.finalizeFailed(ctx, l.Code, h.ID, now, err)
		return OutcomeFailed, err
	}

	ingestResult, err := e.ingest.Ingest(ctx, l.Code, l.PurgeStrategy, h.ID, window.FromTime, window.ToTime, result.Candidates, now)
	if err != nil {
		if l.PurgeStrategy == domain.PurgeFailOnDuplicate {
			return e.finalizePartial(ctx, l.Code, h.ID, now, result, err)
		}
		e.finalizeFailed(ctx, l.Code, h.ID, now, err)
		return OutcomeFailed, err
	}

	recordsIngested := ingestResult.Inserted
	if err := e.history.Finalize(ctx, h.ID, domain.HistorySuccess, time.Now().UTC(),
		int64(len(rows)), recordsIngested, result.ObservedFrom, result.ObservedTo, nil); err != nil {
		e.logger.Error("failed to finalize history as success", "loaderCode", l.Code, "error", err)
	}
	if err := e.store.MarkSucceeded(ctx, l.Code, window.ToTime, recordsIngested); err != nil {
		e.logger.Error("failed to mark loader succeeded", "loaderCode", l.Code, "error", err)
	}
	return OutcomeSuccess, nil
}

// RunBackfill executes one operator-requested backfill over an explicit
// historical window (§3, §4.9's backfill supplement): it shares the
// query/transform/ingest pipeline and the per-loader lock with a normal
// Run, but never touches the ACTIVE loader's watermark or loadStatus —
// those belong exclusively to the scheduler's own Run path.
func (e *Executor) RunBackfill(ctx context.Context, l domain.Loader, sourceDBCode string, fromTime, toTime time.Time, purgeStrategy domain.PurgeStrategy, now time.Time) (recordsLoaded, recordsIngested int64, outcome Outcome, err error) {
	handle, err := e.locks.TryAcquire(ctx, l.Code, e.replicaName)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return 0, 0, OutcomeSkipped, lock.ErrBusy
		}
		return 0, 0, OutcomeFailed, fmt.Errorf("executor: acquire lock for backfill %s: %w", l.Code, err)
	}
	defer func() {
		if relErr := e.locks.Release(ctx, handle); relErr != nil {
			e.logger.Error("failed to release lock after backfill", "loaderCode", l.Code, "error", relErr)
		}
	}()

	h, err := e.history.StartRun(ctx, l.Code, l.VersionNumber, e.replicaName, fromTime, toTime)
	if err != nil {
		return 0, 0, OutcomeFailed, fmt.Errorf("executor: start history for backfill %s: %w", l.Code, err)
	}

	rows, err := e.runner.Run(ctx, sourceDBCode, l.SQL, l.SourceTimezoneOffsetHours, fromTime, toTime, e.queryTimeout)
	if err != nil {
		msg := err.Error()
		if finErr := e.history.Finalize(ctx, h.ID, domain.HistoryFailed, time.Now().UTC(), 0, 0, nil, nil, &msg); finErr != nil {
			e.logger.Error("failed to finalize backfill history as failed", "loaderCode", l.Code, "error", finErr)
		}
		return 0, 0, OutcomeFailed, err
	}

	result, err := e.transformer.Transform(ctx, l.Code, l.SourceTimezoneOffsetHours, rows)
	if err != nil {
		msg := err.Error()
		if finErr := e.history.Finalize(ctx, h.ID, domain.HistoryFailed, time.Now().UTC(), 0, 0, nil, nil, &msg); finErr != nil {
			e.logger.Error("failed to finalize backfill history as failed", "loaderCode", l.Code, "error", finErr)
		}
		return 0, 0, OutcomeFailed, err
	}

	ingestResult, err := e.ingest.Ingest(ctx, l.Code, purgeStrategy, h.ID, fromTime, toTime, result.Candidates, now)
	if err != nil {
		msg := err.Error()
		if finErr := e.history.Finalize(ctx, h.ID, domain.HistoryPartial, time.Now().UTC(),
			int64(len(rows)), 0, result.ObservedFrom, result.ObservedTo, &msg); finErr != nil {
			e.logger.Error("failed to finalize backfill history as partial", "loaderCode", l.Code, "error", finErr)
		}
		return int64(len(rows)), 0, OutcomePartial, err
	}

	if err := e.history.Finalize(ctx, h.ID, domain.HistorySuccess, time.Now().UTC(),
		int64(len(rows)), ingestResult.Inserted, result.ObservedFrom, result.ObservedTo, nil); err != nil {
		e.logger.Error("failed to finalize backfill history as success", "loaderCode", l.Code, "error", err)
	}
	return int64(len(rows)), ingestResult.Inserted, OutcomeSuccess, nil
}

func (e *Executor) finalizeFailed(ctx context.Context, code, historyID string, now time.Time, cause error) {
	msg := cause.Error()
	if err := e.history.Finalize(ctx, historyID, domain.HistoryFailed, time.Now().UTC(), 0, 0, nil, nil, &msg); err != nil {
		e.logger.Error("failed to finalize history as failed", "loaderCode", code, "error", err)
	}
	if err := e.store.MarkFailed(ctx, code, now); err != nil {
		e.logger.Error("failed to mark loader failed", "loaderCode", code, "error", err)
	}
}

func (e *Executor) finalizePartial(ctx context.Context, code, historyID string, now time.Time, result *transform.Result, cause error) (Outcome, error) {
	msg := cause.Error()
	if err := e.history.Finalize(ctx, historyID, domain.HistoryPartial, time.Now().UTC(), int64(len(result.Candidates)), 0, result.ObservedFrom, result.ObservedTo, &msg); err != nil {
		e.logger.Error("failed to finalize history as partial", "loaderCode", code, "error", err)
	}
	if err := e.store.MarkPartial(ctx, code); err != nil {
		e.logger.Error("failed to mark loader partial", "loaderCode", code, "error", err)
	}
	return OutcomePartial, fmt.Errorf("%w: %s", errPartial, cause)
}
