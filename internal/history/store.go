// Package history implements the Execution History Store (SPEC_FULL.md
// §4.7): an append-only log of loader runs, opened RUNNING on lock
// acquisition and finalized exactly once to SUCCESS/FAILED/PARTIAL.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
)

// Metrics mirrors the teacher repository's per-operation duration/error
// instrumentation.
type Metrics struct {
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

func newMetrics() *Metrics {
	return &Metrics{
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "load_history_query_duration_seconds",
				Help:    "Duration of load history store operations",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation", "status"},
		),
		QueryErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "load_history_query_errors_total",
				Help: "Total number of load history store errors",
			},
			[]string{"operation"},
		),
	}
}

// Store is the Execution History Store.
type Store struct {
	db      postgres.DatabaseConnection
	logger  *slog.Logger
	metrics *Metrics
}

// New builds a Store.
func New(db postgres.DatabaseConnection, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, metrics: newMetrics()}
}

// StartRun appends a RUNNING row on lock acquisition, per §4.7.
func (s *Store) StartRun(ctx context.Context, loaderCode string, loaderVersion int, replicaName string, queryFrom, queryTo time.Time) (*domain.LoadHistory, error) {
	const operation = "start_run"
	start := time.Now()
	defer func() {
		s.metrics.QueryDuration.WithLabelValues(operation, "done").Observe(time.Since(start).Seconds())
	}()

	h := &domain.LoadHistory{
		LoaderCode:    loaderCode,
		LoaderVersion: loaderVersion,
		Status:        domain.HistoryRunning,
		StartTime:     start.UTC(),
		QueryFromTime: queryFrom,
		QueryToTime:   queryTo,
		ReplicaName:   replicaName,
	}

	err := s.db.QueryRow(ctx, insertRunningSQL,
		h.LoaderCode, h.LoaderVersion, h.Status, h.StartTime, h.QueryFromTime, h.QueryToTime, h.ReplicaName,
	).Scan(&h.ID)
	if err != nil {
		s.metrics.QueryErrors.WithLabelValues(operation).Inc()
		return nil, fmt.Errorf("history: start run for %s: %w", loaderCode, err)
	}
	s.logger.Info("load history run started", "loaderCode", loaderCode, "historyId", h.ID, "replicaName", replicaName)
	return h, nil
}

// Finalize implements §4.7's single terminal update: RUNNING flips exactly
// once to SUCCESS/FAILED/PARTIAL, stamping end time, duration, and counts.
func (s *Store) Finalize(ctx context.Context, historyID string, status domain.HistoryStatus, end time.Time, recordsLoaded, recordsIngested int64, actualFrom, actualTo *time.Time, errMsg *string) error {
	const operation = "finalize"
	start := time.Now()
	defer func() {
		s.metrics.QueryDuration.WithLabelValues(operation, "done").Observe(time.Since(start).Seconds())
	}()

	tag, err := s.db.Exec(ctx, finalizeSQL, historyID, status, end, recordsLoaded, recordsIngested, actualFrom, actualTo, errMsg)
	if err != nil {
		s.metrics.QueryErrors.WithLabelValues(operation).Inc()
		return fmt.Errorf("history: finalize %s: %w", historyID, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Warn("finalize affected no row, history already terminal or missing", "historyId", historyID)
	}
	return nil
}

// ReapStaleRunning implements §4.7's "a RUNNING row older than the stale
// threshold may be finalized to FAILED by the reaper", returning the
// loaderCodes normalized so the scheduler can log the preemption.
func (s *Store) ReapStaleRunning(ctx context.Context, staleThreshold time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-staleThreshold)

	rows, err := s.db.Query(ctx, reapStaleRunningSQL, cutoff)
	if err != nil {
		return nil, fmt.Errorf("history: reap stale running: %w", err)
	}
	defer rows.Close()

	var reaped []string
	for rows.Next() {
		var loaderCode string
		if err := rows.Scan(&loaderCode); err != nil {
			return nil, fmt.Errorf("history: scan reaped run: %w", err)
		}
		reaped = append(reaped, loaderCode)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate reaped runs: %w", err)
	}
	if len(reaped) > 0 {
		s.logger.Warn("reaped stale RUNNING history rows", "loaderCodes", reaped, "cutoff", cutoff)
	}
	return reaped, nil
}

// ListByLoader returns a loader's run history newest first, for the
// control API's VIEW_EXECUTION_LOG action.
func (s *Store) ListByLoader(ctx context.Context, loaderCode string, limit int) ([]domain.LoadHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, listByLoaderSQL, loaderCode, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list by loader %s: %w", loaderCode, err)
	}
	defer rows.Close()

	var out []domain.LoadHistory
	for rows.Next() {
		var h domain.LoadHistory
		if err := rows.Scan(
			&h.ID, &h.LoaderCode, &h.LoaderVersion, &h.Status, &h.ReplicaName,
			&h.StartTime, &h.EndTime, &h.QueryFromTime, &h.QueryToTime,
			&h.ActualFromTime, &h.ActualToTime, &h.DurationSeconds,
			&h.RecordsLoaded, &h.RecordsIngested, &h.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("history: scan history row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

var (
	listByLoaderSQL = `
		SELECT id, loader_code, loader_version, status, replica_name,
		       start_time, end_time, query_from_time, query_to_time,
		       actual_from_time, actual_to_time, duration_seconds,
		       records_loaded, records_ingested, error_message
		FROM loader.load_history
		WHERE loader_code = $1
		ORDER BY start_time DESC
		LIMIT $2`

	insertRunningSQL = `
		INSERT INTO loader.load_history
			(loader_code, loader_version, status, start_time, query_from_time, query_to_time, replica_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	finalizeSQL = `
		UPDATE loader.load_history
		SET status = $2, end_time = $3, duration_seconds = EXTRACT(EPOCH FROM ($3 - start_time)),
		    records_loaded = $4, records_ingested = $5, actual_from_time = $6, actual_to_time = $7,
		    error_message = $8
		WHERE id = $1 AND status = 'RUNNING'`

	reapStaleRunningSQL = `
		UPDATE loader.load_history
		SET status = 'FAILED', end_time = now(),
		    duration_seconds = EXTRACT(EPOCH FROM (now() - start_time)),
		    error_message = 'reaped: stale RUNNING row with no live lock'
		WHERE status = 'RUNNING' AND start_time < $1
		RETURNING loader_code`
)
