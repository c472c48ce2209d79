// Package backfillstore implements storage for operator-requested backfill
// jobs (SPEC_FULL.md §3, §4.9): an explicit re-run of a loader over a
// caller-supplied historical window, queued PENDING and carried through
// RUNNING to a terminal status by the same executor the scheduler uses.
package backfillstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
)

// Metrics mirrors the teacher repository's per-operation duration/error
// instrumentation, reused here the same way internal/history applies it.
type Metrics struct {
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

func newMetrics() *Metrics {
	return &Metrics{
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backfill_job_query_duration_seconds",
				Help:    "Duration of backfill job store operations",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation", "status"},
		),
		QueryErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backfill_job_query_errors_total",
				Help: "Total number of backfill job store errors",
			},
			[]string{"operation"},
		),
	}
}

// Store is the backfill job repository.
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

// Create queues a new PENDING backfill job for later pickup.
func (s *Store) Create(ctx context.Context, job *domain.BackfillJob) (*domain.BackfillJob, error) {
	const operation = "create"
	start := time.Now()
	defer func() {
		s.metrics.QueryDuration.WithLabelValues(operation, "done").Observe(time.Since(start).Seconds())
	}()

	row := s.db.QueryRow(ctx, insertSQL,
		job.LoaderCode, job.FromTimeEpoch, job.ToTimeEpoch, job.PurgeStrategy, job.RequestedBy)
	j, err := scanBackfill(row, &domain.BackfillJob{})
	if err != nil {
		s.metrics.QueryErrors.WithLabelValues(operation).Inc()
		return nil, fmt.Errorf("backfillstore: create for %s: %w", job.LoaderCode, err)
	}
	s.logger.Info("backfill job queued", "loaderCode", j.LoaderCode, "jobId", j.ID, "requestedBy", j.RequestedBy)
	return j, nil
}

// Get fetches a single job by id. Returns nil, nil if no such job exists.
func (s *Store) Get(ctx context.Context, id string) (*domain.BackfillJob, error) {
	row := s.db.QueryRow(ctx, selectByIDSQL, id)
	j, err := scanBackfillOptional(row)
	if err != nil {
		return nil, fmt.Errorf("backfillstore: get %s: %w", id, err)
	}
	return j, nil
}

// ListByLoader returns a loader's backfill jobs newest first, for the
// control API's history view.
func (s *Store) ListByLoader(ctx context.Context, loaderCode string, limit int) ([]domain.BackfillJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, listByLoaderSQL, loaderCode, limit)
	if err != nil {
		return nil, fmt.Errorf("backfillstore: list by loader %s: %w", loaderCode, err)
	}
	defer rows.Close()

	var out []domain.BackfillJob
	for rows.Next() {
		var j domain.BackfillJob
		if err := scanBackfillRow(rows, &j); err != nil {
			return nil, fmt.Errorf("backfillstore: scan job row: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ClaimNextPending atomically picks the oldest PENDING job and flips it to
// RUNNING, mirroring the lock manager's "claim one row, skip if taken"
// shape so two replicas never run the same backfill twice.
func (s *Store) ClaimNextPending(ctx context.Context) (*domain.BackfillJob, error) {
	row := s.db.QueryRow(ctx, claimNextPendingSQL, time.Now().UTC())
	j, err := scanBackfillOptional(row)
	if err != nil {
		return nil, fmt.Errorf("backfillstore: claim next pending: %w", err)
	}
	return j, nil
}

// Finalize records a backfill run's terminal outcome exactly once.
func (s *Store) Finalize(ctx context.Context, id string, status domain.BackfillStatus, recordsLoaded, recordsIngested int, errMsg *string) error {
	tag, err := s.db.Exec(ctx, finalizeSQL, id, status, time.Now().UTC(), recordsLoaded, recordsIngested, errMsg)
	if err != nil {
		return fmt.Errorf("backfillstore: finalize %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Warn("backfill finalize affected no row, job already terminal or missing", "jobId", id)
	}
	return nil
}

// Cancel moves a still-PENDING job straight to CANCELLED without ever
// running it. Returns nil, nil if the job is missing or already past
// PENDING (cancellation only applies before a run starts).
func (s *Store) Cancel(ctx context.Context, id string) (*domain.BackfillJob, error) {
	row := s.db.QueryRow(ctx, cancelSQL, id)
	j, err := scanBackfillOptional(row)
	if err != nil {
		return nil, fmt.Errorf("backfillstore: cancel %s: %w", id, err)
	}
	return j, nil
}

func scanBackfillRow(row pgx.Rows, j *domain.BackfillJob) error {
	return row.Scan(
		&j.ID, &j.LoaderCode, &j.FromTimeEpoch, &j.ToTimeEpoch, &j.PurgeStrategy, &j.Status,
		&j.RequestedBy, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
		&j.RecordsLoaded, &j.RecordsIngested, &j.ErrorMessage,
	)
}

func scanBackfill(row pgx.Row, j *domain.BackfillJob) (*domain.BackfillJob, error) {
	err := row.Scan(
		&j.ID, &j.LoaderCode, &j.FromTimeEpoch, &j.ToTimeEpoch, &j.PurgeStrategy, &j.Status,
		&j.RequestedBy, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
		&j.RecordsLoaded, &j.RecordsIngested, &j.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func scanBackfillOptional(row pgx.Row) (*domain.BackfillJob, error) {
	j, err := scanBackfill(row, &domain.BackfillJob{})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

const backfillColumns = `id, loader_code, from_time_epoch, to_time_epoch, purge_strategy, status,
	requested_by, created_at, started_at, finished_at, records_loaded, records_ingested, error_message`

var (
	insertSQL = `
		INSERT INTO loader.backfill_job (loader_code, from_time_epoch, to_time_epoch, purge_strategy, requested_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + backfillColumns

	selectByIDSQL = `SELECT ` + backfillColumns + ` FROM loader.backfill_job WHERE id = $1`

	listByLoaderSQL = `
		SELECT ` + backfillColumns + `
		FROM loader.backfill_job
		WHERE loader_code = $1
		ORDER BY created_at DESC
		LIMIT $2`

	claimNextPendingSQL = `
		UPDATE loader.backfill_job
		SET status = 'RUNNING', started_at = $1
		WHERE id = (
			SELECT id FROM loader.backfill_job
			WHERE status = 'PENDING'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + backfillColumns

	finalizeSQL = `
		UPDATE loader.backfill_job
		SET status = $2, finished_at = $3, records_loaded = $4, records_ingested = $5, error_message = $6
		WHERE id = $1 AND status = 'RUNNING'`

	cancelSQL = `
		UPDATE loader.backfill_job
		SET status = 'CANCELLED', finished_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + backfillColumns
)
