// Package loaderstore is the runtime-state half of the loader.loader table:
// it answers the Scheduler's "who is due" query and applies the Loader
// Executor's post-run state transitions (SPEC_FULL.md §4.9/§4.10). The
// Active/Draft/Archive version workflow (§4.11) lives in package
// configversioning; this package only ever touches ACTIVE rows.
package loaderstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
)

// Candidate is one ACTIVE, enabled loader joined against its source
// database's business code, which the Query Runner addresses pools by.
type Candidate struct {
	Loader       domain.Loader
	SourceDBCode string
}

// Store is the runtime-state repository for loader.loader.
type Store struct {
	db     postgres.DatabaseConnection
	logger *slog.Logger
}

// New builds a Store.
func New(db postgres.DatabaseConnection, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// ListSchedulable returns every ACTIVE, enabled loader whose loadStatus is
// IDLE or FAILED, per §4.9 step 1. The interval/backoff "due" check and
// the priority sort are left to the caller (domain.Loader.Due and the
// scheduler's sort), since both depend on the current instant and on a
// backoff function the repository has no business knowing about.
func (s *Store) ListSchedulable(ctx context.Context) ([]Candidate, error) {
	rows, err := s.db.Query(ctx, listSchedulableSQL)
	if err != nil {
		return nil, fmt.Errorf("loaderstore: list schedulable: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		l := &c.Loader
		if err := rows.Scan(
			&l.ID, &l.Code, &l.SQL, &l.SourceDatabaseID,
			&l.MinIntervalSeconds, &l.MaxIntervalSeconds, &l.MaxQueryPeriodSeconds,
			&l.MaxParallelExecutions, &l.SourceTimezoneOffsetHours, &l.AggregationPeriodSeconds,
			&l.PurgeStrategy, &l.Enabled, &l.LoadStatus, &l.LastLoadTimestamp, &l.FailedSince,
			&l.ConsecutiveZeroRecordRuns, &l.ConsecutiveFailures,
			&l.VersionStatus, &l.VersionNumber, &l.ParentVersionID,
			&l.ApprovalStatus, &l.ApprovedBy, &l.ApprovedAt,
			&l.CreatedAt, &l.UpdatedAt, &c.SourceDBCode,
		); err != nil {
			return nil, fmt.Errorf("loaderstore: scan schedulable row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkRunning flips a loader to RUNNING as the executor takes the lock.
func (s *Store) MarkRunning(ctx context.Context, code string) error {
	_, err := s.db.Exec(ctx, `UPDATE loader.loader SET load_status = 'RUNNING', updated_at = now()
		WHERE code = $1 AND version_status = 'ACTIVE'`, code)
	if err != nil {
		return fmt.Errorf("loaderstore: mark running %s: %w", code, err)
	}
	return nil
}

// MarkSucceeded implements §4.10's success path: the watermark advances to
// toTime even when zero rows were produced, and the zero-record streak
// increments or resets accordingly.
func (s *Store) MarkSucceeded(ctx context.Context, code string, toTime time.Time, recordCount int64) error {
	zeroRun := recordCount == 0
	_, err := s.db.Exec(ctx, `
		UPDATE loader.loader
		SET load_status = 'IDLE', failed_since = NULL, consecutive_failures = 0,
		    last_load_timestamp = $2,
		    consecutive_zero_record_runs = CASE WHEN $3 THEN consecutive_zero_record_runs + 1 ELSE 0 END,
		    updated_at = now()
		WHERE code = $1 AND version_status = 'ACTIVE'`, code, toTime.UTC(), zeroRun)
	if err != nil {
		return fmt.Errorf("loaderstore: mark succeeded %s: %w", code, err)
	}
	return nil
}

// MarkPartial implements §4.10's FAIL_ON_DUPLICATE ingest-conflict path:
// the loader returns to IDLE without advancing the watermark, so the next
// tick retries the same window.
func (s *Store) MarkPartial(ctx context.Context, code string) error {
	_, err := s.db.Exec(ctx, `UPDATE loader.loader SET load_status = 'IDLE', updated_at = now()
		WHERE code = $1 AND version_status = 'ACTIVE'`, code)
	if err != nil {
		return fmt.Errorf("loaderstore: mark partial %s: %w", code, err)
	}
	return nil
}

// MarkFailed implements §4.10's failure path: failedSince is set only on
// the first failure of a streak, and consecutiveFailures increments so
// operators can distinguish a blip from a chronic failure.
func (s *Store) MarkFailed(ctx context.Context, code string, now time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE loader.loader
		SET load_status = 'FAILED',
		    failed_since = COALESCE(failed_since, $2),
		    consecutive_failures = consecutive_failures + 1,
		    updated_at = now()
		WHERE code = $1 AND version_status = 'ACTIVE'`, code, now.UTC())
	if err != nil {
		return fmt.Errorf("loaderstore: mark failed %s: %w", code, err)
	}
	return nil
}

// GetActive fetches the ACTIVE row for loaderCode, the loader that the
// control API displays by default. Returns nil, nil if no ACTIVE version
// exists (the code may only have a DRAFT/PENDING_APPROVAL version so far).
func (s *Store) GetActive(ctx context.Context, code string) (*domain.Loader, error) {
	row := s.db.QueryRow(ctx, selectActiveByCodeSQL, code)
	l, err := scanLoaderOptional(row)
	if err != nil {
		return nil, fmt.Errorf("loaderstore: get active %s: %w", code, err)
	}
	return l, nil
}

// GetActiveCandidate fetches the ACTIVE row for loaderCode together with
// its source database's business code, for callers that go on to execute
// the loader (force-start, backfill) rather than just display it. Returns
// nil, nil if no ACTIVE version exists.
func (s *Store) GetActiveCandidate(ctx context.Context, code string) (*Candidate, error) {
	var c Candidate
	row := s.db.QueryRow(ctx, selectActiveByCodeSQL, code)
	if err := row.Scan(
		&c.Loader.ID, &c.Loader.Code, &c.Loader.SQL, &c.Loader.SourceDatabaseID,
		&c.Loader.MinIntervalSeconds, &c.Loader.MaxIntervalSeconds, &c.Loader.MaxQueryPeriodSeconds,
		&c.Loader.MaxParallelExecutions, &c.Loader.SourceTimezoneOffsetHours, &c.Loader.AggregationPeriodSeconds,
		&c.Loader.PurgeStrategy, &c.Loader.Enabled, &c.Loader.LoadStatus, &c.Loader.LastLoadTimestamp, &c.Loader.FailedSince,
		&c.Loader.ConsecutiveZeroRecordRuns, &c.Loader.ConsecutiveFailures,
		&c.Loader.VersionStatus, &c.Loader.VersionNumber, &c.Loader.ParentVersionID,
		&c.Loader.ApprovalStatus, &c.Loader.ApprovedBy, &c.Loader.ApprovedAt,
		&c.Loader.CreatedAt, &c.Loader.UpdatedAt, &c.SourceDBCode,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loaderstore: get active candidate %s: %w", code, err)
	}
	return &c, nil
}

// ListActive returns every ACTIVE loader regardless of enabled/loadStatus,
// for the control API's list view.
func (s *Store) ListActive(ctx context.Context) ([]domain.Loader, error) {
	rows, err := s.db.Query(ctx, listActiveSQL)
	if err != nil {
		return nil, fmt.Errorf("loaderstore: list active: %w", err)
	}
	defer rows.Close()

	var out []domain.Loader
	for rows.Next() {
		var l domain.Loader
		var sourceDBCode string
		if err := rows.Scan(
			&l.ID, &l.Code, &l.SQL, &l.SourceDatabaseID,
			&l.MinIntervalSeconds, &l.MaxIntervalSeconds, &l.MaxQueryPeriodSeconds,
			&l.MaxParallelExecutions, &l.SourceTimezoneOffsetHours, &l.AggregationPeriodSeconds,
			&l.PurgeStrategy, &l.Enabled, &l.LoadStatus, &l.LastLoadTimestamp, &l.FailedSince,
			&l.ConsecutiveZeroRecordRuns, &l.ConsecutiveFailures,
			&l.VersionStatus, &l.VersionNumber, &l.ParentVersionID,
			&l.ApprovalStatus, &l.ApprovedBy, &l.ApprovedAt,
			&l.CreatedAt, &l.UpdatedAt, &sourceDBCode,
		); err != nil {
			return nil, fmt.Errorf("loaderstore: scan active row: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SetEnabled flips the ACTIVE row's enabled bit — the TOGGLE_ENABLED
// action (§4.12), which pauses/resumes scheduling without going through
// the draft/approval workflow that EDIT_LOADER requires.
func (s *Store) SetEnabled(ctx context.Context, code string, enabled bool) (*domain.Loader, error) {
	row := s.db.QueryRow(ctx, setEnabledSQL, code, enabled)
	l, err := scanLoaderOptional(row)
	if err != nil {
		return nil, fmt.Errorf("loaderstore: set enabled %s: %w", code, err)
	}
	return l, nil
}

// SetEnabledAndArchive implements DELETE_LOADER: the ACTIVE row is
// disabled and archived in one statement, so the scheduler stops picking
// it up the instant the call commits rather than racing the next
// ListSchedulable poll against a still-ACTIVE, still-enabled row.
func (s *Store) SetEnabledAndArchive(ctx context.Context, code string) error {
	tag, err := s.db.Exec(ctx, archiveAndDisableSQL, code)
	if err != nil {
		return fmt.Errorf("loaderstore: archive %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("loaderstore: archive %s: no ACTIVE row found", code)
	}
	return nil
}

func scanLoader(row pgx.Row, l *domain.Loader) error {
	var sourceDBCode string
	return row.Scan(
		&l.ID, &l.Code, &l.SQL, &l.SourceDatabaseID,
		&l.MinIntervalSeconds, &l.MaxIntervalSeconds, &l.MaxQueryPeriodSeconds,
		&l.MaxParallelExecutions, &l.SourceTimezoneOffsetHours, &l.AggregationPeriodSeconds,
		&l.PurgeStrategy, &l.Enabled, &l.LoadStatus, &l.LastLoadTimestamp, &l.FailedSince,
		&l.ConsecutiveZeroRecordRuns, &l.ConsecutiveFailures,
		&l.VersionStatus, &l.VersionNumber, &l.ParentVersionID,
		&l.ApprovalStatus, &l.ApprovedBy, &l.ApprovedAt,
		&l.CreatedAt, &l.UpdatedAt, &sourceDBCode,
	)
}

func scanLoaderOptional(row pgx.Row) (*domain.Loader, error) {
	var l domain.Loader
	if err := scanLoader(row, &l); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

var selectActiveByCodeSQL = `
	SELECT l.id, l.code, l.sql, l.source_database_id,
	       l.min_interval_seconds, l.max_interval_seconds, l.max_query_period_seconds,
	       l.max_parallel_executions, l.source_timezone_offset_hours, l.aggregation_period_seconds,
	       l.purge_strategy, l.enabled, l.load_status, l.last_load_timestamp, l.failed_since,
	       l.consecutive_zero_record_runs, l.consecutive_failures,
	       l.version_status, l.version_number, l.parent_version_id,
	       l.approval_status, l.approved_by, l.approved_at,
	       l.created_at, l.updated_at, sd.code
	FROM loader.loader l
	JOIN loader.source_database sd ON sd.id = l.source_database_id
	WHERE l.code = $1 AND l.version_status = 'ACTIVE'`

var listActiveSQL = `
	SELECT l.id, l.code, l.sql, l.source_database_id,
	       l.min_interval_seconds, l.max_interval_seconds, l.max_query_period_seconds,
	       l.max_parallel_executions, l.source_timezone_offset_hours, l.aggregation_period_seconds,
	       l.purge_strategy, l.enabled, l.load_status, l.last_load_timestamp, l.failed_since,
	       l.consecutive_zero_record_runs, l.consecutive_failures,
	       l.version_status, l.version_number, l.parent_version_id,
	       l.approval_status, l.approved_by, l.approved_at,
	       l.created_at, l.updated_at, sd.code
	FROM loader.loader l
	JOIN loader.source_database sd ON sd.id = l.source_database_id
	WHERE l.version_status = 'ACTIVE'
	ORDER BY l.code`

var setEnabledSQL = `
	UPDATE loader.loader SET enabled = $2, updated_at = now()
	WHERE code = $1 AND version_status = 'ACTIVE'
	RETURNING id, code, sql, source_database_id,
	          min_interval_seconds, max_interval_seconds, max_query_period_seconds,
	          max_parallel_executions, source_timezone_offset_hours, aggregation_period_seconds,
	          purge_strategy, enabled, load_status, last_load_timestamp, failed_since,
	          consecutive_zero_record_runs, consecutive_failures,
	          version_status, version_number, parent_version_id,
	          approval_status, approved_by, approved_at,
	          created_at, updated_at,
	          (SELECT code FROM loader.source_database WHERE id = source_database_id)`

var archiveAndDisableSQL = `
	UPDATE loader.loader SET enabled = false, version_status = 'ARCHIVED', updated_at = now()
	WHERE code = $1 AND version_status = 'ACTIVE'`

var listSchedulableSQL = `
	SELECT l.id, l.code, l.sql, l.source_database_id,
	       l.min_interval_seconds, l.max_interval_seconds, l.max_query_period_seconds,
	       l.max_parallel_executions, l.source_timezone_offset_hours, l.aggregation_period_seconds,
	       l.purge_strategy, l.enabled, l.load_status, l.last_load_timestamp, l.failed_since,
	       l.consecutive_zero_record_runs, l.consecutive_failures,
	       l.version_status, l.version_number, l.parent_version_id,
	       l.approval_status, l.approved_by, l.approved_at,
	       l.created_at, l.updated_at, sd.code
	FROM loader.loader l
	JOIN loader.source_database sd ON sd.id = l.source_database_id
	WHERE l.version_status = 'ACTIVE' AND l.enabled = true AND l.load_status IN ('IDLE', 'FAILED')`
