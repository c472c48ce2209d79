package configversioning

import (
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
)

const loaderColumns = `id, code, sql, source_database_id,
	min_interval_seconds, max_interval_seconds, max_query_period_seconds,
	max_parallel_executions, source_timezone_offset_hours, aggregation_period_seconds,
	purge_strategy, enabled, load_status, last_load_timestamp, failed_since,
	consecutive_zero_record_runs, consecutive_failures,
	version_status, version_number, parent_version_id,
	approval_status, approved_by, approved_at,
	created_at, updated_at`

var (
	// selectDraftSQL deliberately excludes PENDING_APPROVAL: once a draft is
	// submitted its request_data snapshot in loader.approval_request must
	// stay in sync with the row, so CreateDraft only ever overwrites a
	// still-editable DRAFT, never a row already out for review.
	selectDraftSQL = `SELECT ` + loaderColumns + ` FROM loader.loader
		WHERE code = $1 AND version_status = 'DRAFT'`

	selectActiveSQL = `SELECT ` + loaderColumns + ` FROM loader.loader
		WHERE code = $1 AND version_status = 'ACTIVE'`

	selectByIDSQL = `SELECT ` + loaderColumns + ` FROM loader.loader WHERE id = $1`

	selectDraftByIDSQL = `SELECT ` + loaderColumns + ` FROM loader.loader
		WHERE id = $1 AND version_status = 'DRAFT'`

	selectPendingByIDSQL = `SELECT ` + loaderColumns + ` FROM loader.loader
		WHERE id = $1 AND version_status = 'PENDING_APPROVAL'`

	selectPendingByCodeSQL = `SELECT ` + loaderColumns + ` FROM loader.loader
		WHERE code = $1 AND version_status = 'PENDING_APPROVAL'`

	insertDraftSQL = `
		INSERT INTO loader.loader
			(code, sql, source_database_id, min_interval_seconds, max_interval_seconds, max_query_period_seconds,
			 max_parallel_executions, source_timezone_offset_hours, aggregation_period_seconds, purge_strategy,
			 enabled, version_number, parent_version_id, version_status, load_status, approval_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 'DRAFT', 'PAUSED', 'APPROVED')
		RETURNING ` + loaderColumns

	updateDraftSQL = `
		UPDATE loader.loader SET
			sql = $2, source_database_id = $3, min_interval_seconds = $4, max_interval_seconds = $5,
			max_query_period_seconds = $6, max_parallel_executions = $7, source_timezone_offset_hours = $8,
			aggregation_period_seconds = $9, purge_strategy = $10, enabled = $11, parent_version_id = $12,
			updated_at = now()
		WHERE id = $1
		RETURNING ` + loaderColumns

	submitDraftSQL = `
		UPDATE loader.loader SET version_status = 'PENDING_APPROVAL', approval_status = 'PENDING_APPROVAL', updated_at = now()
		WHERE id = $1 AND version_status = 'DRAFT'`

	insertApprovalRequestSQL = `
		INSERT INTO loader.approval_request (entity_type, entity_id, request_type, request_data, requested_by)
		VALUES ('LOADER', $1, $2, $3, $4)`

	archiveActiveSQL = `
		UPDATE loader.loader SET version_status = 'ARCHIVED', updated_at = now()
		WHERE code = $1 AND version_status = 'ACTIVE'`

	maxVersionSQL = `SELECT COALESCE(MAX(version_number), 0) FROM loader.loader WHERE code = $1`

	promoteDraftSQL = `
		UPDATE loader.loader SET
			version_status = 'ACTIVE', version_number = $2, approval_status = 'APPROVED',
			approved_by = $3, approved_at = $4, updated_at = now()
		WHERE id = $1
		RETURNING ` + loaderColumns

	closeApprovalRequestSQL = `
		UPDATE loader.approval_request SET approval_status = $2, reviewed_by = $3, reviewed_at = $4, review_reason = $5
		WHERE entity_id = $1 AND approval_status = 'PENDING_APPROVAL'`

	rejectDraftSQL = `
		UPDATE loader.loader SET
			version_status = 'ARCHIVED', approval_status = 'REJECTED', approved_by = $2, approved_at = now(), updated_at = now()
		WHERE id = $1 AND version_status = 'PENDING_APPROVAL'`

	selectArchivedVersionSQL = `
		SELECT id FROM loader.loader WHERE code = $1 AND version_number = $2 AND version_status = 'ARCHIVED'`
)

// scanLoader scans the fixed loaderColumns projection into l.
func scanLoader(row pgx.Row, l *domain.Loader) error {
	return row.Scan(
		&l.ID, &l.Code, &l.SQL, &l.SourceDatabaseID,
		&l.MinIntervalSeconds, &l.MaxIntervalSeconds, &l.MaxQueryPeriodSeconds,
		&l.MaxParallelExecutions, &l.SourceTimezoneOffsetHours, &l.AggregationPeriodSeconds,
		&l.PurgeStrategy, &l.Enabled, &l.LoadStatus, &l.LastLoadTimestamp, &l.FailedSince,
		&l.ConsecutiveZeroRecordRuns, &l.ConsecutiveFailures,
		&l.VersionStatus, &l.VersionNumber, &l.ParentVersionID,
		&l.ApprovalStatus, &l.ApprovedBy, &l.ApprovedAt,
		&l.CreatedAt, &l.UpdatedAt,
	)
}

// scanLoaderOptional is scanLoader but returns (nil, nil) instead of
// pgx.ErrNoRows, for lookups where "not found" is an expected outcome.
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
