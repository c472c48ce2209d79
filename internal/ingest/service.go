// Package ingest implements the Ingest Service (SPEC_FULL.md §4.8): writes
// a run's folded SignalsHistory candidates under one of three purge
// strategies, atomically, in one storage transaction per run.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
)

// Result reports per-category counts from a single ingest call.
type Result struct {
	Inserted int64
	Skipped  int64
	Deleted  int64
}

// Service writes SignalsHistory candidates per §4.8.
type Service struct {
	db     postgres.DatabaseConnection
	logger *slog.Logger
}

// New builds a Service.
func New(db postgres.DatabaseConnection, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, logger: logger}
}

// Ingest writes candidates for one run's window [fromTime, toTime) under
// strategy, in a single transaction. candidates must all share
// loaderCode; fromTime/toTime bound the window PURGE_AND_RELOAD deletes
// from, which must cover every candidate's BucketTime.
func (s *Service) Ingest(ctx context.Context, loaderCode string, strategy domain.PurgeStrategy, loadHistoryID string, fromTime, toTime time.Time, candidates []*domain.SignalCandidate, now time.Time) (Result, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var result Result
	switch strategy {
	case domain.PurgeFailOnDuplicate:
		result, err = s.ingestFailOnDuplicate(ctx, tx, loaderCode, loadHistoryID, candidates, now)
	case domain.PurgeAndReload:
		result, err = s.ingestPurgeAndReload(ctx, tx, loaderCode, loadHistoryID, fromTime, toTime, candidates, now)
	case domain.PurgeSkipDuplicates:
		result, err = s.ingestSkipDuplicates(ctx, tx, loaderCode, loadHistoryID, candidates, now)
	default:
		return Result{}, fmt.Errorf("ingest: unknown purge strategy %q", strategy)
	}
	if err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("ingest: commit: %w", err)
	}

	s.logger.Info("ingest complete", "loaderCode", loaderCode, "strategy", strategy,
		"inserted", result.Inserted, "skipped", result.Skipped, "deleted", result.Deleted)
	return result, nil
}

// ingestFailOnDuplicate fails the whole batch if any candidate key already
// exists in storage; the transaction rollback on error leaves nothing
// written.
func (s *Service) ingestFailOnDuplicate(ctx context.Context, tx pgx.Tx, loaderCode, loadHistoryID string, candidates []*domain.SignalCandidate, now time.Time) (Result, error) {
	conflicts, err := existingKeys(ctx, tx, loaderCode, candidates)
	if err != nil {
		return Result{}, err
	}
	if len(conflicts) > 0 {
		return Result{}, fmt.Errorf("ingest: %d candidate key(s) already present, refusing batch under FAIL_ON_DUPLICATE", len(conflicts))
	}

	inserted, err := bulkInsert(ctx, tx, loadHistoryID, candidates, now)
	if err != nil {
		return Result{}, err
	}
	return Result{Inserted: inserted}, nil
}

// ingestPurgeAndReload deletes every existing row in [fromTime, toTime)
// for loaderCode, then inserts every candidate.
func (s *Service) ingestPurgeAndReload(ctx context.Context, tx pgx.Tx, loaderCode, loadHistoryID string, fromTime, toTime time.Time, candidates []*domain.SignalCandidate, now time.Time) (Result, error) {
	tag, err := tx.Exec(ctx, `
		DELETE FROM signals.signals_history
		WHERE loader_code = $1 AND load_timestamp >= $2 AND load_timestamp < $3`,
		loaderCode, fromTime.Unix(), toTime.Unix())
	if err != nil {
		return Result{}, fmt.Errorf("ingest: purge window: %w", err)
	}

	inserted, err := bulkInsert(ctx, tx, loadHistoryID, candidates, now)
	if err != nil {
		return Result{}, err
	}
	return Result{Inserted: inserted, Deleted: tag.RowsAffected()}, nil
}

// ingestSkipDuplicates inserts candidates whose key is not already
// present, silently dropping the rest.
func (s *Service) ingestSkipDuplicates(ctx context.Context, tx pgx.Tx, loaderCode, loadHistoryID string, candidates []*domain.SignalCandidate, now time.Time) (Result, error) {
	var result Result
	batch := &pgx.Batch{}
	for _, c := range candidates {
		row := c.ToSignalsHistory(loadHistoryID, now)
		batch.Queue(insertOneSQL,
			row.LoaderCode, row.LoadTimeStamp, row.SegmentCode, row.RecCount,
			row.MinVal, row.MaxVal, row.SumVal, row.LoadHistoryID, row.CreateTime)
	}

	br := tx.SendBatch(ctx, batch)
	defer br.Close()

	for range candidates {
		tag, err := br.Exec()
		if err != nil {
			return Result{}, fmt.Errorf("ingest: skip-duplicates insert: %w", err)
		}
		if tag.RowsAffected() > 0 {
			result.Inserted++
		} else {
			result.Skipped++
		}
	}
	return result, nil
}

// existingKeys reports which of candidates' keys are already present in
// storage, scoped to loaderCode (the only scope a single run's
// candidates share).
func existingKeys(ctx context.Context, tx pgx.Tx, loaderCode string, candidates []*domain.SignalCandidate) ([]domain.SignalKey, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	timestamps := make([]int64, len(candidates))
	segmentCodes := make([]int64, len(candidates))
	for i, c := range candidates {
		timestamps[i] = c.BucketTime.Unix()
		segmentCodes[i] = c.SegmentCode
	}

	rows, err := tx.Query(ctx, `
		SELECT load_timestamp, segment_code
		FROM signals.signals_history
		WHERE loader_code = $1
		  AND (load_timestamp, segment_code) IN (
		      SELECT * FROM unnest($2::bigint[], $3::bigint[])
		  )`, loaderCode, timestamps, segmentCodes)
	if err != nil {
		return nil, fmt.Errorf("ingest: check existing keys: %w", err)
	}
	defer rows.Close()

	var found []domain.SignalKey
	for rows.Next() {
		var ts, code int64
		if err := rows.Scan(&ts, &code); err != nil {
			return nil, fmt.Errorf("ingest: scan existing key: %w", err)
		}
		found = append(found, domain.SignalKey{LoaderCode: loaderCode, LoadTimeStamp: ts, SegmentCode: code})
	}
	return found, rows.Err()
}

const insertOneSQL = `
	INSERT INTO signals.signals_history
		(loader_code, load_timestamp, segment_code, rec_count, min_val, max_val, sum_val, load_history_id, create_time)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (loader_code, load_timestamp, segment_code) DO NOTHING`

// bulkInsert writes every candidate via pgx's binary COPY protocol, which
// is both the fastest bulk-load path pgx offers and, unlike a plain
// INSERT, fails the whole copy atomically on a constraint violation —
// exactly the all-or-nothing semantics FAIL_ON_DUPLICATE and
// PURGE_AND_RELOAD need once duplicates have already been ruled out or
// purged.
func bulkInsert(ctx context.Context, tx pgx.Tx, loadHistoryID string, candidates []*domain.SignalCandidate, now time.Time) (int64, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	rowsSrc := make([][]any, len(candidates))
	for i, c := range candidates {
		row := c.ToSignalsHistory(loadHistoryID, now)
		rowsSrc[i] = []any{
			row.LoaderCode, row.LoadTimeStamp, row.SegmentCode, row.RecCount,
			row.MinVal, row.MaxVal, row.SumVal, row.LoadHistoryID, row.CreateTime,
		}
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"signals", "signals_history"},
		[]string{"loader_code", "load_timestamp", "segment_code", "rec_count", "min_val", "max_val", "sum_val", "load_history_id", "create_time"},
		pgx.CopyFromRows(rowsSrc))
	if err != nil {
		return 0, fmt.Errorf("ingest: bulk insert: %w", err)
	}
	return n, nil
}
