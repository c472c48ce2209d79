// Package signalstore is the read side of the signals.signals_history
// table (SPEC_FULL.md §3, §4.4, §6): the HTTP control surface's window
// into the aggregated series the Ingest Service writes. It never writes;
// internal/ingest owns every mutation of this table.
package signalstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
)

// Query selects a bounded slice of one loader's signal history.
type Query struct {
	LoaderCode  string
	FromEpoch   int64
	ToEpoch     int64
	SegmentCode *int64 // nil means every segment combination
	Limit       int
}

// Store is the signals-history read repository.
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

// Query returns the matching rows ordered by loadTimestamp ascending, the
// order a time-series client plots in.
func (s *Store) Query(ctx context.Context, q Query) ([]domain.SignalsHistory, error) {
	limit := q.Limit
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}

	var (
		rows pgx.Rows
		err  error
	)
	if q.SegmentCode != nil {
		rows, err = s.db.Query(ctx, queryBySegmentSQL, q.LoaderCode, q.FromEpoch, q.ToEpoch, *q.SegmentCode, limit)
	} else {
		rows, err = s.db.Query(ctx, queryAllSegmentsSQL, q.LoaderCode, q.FromEpoch, q.ToEpoch, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("signalstore: query %s: %w", q.LoaderCode, err)
	}
	defer rows.Close()

	var out []domain.SignalsHistory
	for rows.Next() {
		var h domain.SignalsHistory
		if err := rows.Scan(
			&h.ID, &h.LoaderCode, &h.LoadTimeStamp, &h.SegmentCode,
			&h.RecCount, &h.MinVal, &h.MaxVal, &h.SumVal, &h.LoadHistoryID, &h.CreateTime,
		); err != nil {
			return nil, fmt.Errorf("signalstore: scan row: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("signalstore: iterate rows: %w", err)
	}
	return out, nil
}

// Segments resolves the segment value tuples for a loader, for clients
// that want to label a segmentCode with its human-readable dimensions.
func (s *Store) Segments(ctx context.Context, loaderCode string) ([]domain.SegmentCombination, error) {
	rows, err := s.db.Query(ctx, segmentsSQL, loaderCode)
	if err != nil {
		return nil, fmt.Errorf("signalstore: segments %s: %w", loaderCode, err)
	}
	defer rows.Close()

	var out []domain.SegmentCombination
	for rows.Next() {
		var c domain.SegmentCombination
		c.LoaderCode = loaderCode
		var values [domain.MaxSegments]string
		scanArgs := make([]any, 0, 1+domain.MaxSegments)
		scanArgs = append(scanArgs, &c.SegmentCode)
		for i := range values {
			scanArgs = append(scanArgs, &values[i])
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("signalstore: scan segment row: %w", err)
		}
		for i, v := range values {
			if v != "" {
				val := v
				c.Segments[i] = &val
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const signalsHistoryColumns = `id, loader_code, load_timestamp, segment_code,
	rec_count, min_val, max_val, sum_val, load_history_id, create_time`

var (
	queryAllSegmentsSQL = `
		SELECT ` + signalsHistoryColumns + `
		FROM signals.signals_history
		WHERE loader_code = $1 AND load_timestamp >= $2 AND load_timestamp < $3
		ORDER BY load_timestamp ASC
		LIMIT $4`

	queryBySegmentSQL = `
		SELECT ` + signalsHistoryColumns + `
		FROM signals.signals_history
		WHERE loader_code = $1 AND load_timestamp >= $2 AND load_timestamp < $3 AND segment_code = $4
		ORDER BY load_timestamp ASC
		LIMIT $5`

	segmentsSQL = `
		SELECT segment_code, segment1, segment2, segment3, segment4, segment5,
		       segment6, segment7, segment8, segment9, segment10
		FROM signals.segment_combination
		WHERE loader_code = $1
		ORDER BY segment_code`
)
