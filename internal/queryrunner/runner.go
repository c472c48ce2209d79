// Package queryrunner implements the Query Runner (SPEC_FULL.md §4.3):
// it rewrites a loader's time-window placeholders into a source's local
// time, runs the SQL through a per-source circuit breaker under a per-run
// timeout, verifies the connection holds no write privilege before trusting
// the result, and decodes rows into the convention §4.3 mandates (bucket
// timestamp, one numeric measure, up to 10 nullable segment strings).
package queryrunner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vitaliisemenov/etl-signal-loader/internal/circuitbreaker"
	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/sourceregistry"
)

// ErrQueryTimeout is returned when a run's query did not complete within
// its allotted timeout.
var ErrQueryTimeout = errors.New("queryrunner: query timed out")

// ErrNotReadOnly is returned when the privilege inspector finds the
// source connection holds INSERT/UPDATE/DELETE privilege on some table,
// meaning it cannot be trusted to only read.
var ErrNotReadOnly = errors.New("queryrunner: source connection is not read-only")

// ErrTooManyColumns is returned when a query returns more than
// 1 (timestamp) + 1 (measure) + domain.MaxSegments columns.
var ErrTooManyColumns = errors.New("queryrunner: query returned more columns than the declared convention allows")

// privilegeProbeSQL relies on the ANSI-standard information_schema view,
// which both pgx/PostgreSQL and go-sql-driver/MySQL expose, so the same
// text runs unmodified against either kind — CURRENT_USER is evaluated
// by each engine against its own grantee format, so the self-join is
// internally consistent even though the two engines spell grantee
// differently.
const privilegeProbeSQL = `
SELECT COUNT(*) FROM information_schema.table_privileges
WHERE privilege_type IN ('INSERT', 'UPDATE', 'DELETE') AND grantee = CURRENT_USER`

// Runner executes loader queries against source databases obtained from
// a Registry, with one circuit breaker held per source database code.
type Runner struct {
	registry *sourceregistry.Registry
	logger   *slog.Logger
	cbConfig circuitbreaker.Config

	mu      sync.Mutex
	circuit map[string]*circuitbreaker.CircuitBreaker
}

// New creates a Runner. cbConfig is applied to every per-source circuit
// breaker created on demand; pass circuitbreaker.DefaultConfig() for
// production defaults.
func New(registry *sourceregistry.Registry, cbConfig circuitbreaker.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry: registry,
		logger:   logger,
		cbConfig: cbConfig,
		circuit:  make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

func (r *Runner) breakerFor(dbCode string) (*circuitbreaker.CircuitBreaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.circuit[dbCode]; ok {
		return cb, nil
	}
	cb, err := circuitbreaker.New(r.cbConfig, r.logger, circuitbreaker.DefaultMetrics())
	if err != nil {
		return nil, err
	}
	r.circuit[dbCode] = cb
	return cb, nil
}

// Run executes loader.SQL against its source database over the window
// [fromTime, toTime), substituting :fromTime/:toTime with the window
// bounds shifted by tzOffsetHours, and returns the decoded rows.
func (r *Runner) Run(ctx context.Context, dbCode, querySQL string, tzOffsetHours int, fromTime, toTime time.Time, timeout time.Duration) ([]domain.SourceRow, error) {
	pool, _, err := r.registry.GetPool(dbCode)
	if err != nil {
		return nil, err
	}

	if err := verifyReadOnly(ctx, pool); err != nil {
		return nil, err
	}

	cb, err := r.breakerFor(dbCode)
	if err != nil {
		return nil, err
	}

	rendered := substitutePlaceholders(querySQL, tzOffsetHours, fromTime, toTime)

	var rows []domain.SourceRow
	err = cb.Call(ctx, func(callCtx context.Context) error {
		queryCtx, cancel := context.WithTimeout(callCtx, timeout)
		defer cancel()

		sqlRows, err := pool.QueryContext(queryCtx, rendered)
		if err != nil {
			if errors.Is(queryCtx.Err(), context.DeadlineExceeded) {
				return ErrQueryTimeout
			}
			return err
		}
		defer sqlRows.Close()

		decoded, err := decodeRows(sqlRows)
		if err != nil {
			return err
		}
		rows = decoded
		return sqlRows.Err()
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, fmt.Errorf("queryrunner: source %s: %w", dbCode, err)
	}
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// verifyReadOnly aborts the run with ErrNotReadOnly if the source
// connection's user can write to any table it can see.
func verifyReadOnly(ctx context.Context, pool *sql.DB) error {
	var writeGrantCount int
	if err := pool.QueryRowContext(ctx, privilegeProbeSQL).Scan(&writeGrantCount); err != nil {
		return fmt.Errorf("queryrunner: privilege inspection failed: %w", err)
	}
	if writeGrantCount > 0 {
		return ErrNotReadOnly
	}
	return nil
}

// substitutePlaceholders replaces :fromTime/:toTime with quoted timestamp
// literals in the source's local time (its UTC instant plus the
// configured offset — see §4.3: "to match the source's local time").
func substitutePlaceholders(querySQL string, tzOffsetHours int, fromTime, toTime time.Time) string {
	offset := time.Duration(tzOffsetHours) * time.Hour
	localFrom := fromTime.Add(offset).UTC()
	localTo := toTime.Add(offset).UTC()

	const layout = "2006-01-02 15:04:05"
	r := strings.NewReplacer(
		":fromTime", "'"+localFrom.Format(layout)+"'",
		":toTime", "'"+localTo.Format(layout)+"'",
	)
	return r.Replace(querySQL)
}

// decodeRows decodes each row into the §4.3 convention: column 0 is the
// bucket timestamp, column 1 is the numeric measure, columns 2..11 are
// up to domain.MaxSegments nullable segment strings.
func decodeRows(sqlRows *sql.Rows) ([]domain.SourceRow, error) {
	cols, err := sqlRows.Columns()
	if err != nil {
		return nil, err
	}
	if len(cols) < 2 {
		return nil, fmt.Errorf("queryrunner: query must return at least a timestamp and a measure column, got %d", len(cols))
	}
	segmentCols := len(cols) - 2
	if segmentCols > domain.MaxSegments {
		return nil, ErrTooManyColumns
	}

	var rows []domain.SourceRow
	for sqlRows.Next() {
		scanDest := make([]any, len(cols))
		var bucketTime sql.NullTime
		var measure sql.NullFloat64
		scanDest[0] = &bucketTime
		scanDest[1] = &measure

		segRaw := make([]sql.NullString, segmentCols)
		for i := range segRaw {
			scanDest[2+i] = &segRaw[i]
		}

		if err := sqlRows.Scan(scanDest...); err != nil {
			return nil, err
		}

		row := domain.SourceRow{
			BucketTime: bucketTime.Time,
			Measure:    measure.Float64,
		}
		for i, s := range segRaw {
			if s.Valid {
				v := s.String
				row.Segments[i] = &v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
