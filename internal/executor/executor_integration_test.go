//go:build integration

package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
	"github.com/vitaliisemenov/etl-signal-loader/internal/history"
	"github.com/vitaliisemenov/etl-signal-loader/internal/ingest"
	"github.com/vitaliisemenov/etl-signal-loader/internal/loaderstore"
	"github.com/vitaliisemenov/etl-signal-loader/internal/lock"
	"github.com/vitaliisemenov/etl-signal-loader/internal/timewindow"
	"github.com/vitaliisemenov/etl-signal-loader/internal/transform"
)

func setupTestDB(t *testing.T) postgres.DatabaseConnection {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("executor_test"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(10*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := &postgres.PostgresConfig{
		Host: host, Port: port.Int(), Database: "executor_test",
		User: "testuser", Password: "testpassword", SSLMode: "disable",
		MaxConns: 5, MinConns: 1, MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 5 * time.Minute, HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
	pool := postgres.NewPostgresPool(cfg, nil)
	require.NoError(t, pool.Connect(ctx))
	t.Cleanup(func() { _ = pool.Disconnect(ctx) })

	schema := `
	CREATE SCHEMA loader;
	CREATE SCHEMA signals;

	CREATE TABLE loader.source_database (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(), code TEXT UNIQUE NOT NULL
	);

	CREATE TABLE loader.loader (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		code TEXT NOT NULL,
		sql TEXT NOT NULL,
		source_database_id UUID NOT NULL REFERENCES loader.source_database (id),
		min_interval_seconds INTEGER NOT NULL,
		max_interval_seconds INTEGER NOT NULL,
		max_query_period_seconds INTEGER NOT NULL,
		max_parallel_executions INTEGER NOT NULL DEFAULT 1,
		source_timezone_offset_hours INTEGER NOT NULL DEFAULT 0,
		aggregation_period_seconds INTEGER,
		purge_strategy TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT true,
		load_status TEXT NOT NULL DEFAULT 'IDLE',
		last_load_timestamp TIMESTAMPTZ,
		failed_since TIMESTAMPTZ,
		consecutive_zero_record_runs INTEGER NOT NULL DEFAULT 0,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		version_status TEXT NOT NULL DEFAULT 'ACTIVE',
		version_number INTEGER NOT NULL DEFAULT 1,
		parent_version_id UUID,
		approval_status TEXT NOT NULL DEFAULT 'APPROVED',
		approved_by TEXT,
		approved_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE loader.load_history (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		loader_code TEXT NOT NULL, loader_version INTEGER NOT NULL,
		status TEXT NOT NULL, start_time TIMESTAMPTZ NOT NULL, end_time TIMESTAMPTZ,
		duration_seconds DOUBLE PRECISION,
		query_from_time TIMESTAMPTZ NOT NULL, query_to_time TIMESTAMPTZ NOT NULL,
		actual_from_time TIMESTAMPTZ, actual_to_time TIMESTAMPTZ,
		records_loaded BIGINT NOT NULL DEFAULT 0, records_ingested BIGINT NOT NULL DEFAULT 0,
		error_message TEXT, replica_name TEXT NOT NULL
	);

	CREATE TABLE loader.loader_execution_lock (
		lock_id TEXT PRIMARY KEY, loader_code TEXT NOT NULL, replica_name TEXT NOT NULL,
		acquired_at TIMESTAMPTZ NOT NULL, released BOOLEAN NOT NULL DEFAULT false,
		released_at TIMESTAMPTZ, version BIGINT NOT NULL DEFAULT 1
	);
	CREATE UNIQUE INDEX loader_execution_lock_active_idx
		ON loader.loader_execution_lock (loader_code) WHERE released = false;

	CREATE TABLE signals.signals_history (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		loader_code TEXT NOT NULL, load_timestamp BIGINT NOT NULL, segment_code BIGINT NOT NULL,
		rec_count BIGINT NOT NULL, min_val DOUBLE PRECISION NOT NULL, max_val DOUBLE PRECISION NOT NULL,
		sum_val DOUBLE PRECISION NOT NULL, load_history_id TEXT NOT NULL,
		create_time TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE UNIQUE INDEX signals_history_key_idx
		ON signals.signals_history (loader_code, load_timestamp, segment_code);
	`
	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	return pool
}

type stubRunner struct {
	rows []domain.SourceRow
	err  error
}

func (s stubRunner) Run(ctx context.Context, dbCode, querySQL string, tzOffsetHours int, fromTime, toTime time.Time, timeout time.Duration) ([]domain.SourceRow, error) {
	return s.rows, s.err
}

type passthroughInterner struct{}

func (passthroughInterner) Intern(ctx context.Context, loaderCode string, segments [domain.MaxSegments]*string) (int64, error) {
	return 1, nil
}

func insertLoader(t *testing.T, db postgres.DatabaseConnection, code string, strategy domain.PurgeStrategy) string {
	var dbID string
	require.NoError(t, db.QueryRow(context.Background(),
		`INSERT INTO loader.source_database (code) VALUES ($1) RETURNING id`, "SRC1").Scan(&dbID))

	var loaderID string
	require.NoError(t, db.QueryRow(context.Background(), `
		INSERT INTO loader.loader (code, sql, source_database_id, min_interval_seconds, max_interval_seconds,
			max_query_period_seconds, purge_strategy, enabled, load_status, version_status)
		VALUES ($1, 'SELECT 1', $2, 10, 60, 3600, $3, true, 'IDLE', 'ACTIVE')
		RETURNING id`, code, dbID, strategy).Scan(&loaderID))
	return loaderID
}

func TestExecutor_Run_SuccessPathAdvancesWatermarkAndFinalizesHistory(t *testing.T) {
	db := setupTestDB(t)
	insertLoader(t, db, "L1", domain.PurgeSkipDuplicates)

	ex := New(Config{
		Locks:       lock.New(db, lock.Config{}, nil),
		History:     history.New(db, nil),
		Store:       loaderstore.New(db, nil),
		Windows:     timewindow.New(nil),
		Runner:      stubRunner{rows: []domain.SourceRow{{BucketTime: time.Now().UTC(), Measure: 42}}},
		Transformer: transform.New(passthroughInterner{}),
		Ingest:      ingest.New(db, nil),
		ReplicaName: "replica-test",
	})

	store := loaderstore.New(db, nil)
	candidates, err := store.ListSchedulable(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	outcome, err := ex.Run(context.Background(), candidates[0], time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)

	after, err := store.ListSchedulable(context.Background())
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, domain.LoadStatusIdle, after[0].Loader.LoadStatus)
	require.NotNil(t, after[0].Loader.LastLoadTimestamp)
}

func TestExecutor_Run_QueryFailureMarksLoaderFailed(t *testing.T) {
	db := setupTestDB(t)
	insertLoader(t, db, "L2", domain.PurgeSkipDuplicates)

	ex := New(Config{
		Locks:       lock.New(db, lock.Config{}, nil),
		History:     history.New(db, nil),
		Store:       loaderstore.New(db, nil),
		Windows:     timewindow.New(nil),
		Runner:      stubRunner{err: assertErr{}},
		Transformer: transform.New(passthroughInterner{}),
		Ingest:      ingest.New(db, nil),
		ReplicaName: "replica-test",
	})

	store := loaderstore.New(db, nil)
	candidates, err := store.ListSchedulable(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	_, err = ex.Run(context.Background(), candidates[0], time.Now().UTC())
	require.Error(t, err)

	var status string
	require.NoError(t, db.QueryRow(context.Background(),
		`SELECT load_status FROM loader.loader WHERE code = $1`, "L2").Scan(&status))
	assert.Equal(t, "FAILED", status)
}

func TestExecutor_Run_BusyLockIsSkipped(t *testing.T) {
	db := setupTestDB(t)
	insertLoader(t, db, "L3", domain.PurgeSkipDuplicates)

	locks := lock.New(db, lock.Config{}, nil)
	handle, err := locks.TryAcquire(context.Background(), "L3", "other-replica")
	require.NoError(t, err)
	defer locks.Release(context.Background(), handle)

	ex := New(Config{
		Locks:       locks,
		History:     history.New(db, nil),
		Store:       loaderstore.New(db, nil),
		Windows:     timewindow.New(nil),
		Runner:      stubRunner{rows: nil},
		Transformer: transform.New(passthroughInterner{}),
		Ingest:      ingest.New(db, nil),
		ReplicaName: "replica-test",
	})

	store := loaderstore.New(db, nil)
	candidates, err := store.ListSchedulable(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	outcome, err := ex.Run(context.Background(), candidates[0], time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
}

type assertErr struct{}

func (assertErr) Error() string { return "source query failed" }
