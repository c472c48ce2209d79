//go:build integration

package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
)

func setupTestDB(t *testing.T) postgres.DatabaseConnection {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("history_test"),
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
		Host: host, Port: port.Int(), Database: "history_test",
		User: "testuser", Password: "testpassword", SSLMode: "disable",
		MaxConns: 5, MinConns: 1, MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 5 * time.Minute, HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
	pool := postgres.NewPostgresPool(cfg, nil)
	require.NoError(t, pool.Connect(ctx))
	t.Cleanup(func() { _ = pool.Disconnect(ctx) })

	schema := `
	CREATE TABLE load_history (
		id               BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		loader_code      TEXT NOT NULL,
		loader_version   INTEGER NOT NULL,
		status           TEXT NOT NULL,
		start_time       TIMESTAMPTZ NOT NULL,
		end_time         TIMESTAMPTZ,
		duration_seconds DOUBLE PRECISION,
		query_from_time  TIMESTAMPTZ NOT NULL,
		query_to_time    TIMESTAMPTZ NOT NULL,
		actual_from_time TIMESTAMPTZ,
		actual_to_time   TIMESTAMPTZ,
		records_loaded   BIGINT NOT NULL DEFAULT 0,
		records_ingested BIGINT NOT NULL DEFAULT 0,
		error_message    TEXT,
		replica_name     TEXT NOT NULL
	);
	CREATE SCHEMA loader;
	CREATE VIEW loader.load_history AS SELECT * FROM load_history;
	`
	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	return pool
}

func TestStore_StartRunThenFinalize(t *testing.T) {
	db := setupTestDB(t)
	s := New(db, nil)
	ctx := context.Background()

	from := time.Now().Add(-time.Hour).UTC()
	to := time.Now().UTC()

	h, err := s.StartRun(ctx, "loader-A", 1, "replica-1", from, to)
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)
	require.Equal(t, domain.HistoryRunning, h.Status)

	end := time.Now().UTC()
	require.NoError(t, s.Finalize(ctx, h.ID, domain.HistorySuccess, end, 100, 90, &from, &to, nil))
}

func TestStore_ReapStaleRunning(t *testing.T) {
	db := setupTestDB(t)
	s := New(db, nil)
	ctx := context.Background()

	from := time.Now().Add(-time.Hour).UTC()
	to := time.Now().UTC()

	h, err := s.StartRun(ctx, "loader-B", 1, "replica-1", from, to)
	require.NoError(t, err)

	reaped, err := s.ReapStaleRunning(ctx, 0)
	require.NoError(t, err)
	require.Contains(t, reaped, "loader-B")
	_ = h
}
