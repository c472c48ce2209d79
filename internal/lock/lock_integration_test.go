//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
)

func setupTestDB(t *testing.T) postgres.DatabaseConnection {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("loader_test"),
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
		Host:              host,
		Port:              port.Int(),
		Database:          "loader_test",
		User:              "testuser",
		Password:          "testpassword",
		SSLMode:           "disable",
		MaxConns:          5,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    10 * time.Second,
	}

	pool := postgres.NewPostgresPool(cfg, nil)
	require.NoError(t, pool.Connect(ctx))
	t.Cleanup(func() { _ = pool.Disconnect(ctx) })

	schema := `
	CREATE SCHEMA IF NOT EXISTS loader;
	CREATE TABLE loader.loader_execution_lock (
		lock_id      TEXT PRIMARY KEY,
		loader_code  TEXT NOT NULL,
		replica_name TEXT NOT NULL,
		acquired_at  TIMESTAMPTZ NOT NULL,
		released     BOOLEAN NOT NULL DEFAULT false,
		released_at  TIMESTAMPTZ,
		version      BIGINT NOT NULL DEFAULT 1
	);
	CREATE UNIQUE INDEX loader_execution_lock_active_idx
		ON loader.loader_execution_lock (loader_code) WHERE released = false;
	`
	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	return pool
}

func TestManager_TryAcquire_SecondCallerBusy(t *testing.T) {
	db := setupTestDB(t)
	m := New(db, Config{}, nil)
	ctx := context.Background()

	h1, err := m.TryAcquire(ctx, "loader-A", "replica-1")
	require.NoError(t, err)
	require.NotNil(t, h1)

	_, err = m.TryAcquire(ctx, "loader-A", "replica-2")
	require.ErrorIs(t, err, ErrBusy)
}

func TestManager_ReleaseThenReacquire(t *testing.T) {
	db := setupTestDB(t)
	m := New(db, Config{}, nil)
	ctx := context.Background()

	h1, err := m.TryAcquire(ctx, "loader-B", "replica-1")
	require.NoError(t, err)

	require.NoError(t, m.Release(ctx, h1))

	h2, err := m.TryAcquire(ctx, "loader-B", "replica-2")
	require.NoError(t, err)
	require.NotNil(t, h2)
}

func TestManager_ReapStale_ReturnsLoaderCodeAndFreesLock(t *testing.T) {
	db := setupTestDB(t)
	m := New(db, Config{StaleThreshold: 50 * time.Millisecond}, nil)
	ctx := context.Background()

	_, err := m.TryAcquire(ctx, "loader-C", "replica-1")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	reaped, err := m.ReapStale(ctx)
	require.NoError(t, err)
	require.Contains(t, reaped, "loader-C")

	h2, err := m.TryAcquire(ctx, "loader-C", "replica-2")
	require.NoError(t, err)
	require.NotNil(t, h2)
}
