//go:build integration

package configversioning

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
)

func setupTestDB(t *testing.T) postgres.DatabaseConnection {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("configversioning_test"),
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
		Host: host, Port: port.Int(), Database: "configversioning_test",
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

	CREATE TABLE loader.source_database (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(), code TEXT UNIQUE NOT NULL
	);

	CREATE TABLE loader.loader (
		id                            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		code                          TEXT NOT NULL,
		sql                           TEXT NOT NULL,
		source_database_id           UUID NOT NULL REFERENCES loader.source_database (id),
		min_interval_seconds         INTEGER NOT NULL,
		max_interval_seconds         INTEGER NOT NULL,
		max_query_period_seconds     INTEGER NOT NULL,
		max_parallel_executions      INTEGER NOT NULL DEFAULT 1,
		source_timezone_offset_hours INTEGER NOT NULL DEFAULT 0,
		aggregation_period_seconds   INTEGER,
		purge_strategy               TEXT NOT NULL,
		enabled                      BOOLEAN NOT NULL DEFAULT true,
		load_status                  TEXT NOT NULL DEFAULT 'IDLE',
		last_load_timestamp          TIMESTAMPTZ,
		failed_since                 TIMESTAMPTZ,
		consecutive_zero_record_runs INTEGER NOT NULL DEFAULT 0,
		consecutive_failures         INTEGER NOT NULL DEFAULT 0,
		version_status               TEXT NOT NULL DEFAULT 'ACTIVE',
		version_number                INTEGER NOT NULL DEFAULT 1,
		parent_version_id             UUID REFERENCES loader.loader (id),
		approval_status               TEXT NOT NULL DEFAULT 'APPROVED',
		approved_by                   TEXT,
		approved_at                   TIMESTAMPTZ,
		created_at                    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at                    TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE UNIQUE INDEX loader_one_active_idx ON loader.loader (code) WHERE version_status = 'ACTIVE';
	CREATE UNIQUE INDEX loader_one_draft_idx ON loader.loader (code) WHERE version_status IN ('DRAFT', 'PENDING_APPROVAL');

	CREATE TABLE loader.approval_request (
		id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		entity_type     TEXT NOT NULL,
		entity_id       UUID NOT NULL,
		request_type    TEXT NOT NULL,
		approval_status TEXT NOT NULL DEFAULT 'PENDING_APPROVAL',
		request_data    JSONB NOT NULL,
		current_data    JSONB,
		requested_by    TEXT NOT NULL,
		reviewed_by     TEXT,
		review_reason   TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		reviewed_at     TIMESTAMPTZ
	);
	CREATE UNIQUE INDEX approval_request_pending_idx
		ON loader.approval_request (entity_type, entity_id) WHERE approval_status = 'PENDING_APPROVAL';
	`
	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	return pool
}

func insertActiveLoader(t *testing.T, db postgres.DatabaseConnection, code string) string {
	ctx := context.Background()
	var dbID string
	require.NoError(t, db.QueryRow(ctx,
		`INSERT INTO loader.source_database (code) VALUES ($1) RETURNING id`, "SRC1").Scan(&dbID))

	var loaderID string
	require.NoError(t, db.QueryRow(ctx, `
		INSERT INTO loader.loader (code, sql, source_database_id, min_interval_seconds, max_interval_seconds,
			max_query_period_seconds, purge_strategy, enabled, version_status)
		VALUES ($1, 'SELECT 1', $2, 10, 60, 3600, 'SKIP_DUPLICATES', true, 'ACTIVE')
		RETURNING id`, code, dbID).Scan(&loaderID))
	return loaderID
}

func TestCreateDraft_BranchesFromActiveAndIsIdempotentByCode(t *testing.T) {
	db := setupTestDB(t)
	insertActiveLoader(t, db, "L1")
	mgr := New(db, nil)

	newSQL := "SELECT 2"
	draft, err := mgr.CreateDraft(context.Background(), "L1", nil, Edits{SQL: &newSQL})
	require.NoError(t, err)
	assert.Equal(t, domain.VersionDraft, draft.VersionStatus)
	assert.Equal(t, "SELECT 2", draft.SQL)
	firstDraftID := draft.ID

	newerSQL := "SELECT 3"
	draft2, err := mgr.CreateDraft(context.Background(), "L1", nil, Edits{SQL: &newerSQL})
	require.NoError(t, err)
	assert.Equal(t, firstDraftID, draft2.ID, "re-editing must reuse the draft row, not duplicate it")
	assert.Equal(t, "SELECT 3", draft2.SQL)
}

func TestSubmitAndApprove_PromotesDraftAndArchivesPreviousActive(t *testing.T) {
	db := setupTestDB(t)
	activeID := insertActiveLoader(t, db, "L2")
	mgr := New(db, nil)

	newSQL := "SELECT 2"
	draft, err := mgr.CreateDraft(context.Background(), "L2", nil, Edits{SQL: &newSQL})
	require.NoError(t, err)

	require.NoError(t, mgr.Submit(context.Background(), draft.ID, "alice"))

	promoted, err := mgr.Approve(context.Background(), draft.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.VersionActive, promoted.VersionStatus)
	assert.Equal(t, domain.ApprovalApproved, promoted.ApprovalStatus)
	assert.Equal(t, 2, promoted.VersionNumber)

	var oldStatus string
	require.NoError(t, db.QueryRow(context.Background(),
		`SELECT version_status FROM loader.loader WHERE id = $1`, activeID).Scan(&oldStatus))
	assert.Equal(t, "ARCHIVED", oldStatus)

	var approvalStatus string
	require.NoError(t, db.QueryRow(context.Background(),
		`SELECT approval_status FROM loader.approval_request WHERE entity_id = $1`, draft.ID).Scan(&approvalStatus))
	assert.Equal(t, "APPROVED", approvalStatus)
}

func TestSubmitAndReject_ArchivesDraftAsRejected(t *testing.T) {
	db := setupTestDB(t)
	insertActiveLoader(t, db, "L3")
	mgr := New(db, nil)

	newSQL := "SELECT 2"
	draft, err := mgr.CreateDraft(context.Background(), "L3", nil, Edits{SQL: &newSQL})
	require.NoError(t, err)
	require.NoError(t, mgr.Submit(context.Background(), draft.ID, "alice"))

	require.NoError(t, mgr.Reject(context.Background(), draft.ID, "bob", "bad sql"))

	var status, approval string
	require.NoError(t, db.QueryRow(context.Background(),
		`SELECT version_status, approval_status FROM loader.loader WHERE id = $1`, draft.ID).Scan(&status, &approval))
	assert.Equal(t, "ARCHIVED", status)
	assert.Equal(t, "REJECTED", approval)

	var reason string
	require.NoError(t, db.QueryRow(context.Background(),
		`SELECT review_reason FROM loader.approval_request WHERE entity_id = $1`, draft.ID).Scan(&reason))
	assert.Equal(t, "bad sql", reason)
}

func TestCreateDraft_RefusesSecondDraftWhilePending(t *testing.T) {
	db := setupTestDB(t)
	insertActiveLoader(t, db, "L4")
	mgr := New(db, nil)

	sql1 := "SELECT 2"
	draft, err := mgr.CreateDraft(context.Background(), "L4", nil, Edits{SQL: &sql1})
	require.NoError(t, err)
	require.NoError(t, mgr.Submit(context.Background(), draft.ID, "alice"))

	sql2 := "SELECT 3"
	_, err = mgr.CreateDraft(context.Background(), "L4", nil, Edits{SQL: &sql2})
	assert.ErrorIs(t, err, ErrDraftPending)
}

func TestRollback_CreatesDraftFromArchivedVersion(t *testing.T) {
	db := setupTestDB(t)
	insertActiveLoader(t, db, "L5")
	mgr := New(db, nil)

	newSQL := "SELECT 2"
	draft, err := mgr.CreateDraft(context.Background(), "L5", nil, Edits{SQL: &newSQL})
	require.NoError(t, err)
	require.NoError(t, mgr.Submit(context.Background(), draft.ID, "alice"))
	_, err = mgr.Approve(context.Background(), draft.ID, "bob")
	require.NoError(t, err)

	rolledBack, err := mgr.Rollback(context.Background(), "L5", 1, "carol")
	require.NoError(t, err)
	assert.Equal(t, domain.VersionDraft, rolledBack.VersionStatus)
	assert.Equal(t, "SELECT 1", rolledBack.SQL, "version 1 predates the SQL edit")
}
