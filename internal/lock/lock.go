// Package lock implements the Distributed Lock Manager (SPEC_FULL.md §4.6):
// a Postgres-row coordination primitive, acquired before query execution and
// released after history finalization, with a reaper for stale holders.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
)

// ErrBusy is returned by TryAcquire when another replica already holds the
// lock for the given loader.
var ErrBusy = errors.New("lock: loader is busy")

// Handle identifies a held lock for release/extend calls.
type Handle struct {
	LockID     string
	LoaderCode string
	Version    int64
}

// Config controls reaper behaviour.
type Config struct {
	// StaleThreshold is how long a lock may be held before the reaper treats
	// it as abandoned. Per §4.6 this must exceed the normal run budget; the
	// scheduler's run timeout should be well under half of this.
	StaleThreshold time.Duration
}

// Manager is the Distributed Lock Manager. It is safe for concurrent use.
type Manager struct {
	db     postgres.DatabaseConnection
	cfg    Config
	logger *slog.Logger
}

// New builds a Manager.
func New(db postgres.DatabaseConnection, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 10 * time.Minute
	}
	return &Manager{db: db, cfg: cfg, logger: logger}
}

// TryAcquire implements §4.6's acquisition discipline: insert a row guarded
// by a partial unique index (one non-released row per loaderCode). A
// concurrent loser receives ErrBusy, never blocks.
func (m *Manager) TryAcquire(ctx context.Context, loaderCode, replicaName string) (*Handle, error) {
	lockID := uuid.New().String()

	var version int64
	err := m.db.QueryRow(ctx, insertLockSQL, lockID, loaderCode, replicaName).Scan(&version)
	if err == nil {
		m.logger.Info("lock acquired", "loaderCode", loaderCode, "replicaName", replicaName, "lockId", lockID)
		return &Handle{LockID: lockID, LoaderCode: loaderCode, Version: version}, nil
	}
	if isUniqueViolation(err) {
		return nil, ErrBusy
	}
	return nil, fmt.Errorf("lock: acquire %s: %w", loaderCode, err)
}

// Release implements §4.6's release discipline: flips released=true and
// bumps version, guarded by the version the caller observed at acquisition
// so a concurrent reap can't be silently undone by a late release.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	tag, err := m.db.Exec(ctx, releaseLockSQL, h.LockID, h.Version)
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", h.LoaderCode, err)
	}
	if tag.RowsAffected() == 0 {
		m.logger.Warn("lock release affected no row, likely already reaped", "lockId", h.LockID, "loaderCode", h.LoaderCode)
		return nil
	}
	m.logger.Info("lock released", "loaderCode", h.LoaderCode, "lockId", h.LockID)
	return nil
}

// ReapStale implements §4.6's reaping discipline: marks as released any
// non-released row whose acquiredAt predates the stale threshold, returning
// the loaderCodes it preempted so the caller can finalize their RUNNING
// history rows as FAILED/STALE.
func (m *Manager) ReapStale(ctx context.Context) ([]string, error) {
	cutoff := time.Now().UTC().Add(-m.cfg.StaleThreshold)

	rows, err := m.db.Query(ctx, reapStaleSQL, cutoff)
	if err != nil {
		return nil, fmt.Errorf("lock: reap stale: %w", err)
	}
	defer rows.Close()

	var reaped []string
	for rows.Next() {
		var loaderCode string
		if err := rows.Scan(&loaderCode); err != nil {
			return nil, fmt.Errorf("lock: scan reaped row: %w", err)
		}
		reaped = append(reaped, loaderCode)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock: iterate reaped rows: %w", err)
	}
	if len(reaped) > 0 {
		m.logger.Warn("reaped stale locks", "loaderCodes", reaped, "cutoff", cutoff)
	}
	return reaped, nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return errors.Is(err, pgx.ErrNoRows)
}

var (
	insertLockSQL = `
		INSERT INTO loader.loader_execution_lock (lock_id, loader_code, replica_name, acquired_at, released, version)
		VALUES ($1, $2, $3, now(), false, 1)
		RETURNING version`

	releaseLockSQL = `
		UPDATE loader.loader_execution_lock
		SET released = true, released_at = now(), version = version + 1
		WHERE lock_id = $1 AND version = $2 AND released = false`

	reapStaleSQL = `
		UPDATE loader.loader_execution_lock
		SET released = true, released_at = now(), version = version + 1
		WHERE released = false AND acquired_at < $1
		RETURNING loader_code`
)
