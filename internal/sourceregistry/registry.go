// Package sourceregistry keeps one live connection pool per source
// database (SPEC_FULL.md §4.1) and hands them out by dbCode. Pools are
// opened lazily from rows in loader.source_database and rebuilt in the
// background on ReloadAll; a dbCode whose descriptor disappears or whose
// connection parameters changed gets its old pool drained only after the
// replacement is confirmed reachable, so an in-flight query is never cut
// out from under the Query Runner.
package sourceregistry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
)

// ErrSourceNotFound is returned by GetPool when dbCode names no known
// source database.
var ErrSourceNotFound = errors.New("sourceregistry: unknown source database code")

// ErrUnsupportedKind is returned when a SourceDatabase row names a kind
// the registry has no driver for.
var ErrUnsupportedKind = errors.New("sourceregistry: unsupported source kind")

const (
	// pingTimeout bounds the reachability probe done before a freshly
	// opened pool replaces an existing one during ReloadAll.
	pingTimeout = 5 * time.Second

	defaultMaxOpenConns = 8
	defaultMaxIdleConns = 2
	defaultConnMaxIdle  = 5 * time.Minute
)

// entry pairs a live pool with the descriptor it was opened from, so
// ReloadAll can detect whether the descriptor actually changed before
// paying to reopen a connection.
type entry struct {
	desc domain.SourceDatabase
	pool *sql.DB
}

// Registry owns the set of live source-database connection pools.
type Registry struct {
	store  postgres.DatabaseConnection
	logger *slog.Logger

	mu    sync.RWMutex
	pools map[string]*entry

	metrics *Metrics
}

// New creates a Registry backed by store, the application's own Postgres
// connection holding the loader.source_database table.
func New(store postgres.DatabaseConnection, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   store,
		logger:  logger,
		pools:   make(map[string]*entry),
		metrics: defaultMetrics(),
	}
}

// GetPool returns the live pool and descriptor for dbCode. Callers must
// not close the returned *sql.DB; the registry owns its lifecycle.
func (r *Registry) GetPool(dbCode string) (*sql.DB, domain.SourceDatabase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.pools[dbCode]
	if !ok {
		return nil, domain.SourceDatabase{}, fmt.Errorf("%w: %s", ErrSourceNotFound, dbCode)
	}
	return e.pool, e.desc, nil
}

// ListDescriptors returns every known source database descriptor, for the
// admin db-sources listing route. Passwords are scrubbed from the JSON
// response by domain.SourceDatabase's own `json:"-"` tag, not by the
// caller.
func (r *Registry) ListDescriptors(ctx context.Context) ([]domain.SourceDatabase, error) {
	return r.loadDescriptors(ctx)
}

// ReloadAll reads every source_database row from storage and reconciles
// the in-memory pool set against it: new codes get a pool opened, codes
// whose connection parameters changed get a replacement pool opened and
// swapped in before the old one is closed, and codes no longer present
// get their pool closed. A single malformed row (bad kind, unreachable
// host) is logged and skipped rather than failing the whole reload, so
// one broken source database never takes every other source offline.
func (r *Registry) ReloadAll(ctx context.Context) error {
	descriptors, err := r.loadDescriptors(ctx)
	if err != nil {
		return fmt.Errorf("sourceregistry: load descriptors: %w", err)
	}

	seen := make(map[string]struct{}, len(descriptors))
	var stale []*sql.DB

	for _, desc := range descriptors {
		seen[desc.Code] = struct{}{}

		r.mu.RLock()
		existing, ok := r.pools[desc.Code]
		r.mu.RUnlock()

		if ok && descriptorsEqual(existing.desc, desc) {
			continue
		}

		pool, err := openPool(desc)
		if err != nil {
			r.logger.Error("failed to open source database pool",
				"db_code", desc.Code, "kind", desc.Kind, "error", err)
			r.metrics.OpenErrors.WithLabelValues(string(desc.Kind)).Inc()
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = pool.PingContext(pingCtx)
		cancel()
		if err != nil {
			r.logger.Error("source database unreachable, keeping previous pool if any",
				"db_code", desc.Code, "error", err)
			r.metrics.OpenErrors.WithLabelValues(string(desc.Kind)).Inc()
			_ = pool.Close()
			continue
		}

		r.mu.Lock()
		r.pools[desc.Code] = &entry{desc: desc, pool: pool}
		r.mu.Unlock()

		r.logger.Info("source database pool ready", "db_code", desc.Code, "kind", desc.Kind)
		r.metrics.PoolsActive.Set(float64(len(r.pools)))

		if ok {
			stale = append(stale, existing.pool)
		}
	}

	r.mu.Lock()
	for code, e := range r.pools {
		if _, ok := seen[code]; !ok {
			stale = append(stale, e.pool)
			delete(r.pools, code)
			r.logger.Info("source database removed, pool closed", "db_code", code)
		}
	}
	r.metrics.PoolsActive.Set(float64(len(r.pools)))
	r.mu.Unlock()

	for _, pool := range stale {
		if err := pool.Close(); err != nil {
			r.logger.Warn("error closing stale source database pool", "error", err)
		}
	}

	return nil
}

// Close drains every open pool. Intended for process shutdown.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for code, e := range r.pools {
		if err := e.pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.pools, code)
	}
	r.metrics.PoolsActive.Set(0)
	return firstErr
}

func (r *Registry) loadDescriptors(ctx context.Context) ([]domain.SourceDatabase, error) {
	const query = `
		SELECT id, db_code, kind, host, port, database, username, password,
		       created_at, updated_at
		FROM loader.source_database
		ORDER BY db_code`

	rows, err := r.store.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SourceDatabase
	for rows.Next() {
		var d domain.SourceDatabase
		var kind string
		if err := rows.Scan(&d.ID, &d.Code, &kind, &d.Host, &d.Port, &d.Database,
			&d.Username, &d.Password, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Kind = domain.SourceKind(kind)
		if !d.Kind.Valid() {
			r.logger.Error("source_database row has unsupported kind, skipping",
				"db_code", d.Code, "kind", kind)
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func descriptorsEqual(a, b domain.SourceDatabase) bool {
	return a.Kind == b.Kind && a.Host == b.Host && a.Port == b.Port &&
		a.Database == b.Database && a.Username == b.Username && a.Password == b.Password
}

func openPool(desc domain.SourceDatabase) (*sql.DB, error) {
	var driver, dsn string
	switch desc.Kind {
	case domain.SourceKindPostgreSQL:
		driver = "pgx"
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=require",
			desc.Username, desc.Password, desc.Host, desc.Port, desc.Database)
	case domain.SourceKindMySQL:
		driver = "mysql"
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=10s",
			desc.Username, desc.Password, desc.Host, desc.Port, desc.Database)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, desc.Kind)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxIdleTime(defaultConnMaxIdle)

	return db, nil
}
