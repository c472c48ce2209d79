// Command seed inserts a handful of example source databases and loader
// definitions so a freshly migrated environment has something for the
// scheduler and control API to exercise without hand-writing SQL.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaliisemenov/etl-signal-loader/internal/configversioning"
	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
)

// poolConn adapts a bare *pgxpool.Pool to postgres.DatabaseConnection so
// configversioning.Manager can be reused here without standing up the
// full PostgresPool lifecycle (health checks, metrics) this one-shot CLI
// has no use for.
type poolConn struct{ pool *pgxpool.Pool }

func (c *poolConn) Connect(context.Context) error    { return nil }
func (c *poolConn) Disconnect(context.Context) error { c.pool.Close(); return nil }
func (c *poolConn) IsConnected() bool                { return true }
func (c *poolConn) Health(ctx context.Context) error { return c.pool.Ping(ctx) }
func (c *poolConn) Stats() postgres.PoolStats        { return postgres.PoolStats{} }
func (c *poolConn) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return c.pool.Exec(ctx, sql, args...)
}
func (c *poolConn) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return c.pool.Query(ctx, sql, args...)
}
func (c *poolConn) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return c.pool.QueryRow(ctx, sql, args...)
}
func (c *poolConn) Begin(ctx context.Context) (pgx.Tx, error) { return c.pool.Begin(ctx) }

var (
	dsn   = flag.String("dsn", "", "Database connection string")
	clean = flag.Bool("clean", false, "Remove previously seeded example rows before seeding")
)

// exampleSource is one source database descriptor to seed, paired with the
// example loaders that should run against it.
type exampleSource struct {
	db      domain.SourceDatabase
	loaders []domain.Loader
}

func examples() []exampleSource {
	agg := 3600
	return []exampleSource{
		{
			db: domain.SourceDatabase{
				Code: "ORDERS_PG", Kind: domain.SourceKindPostgreSQL,
				Host: "orders-db.internal", Port: 5432, Database: "orders",
				Username: "etl_reader", Password: "changeme",
			},
			loaders: []domain.Loader{
				{
					Code: "ORDERS_HOURLY_VOLUME",
					SQL: "SELECT date_trunc('hour', created_at) AS bucket, region, " +
						"count(*) AS order_count, sum(total_cents) AS revenue_cents " +
						"FROM orders WHERE created_at >= $1 AND created_at < $2 " +
						"GROUP BY 1, 2",
					MinIntervalSeconds: 300, MaxIntervalSeconds: 3600,
					MaxQueryPeriodSeconds: 7200, MaxParallelExecutions: 2,
					AggregationPeriodSeconds: &agg,
					PurgeStrategy:            domain.PurgeAndReload,
					Enabled:                  true,
				},
			},
		},
		{
			db: domain.SourceDatabase{
				Code: "BILLING_MYSQL", Kind: domain.SourceKindMySQL,
				Host: "billing-db.internal", Port: 3306, Database: "billing",
				Username: "etl_reader", Password: "changeme",
			},
			loaders: []domain.Loader{
				{
					Code: "BILLING_DAILY_CHARGES",
					SQL: "SELECT DATE(charged_at) AS bucket, plan_code, " +
						"COUNT(*) AS charge_count, SUM(amount_cents) AS amount_cents " +
						"FROM charges WHERE charged_at >= ? AND charged_at < ? " +
						"GROUP BY 1, 2",
					MinIntervalSeconds: 900, MaxIntervalSeconds: 86400,
					MaxQueryPeriodSeconds: 86400, MaxParallelExecutions: 1,
					PurgeStrategy: domain.PurgeSkipDuplicates,
					Enabled:       true,
				},
			},
		},
	}
}

func main() {
	flag.Parse()
	if *dsn == "" {
		log.Fatal("Error: -dsn flag is required\nUsage: go run ./cmd/seed -dsn 'postgres://...'")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	if *clean {
		fmt.Println("cleaning previously seeded example rows...")
		if err := cleanExamples(ctx, pool); err != nil {
			log.Fatalf("failed to clean example rows: %v", err)
		}
	}

	versions := configversioning.New(&poolConn{pool}, logger)

	fmt.Println("seeding example source databases and loaders...")
	seeded := 0
	for _, ex := range examples() {
		dbID, err := seedSourceDatabase(ctx, pool, ex.db)
		if err != nil {
			log.Printf("warning: failed to seed source database %s: %v", ex.db.Code, err)
			continue
		}
		fmt.Printf("  source database %s ready (id=%s)\n", ex.db.Code, dbID)

		for _, l := range ex.loaders {
			l.SourceDatabaseID = dbID
			if _, err := versions.CreateNew(ctx, l); err != nil {
				log.Printf("warning: failed to seed loader %s: %v", l.Code, err)
				continue
			}
			fmt.Printf("    loader %s drafted — approve it via POST /api/v1/res/loaders/%s/approve\n", l.Code, l.Code)
			seeded++
		}
	}

	fmt.Printf("seeded %d example loader(s)\n", seeded)
}

func seedSourceDatabase(ctx context.Context, pool *pgxpool.Pool, d domain.SourceDatabase) (string, error) {
	const upsert = `
		INSERT INTO loader.source_database (db_code, kind, host, port, database, username, password)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (db_code) DO UPDATE SET
			kind = EXCLUDED.kind, host = EXCLUDED.host, port = EXCLUDED.port,
			database = EXCLUDED.database, username = EXCLUDED.username,
			password = EXCLUDED.password, updated_at = now()
		RETURNING id`

	var id string
	err := pool.QueryRow(ctx, upsert, d.Code, string(d.Kind), d.Host, d.Port, d.Database, d.Username, d.Password).Scan(&id)
	return id, err
}

func cleanExamples(ctx context.Context, pool *pgxpool.Pool) error {
	codes := make([]string, 0)
	for _, ex := range examples() {
		for _, l := range ex.loaders {
			codes = append(codes, l.Code)
		}
	}
	if _, err := pool.Exec(ctx, `DELETE FROM loader.loader WHERE code = ANY($1)`, codes); err != nil {
		return fmt.Errorf("delete loaders: %w", err)
	}

	dbCodes := make([]string, 0, len(examples()))
	for _, ex := range examples() {
		dbCodes = append(dbCodes, ex.db.Code)
	}
	if _, err := pool.Exec(ctx, `DELETE FROM loader.source_database WHERE db_code = ANY($1)`, dbCodes); err != nil {
		return fmt.Errorf("delete source databases: %w", err)
	}
	return nil
}
