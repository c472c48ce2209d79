// Command backfill runs a standalone worker that drains the backfill job
// queue independently of the HTTP server, so a large historical replay can
// be scaled out on its own replicas without contending with the scheduler's
// regular polling loop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/etl-signal-loader/internal/backfillstore"
	"github.com/vitaliisemenov/etl-signal-loader/internal/circuitbreaker"
	"github.com/vitaliisemenov/etl-signal-loader/internal/config"
	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
	"github.com/vitaliisemenov/etl-signal-loader/internal/executor"
	"github.com/vitaliisemenov/etl-signal-loader/internal/history"
	"github.com/vitaliisemenov/etl-signal-loader/internal/infrastructure/cache"
	"github.com/vitaliisemenov/etl-signal-loader/internal/ingest"
	"github.com/vitaliisemenov/etl-signal-loader/internal/loaderstore"
	"github.com/vitaliisemenov/etl-signal-loader/internal/lock"
	"github.com/vitaliisemenov/etl-signal-loader/internal/queryrunner"
	"github.com/vitaliisemenov/etl-signal-loader/internal/segment"
	"github.com/vitaliisemenov/etl-signal-loader/internal/sourceregistry"
	"github.com/vitaliisemenov/etl-signal-loader/internal/timewindow"
	"github.com/vitaliisemenov/etl-signal-loader/internal/transform"
)

// deps bundles the subset of the loader execution core a backfill worker
// needs — no HTTP layer, no permission matrix, no scheduler poll loop.
type deps struct {
	backfill *backfillstore.Store
	loaders  *loaderstore.Store
	exec     *executor.Executor
	sources  *sourceregistry.Registry
	logger   *slog.Logger
}

func buildDeps(ctx context.Context, configPath string) (*deps, func(), error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	dbPool := postgres.NewPostgresPool(&postgres.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Database:        cfg.Database.Database,
		User:            cfg.Database.Username,
		Password:        cfg.Database.Password,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxConnections),
		MinConns:        int32(cfg.Database.MinConnections),
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	}, logger)
	if err := dbPool.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	cleanup := func() { _ = dbPool.Disconnect(ctx) }

	var redisCache cache.Cache
	if cfg.Redis.Addr != "" {
		if rc, err := cache.NewRedisCache(&cache.CacheConfig{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize, DialTimeout: cfg.Redis.DialTimeout,
			ReadTimeout: cfg.Redis.ReadTimeout, WriteTimeout: cfg.Redis.WriteTimeout,
		}, logger); err != nil {
			logger.Warn("redis cache unavailable, segment dictionary will run local-LRU-only", "error", err)
		} else {
			redisCache = rc
		}
	}

	sources := sourceregistry.New(dbPool, logger)
	if err := sources.ReloadAll(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load source database registry: %w", err)
	}

	runner := queryrunner.New(sources, circuitbreaker.DefaultConfig(), logger)

	segments, err := segment.New(dbPool, redisCache, segment.Config{}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("build segment dictionary: %w", err)
	}
	transformer := transform.New(segments)

	ingestSvc := ingest.New(dbPool, logger)
	locks := lock.New(dbPool, lock.Config{StaleThreshold: 15 * time.Minute}, logger)
	histStore := history.New(dbPool, logger)
	loaders := loaderstore.New(dbPool, logger)
	windows := timewindow.New(logger)

	replicaName, err := os.Hostname()
	if err != nil {
		replicaName = "backfill-worker-unknown"
	}

	exec := executor.New(executor.Config{
		Locks:        locks,
		History:      histStore,
		Store:        loaders,
		Windows:      windows,
		Runner:       runner,
		Transformer:  transformer,
		Ingest:       ingestSvc,
		ReplicaName:  replicaName,
		QueryTimeout: cfg.Database.QueryTimeout,
		Logger:       logger,
	})

	return &deps{
		backfill: backfillstore.New(dbPool, logger),
		loaders:  loaders,
		exec:     exec,
		sources:  sources,
		logger:   logger,
	}, cleanup, nil
}

// claimAndRun claims the oldest pending backfill job and runs it to
// completion. It returns (false, nil) when the queue was empty.
func (d *deps) claimAndRun(ctx context.Context) (bool, error) {
	job, err := d.backfill.ClaimNextPending(ctx)
	if err != nil {
		return false, fmt.Errorf("claim next pending: %w", err)
	}
	if job == nil {
		return false, nil
	}

	c, err := d.loaders.GetActiveCandidate(ctx, job.LoaderCode)
	if err != nil {
		return true, fmt.Errorf("lookup active candidate for %s: %w", job.LoaderCode, err)
	}
	if c == nil {
		msg := "loader has no ACTIVE version"
		return true, d.backfill.Finalize(ctx, job.ID, domain.BackfillFailed, 0, 0, &msg)
	}

	from := time.Unix(job.FromTimeEpoch, 0).UTC()
	to := time.Unix(job.ToTimeEpoch, 0).UTC()
	d.logger.Info("running backfill job", "jobId", job.ID, "loaderCode", job.LoaderCode, "from", from, "to", to)

	loaded, ingested, _, runErr := d.exec.RunBackfill(ctx, c.Loader, c.SourceDBCode, from, to, job.PurgeStrategy, time.Now().UTC())
	if runErr != nil {
		msg := runErr.Error()
		d.logger.Error("backfill job failed", "jobId", job.ID, "error", runErr)
		return true, d.backfill.Finalize(ctx, job.ID, domain.BackfillFailed, int(loaded), int(ingested), &msg)
	}
	d.logger.Info("backfill job succeeded", "jobId", job.ID, "recordsLoaded", loaded, "recordsIngested", ingested)
	return true, d.backfill.Finalize(ctx, job.ID, domain.BackfillSuccess, int(loaded), int(ingested), nil)
}

func main() {
	var configPath string
	var pollInterval time.Duration

	root := &cobra.Command{
		Use:   "backfill",
		Short: "Standalone worker for the backfill job queue",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")

	runOnce := &cobra.Command{
		Use:   "run-once",
		Short: "Claim and execute a single pending backfill job, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, cleanup, err := buildDeps(ctx, configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			ran, err := d.claimAndRun(ctx)
			if err != nil {
				return err
			}
			if !ran {
				d.logger.Info("no pending backfill jobs")
			}
			return nil
		},
	}

	worker := &cobra.Command{
		Use:   "worker",
		Short: "Continuously drain the backfill job queue until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, cleanup, err := buildDeps(ctx, configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			d.logger.Info("backfill worker started", "pollInterval", pollInterval)
			ticker := time.NewTicker(pollInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					d.logger.Info("backfill worker shutting down")
					return nil
				case <-ticker.C:
					for {
						ran, err := d.claimAndRun(ctx)
						if err != nil {
							d.logger.Error("backfill job failed", "error", err)
							break
						}
						if !ran {
							break
						}
					}
				}
			}
		},
	}
	worker.Flags().DurationVar(&pollInterval, "poll-interval", 5*time.Second, "Interval between empty-queue polls")

	root.AddCommand(runOnce, worker)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
