// Package main is the entry point for the ETL signal loader service: it
// wires the Source Registry, Query Runner, Row Transformer, Segment
// Dictionary, Ingest Service, Distributed Lock Manager, Execution History
// Store, Loader Executor, Scheduler, Versioned Config Manager, and
// Approval/State Permissions together behind the HTTP control surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitaliisemenov/etl-signal-loader/internal/api"
	"github.com/vitaliisemenov/etl-signal-loader/internal/api/handlers"
	"github.com/vitaliisemenov/etl-signal-loader/internal/backfillstore"
	"github.com/vitaliisemenov/etl-signal-loader/internal/circuitbreaker"
	"github.com/vitaliisemenov/etl-signal-loader/internal/config"
	"github.com/vitaliisemenov/etl-signal-loader/internal/configversioning"
	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
	"github.com/vitaliisemenov/etl-signal-loader/internal/executor"
	"github.com/vitaliisemenov/etl-signal-loader/internal/history"
	"github.com/vitaliisemenov/etl-signal-loader/internal/infrastructure/cache"
	"github.com/vitaliisemenov/etl-signal-loader/internal/ingest"
	"github.com/vitaliisemenov/etl-signal-loader/internal/loaderstore"
	"github.com/vitaliisemenov/etl-signal-loader/internal/lock"
	"github.com/vitaliisemenov/etl-signal-loader/internal/permissions"
	"github.com/vitaliisemenov/etl-signal-loader/internal/queryrunner"
	"github.com/vitaliisemenov/etl-signal-loader/internal/realtime"
	"github.com/vitaliisemenov/etl-signal-loader/internal/reaper"
	"github.com/vitaliisemenov/etl-signal-loader/internal/scheduler"
	"github.com/vitaliisemenov/etl-signal-loader/internal/segment"
	"github.com/vitaliisemenov/etl-signal-loader/internal/signalstore"
	"github.com/vitaliisemenov/etl-signal-loader/internal/sourceregistry"
	"github.com/vitaliisemenov/etl-signal-loader/internal/timewindow"
	"github.com/vitaliisemenov/etl-signal-loader/internal/transform"
)

const (
	serviceName    = "etl-signal-loader"
	serviceVersion = "1.0.0"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help information")
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}
	if *showHelp {
		fmt.Printf("%s - Distributed ETL signal loader\n\n", serviceName)
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("starting service", "service", serviceName, "version", serviceVersion)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	dbPool := postgres.NewPostgresPool(&postgres.PostgresConfig{
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		Database:          cfg.Database.Database,
		User:              cfg.Database.Username,
		Password:          cfg.Database.Password,
		SSLMode:           cfg.Database.SSLMode,
		MaxConns:          int32(cfg.Database.MaxConnections),
		MinConns:          int32(cfg.Database.MinConnections),
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
		ConnectTimeout:    cfg.Database.ConnectTimeout,
	}, logger)
	if err := dbPool.Connect(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = dbPool.Disconnect(ctx) }()
	logger.Info("connected to PostgreSQL")

	var redisCache cache.Cache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(&cache.CacheConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, logger)
		if err != nil {
			logger.Warn("redis cache unavailable, segment dictionary will run local-LRU-only", "error", err)
		} else {
			redisCache = rc
		}
	}

	replicaName := cfg.Scheduler.ReplicaID
	if replicaName == "" {
		if hostname, err := os.Hostname(); err == nil {
			replicaName = hostname
		} else {
			replicaName = "replica-unknown"
		}
	}

	sources := sourceregistry.New(dbPool, logger)
	if err := sources.ReloadAll(ctx); err != nil {
		logger.Error("failed to load source database registry", "error", err)
		os.Exit(1)
	}

	runner := queryrunner.New(sources, circuitbreaker.DefaultConfig(), logger)

	segments, err := segment.New(dbPool, redisCache, segment.Config{}, logger)
	if err != nil {
		logger.Error("failed to build segment dictionary", "error", err)
		os.Exit(1)
	}
	transformer := transform.New(segments)

	ingestSvc := ingest.New(dbPool, logger)
	locks := lock.New(dbPool, lock.Config{StaleThreshold: 15 * time.Minute}, logger)
	histStore := history.New(dbPool, logger)
	loaders := loaderstore.New(dbPool, logger)
	windows := timewindow.New(logger)

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

	eventMetrics := realtime.NewRealtimeMetrics("etl_signal_loader")
	eventBus := realtime.NewEventBus(logger, eventMetrics)
	publisher := realtime.NewEventPublisher(eventBus, logger, eventMetrics)

	sched := scheduler.New(loaders, scheduler.NewRunner(func(ctx context.Context, c loaderstore.Candidate, now time.Time) (string, error) {
		_ = publisher.PublishRunStarted(c.Loader.Code, replicaName, now, now)
		outcome, err := exec.Run(ctx, c, now)
		_ = publisher.PublishRunFinished(c.Loader.Code, string(outcome), 0)
		return string(outcome), err
	}), scheduler.Config{
		PollInterval: cfg.Scheduler.TickInterval,
		Workers:      cfg.Scheduler.MaxParallelExecutions,
	}, logger)

	reap := reaper.New(locks, histStore, reaper.Config{StaleThreshold: 15 * time.Minute}, logger)

	versions := configversioning.New(dbPool, logger)
	permMatrix := permissions.New(dbPool, logger)
	if err := permMatrix.Reload(ctx); err != nil {
		logger.Error("failed to load permission matrix", "error", err)
		os.Exit(1)
	}

	backfills := backfillstore.New(dbPool, logger)
	signals := signalstore.New(dbPool, logger)

	reloadValidator := config.NewConfigValidator()
	reloadComparator := config.NewConfigComparator()
	reloader := config.NewConfigReloader(logger)
	reloader.Register(config.NewSourceRegistryReloadable(sources))
	reloader.Register(config.NewPermissionMatrixReloadable(permMatrix))
	reloadStorage := config.NewPostgreSQLConfigStorage(dbPool.Pool(), logger)
	reloadLocks := config.NewPostgreSQLLockManager(dbPool.Pool(), logger)
	reloadCoordinator := config.NewReloadCoordinator(cfg, *configPath, reloadValidator, reloadComparator, reloader, reloadStorage, reloadLocks, logger)
	updateService := config.NewConfigUpdateService(cfg, reloadStorage, reloadValidator, reloadComparator, reloader, reloadLocks, logger)

	creds := make([]handlers.Credential, 0, len(cfg.Auth.Users))
	for _, u := range cfg.Auth.Users {
		creds = append(creds, handlers.Credential{Username: u.Username, Password: u.Password, APIKey: u.APIKey, Role: u.Role})
	}
	authenticator := handlers.NewAuthenticator(creds)

	deps := &handlers.Deps{
		Loaders:      loaders,
		Versions:     versions,
		Backfill:     backfills,
		Signals:      signals,
		Sources:      sources,
		History:      histStore,
		Executor:     exec,
		Permissions:   permMatrix,
		ConfigReload:  reloadCoordinator,
		ConfigUpdates: updateService,
		ConfigPath:    *configPath,
		Auth:          authenticator,
		Events:       eventBus,
		Publisher:    publisher,
		Logger:       logger,
	}

	routerCfg := api.DefaultRouterConfig(logger)
	routerCfg.DB = dbPool
	routerCfg.Handlers = deps
	routerCfg.JWTSecret = cfg.Auth.JWTSecret
	routerCfg.AuthConfig.JWTSecret = cfg.Auth.JWTSecret
	routerCfg.AuthConfig.EnableAPIKey = cfg.Auth.EnableAPIKey
	routerCfg.AuthConfig.EnableJWT = cfg.Auth.EnableJWT
	routerCfg.AuthConfig.APIKeys = authenticator.APIKeys()
	routerCfg.RateLimitPerMinute = cfg.Auth.RateLimit.PerIPLimit
	mux := api.NewRouter(routerCfg)

	if err := eventBus.Start(ctx); err != nil {
		logger.Error("failed to start event bus", "error", err)
		os.Exit(1)
	}
	sched.Start(ctx)
	reap.Start(ctx)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			logger.Info("SIGHUP received, reloading configuration", "config_path", *configPath)
			if _, err := reloadCoordinator.ReloadFromFile(ctx, *configPath); err != nil {
				logger.Error("config reload failed", "error", err)
			}
		}
	}()

	go func() {
		logger.Info("HTTP server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	if err := sched.Stop(10 * time.Second); err != nil {
		logger.Error("scheduler failed to stop cleanly", "error", err)
	}
	if err := reap.Stop(10 * time.Second); err != nil {
		logger.Error("reaper failed to stop cleanly", "error", err)
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		logger.Error("event bus failed to stop cleanly", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}
