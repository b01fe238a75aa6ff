package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/queryvault/queryvault/internal/api"
	"github.com/queryvault/queryvault/internal/cache"
	"github.com/queryvault/queryvault/internal/config"
	"github.com/queryvault/queryvault/internal/jobs"
	"github.com/queryvault/queryvault/internal/observability"
	"github.com/queryvault/queryvault/internal/query"
	"github.com/queryvault/queryvault/internal/query/duckdb"
	"github.com/queryvault/queryvault/internal/revision"
	"github.com/queryvault/queryvault/internal/site"
	storepostgres "github.com/queryvault/queryvault/internal/store/postgres"
	s3store "github.com/queryvault/queryvault/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("queryvault-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	storeDB, err := storepostgres.Open(context.Background(), storepostgres.DBConfig{
		DSN:             cfg.Store.DSN,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open store db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = storeDB.Close() }()

	repo := storepostgres.NewRepository(storeDB)
	registry, err := loadSites(context.Background(), repo)
	if err != nil {
		logger.Error("failed to load site registry", slog.Any("error", err))
		os.Exit(1)
	}
	if registry.Len() == 0 {
		logger.Warn("no sites are registered; queries will fail until sites are seeded")
	}

	objectStore, err := s3store.New(context.Background(), s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	resultCache := cache.New(objectStore, logger)
	runner := &query.Runner{
		Sites:    registry,
		Executor: duckdb.NewExecutor(cfg.Runner.QueryTimeout),
		Cache:    resultCache,
		Logger:   logger,
	}
	revisions := revision.NewService(repo, logger)
	pipeline := &api.Pipeline{Runner: runner, Revisions: revisions, Repo: repo, Logger: logger}
	jobRunner := jobs.NewRunner(pipeline.Execute, jobs.Config{
		InlineWait:   cfg.Runner.InlineWait,
		MaxAge:       cfg.Runner.JobMaxAge,
		ReapInterval: cfg.Runner.ReapInterval,
		ReapGrace:    cfg.Runner.ReapGrace,
	}, logger)

	deps := api.Dependencies{
		Logger:    logger,
		Repo:      repo,
		Sites:     registry,
		Runner:    runner,
		Jobs:      jobRunner,
		Revisions: revisions,
		Cache:     resultCache,
		Readiness: api.CombineReadinessChecks(
			repo.HealthCheck,
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := jobRunner.Run(ctx); err != nil {
			logger.Error("job reaper failed", slog.Any("error", err))
		}
	}()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func loadSites(ctx context.Context, repo *storepostgres.Repository) (*site.Registry, error) {
	rows, err := repo.ListSites(ctx)
	if err != nil {
		return nil, err
	}
	sites := make([]site.Site, 0, len(rows))
	for _, row := range rows {
		sites = append(sites, site.Site{
			ID:           row.ID,
			Name:         row.Name,
			Description:  row.Description,
			DatabasePath: row.DatabasePath,
			IsMeta:       row.IsMeta,
		})
	}
	return site.NewRegistry(sites), nil
}
