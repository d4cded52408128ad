package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"jget/internal/config"
	"jget/internal/downloader"
	"jget/internal/repository/sqlite"
	"jget/internal/service"
	"jget/internal/storage"
)

// app bundles what every command needs: the snapshot database, the
// registry loaded from it and, when configured, object storage.
type app struct {
	db       *sql.DB
	registry downloader.Registry
	storage  *storage.S3Service
	logger   *logrus.Logger
}

func newApp(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*app, error) {
	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	repo := sqlite.NewSnapshotRepository(db)
	if err := repo.Init(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init snapshot repository: %w", err)
	}

	store, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("setup storage: %w", err)
	}

	rcfg := downloader.Config{
		Directory: cfg.Download.Dir,
		Transfer: downloader.Options{
			Connections:  cfg.Download.Connections,
			IdleTimeout:  cfg.Download.IdleTimeout,
			MaxFailures:  cfg.Download.MaxFailures,
			RetryBackoff: cfg.Download.RetryBackoff,
			MaxRedirects: cfg.Download.MaxRedirects,
			ProbeMethod:  strings.ToUpper(cfg.Download.ProbeMethod),
			UserAgent:    cfg.Download.UserAgent,
			BufferSize:   cfg.Download.BufferSize,
		},
		SnapshotInterval: cfg.Snapshot.Interval,
		ProgressInterval: cfg.Progress.Interval,
		Logger:           logger,
	}
	if store != nil {
		rcfg.Publisher = store
	}
	registry := downloader.NewRegistry(rcfg, service.NewSnapshotService(repo))
	if err := registry.Load(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &app{db: db, registry: registry, storage: store, logger: logger}, nil
}

// Close stops running transfers so their snapshots are current, then
// closes the database.
func (a *app) Close(ctx context.Context) {
	if err := a.registry.Shutdown(ctx); err != nil {
		a.logger.Warnf("shutdown: %v", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warnf("close database: %v", err)
	}
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*storage.S3Service, error) {
	if cfg.Storage.Bucket == "" {
		return nil, nil
	}
	client, err := storage.NewS3Client(ctx, storage.S3Config{
		Region:   cfg.Storage.Region,
		Endpoint: cfg.Storage.Endpoint,
		Profile:  cfg.AWS.Profile,
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("publishing to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client, cfg.Storage.Bucket, cfg.Storage.KeyPrefix)
}
