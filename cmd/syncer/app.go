package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"doc_syncer/internal/config"
	"doc_syncer/internal/history"
	"doc_syncer/internal/metrics"
	"doc_syncer/internal/orchestrator"
	"doc_syncer/internal/publisher"
	"doc_syncer/internal/registry"
	"doc_syncer/internal/service"
	"doc_syncer/internal/source/web"
	"doc_syncer/internal/storage/filestore"
	"doc_syncer/internal/storage/postgres"
)

// app holds everything a command needs, wired from the config.
type app struct {
	orch     *orchestrator.Orchestrator
	registry *registry.Registry
	metrics  *metrics.Metrics
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{metrics: metrics.New()}

	store, sink, err := a.openStorage(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		a.closers = append(a.closers, rabbitMQ.Close)
		pub = rabbitMQ
	}

	client := web.NewClient(web.ClientConfig{
		Timeout:        cfg.HTTP.Timeout,
		UserAgent:      cfg.HTTP.UserAgent,
		MaxBytes:       cfg.HTTP.MaxDownloadBytes,
		MaxAttempts:    cfg.HTTP.Retry.MaxAttempts,
		InitialBackoff: cfg.HTTP.Retry.InitialBackoff,
		MaxBackoff:     cfg.HTTP.Retry.MaxBackoff,
	}, logger)

	reg, err := registry.Build(cfg, client, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.registry = reg

	hist := history.New(sink, logger)
	if err := hist.Load(ctx); err != nil {
		a.Close()
		return nil, err
	}

	syncService := service.NewSyncService(store, pub, logger, cfg.Sync)

	orch, err := orchestrator.New(cfg.Agent, reg, syncService, hist, logger,
		orchestrator.WithMetrics(a.metrics),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orch = orch

	return a, nil
}

func (a *app) openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (service.FingerprintStore, history.Sink, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := postgres.Connect(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db.Close)
		logger.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.DBName)
		txManager := postgres.NewTransactionManager(db)
		return postgres.NewFingerprintStore(db, txManager), postgres.NewJobHistoryStore(db), nil
	default:
		return filestore.NewFingerprintStore(cfg.Storage.StateDir),
			filestore.NewHistoryLog(cfg.Storage.StateDir, logger),
			nil
	}
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
