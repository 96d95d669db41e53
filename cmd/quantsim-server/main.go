package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"quantsim/internal/api"
	"quantsim/internal/app"
	"quantsim/internal/config"
	"quantsim/internal/httpapi"
	"quantsim/internal/indicator"
	"quantsim/internal/jobs"
	"quantsim/internal/notify"
	"quantsim/internal/store"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logFile, err := app.SetupLogger(cfg, "quantsim-server")
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer logFile.Close()

	jobStore, sqlite, err := app.JobStore(cfg)
	if err != nil {
		log.Fatalf("failed to open job store: %v", err)
	}
	// The trade log always lives in SQLite, even when jobs are in postgres.
	if sqlite == nil {
		if sqlite, err = app.OpenSQLite(cfg); err != nil {
			log.Fatalf("failed to open trade log: %v", err)
		}
	}
	defer sqlite.Close()

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	blobs := store.NewFileBlobStore(cfg.Storage.BlobDir)

	var notifier notify.Notifier = notify.Noop{}
	if async := app.Notifier(cfg); async != nil {
		defer async.Close()
		notifier = async
	}

	runner := jobs.NewRunner(app.Provider(cfg, bars), indicator.NewStandard(), app.Evaluator(cfg), app.Costs(cfg))
	runner.WarmupSingle = cfg.Simulation.WarmupSingle
	runner.WarmupBulk = cfg.Simulation.WarmupBulk

	pool := jobs.NewPool(cfg.Jobs.Workers, cfg.Jobs.QueueSize)
	defer pool.Close()

	hub := api.NewProgressHub(api.JobReaderFunc(jobStore.GetJob))
	orch := jobs.NewOrchestrator(jobStore, blobs, runner, pool, jobs.Options{
		ProgressAttempts: cfg.Jobs.ProgressAttempts,
		Notifier:         notifier,
		Observer:         hub,
		Channel:          cfg.Notify.Channel,
	})

	handler := httpapi.NewSimulationServer(orch, hub, sqlite).Handler()
	srv := api.NewServer(cfg.Server.HTTPAddr(), cfg.Server.GRPCAddr(), handler, api.NewJobService(orch))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("quantsim-server starting",
		"http", cfg.Server.HTTPAddr(),
		"grpc", cfg.Server.GRPCAddr(),
		"jobStore", cfg.Jobs.Store,
		"workers", cfg.Jobs.Workers,
		"readThrough", cfg.Simulation.ReadThrough,
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("quantsim-server stopped")
}
