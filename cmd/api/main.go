package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/fortunecoin/backend/internal/bootstrap"
	"github.com/fortunecoin/backend/internal/config"
	"github.com/fortunecoin/backend/internal/jobs"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a .yaml or .toml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	dispatcher, closeEvents := bootstrap.Events(cfg, logger)
	defer closeEvents()

	coins, clock, err := bootstrap.CoinService(cfg, backend.Store, dispatcher, logger)
	if err != nil {
		return err
	}
	authSvc, err := bootstrap.AuthService(cfg, logger)
	if err != nil {
		return err
	}

	if cfg.Jobs.Enabled {
		sweep := jobs.NewSweepWorker(backend.Store, clock, logger)
		rec := jobs.NewReconcileWorker(backend.Store, logger)
		schedule := jobs.Schedule{
			SweepEvery:     cfg.Jobs.SweepEvery.Std(),
			ReconcileEvery: cfg.Jobs.ReconcileEvery.Std(),
			RetentionDays:  cfg.Jobs.RetentionDays,
		}
		stopJobs, err := startJobs(ctx, backend, sweep, rec, schedule, logger)
		if err != nil {
			return err
		}
		defer stopJobs()
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.HTTP.Port,
		Handler:           newHTTPHandler(cfg, coins, authSvc, backend.Store, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// startJobs runs the maintenance jobs on River when the store is Postgres
// and on an in-process ticker otherwise.
func startJobs(ctx context.Context, backend *bootstrap.Backend, sweep *jobs.SweepWorker, rec *jobs.ReconcileWorker, schedule jobs.Schedule, logger *slog.Logger) (func(), error) {
	if backend.Pool == nil {
		t := jobs.NewTicker(sweep, rec, schedule, logger)
		t.Start(ctx)
		logger.Info("background jobs running in-process")
		return t.Stop, nil
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(backend.Pool), nil)
	if err != nil {
		return nil, err
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return nil, err
	}
	logger.Info("River migrations applied")

	workers := river.NewWorkers()
	jobs.Register(workers, sweep, rec)
	client, err := river.NewClient(riverpgxv5.New(backend.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Workers:      workers,
		PeriodicJobs: jobs.PeriodicJobs(schedule),
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Start(ctx); err != nil {
		return nil, err
	}
	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Stop(stopCtx); err != nil {
			logger.Error("River client stop", "error", err)
		}
	}, nil
}
