package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"vetrecords/internal/bootstrap"
	"vetrecords/internal/util"
	"vetrecords/services/worker/internal/app"
	"vetrecords/services/worker/internal/config"
)

func main() {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, closeLogs := util.InitLogger(cfg.LogLevel, "worker", cfg.LogsDir)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("worker stopped", "err", err)
	} else {
		logger.Info("worker stopped")
	}
	_ = closeLogs()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.FileConfig, logger *slog.Logger) error {
	host, _ := os.Hostname()
	consumer := fmt.Sprintf("worker-%s-%d", host, os.Getpid())
	comps, err := bootstrap.Open(ctx, cfg.Sections, consumer)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := comps.Close(); cerr != nil {
			logger.Error("close backends", "err", cerr)
		}
	}()

	orch, err := comps.Orchestrator(cfg.Sections, bootstrap.PipelineOptions{Execute: true, Logger: logger})
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}
	worker, err := app.New(app.Config{
		Queue:   comps.Queue,
		Handler: orch,
		Worker:  cfg.Worker,
		Addr:    ":" + cfg.Port,
		Logger:  logger.With("consumer", consumer),
	})
	if err != nil {
		return fmt.Errorf("init worker: %w", err)
	}
	return worker.Run(ctx)
}
