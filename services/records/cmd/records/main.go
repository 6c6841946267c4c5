package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"vetrecords/internal/bootstrap"
	"vetrecords/internal/ratelimit"
	"vetrecords/internal/util"
	"vetrecords/services/records/internal/app"
	"vetrecords/services/records/internal/config"
	"vetrecords/services/records/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, closeLogs := util.InitLogger(cfg.LogLevel, "records", cfg.LogsDir)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("records service stopped", "err", err)
	}
	_ = closeLogs()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.FileConfig, logger *slog.Logger) error {
	host, _ := os.Hostname()
	comps, err := bootstrap.Open(ctx, cfg.Sections, "records-"+host)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := comps.Close(); cerr != nil {
			logger.Error("close backends", "err", cerr)
		}
	}()

	orch, err := comps.Orchestrator(cfg.Sections, bootstrap.PipelineOptions{
		Execute: cfg.EmbeddedWorker.Enabled,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}
	core, err := app.New(app.Config{
		Store:             comps.Store,
		Files:             comps.Files,
		Processor:         orch,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}

	srvCfg := server.Config{
		App:                core,
		TrustedProxies:     trusted,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	if n := cfg.RateLimit.UploadPerMinute; n > 0 {
		l, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RateLimit.RedisAddr, cfg.RateLimit.RedisPassword, "vetrecords:ratelimit:upload", n, time.Minute)
		if err != nil {
			return fmt.Errorf("init upload rate limit: %w", err)
		}
		defer l.Close()
		srvCfg.UploadLimiter = l
	}
	if n := cfg.RateLimit.ProcessPerMinute; n > 0 {
		l, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RateLimit.RedisAddr, cfg.RateLimit.RedisPassword, "vetrecords:ratelimit:process", n, time.Minute)
		if err != nil {
			return fmt.Errorf("init process rate limit: %w", err)
		}
		defer l.Close()
		srvCfg.ProcessLimiter = l
	}
	httpServer, err := server.New(srvCfg)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.EmbeddedWorker.Enabled {
		concurrency := cfg.EmbeddedWorker.Concurrency
		if concurrency <= 0 {
			concurrency = 2
		}
		handler := bootstrap.WithTaskTimeout(orch.HandleTask, cfg.EmbeddedWorker.TaskTimeout())
		if err := comps.Queue.Start(gctx, concurrency, handler); err != nil {
			return fmt.Errorf("start embedded worker: %w", err)
		}
		logger.Info("embedded worker started", "concurrency", concurrency, "broker", cfg.Queue.Broker)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	g.Go(func() error {
		logger.Info("records server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("shutting down records server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
