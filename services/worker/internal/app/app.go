// Package app runs the queue consumers that execute processing tasks, next
// to a small health endpoint.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"vetrecords/internal/bootstrap"
	"vetrecords/pkg/queue"
)

// TaskHandler executes one delivered task.
type TaskHandler interface {
	HandleTask(ctx context.Context, task queue.Task) error
}

// Config holds runtime configuration for the worker.
type Config struct {
	Queue   queue.Queue
	Handler TaskHandler
	Worker  bootstrap.WorkerSection
	// Addr is the health listener address, e.g. ":8001".
	Addr   string
	Logger *slog.Logger
}

// App consumes tasks until its context is cancelled.
type App struct {
	queue   queue.Queue
	handler TaskHandler
	worker  bootstrap.WorkerSection
	addr    string
	logger  *slog.Logger

	ready   atomic.Bool
	handled atomic.Int64
	failed  atomic.Int64
}

func New(cfg Config) (*App, error) {
	if cfg.Queue == nil {
		return nil, errors.New("queue required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("task handler required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 1
	}
	return &App{
		queue:   cfg.Queue,
		handler: cfg.Handler,
		worker:  cfg.Worker,
		addr:    cfg.Addr,
		logger:  logger,
	}, nil
}

// Run starts the consumers and the health server and blocks until ctx is
// done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	handler := bootstrap.WithTaskTimeout(a.handle, a.worker.TaskTimeout())
	if err := a.queue.Start(gctx, a.worker.Concurrency, handler); err != nil {
		_ = ln.Close()
		return fmt.Errorf("start consumers: %w", err)
	}
	a.ready.Store(true)
	a.logger.Info("worker consuming", "concurrency", a.worker.Concurrency, "task_timeout", a.worker.TaskTimeout().String())

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		a.logger.Info("worker health listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.ready.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) handle(ctx context.Context, task queue.Task) error {
	err := a.handler.HandleTask(ctx, task)
	if err != nil {
		a.failed.Add(1)
		a.logger.Warn("task attempt failed", "task", task.Name, "task_id", task.ID, "attempt", task.Attempts, "err", err)
		return err
	}
	a.handled.Add(1)
	return nil
}

// Handler serves GET /healthz.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		status, code := "ok", http.StatusOK
		if !a.ready.Load() {
			status, code = "starting", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":        status,
			"tasks_handled": a.handled.Load(),
			"tasks_failed":  a.failed.Load(),
		})
	})
	return mux
}
