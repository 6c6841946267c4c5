package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type MemoryQueueConfig struct {
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// MemoryQueue is a buffered channel feeding a worker pool inside the
// current process. Tasks do not survive a restart.
type MemoryQueue struct {
	ch         chan Task
	maxRetries int
	retryDelay time.Duration

	mu      sync.Mutex
	closed  bool
	stopped bool
	wg     sync.WaitGroup
	// inflight counts tasks accepted but not yet finished, retries included.
	inflight sync.WaitGroup
}

func NewMemoryQueue(cfg MemoryQueueConfig) *MemoryQueue {
	size := cfg.BufferSize
	if size <= 0 {
		size = 256
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay < 0 {
		retryDelay = 0
	}
	return &MemoryQueue{
		ch:         make(chan Task, size),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Enqueue never blocks; a full buffer is reported as ErrQueueFull.
func (q *MemoryQueue) Enqueue(_ context.Context, name string, payload any) (Task, error) {
	task, err := NewTask(name, payload)
	if err != nil {
		return Task{}, err
	}
	if err := q.offer(task, true); err != nil {
		return Task{}, err
	}
	return task, nil
}

func (q *MemoryQueue) offer(task Task, fresh bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.stopped {
		return ErrQueueClosed
	}
	if fresh {
		q.inflight.Add(1)
	}
	select {
	case q.ch <- task:
		return nil
	default:
		if fresh {
			q.inflight.Done()
		}
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Start(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					q.abandon()
					return
				case task, ok := <-q.ch:
					if !ok {
						return
					}
					q.handle(ctx, task, handler)
				}
			}
		}()
	}
	return nil
}

func (q *MemoryQueue) handle(ctx context.Context, task Task, handler Handler) {
	task.Attempts++
	err := handler(ctx, task)
	if err == nil {
		q.inflight.Done()
		return
	}
	if task.Attempts >= q.maxRetries {
		slog.Error("task failed permanently", "task", task.Name, "task_id", task.ID, "attempts", task.Attempts, "err", err)
		q.inflight.Done()
		return
	}
	slog.Warn("task failed, retrying", "task", task.Name, "task_id", task.ID, "attempt", task.Attempts, "err", err)
	go func() {
		if !sleepCtx(ctx, q.retryDelay) {
			q.inflight.Done()
			return
		}
		if err := q.offer(task, false); err != nil {
			slog.Error("task dropped on retry", "task", task.Name, "task_id", task.ID, "err", err)
			q.inflight.Done()
		}
	}()
}

// abandon stops accepting work once consumers are cancelled and releases the
// tasks still buffered, so Drain does not wait on tasks no worker will run.
func (q *MemoryQueue) abandon() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	if q.closed {
		return
	}
	for {
		select {
		case task := <-q.ch:
			slog.Warn("task discarded on shutdown", "task", task.Name, "task_id", task.ID)
			q.inflight.Done()
		default:
			return
		}
	}
}

// Drain blocks until every accepted task has finished or ctx ends.
func (q *MemoryQueue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for workers to exit.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}
