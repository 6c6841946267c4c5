package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"vetrecords/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

var (
	ErrQueueClosed = errors.New("queue: closed")
	ErrQueueFull   = errors.New("queue: full")
)

// Task is a named command with a JSON payload. Attempts counts deliveries
// to a handler, starting at 1 for the first delivery.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Decode unmarshals the payload into v.
func (t Task) Decode(v any) error {
	if len(t.Payload) == 0 {
		return fmt.Errorf("task %s has empty payload", t.Name)
	}
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Name, err)
	}
	return nil
}

// NewTask builds a task with a fresh id.
func NewTask(name string, payload any) (Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Task{}, errors.New("task name required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Task{
		ID:         util.NewID(),
		Name:       name,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Handler processes one delivery. A non-nil error asks for redelivery.
type Handler func(ctx context.Context, task Task) error

// Enqueuer hands tasks to the broker without waiting for them to run.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) (Task, error)
}

// Queue is a broker that can also consume.
// Start returns once consumers are running; cancel ctx to stop them.
type Queue interface {
	Enqueuer
	Start(ctx context.Context, concurrency int, handler Handler) error
	Close() error
}

// TaskInspector is implemented by queues that track per-task status.
type TaskInspector interface {
	GetTask(ctx context.Context, id string) (TaskStatus, bool, error)
}

type TaskStatus struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Config selects a broker. Fields not used by the chosen broker are ignored.
type Config struct {
	Broker     string // redis (default), amqp, memory
	Name       string // stream or queue name
	Group      string
	Consumer   string
	MaxRetries int
	RetryDelay time.Duration

	RedisAddr     string
	RedisPassword string
	ClaimIdle     time.Duration

	AMQPURL string

	BufferSize int
}

// New builds the broker named by cfg.Broker.
func New(cfg Config) (Queue, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Broker)) {
	case "", "redis":
		return NewRedisQueue(RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     cfg.Name,
			Group:      cfg.Group,
			Consumer:   cfg.Consumer,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			ClaimIdle:  cfg.ClaimIdle,
		})
	case "amqp", "rabbitmq":
		return NewAMQPQueue(AMQPQueueConfig{
			URL:        cfg.AMQPURL,
			Queue:      cfg.Name,
			Consumer:   cfg.Consumer,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		})
	case "memory":
		return NewMemoryQueue(MemoryQueueConfig{
			BufferSize: cfg.BufferSize,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		}), nil
	default:
		return nil, fmt.Errorf("unknown queue broker %q", cfg.Broker)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
