package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"vetrecords/internal/util"
)

type RedisQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	taskTTL      time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	groupMu      sync.Mutex
	groupReady   bool
	wg           sync.WaitGroup
}

type RedisQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	TaskTTL    time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "workers"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	taskTTL := cfg.TaskTTL
	if taskTTL <= 0 {
		taskTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 5 * time.Minute
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 1
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 1
	}

	return &RedisQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		taskTTL:      taskTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Enqueue records a queued status and appends the task to the stream.
func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload any) (Task, error) {
	task, err := NewTask(name, payload)
	if err != nil {
		return Task{}, err
	}
	if err := q.ensureGroup(ctx); err != nil {
		return Task{}, err
	}
	status := TaskStatus{
		ID:        task.ID,
		Name:      task.Name,
		Status:    StatusQueued,
		CreatedAt: task.EnqueuedAt,
		UpdatedAt: task.EnqueuedAt,
	}
	if err := q.writeStatus(ctx, status); err != nil {
		return Task{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: messageValues(task),
	}).Err(); err != nil {
		return Task{}, fmt.Errorf("xadd %s: %w", task.Name, err)
	}
	return task, nil
}

func (q *RedisQueue) GetTask(ctx context.Context, id string) (TaskStatus, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return TaskStatus{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.taskKey(id)).Result()
	if err != nil {
		return TaskStatus{}, false, err
	}
	if len(data) == 0 {
		return TaskStatus{}, false, nil
	}
	return decodeTaskStatus(id, data), true, nil
}

func (q *RedisQueue) Start(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.consumeLoop(ctx, consumer, handler)
		}()
	}
	return nil
}

// Close waits for consumers started with a now-cancelled context, then
// closes the client.
func (q *RedisQueue) Close() error {
	q.wg.Wait()
	return q.client.Close()
}

// ensureGroup creates the group at the stream start so tasks added before
// the first worker joined are still delivered.
func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	q.groupMu.Lock()
	defer q.groupMu.Unlock()
	if q.groupReady {
		return nil
	}
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	q.groupReady = true
	return nil
}

func (q *RedisQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				slog.Warn("queue read failed", "stream", q.stream, "consumer", consumer, "err", err)
				sleepCtx(ctx, time.Second)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	task, ok := taskFromMessage(msg)
	if !ok {
		slog.Warn("queue dropped malformed message", "stream", q.stream, "message_id", msg.ID)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	status, err := q.markProcessing(ctx, task)
	if err != nil {
		// leave pending; XAUTOCLAIM redelivers once idle
		slog.Warn("queue status update failed", "task_id", task.ID, "err", err)
		return
	}
	task.Attempts = status.Attempts

	herr := handler(ctx, task)
	if herr == nil {
		_ = q.markDone(ctx, task.ID)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if task.Attempts >= q.maxRetries {
		slog.Error("task failed permanently", "task", task.Name, "task_id", task.ID, "attempts", task.Attempts, "err", herr)
		_ = q.markFailed(ctx, task.ID, herr.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	}
	slog.Warn("task failed, retrying", "task", task.Name, "task_id", task.ID, "attempt", task.Attempts, "err", herr)
	_ = q.markQueued(ctx, task.ID, herr.Error())
	if !sleepCtx(ctx, q.retryDelay) {
		return
	}
	_ = q.requeueAndAck(ctx, msg.ID, task)
}

func (q *RedisQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *RedisQueue) requeueAndAck(ctx context.Context, msgID string, task Task) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: messageValues(task),
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) markProcessing(ctx context.Context, task Task) (TaskStatus, error) {
	status, _, err := q.GetTask(ctx, task.ID)
	if err != nil {
		return TaskStatus{}, err
	}
	if status.ID == "" {
		status = TaskStatus{ID: task.ID, CreatedAt: task.EnqueuedAt}
	}
	status.Name = task.Name
	status.Attempts++
	status.Status = StatusProcessing
	status.UpdatedAt = time.Now().UTC()
	if status.CreatedAt.IsZero() {
		status.CreatedAt = status.UpdatedAt
	}
	if err := q.writeStatus(ctx, status); err != nil {
		return TaskStatus{}, err
	}
	return status, nil
}

func (q *RedisQueue) markQueued(ctx context.Context, id, errMsg string) error {
	return q.setState(ctx, id, StatusQueued, errMsg)
}

func (q *RedisQueue) markDone(ctx context.Context, id string) error {
	return q.setState(ctx, id, StatusDone, "")
}

func (q *RedisQueue) markFailed(ctx context.Context, id, errMsg string) error {
	return q.setState(ctx, id, StatusFailed, errMsg)
}

func (q *RedisQueue) setState(ctx context.Context, id, state, errMsg string) error {
	status, _, err := q.GetTask(ctx, id)
	if err != nil {
		return err
	}
	status.ID = id
	status.Status = state
	status.ErrorMessage = errMsg
	status.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, status)
}

func (q *RedisQueue) writeStatus(ctx context.Context, status TaskStatus) error {
	key := q.taskKey(status.ID)
	payload := map[string]any{
		"id":        status.ID,
		"name":      status.Name,
		"status":    status.Status,
		"error":     status.ErrorMessage,
		"attempts":  strconv.Itoa(status.Attempts),
		"createdAt": status.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": status.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.taskTTL).Err()
	return nil
}

func (q *RedisQueue) taskKey(id string) string {
	return fmt.Sprintf("task:%s:%s", q.stream, id)
}

func messageValues(task Task) map[string]any {
	return map[string]any{
		"task_id":     task.ID,
		"name":        task.Name,
		"payload":     string(task.Payload),
		"enqueued_at": task.EnqueuedAt.Format(time.RFC3339Nano),
	}
}

func taskFromMessage(msg redis.XMessage) (Task, bool) {
	id, _ := msg.Values["task_id"].(string)
	name, _ := msg.Values["name"].(string)
	payload, _ := msg.Values["payload"].(string)
	if id == "" || name == "" {
		return Task{}, false
	}
	task := Task{ID: id, Name: name, Payload: []byte(payload)}
	if raw, _ := msg.Values["enqueued_at"].(string); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			task.EnqueuedAt = t
		}
	}
	return task, true
}

func decodeTaskStatus(id string, data map[string]string) TaskStatus {
	status := TaskStatus{
		ID:           id,
		Name:         data["name"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			status.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			status.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			status.UpdatedAt = t
		}
	}
	return status
}
