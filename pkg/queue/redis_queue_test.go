package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type processArgs struct {
	RunID string `json:"run_id"`
}

func TestRedisQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, task := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, task); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got, ok := taskFromMessage(streams[0].Messages[0])
	if !ok || got.ID != task.ID || got.Name != "process_document" {
		t.Fatalf("unexpected requeued task: %+v", got)
	}
	var args processArgs
	if err := got.Decode(&args); err != nil || args.RunID != "run-1" {
		t.Fatalf("unexpected payload %+v err=%v", args, err)
	}
}

func TestRedisQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, task := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, task); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}

	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestRedisQueueDeliversTasksEnqueuedBeforeStart(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	q := newTestQueue(t, redisSrv.Addr())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task, err := q.Enqueue(ctx, "compute_metrics", processArgs{RunID: "run-9"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var mu sync.Mutex
	var attempts []int
	done := make(chan struct{})
	handler := func(_ context.Context, got Task) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, got.Attempts)
		if len(attempts) == 1 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}
	if err := q.Start(ctx, 1, handler); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("task was not redelivered after failure")
	}

	waitFor(t, func() bool {
		status, ok, err := q.GetTask(context.Background(), task.ID)
		return err == nil && ok && status.Status == StatusDone
	})
	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("unexpected attempts %v", attempts)
	}
}

func TestRedisQueueMarksFailedAfterMaxRetries(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	q := newTestQueue(t, redisSrv.Addr())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Start(ctx, 1, func(context.Context, Task) error { return errors.New("boom") }); err != nil {
		t.Fatalf("start: %v", err)
	}
	task, err := q.Enqueue(ctx, "process_document", processArgs{RunID: "run-2"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool {
		status, ok, err := q.GetTask(context.Background(), task.ID)
		return err == nil && ok && status.Status == StatusFailed && status.Attempts == 2
	})
}

func newTestQueue(t *testing.T, addr string) *RedisQueue {
	t.Helper()
	q, err := NewRedisQueue(RedisQueueConfig{
		Addr:       addr,
		Stream:     "test:tasks",
		Group:      "test-group",
		Consumer:   "consumer",
		MaxRetries: 2,
		Block:      20 * time.Millisecond,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func newPendingQueueMessage(t *testing.T) (*RedisQueue, context.Context, string, Task) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	q, err := NewRedisQueue(RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:queue",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	ctx := context.Background()
	task, err := q.Enqueue(ctx, "process_document", processArgs{RunID: "run-1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}

	return q, ctx, streams[0].Messages[0].ID, task
}
