package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type recordingAck struct {
	acks    int
	nacks   int
	requeue bool
}

func (a *recordingAck) Ack(uint64, bool) error { a.acks++; return nil }

func (a *recordingAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *recordingAck) Reject(_ uint64, requeue bool) error { return a.Nack(0, false, requeue) }

func newTestAMQPQueue(republish func(context.Context, Task) error) *AMQPQueue {
	q := &AMQPQueue{queue: "vetrecords.tasks", maxRetries: 3, retryDelay: time.Millisecond}
	q.republish = republish
	return q
}

func delivery(t *testing.T, ack *recordingAck, task Task) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, MessageId: task.ID, Body: body}
}

func processTask(t *testing.T, attempts int) Task {
	t.Helper()
	task, err := NewTask("process_document", processArgs{RunID: "run-7"})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	task.Attempts = attempts
	return task
}

func TestAMQPDeliveryAckedOnSuccess(t *testing.T) {
	ack := &recordingAck{}
	q := newTestAMQPQueue(func(context.Context, Task) error {
		t.Fatalf("successful task must not be republished")
		return nil
	})
	var seen Task
	q.handleDelivery(context.Background(), delivery(t, ack, processTask(t, 0)), func(_ context.Context, task Task) error {
		seen = task
		return nil
	})
	if ack.acks != 1 || ack.nacks != 0 {
		t.Fatalf("expected one ack, got %+v", ack)
	}
	if seen.Attempts != 1 || seen.Name != "process_document" {
		t.Fatalf("unexpected task handed to handler: %+v", seen)
	}
}

func TestAMQPMalformedMessageDropped(t *testing.T) {
	for name, body := range map[string][]byte{
		"not json":     []byte("{oops"),
		"missing name": []byte(`{"id":"t1","payload":{"run_id":"r1"}}`),
	} {
		t.Run(name, func(t *testing.T) {
			ack := &recordingAck{}
			q := newTestAMQPQueue(nil)
			q.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: body}, func(context.Context, Task) error {
				t.Fatalf("handler must not run for a malformed message")
				return nil
			})
			if ack.nacks != 1 || ack.requeue || ack.acks != 0 {
				t.Fatalf("expected nack without requeue, got %+v", ack)
			}
		})
	}
}

func TestAMQPDropsTaskAtAttemptLimit(t *testing.T) {
	ack := &recordingAck{}
	republished := false
	q := newTestAMQPQueue(func(context.Context, Task) error {
		republished = true
		return nil
	})
	q.handleDelivery(context.Background(), delivery(t, ack, processTask(t, 2)), func(context.Context, Task) error {
		return errors.New("extraction backend down")
	})
	if ack.nacks != 1 || ack.requeue || ack.acks != 0 {
		t.Fatalf("expected nack without requeue, got %+v", ack)
	}
	if republished {
		t.Fatalf("task past the attempt limit must not be republished")
	}
}

func TestAMQPRetryRepublishesThenAcks(t *testing.T) {
	ack := &recordingAck{}
	var again []Task
	q := newTestAMQPQueue(func(_ context.Context, task Task) error {
		again = append(again, task)
		return nil
	})
	original := processTask(t, 0)
	q.handleDelivery(context.Background(), delivery(t, ack, original), func(context.Context, Task) error {
		return errors.New("store timeout")
	})
	if len(again) != 1 || again[0].ID != original.ID || again[0].Attempts != 1 {
		t.Fatalf("expected one republish with attempts=1, got %+v", again)
	}
	if ack.acks != 1 || ack.nacks != 0 {
		t.Fatalf("original delivery should be acked after republish, got %+v", ack)
	}
}

func TestAMQPRetryFallsBackToRequeue(t *testing.T) {
	t.Run("republish fails", func(t *testing.T) {
		ack := &recordingAck{}
		q := newTestAMQPQueue(func(context.Context, Task) error { return errors.New("channel closed") })
		q.handleDelivery(context.Background(), delivery(t, ack, processTask(t, 0)), func(context.Context, Task) error {
			return errors.New("transient")
		})
		if ack.nacks != 1 || !ack.requeue || ack.acks != 0 {
			t.Fatalf("expected nack with requeue, got %+v", ack)
		}
	})
	t.Run("shutdown during retry delay", func(t *testing.T) {
		ack := &recordingAck{}
		q := newTestAMQPQueue(func(context.Context, Task) error {
			t.Fatalf("no republish after shutdown")
			return nil
		})
		q.retryDelay = time.Minute
		ctx, cancel := context.WithCancel(context.Background())
		q.handleDelivery(ctx, delivery(t, ack, processTask(t, 0)), func(context.Context, Task) error {
			cancel()
			return errors.New("transient")
		})
		if ack.nacks != 1 || !ack.requeue {
			t.Fatalf("expected nack with requeue, got %+v", ack)
		}
	})
}
