package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"vetrecords/internal/util"
)

type AMQPQueueConfig struct {
	URL        string
	Queue      string
	Consumer   string
	MaxRetries int
	RetryDelay time.Duration
}

// AMQPQueue publishes tasks to a durable RabbitMQ queue and consumes them
// with manual acks. Unacked deliveries return to the queue if a worker dies.
type AMQPQueue struct {
	conn       *amqp.Connection
	pubMu      sync.Mutex
	pub        *amqp.Channel
	queue      string
	consumer   string
	maxRetries int
	retryDelay time.Duration
	wg         sync.WaitGroup

	// republish sends a retried task back to the queue.
	republish func(ctx context.Context, task Task) error
}

func NewAMQPQueue(cfg AMQPQueueConfig) (*AMQPQueue, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	name := strings.TrimSpace(cfg.Queue)
	if name == "" {
		return nil, errors.New("amqp queue name required")
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := pub.QueueDeclare(name, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}
	q := &AMQPQueue{
		conn:       conn,
		pub:        pub,
		queue:      name,
		consumer:   consumer,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
	q.republish = q.publish
	return q, nil
}

func (q *AMQPQueue) Enqueue(ctx context.Context, name string, payload any) (Task, error) {
	task, err := NewTask(name, payload)
	if err != nil {
		return Task{}, err
	}
	if err := q.publish(ctx, task); err != nil {
		return Task{}, err
	}
	return task, nil
}

func (q *AMQPQueue) publish(ctx context.Context, task Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	err = q.pub.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    task.ID,
		Type:         task.Name,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", task.Name, err)
	}
	return nil
}

func (q *AMQPQueue) Start(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	if err := ch.Qos(concurrency, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(q.queue, q.consumer, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume %s: %w", q.queue, err)
	}

	for i := 0; i < concurrency; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						slog.Warn("amqp delivery channel closed", "queue", q.queue)
						return
					}
					q.handleDelivery(ctx, d, handler)
				}
			}
		}()
	}
	go func() {
		<-ctx.Done()
		_ = ch.Cancel(q.consumer, false)
		_ = ch.Close()
	}()
	return nil
}

func (q *AMQPQueue) handleDelivery(ctx context.Context, d amqp.Delivery, handler Handler) {
	var task Task
	if err := json.Unmarshal(d.Body, &task); err != nil || task.Name == "" {
		slog.Warn("queue dropped malformed message", "queue", q.queue, "message_id", d.MessageId)
		_ = d.Nack(false, false)
		return
	}
	task.Attempts++

	herr := handler(ctx, task)
	if herr == nil {
		_ = d.Ack(false)
		return
	}
	if task.Attempts >= q.maxRetries {
		slog.Error("task failed permanently", "task", task.Name, "task_id", task.ID, "attempts", task.Attempts, "err", herr)
		// dead-letters when the queue has a DLX configured
		_ = d.Nack(false, false)
		return
	}
	slog.Warn("task failed, retrying", "task", task.Name, "task_id", task.ID, "attempt", task.Attempts, "err", herr)
	if !sleepCtx(ctx, q.retryDelay) {
		_ = d.Nack(false, true)
		return
	}
	if err := q.republish(ctx, task); err != nil {
		slog.Warn("task republish failed", "task_id", task.ID, "err", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Close waits for consumers to stop, then closes the connection.
func (q *AMQPQueue) Close() error {
	q.wg.Wait()
	q.pubMu.Lock()
	_ = q.pub.Close()
	q.pubMu.Unlock()
	return q.conn.Close()
}
