// Package amqp backs channel queues with durable RabbitMQ quorum queues.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"ticketrouting/internal/channel"
	"ticketrouting/internal/platform/logger"
	"ticketrouting/pkg/platform/sentinel"
)

// DefaultPublishTimeout bounds a publish and its broker confirm.
const DefaultPublishTimeout = 2 * time.Second

// Config describes one channel queue.
type Config struct {
	URL             string
	Name            string
	Capacity        int
	MaxReceiveCount int
	// PublishTimeout bounds Offer; zero means DefaultPublishTimeout.
	PublishTimeout time.Duration
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("rabbitmq url is required")
	}
	if c.Name == "" {
		return fmt.Errorf("queue name is required")
	}
	if c.Capacity < 1 {
		return fmt.Errorf("queue capacity must be >= 1")
	}
	if c.MaxReceiveCount < 1 {
		return fmt.Errorf("max receive count must be >= 1")
	}
	if c.PublishTimeout < 0 {
		return fmt.Errorf("publish timeout must not be negative")
	}
	return nil
}

// Queue is a channel.Queue on a RabbitMQ quorum queue. The broker enforces
// the length bound (reject-publish) and dead-letters messages once their
// delivery count passes the limit.
type Queue struct {
	cfg    Config
	conn   *amqp091.Connection
	pub    *amqp091.Channel
	sub    *amqp091.Channel
	logger *slog.Logger

	pubSlot chan struct{}
	mu      sync.Mutex
	pending map[string]amqp091.Delivery
}

type Option func(*Queue)

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// Dial connects and declares the queue and its dead-letter queue.
func Dial(cfg Config, opts ...Option) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	q, err := open(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

func open(conn *amqp091.Connection, cfg Config) (*Queue, error) {
	pub, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := pub.Confirm(false); err != nil {
		pub.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	sub, err := conn.Channel()
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("open receive channel: %w", err)
	}

	dlq := channel.DeadLetterQueueName(cfg.Name)
	if _, err := sub.QueueDeclare(dlq, true, false, false, false, amqp091.Table{
		"x-queue-type": "quorum",
	}); err != nil {
		pub.Close()
		sub.Close()
		return nil, fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if _, err := sub.QueueDeclare(cfg.Name, true, false, false, false, queueArgs(cfg)); err != nil {
		pub.Close()
		sub.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	return &Queue{
		cfg:     cfg,
		conn:    conn,
		pub:     pub,
		sub:     sub,
		logger:  logger.Discard(),
		pubSlot: make(chan struct{}, 1),
		pending: make(map[string]amqp091.Delivery),
	}, nil
}

func queueArgs(cfg Config) amqp091.Table {
	return amqp091.Table{
		"x-queue-type":              "quorum",
		"x-max-length":              int64(cfg.Capacity),
		"x-overflow":                "reject-publish",
		"x-delivery-limit":          deliveryLimit(cfg.MaxReceiveCount),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": channel.DeadLetterQueueName(cfg.Name),
	}
}

// deliveryLimit converts a receipt budget to the quorum-queue limit, which
// counts redeliveries: a message is dead-lettered once it has been returned
// more than limit times, i.e. after limit+1 receipts.
func deliveryLimit(maxReceiveCount int) int64 {
	return int64(max(maxReceiveCount-1, 0))
}

func (q *Queue) Name() string { return q.cfg.Name }

func (q *Queue) publishTimeout() time.Duration {
	if q.cfg.PublishTimeout > 0 {
		return q.cfg.PublishTimeout
	}
	return DefaultPublishTimeout
}

// Offer publishes a persistent message and waits for the broker confirm,
// giving up after the publish timeout. A nack means the queue is at its
// length bound.
func (q *Queue) Offer(ctx context.Context, id string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, q.publishTimeout())
	defer cancel()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", q.cfg.Name, err)
	}

	select {
	case q.pubSlot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", q.cfg.Name, ctx.Err())
	}
	confirm, err := q.pub.PublishWithDeferredConfirmWithContext(ctx, "", q.cfg.Name, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	<-q.pubSlot
	if err != nil {
		if errors.Is(err, amqp091.ErrClosed) {
			return sentinel.ErrClosed
		}
		return fmt.Errorf("publish to %s: %w", q.cfg.Name, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm from %s: %w", q.cfg.Name, err)
	}
	if !acked {
		return fmt.Errorf("%s: %w", q.cfg.Name, sentinel.ErrBufferFull)
	}
	return nil
}

// Receive pulls up to max messages without blocking.
func (q *Queue) Receive(ctx context.Context, max int) ([]channel.DeliveredItem, error) {
	items := make([]channel.DeliveredItem, 0, max)
	for len(items) < max {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		d, ok, err := q.sub.Get(q.cfg.Name, false)
		if err != nil {
			if errors.Is(err, amqp091.ErrClosed) {
				return items, sentinel.ErrClosed
			}
			return items, fmt.Errorf("get from %s: %w", q.cfg.Name, err)
		}
		if !ok {
			break
		}
		handle := uuid.NewString()
		q.mu.Lock()
		q.pending[handle] = d
		q.mu.Unlock()
		items = append(items, channel.DeliveredItem{
			ID:            d.MessageId,
			Channel:       q.cfg.Name,
			Handle:        handle,
			Body:          d.Body,
			ReceiveCount:  receiveCount(d),
			FirstReceived: d.Timestamp,
		})
	}
	return items, nil
}

func (q *Queue) Ack(_ context.Context, handles ...string) error {
	return q.settle(handles, func(d amqp091.Delivery) error { return d.Ack(false) })
}

// Release requeues items; the broker dead-letters them once the delivery
// limit is reached.
func (q *Queue) Release(_ context.Context, handles ...string) error {
	return q.settle(handles, func(d amqp091.Delivery) error { return d.Nack(false, true) })
}

func (q *Queue) settle(handles []string, fn func(amqp091.Delivery) error) error {
	var errs []error
	for _, h := range handles {
		q.mu.Lock()
		d, ok := q.pending[h]
		delete(q.pending, h)
		q.mu.Unlock()
		if !ok {
			errs = append(errs, fmt.Errorf("settle %s: %w", h, sentinel.ErrUnknownHandle))
			continue
		}
		if err := fn(d); err != nil {
			errs = append(errs, fmt.Errorf("settle %s: %w", h, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the broker's ready message count, or 0 when it cannot be read.
func (q *Queue) Len() int {
	info, err := q.sub.QueueDeclarePassive(q.cfg.Name, true, false, false, false, queueArgs(q.cfg))
	if err != nil {
		q.logger.Warn("queue inspect failed", "channel", q.cfg.Name, "error", err)
		return 0
	}
	return info.Messages
}

// Close closes both channels and the connection. Unsettled deliveries are
// returned to the queue by the broker.
func (q *Queue) Close() error {
	var errs []error
	for _, c := range []interface{ Close() error }{q.pub, q.sub, q.conn} {
		if err := c.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// receiveCount derives the 1-based receipt number. Quorum queues count
// prior deliveries in x-delivery-count.
func receiveCount(d amqp091.Delivery) int {
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	}
	if d.Redelivered {
		return 2
	}
	return 1
}
