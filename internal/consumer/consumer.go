// Package consumer processes channel batches with per-item failure isolation.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"ticketrouting/internal/channel"
	"ticketrouting/internal/consumer/metrics"
	"ticketrouting/internal/platform/logger"
)

//go:generate mockgen -source=consumer.go -destination=mocks/mocks.go -package=mocks ItemHandler

const (
	DefaultItemTimeout = 10 * time.Second
	DefaultConcurrency = 4
)

var (
	// ErrItemTimeout marks an item whose handler did not finish in time.
	ErrItemTimeout = errors.New("item handler timed out")
	// ErrHandlerPanic marks an item whose handler panicked.
	ErrHandlerPanic = errors.New("item handler panicked")
)

// ItemHandler processes one delivered item. A non-nil error makes the item
// eligible for redelivery; it never affects other items of the batch.
type ItemHandler interface {
	Handle(ctx context.Context, item channel.DeliveredItem) error
}

// HandlerFunc adapts a function to ItemHandler.
type HandlerFunc func(ctx context.Context, item channel.DeliveredItem) error

func (f HandlerFunc) Handle(ctx context.Context, item channel.DeliveredItem) error {
	return f(ctx, item)
}

// BatchConsumer runs an ItemHandler over each item of a batch.
type BatchConsumer struct {
	handler     ItemHandler
	itemTimeout time.Duration
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

type Option func(*BatchConsumer)

func WithLogger(logger *slog.Logger) Option {
	return func(c *BatchConsumer) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *BatchConsumer) {
		c.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *BatchConsumer) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithItemTimeout bounds each handler invocation.
func WithItemTimeout(d time.Duration) Option {
	return func(c *BatchConsumer) {
		if d > 0 {
			c.itemTimeout = d
		}
	}
}

// WithConcurrency sets how many items of a batch run at once. 1 processes
// items sequentially.
func WithConcurrency(n int) Option {
	return func(c *BatchConsumer) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func New(handler ItemHandler, opts ...Option) (*BatchConsumer, error) {
	if handler == nil {
		return nil, fmt.Errorf("item handler is required")
	}
	c := &BatchConsumer{
		handler:     handler,
		itemTimeout: DefaultItemTimeout,
		concurrency: DefaultConcurrency,
		logger:      logger.Discard(),
		tracer:      noop.NewTracerProvider().Tracer("ticketrouting/consumer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Process handles every item of batch and reports which ones failed. Items
// are attempted independently: a failure, panic or timeout of one item
// never prevents another from being attempted or recorded.
func (c *BatchConsumer) Process(ctx context.Context, batch []channel.DeliveredItem) BatchResult {
	result := newBatchResult(len(batch))
	if len(batch) == 0 {
		return result
	}
	start := time.Now()
	ch := batch[0].Channel

	ctx, span := c.tracer.Start(ctx, "consumer.batch",
		trace.WithAttributes(attribute.String("channel", ch), attribute.Int("batch_size", len(batch))))
	defer span.End()

	errs := make([]error, len(batch))
	// A plain group: one item's failure must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, item := range batch {
		g.Go(func() error {
			errs[i] = c.processItem(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	for i, item := range batch {
		result.record(item.ID, errs[i])
	}
	if n := len(result.Failed); n > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d items failed", n))
	}
	c.metrics.ObserveBatch(ch, len(batch), time.Since(start))
	return result
}

// ProcessRecords adapts wire records to Process for channel ch.
func (c *BatchConsumer) ProcessRecords(ctx context.Context, ch string, records []Record) BatchResponse {
	batch := make([]channel.DeliveredItem, len(records))
	for i, rec := range records {
		batch[i] = channel.DeliveredItem{
			ID:           rec.ID,
			Channel:      ch,
			Handle:       rec.ID,
			Body:         rec.Body,
			ReceiveCount: 1,
		}
	}
	return c.Process(ctx, batch).Response()
}

func (c *BatchConsumer) processItem(ctx context.Context, item channel.DeliveredItem) error {
	ctx, span := c.tracer.Start(ctx, "consumer.item",
		trace.WithAttributes(attribute.String("item_id", item.ID), attribute.Int("receive_count", item.ReceiveCount)))
	defer span.End()

	if item.ReceiveCount > 1 {
		c.metrics.IncRedelivery(item.Channel)
	}

	err := c.invoke(ctx, item)
	switch {
	case err == nil:
		c.metrics.IncItem(item.Channel, metrics.OutcomeSucceeded)
		return nil
	case errors.Is(err, ErrItemTimeout):
		c.metrics.IncItem(item.Channel, metrics.OutcomeTimeout)
	default:
		c.metrics.IncItem(item.Channel, metrics.OutcomeFailed)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "item failed")
	c.logger.WarnContext(ctx, "item failed",
		"channel", item.Channel,
		"item_id", item.ID,
		"receive_count", item.ReceiveCount,
		"error", err,
	)
	return err
}

// invoke runs the handler under the item timeout. The handler runs in its own
// goroutine so a handler that ignores ctx still cannot stall the batch.
func (c *BatchConsumer) invoke(ctx context.Context, item channel.DeliveredItem) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("item %s not attempted: %w", item.ID, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.itemTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
		done <- c.handler.Handle(ctx, item)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %w", ErrItemTimeout, c.itemTimeout, err)
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrItemTimeout, c.itemTimeout)
		}
		return ctx.Err()
	}
}
