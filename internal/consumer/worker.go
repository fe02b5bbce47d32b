package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ticketrouting/internal/channel"
	"ticketrouting/internal/consumer/metrics"
	"ticketrouting/internal/platform/logger"
	"ticketrouting/pkg/platform/sentinel"
)

const (
	MaxBatchSize        = 10
	DefaultPollInterval = 500 * time.Millisecond
)

// Worker drains one channel: it pulls a batch, processes it and settles
// every item, acknowledging successes and releasing failures.
type Worker struct {
	queue        channel.Queue
	consumer     *BatchConsumer
	batchSize    int
	pollInterval time.Duration
	deadLetter   channel.Queue
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

type WorkerOption func(*Worker)

// WithBatchSize caps items per batch at MaxBatchSize.
func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = min(n, MaxBatchSize)
		}
	}
}

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithDeadLetterQueue reports the depth of the queue's dead-letter queue
// alongside its own.
func WithDeadLetterQueue(q channel.Queue) WorkerOption {
	return func(w *Worker) {
		w.deadLetter = q
	}
}

func WithWorkerMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

func NewWorker(queue channel.Queue, consumer *BatchConsumer, opts ...WorkerOption) (*Worker, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("batch consumer is required")
	}
	w := &Worker{
		queue:        queue,
		consumer:     consumer,
		batchSize:    MaxBatchSize,
		pollInterval: DefaultPollInterval,
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("channel", queue.Name())
	return w, nil
}

// Run polls until ctx is cancelled or the queue is closed. A batch already
// received is finished before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "batch worker started", "batch_size", w.batchSize)
	defer w.logger.Info("batch worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := w.Poll(ctx)
		switch {
		case errors.Is(err, sentinel.ErrClosed):
			return nil
		case err != nil && ctx.Err() == nil:
			w.logger.ErrorContext(ctx, "batch poll failed", "error", err)
		}
		if n == w.batchSize && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.pollInterval):
		}
	}
}

// Poll processes at most one batch and returns how many items it received.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	items, err := w.queue.Receive(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	defer w.recordDepth()
	if len(items) == 0 {
		return 0, nil
	}

	batchCtx := context.WithoutCancel(ctx)
	log := w.logger.With("batch_id", uuid.NewString())
	result := w.consumer.Process(batchCtx, items)

	var ack, release []string
	for _, item := range items {
		if result.IsFailed(item.ID) {
			release = append(release, item.Handle)
			continue
		}
		ack = append(ack, item.Handle)
	}

	var errs []error
	if len(ack) > 0 {
		if err := w.queue.Ack(batchCtx, ack...); err != nil {
			errs = append(errs, fmt.Errorf("ack: %w", err))
		}
	}
	if len(release) > 0 {
		if err := w.queue.Release(batchCtx, release...); err != nil {
			errs = append(errs, fmt.Errorf("release: %w", err))
		}
	}
	log.InfoContext(ctx, "batch processed",
		"items", len(items),
		"succeeded", len(ack),
		"failed", len(release),
	)
	return len(items), errors.Join(errs...)
}

func (w *Worker) recordDepth() {
	if w.metrics == nil {
		return
	}
	w.metrics.SetQueueDepth(w.queue.Name(), w.queue.Len())
	if w.deadLetter != nil {
		w.metrics.SetQueueDepth(w.deadLetter.Name(), w.deadLetter.Len())
	}
}

// Pool runs one worker per channel until ctx is cancelled.
type Pool struct {
	workers []*Worker
}

func NewPool(workers ...*Worker) *Pool {
	return &Pool{workers: workers}
}

func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	return g.Wait()
}
