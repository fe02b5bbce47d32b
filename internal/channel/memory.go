package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ticketrouting/internal/platform/logger"
	"ticketrouting/pkg/platform/sentinel"
)

const (
	DefaultCapacity          = 1000
	DefaultVisibilityTimeout = 30 * time.Second
	DefaultMaxReceiveCount   = 5
)

type message struct {
	id            string
	body          []byte
	receiveCount  int
	firstReceived time.Time
}

type inflight struct {
	msg      message
	deadline time.Time
}

// Memory is a bounded in-process queue. Ready messages live in a ring buffer;
// received messages are held in flight until acked, released or their
// visibility deadline passes.
type Memory struct {
	name       string
	capacity   int
	visibility time.Duration
	maxReceive int
	deadLetter DeadLetterSink
	now        func() time.Time
	logger     *slog.Logger

	mu       sync.Mutex
	ring     []message
	head     int
	tail     int
	count    int
	retry    []message
	inflight map[string]inflight
	closed   bool
	dropped  int64
}

type MemoryOption func(*Memory)

func WithCapacity(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.capacity = n
		}
	}
}

func WithVisibilityTimeout(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d > 0 {
			m.visibility = d
		}
	}
}

// WithMaxReceiveCount bounds redelivery. An item released or timed out after
// this many receipts goes to the dead-letter sink.
func WithMaxReceiveCount(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.maxReceive = n
		}
	}
}

func WithDeadLetter(sink DeadLetterSink) MemoryOption {
	return func(m *Memory) {
		m.deadLetter = sink
	}
}

func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) MemoryOption {
	return func(m *Memory) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewMemory(name string, opts ...MemoryOption) *Memory {
	m := &Memory{
		name:       name,
		capacity:   DefaultCapacity,
		visibility: DefaultVisibilityTimeout,
		maxReceive: DefaultMaxReceiveCount,
		now:        time.Now,
		logger:     logger.Discard(),
		inflight:   make(map[string]inflight),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ring = make([]message, m.capacity)
	return m
}

func (m *Memory) Name() string { return m.name }

// Offer enqueues a message, rejecting it when the ready buffer is full.
func (m *Memory) Offer(_ context.Context, id string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return sentinel.ErrClosed
	}
	if m.count >= m.capacity {
		m.dropped++
		return fmt.Errorf("%s: %w", m.name, sentinel.ErrBufferFull)
	}
	m.ring[m.head] = message{id: id, body: body}
	m.head = (m.head + 1) % m.capacity
	m.count++
	return nil
}

// DeadLetter lets a Memory queue act as another queue's dead-letter sink.
// Dead-lettered items bypass the capacity check, so a dead-letter queue only
// grows until it is drained.
func (m *Memory) DeadLetter(_ context.Context, item DeliveredItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return sentinel.ErrClosed
	}
	m.retry = append(m.retry, message{id: item.ID, body: item.Body})
	return nil
}

// Receive moves up to max ready messages in flight. It never blocks; an
// empty slice means nothing is ready.
func (m *Memory) Receive(ctx context.Context, max int) ([]DeliveredItem, error) {
	if max <= 0 {
		return nil, nil
	}
	now := m.now()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, sentinel.ErrClosed
	}
	expired := m.reclaimLocked(now)

	items := make([]DeliveredItem, 0, max)
	for len(items) < max {
		msg, ok := m.popLocked()
		if !ok {
			break
		}
		msg.receiveCount++
		if msg.firstReceived.IsZero() {
			msg.firstReceived = now
		}
		handle := uuid.NewString()
		m.inflight[handle] = inflight{msg: msg, deadline: now.Add(m.visibility)}
		items = append(items, m.deliveredItem(handle, msg))
	}
	m.mu.Unlock()

	m.deadLetterAll(ctx, expired)
	return items, nil
}

// Ack removes received items. Handles whose visibility already lapsed are
// reported with sentinel.ErrUnknownHandle; those items may be redelivered.
func (m *Memory) Ack(_ context.Context, handles ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, h := range handles {
		if _, ok := m.inflight[h]; !ok {
			errs = append(errs, fmt.Errorf("ack %s: %w", h, sentinel.ErrUnknownHandle))
			continue
		}
		delete(m.inflight, h)
	}
	return errors.Join(errs...)
}

// Release returns received items for redelivery, or dead-letters them once
// their receive budget is spent. Released items bypass the capacity check so
// a redelivery is never lost to a full buffer.
func (m *Memory) Release(ctx context.Context, handles ...string) error {
	var (
		errs []error
		dead []DeliveredItem
	)
	m.mu.Lock()
	for _, h := range handles {
		f, ok := m.inflight[h]
		if !ok {
			errs = append(errs, fmt.Errorf("release %s: %w", h, sentinel.ErrUnknownHandle))
			continue
		}
		delete(m.inflight, h)
		if f.msg.receiveCount >= m.maxReceive {
			dead = append(dead, m.deliveredItem(h, f.msg))
			continue
		}
		m.retry = append(m.retry, f.msg)
	}
	m.mu.Unlock()

	m.deadLetterAll(ctx, dead)
	return errors.Join(errs...)
}

// Len returns the number of messages ready for delivery.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count + len(m.retry)
}

// InFlight returns the number of received, unacknowledged messages.
func (m *Memory) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// Dropped returns how many offers were rejected by a full buffer.
func (m *Memory) Dropped() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) popLocked() (message, bool) {
	if len(m.retry) > 0 {
		msg := m.retry[0]
		m.retry[0] = message{}
		m.retry = m.retry[1:]
		return msg, true
	}
	if m.count == 0 {
		return message{}, false
	}
	msg := m.ring[m.tail]
	m.ring[m.tail] = message{}
	m.tail = (m.tail + 1) % m.capacity
	m.count--
	return msg, true
}

// reclaimLocked returns timed-out in-flight items to the retry list and
// collects the ones that exhausted their receive budget.
func (m *Memory) reclaimLocked(now time.Time) []DeliveredItem {
	var dead []DeliveredItem
	for h, f := range m.inflight {
		if now.Before(f.deadline) {
			continue
		}
		delete(m.inflight, h)
		if f.msg.receiveCount >= m.maxReceive {
			dead = append(dead, m.deliveredItem(h, f.msg))
			continue
		}
		m.retry = append(m.retry, f.msg)
	}
	return dead
}

func (m *Memory) deliveredItem(handle string, msg message) DeliveredItem {
	return DeliveredItem{
		ID:            msg.id,
		Channel:       m.name,
		Handle:        handle,
		Body:          msg.body,
		ReceiveCount:  msg.receiveCount,
		FirstReceived: msg.firstReceived,
	}
}

func (m *Memory) deadLetterAll(ctx context.Context, items []DeliveredItem) {
	for _, item := range items {
		if m.deadLetter == nil {
			m.logger.ErrorContext(ctx, "dropping item after max receives",
				"channel", m.name,
				"item_id", item.ID,
				"receive_count", item.ReceiveCount,
			)
			continue
		}
		if err := m.deadLetter.DeadLetter(ctx, item); err != nil {
			m.logger.ErrorContext(ctx, "dead-letter failed",
				"channel", m.name,
				"item_id", item.ID,
				"error", err,
			)
			continue
		}
		m.logger.WarnContext(ctx, "item dead-lettered",
			"channel", m.name,
			"item_id", item.ID,
			"receive_count", item.ReceiveCount,
		)
	}
}
