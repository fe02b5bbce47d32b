package consumer

import (
	"context"
	"sync"
	"time"

	"ticketrouting/internal/channel"
)

const (
	DefaultDedupTTL     = 15 * time.Minute
	DefaultDedupEntries = 10000
)

// IdempotentHandler skips items whose id already completed recently, so a
// redelivery after a lost acknowledgement is not handled twice.
type IdempotentHandler struct {
	next       ItemHandler
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

type DedupOption func(*IdempotentHandler)

func WithDedupTTL(d time.Duration) DedupOption {
	return func(h *IdempotentHandler) {
		if d > 0 {
			h.ttl = d
		}
	}
}

func WithDedupEntries(n int) DedupOption {
	return func(h *IdempotentHandler) {
		if n > 0 {
			h.maxEntries = n
		}
	}
}

func WithDedupClock(now func() time.Time) DedupOption {
	return func(h *IdempotentHandler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewIdempotentHandler(next ItemHandler, opts ...DedupOption) *IdempotentHandler {
	h := &IdempotentHandler{
		next:       next,
		ttl:        DefaultDedupTTL,
		maxEntries: DefaultDedupEntries,
		now:        time.Now,
		seen:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *IdempotentHandler) Handle(ctx context.Context, item channel.DeliveredItem) error {
	key := item.Channel + "/" + item.ID
	if h.done(key) {
		return nil
	}
	if err := h.next.Handle(ctx, item); err != nil {
		return err
	}
	h.remember(key)
	return nil
}

func (h *IdempotentHandler) done(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	at, ok := h.seen[key]
	if !ok {
		return false
	}
	if h.now().Sub(at) >= h.ttl {
		delete(h.seen, key)
		return false
	}
	return true
}

func (h *IdempotentHandler) remember(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	if len(h.seen) >= h.maxEntries {
		h.evictLocked(now)
	}
	h.seen[key] = now
}

// evictLocked drops expired entries, then the oldest one if still full.
func (h *IdempotentHandler) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for k, at := range h.seen {
		if now.Sub(at) >= h.ttl {
			delete(h.seen, k)
			continue
		}
		if oldestKey == "" || at.Before(oldestAt) {
			oldestKey, oldestAt = k, at
		}
	}
	if len(h.seen) >= h.maxEntries && oldestKey != "" {
		delete(h.seen, oldestKey)
	}
}
