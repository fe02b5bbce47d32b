package store

import (
	"context"
	"sync"
	"time"

	"ticketrouting/internal/authz"
	"ticketrouting/pkg/platform/sentinel"
)

type cachedDecision struct {
	decision  authz.AccessDecision
	expiresAt time.Time
}

// InMemoryCache is a process-local decision cache with per-entry expiry.
// Each key holds at most one entry; the latest write wins.
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[authz.CacheKey]cachedDecision
	now     func() time.Time
}

// MemoryOption configures an InMemoryCache.
type MemoryOption func(*InMemoryCache)

// WithClock overrides the time source; used by tests to step past TTLs.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *InMemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewInMemoryCache(opts ...MemoryOption) *InMemoryCache {
	c := &InMemoryCache{
		entries: make(map[authz.CacheKey]cachedDecision),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the cached decision, or sentinel.ErrNotFound when the
// entry is missing or expired. Expired entries are evicted lazily.
func (c *InMemoryCache) Get(_ context.Context, key authz.CacheKey) (authz.AccessDecision, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return authz.AccessDecision{}, sentinel.ErrNotFound
	}
	if c.now().Before(entry.expiresAt) {
		return entry.decision.Clone(), nil
	}

	c.mu.Lock()
	// A concurrent Set may have refreshed the entry since the read.
	if current, ok := c.entries[key]; ok && current.expiresAt.Equal(entry.expiresAt) {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return authz.AccessDecision{}, sentinel.ErrNotFound
}

func (c *InMemoryCache) Set(_ context.Context, key authz.CacheKey, decision authz.AccessDecision, ttl time.Duration) error {
	if ttl <= 0 {
		return sentinel.ErrExpired
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedDecision{decision: decision.Clone(), expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *InMemoryCache) DeleteCredential(_ context.Context, credentialHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.Credential == credentialHash {
			delete(c.entries, key)
		}
	}
	return nil
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *InMemoryCache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (c *InMemoryCache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Len returns the number of stored entries, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
