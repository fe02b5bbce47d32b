package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"ticketrouting/internal/authz"
	"ticketrouting/pkg/platform/sentinel"
)

const (
	// credentialIndexPrefix keys the set of decision keys cached per credential.
	credentialIndexPrefix = "authz:idx:"
)

// RedisCache shares decisions across instances. Each decision is a single key
// written with SET PX, so concurrent refreshes converge on one value and one TTL.
type RedisCache struct {
	client  *redis.Client
	latency prometheus.Histogram
}

// RedisOption configures a RedisCache.
type RedisOption func(*RedisCache)

// WithRegisterer records lookup latency on reg.
func WithRegisterer(reg prometheus.Registerer) RedisOption {
	return func(c *RedisCache) {
		c.latency = promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "ticket_routing_authz_redis_get_duration_ms",
			Help:    "Latency of decision cache lookups in milliseconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		})
	}
}

func NewRedisCache(client *redis.Client, opts ...RedisOption) *RedisCache {
	c := &RedisCache{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *RedisCache) Get(ctx context.Context, key authz.CacheKey) (authz.AccessDecision, error) {
	if c.latency != nil {
		start := time.Now()
		defer func() {
			c.latency.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
		}()
	}

	raw, err := c.client.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return authz.AccessDecision{}, sentinel.ErrNotFound
	}
	if err != nil {
		return authz.AccessDecision{}, fmt.Errorf("redis get decision: %w", err)
	}
	var d authz.AccessDecision
	if err := json.Unmarshal(raw, &d); err != nil {
		return authz.AccessDecision{}, fmt.Errorf("decode cached decision: %w", err)
	}
	return d, nil
}

func (c *RedisCache) Set(ctx context.Context, key authz.CacheKey, decision authz.AccessDecision, ttl time.Duration) error {
	if ttl <= 0 {
		return sentinel.ErrExpired
	}
	raw, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	index := credentialIndexPrefix + key.Credential
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key.String(), raw, ttl)
		pipe.SAdd(ctx, index, key.String())
		// The index only needs to outlive the longest entry it points at.
		pipe.Expire(ctx, index, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set decision: %w", err)
	}
	return nil
}

func (c *RedisCache) DeleteCredential(ctx context.Context, credentialHash string) error {
	index := credentialIndexPrefix + credentialHash
	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("redis read credential index: %w", err)
	}
	keys = append(keys, index)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete decisions: %w", err)
	}
	return nil
}
