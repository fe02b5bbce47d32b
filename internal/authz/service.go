// Package authz implements the authorization gate consulted by the upstream
// gateway before a request reaches ticket ingestion.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticketrouting/internal/authz/metrics"
	"ticketrouting/internal/identity"
	"ticketrouting/internal/platform/logger"
	"ticketrouting/pkg/platform/sentinel"
	"ticketrouting/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks DecisionCache

// DefaultTTL matches the gateway authorizer result cache.
const DefaultTTL = 5 * time.Second

// DecisionCache stores decisions for a bounded time. Get returns
// sentinel.ErrNotFound for missing or expired entries.
type DecisionCache interface {
	Get(ctx context.Context, key CacheKey) (AccessDecision, error)
	Set(ctx context.Context, key CacheKey, decision AccessDecision, ttl time.Duration) error
	DeleteCredential(ctx context.Context, credentialHash string) error
}

// Gate turns credentials into access decisions behind a TTL cache.
type Gate struct {
	resolver identity.Resolver
	cache    DecisionCache
	keys     *KeyHasher
	ttl      time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithTTL sets the lifetime applied to Allow and Deny decisions alike.
func WithTTL(ttl time.Duration) Option {
	return func(g *Gate) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

func WithKeyHasher(h *KeyHasher) Option {
	return func(g *Gate) {
		if h != nil {
			g.keys = h
		}
	}
}

// New constructs a Gate.
func New(resolver identity.Resolver, cache DecisionCache, opts ...Option) (*Gate, error) {
	if resolver == nil {
		return nil, fmt.Errorf("identity resolver is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("decision cache is required")
	}
	g := &Gate{
		resolver: resolver,
		cache:    cache,
		keys:     NewKeyHasher(""),
		ttl:      DefaultTTL,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Authorize returns the decision for (credential, resource). It never fails:
// unknown, empty or unresolvable credentials produce a Deny decision.
func (g *Gate) Authorize(ctx context.Context, credential, resource string) AccessDecision {
	key := g.keys.Key(credential, resource)

	cached, err := g.cache.Get(ctx, key)
	switch {
	case err == nil:
		g.metrics.IncCacheHit()
		return cached
	case !errors.Is(err, sentinel.ErrNotFound):
		g.logger.WarnContext(ctx, "decision cache read failed",
			"request_id", requestcontext.RequestID(ctx),
			"resource", resource,
			"error", err,
		)
	}
	g.metrics.IncCacheMiss()

	decision := g.decide(ctx, credential, resource)

	if err := g.cache.Set(ctx, key, decision, g.ttl); err != nil {
		g.logger.WarnContext(ctx, "decision cache write failed",
			"request_id", requestcontext.RequestID(ctx),
			"resource", resource,
			"error", err,
		)
	}
	g.metrics.IncDecision(string(decision.Effect))
	return decision
}

// Invalidate drops every cached decision for credential.
func (g *Gate) Invalidate(ctx context.Context, credential string) error {
	if err := g.cache.DeleteCredential(ctx, g.keys.HashCredential(credential)); err != nil {
		return fmt.Errorf("invalidate credential: %w", err)
	}
	return nil
}

func (g *Gate) decide(ctx context.Context, credential, resource string) (decision AccessDecision) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.ErrorContext(ctx, "identity resolver panicked",
				"request_id", requestcontext.RequestID(ctx),
				"panic", fmt.Sprint(r),
			)
			decision = deny(resource)
		}
	}()

	principal, err := g.resolver.Resolve(ctx, credential)
	if err != nil {
		if !errors.Is(err, identity.ErrUnknownCredential) {
			g.logger.ErrorContext(ctx, "identity resolution failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		g.logger.InfoContext(ctx, "authorization denied",
			"request_id", requestcontext.RequestID(ctx),
			"resource", resource,
		)
		return deny(resource)
	}

	return AccessDecision{
		PrincipalID: GatewayPrincipalID,
		Effect:      EffectAllow,
		Resource:    resource,
		Context: &DecisionContext{
			UserID:       principal.ID,
			Email:        principal.Email,
			CustomerTier: string(principal.Tier),
		},
	}
}

func deny(resource string) AccessDecision {
	return AccessDecision{
		PrincipalID: GatewayPrincipalID,
		Effect:      EffectDeny,
		Resource:    resource,
	}
}

// PrincipalFromDecision rebuilds the principal carried in an Allow decision.
func PrincipalFromDecision(d AccessDecision) (identity.Principal, error) {
	if !d.Allowed() {
		return identity.Principal{}, fmt.Errorf("decision is not an allow")
	}
	if d.Context == nil || d.Context.UserID == 0 {
		return identity.Principal{}, fmt.Errorf("allow decision carries no user id")
	}
	tier, err := identity.ParseTier(d.Context.CustomerTier)
	if err != nil {
		return identity.Principal{}, err
	}
	return identity.Principal{ID: d.Context.UserID, Email: d.Context.Email, Tier: tier}, nil
}
