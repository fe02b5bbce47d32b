// Package identity resolves opaque caller credentials to principals.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

//go:generate mockgen -source=identity.go -destination=mocks/mocks.go -package=mocks Resolver

// ErrUnknownCredential is returned when a credential maps to no principal.
var ErrUnknownCredential = errors.New("unknown credential")

// Tier is the closed set of customer classifications used for routing.
type Tier string

const (
	TierGold   Tier = "gold"
	TierSilver Tier = "silver"
)

// ParseTier validates a tier label.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierGold, TierSilver:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("invalid tier %q", s)
	}
}

func (t Tier) String() string { return string(t) }

// Attribute names carried in routed event attributes.
const (
	AttrUserID       = "user_id"
	AttrCustomerTier = "customer_tier"
)

// Principal is the resolved identity of a caller.
type Principal struct {
	ID    int64
	Email string
	Tier  Tier
}

// IDString renders the principal id for logs and attribute maps.
func (p Principal) IDString() string {
	return strconv.FormatInt(p.ID, 10)
}

// Resolver maps a credential to a Principal. Implementations must be safe for
// concurrent use and return ErrUnknownCredential for credentials they do not know.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (Principal, error)
}

type principalKey struct{}

// WithPrincipal stores the authenticated principal in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
