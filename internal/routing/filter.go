package routing

import (
	"errors"
	"fmt"

	"ticketrouting/internal/identity"
)

// Predicate decides whether a subscription receives an event.
type Predicate interface {
	Match(attrs Attributes) bool
}

type setPredicate struct {
	attr   string
	values map[string]struct{}
	allow  bool
}

func newSet(attr string, values []string, allow bool) setPredicate {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return setPredicate{attr: attr, values: set, allow: allow}
}

func (p setPredicate) Match(attrs Attributes) bool {
	v, ok := attrs[p.attr]
	_, in := p.values[v]
	in = ok && in
	if p.allow {
		return in
	}
	return !in
}

// Allowlist matches when attr is present and its value is one of values.
func Allowlist(attr string, values ...string) Predicate {
	return newSet(attr, values, true)
}

// Denylist matches when attr is absent or its value is none of values.
func Denylist(attr string, values ...string) Predicate {
	return newSet(attr, values, false)
}

type unconditional struct{}

func (unconditional) Match(Attributes) bool { return true }

// Unconditional matches every event.
func Unconditional() Predicate {
	return unconditional{}
}

// Subscription binds a predicate to the channel receiving matching events.
type Subscription struct {
	Name      string
	Predicate Predicate
	Channel   Channel
}

// DefaultSubscriptions wires the tier policy: gold tickets go to priority,
// everything else to general, and every ticket to analytics.
func DefaultSubscriptions(channels map[string]Channel) ([]Subscription, error) {
	gold := string(identity.TierGold)
	subs := []Subscription{
		{Name: ChannelPriority, Predicate: Allowlist(identity.AttrCustomerTier, gold)},
		{Name: ChannelGeneral, Predicate: Denylist(identity.AttrCustomerTier, gold)},
		{Name: ChannelAnalytics, Predicate: Unconditional()},
	}
	for i := range subs {
		ch, ok := channels[subs[i].Name]
		if !ok || ch == nil {
			return nil, fmt.Errorf("channel %q is required", subs[i].Name)
		}
		subs[i].Channel = ch
	}
	return subs, nil
}

// Engine evaluates subscriptions in registration order.
type Engine struct {
	subs []Subscription
}

// NewEngine validates and registers subscriptions.
func NewEngine(subs ...Subscription) (*Engine, error) {
	seen := make(map[string]struct{}, len(subs))
	for _, s := range subs {
		if s.Name == "" {
			return nil, errors.New("subscription name is required")
		}
		if s.Predicate == nil {
			return nil, fmt.Errorf("subscription %q has no predicate", s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("duplicate subscription %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return &Engine{subs: append([]Subscription(nil), subs...)}, nil
}

// Match returns the subscriptions whose predicate accepts attrs.
func (e *Engine) Match(attrs Attributes) []Subscription {
	var out []Subscription
	for _, s := range e.subs {
		if s.Predicate.Match(attrs) {
			out = append(out, s)
		}
	}
	return out
}

// Subscriptions returns the registered subscriptions.
func (e *Engine) Subscriptions() []Subscription {
	return append([]Subscription(nil), e.subs...)
}
