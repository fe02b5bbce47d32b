// Package routing fans validated ticket events out to subscriber channels.
package routing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"ticketrouting/internal/identity"
	"ticketrouting/internal/platform/logger"
	"ticketrouting/internal/routing/metrics"
	"ticketrouting/pkg/platform/sentinel"
	"ticketrouting/pkg/requestcontext"
)

// DefaultOfferTimeout bounds a single channel offer.
const DefaultOfferTimeout = 2 * time.Second

// Channel accepts encoded events without waiting for consumers. A saturated
// channel returns sentinel.ErrBufferFull. Offer must return once ctx is done.
type Channel interface {
	Name() string
	Offer(ctx context.Context, id string, body []byte) error
}

// PublishResult reports per-channel delivery outcomes for one event.
type PublishResult struct {
	EventID   string
	Delivered []string
	Failed    map[string]error
}

// Err joins every channel failure, or returns nil.
func (r PublishResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, name := range slices.Sorted(maps.Keys(r.Failed)) {
		errs = append(errs, fmt.Errorf("channel %s: %w", name, r.Failed[name]))
	}
	return errors.Join(errs...)
}

// AllFailed reports whether no matching channel accepted the event.
func (r PublishResult) AllFailed() bool {
	return len(r.Delivered) == 0 && len(r.Failed) > 0
}

// Router enriches events once and offers a copy to each matching channel.
type Router struct {
	engine       *Engine
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	offerTimeout time.Duration
}

type Option func(*Router)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Router) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithOfferTimeout bounds each channel offer; an offer that runs past it is
// recorded as a failure for that channel only.
func WithOfferTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.offerTimeout = d
		}
	}
}

func NewRouter(engine *Engine, opts ...Option) (*Router, error) {
	if engine == nil {
		return nil, fmt.Errorf("subscription engine is required")
	}
	r := &Router{
		engine:       engine,
		logger:       logger.Discard(),
		tracer:       noop.NewTracerProvider().Tracer("ticketrouting/routing"),
		offerTimeout: DefaultOfferTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Publish enriches event with the principal's attributes and hands an
// encoded copy to every matching channel. Offers run concurrently, each under
// its own deadline: a slow or rejecting channel never delays or prevents
// delivery to the others. Publish does not wait for any consumer and returns
// within the offer timeout.
func (r *Router) Publish(ctx context.Context, event TicketEvent, principal identity.Principal) PublishResult {
	enriched := enrich(event, principal)
	result := PublishResult{EventID: enriched.ID}

	matches := r.engine.Match(enriched.Attributes)
	body, err := Encode(enriched)
	if err != nil {
		result.Failed = make(map[string]error, len(matches))
		for _, sub := range matches {
			result.Failed[sub.Name] = err
			r.metrics.IncDelivery(sub.Name, metrics.OutcomeFailed)
		}
		return result
	}
	r.metrics.IncPublished()

	errs := make([]error, len(matches))
	var g errgroup.Group
	for i, sub := range matches {
		g.Go(func() error {
			errs[i] = r.deliver(ctx, sub, enriched.ID, body)
			return nil
		})
	}
	_ = g.Wait()

	for i, sub := range matches {
		if errs[i] != nil {
			if result.Failed == nil {
				result.Failed = make(map[string]error)
			}
			result.Failed[sub.Name] = errs[i]
			continue
		}
		result.Delivered = append(result.Delivered, sub.Name)
	}
	return result
}

func (r *Router) deliver(ctx context.Context, sub Subscription, id string, body []byte) error {
	ctx, span := r.tracer.Start(ctx, "routing.deliver",
		trace.WithAttributes(attribute.String("channel", sub.Name), attribute.String("event_id", id)))
	defer span.End()

	offerCtx, cancel := context.WithTimeout(ctx, r.offerTimeout)
	defer cancel()
	err := offer(offerCtx, sub.Channel, id, bytes.Clone(body))
	if err == nil {
		r.metrics.IncDelivery(sub.Name, metrics.OutcomeDelivered)
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "delivery rejected")
	outcome := metrics.OutcomeFailed
	switch {
	case errors.Is(err, sentinel.ErrBufferFull):
		outcome = metrics.OutcomeRejected
	case errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeTimeout
	}
	r.metrics.IncDelivery(sub.Name, outcome)
	r.logger.WarnContext(ctx, "channel delivery failed",
		"request_id", requestcontext.RequestID(ctx),
		"channel", sub.Name,
		"event_id", id,
		"outcome", outcome,
		"error", err,
	)
	return err
}

// offer returns when the channel does or when ctx is done, whichever is
// first, so a channel that ignores ctx cannot hold up Publish.
func offer(ctx context.Context, ch Channel, id string, body []byte) error {
	done := make(chan error, 1)
	go func() {
		done <- ch.Offer(ctx, id, body)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("offer timed out: %w", ctx.Err())
	}
}

// enrich runs exactly once per publish, on a copy of the event.
func enrich(event TicketEvent, principal identity.Principal) TicketEvent {
	out := event
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	out.Attributes = event.Attributes.Clone()
	if out.Attributes == nil {
		out.Attributes = make(Attributes, 2)
	}
	if principal.Tier != "" {
		out.Attributes[identity.AttrCustomerTier] = string(principal.Tier)
	}
	if principal.ID != 0 {
		out.Attributes[identity.AttrUserID] = principal.IDString()
		out.Auth = AuthFromPrincipal(principal)
	}
	return out
}
