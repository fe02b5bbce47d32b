// Package ticket implements ticket ingestion: validation, enrichment and
// hand-off to the event router.
package ticket

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"ticketrouting/internal/identity"
	"ticketrouting/internal/platform/logger"
	"ticketrouting/internal/routing"
	dErrors "ticketrouting/pkg/domain-errors"
	"ticketrouting/pkg/requestcontext"
)

// Service accepts tickets from authenticated callers.
type Service struct {
	pipeline HandlerFunc
	catalog  *Catalog
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithCatalog(c *Catalog) Option {
	return func(s *Service) {
		if c != nil {
			s.catalog = c
		}
	}
}

func NewService(validator *Validator, publisher Publisher, opts ...Option) (*Service, error) {
	if validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	s := &Service{
		catalog: NewCatalog(),
		logger:  logger.Discard(),
		tracer:  noop.NewTracerProvider().Tracer("ticketrouting/ticket"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pipeline = Chain(PublishHandler(publisher, s.tracer),
		Validate(validator, s.tracer),
		Enrich(s.tracer),
	)
	return s, nil
}

// Create validates raw and publishes it for principal. Partial fan-out
// failures are reported in the result; only a rejection by every matching
// channel is an error.
func (s *Service) Create(ctx context.Context, raw []byte, principal identity.Principal) (routing.PublishResult, error) {
	res, err := s.pipeline(ctx, &Submission{Raw: raw, Principal: principal})
	if err != nil {
		s.logger.InfoContext(ctx, "ticket rejected",
			"request_id", requestcontext.RequestID(ctx),
			"principal_id", principal.IDString(),
			"error", err,
		)
		return res, err
	}
	if res.AllFailed() {
		s.logger.ErrorContext(ctx, "ticket not accepted by any channel",
			"request_id", requestcontext.RequestID(ctx),
			"event_id", res.EventID,
			"error", res.Err(),
		)
		return res, dErrors.Wrap(res.Err(), dErrors.CodeUnavailable, "no channel accepted the ticket")
	}
	if len(res.Failed) > 0 {
		s.logger.WarnContext(ctx, "ticket partially delivered",
			"request_id", requestcontext.RequestID(ctx),
			"event_id", res.EventID,
			"delivered", res.Delivered,
			"error", res.Err(),
		)
	}
	s.logger.InfoContext(ctx, "ticket created",
		"request_id", requestcontext.RequestID(ctx),
		"event_id", res.EventID,
		"principal_id", principal.IDString(),
		"customer_tier", string(principal.Tier),
	)
	return res, nil
}

// List returns the recent tickets of principal.
func (s *Service) List(ctx context.Context, principal identity.Principal) []Ticket {
	s.logger.DebugContext(ctx, "listing tickets", "principal_id", principal.IDString())
	return s.catalog.ForUser(principal.IDString(), requestcontext.Now(ctx))
}
