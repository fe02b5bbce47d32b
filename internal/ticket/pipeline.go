package ticket

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ticketrouting/internal/identity"
	"ticketrouting/internal/routing"
	"ticketrouting/pkg/requestcontext"
)

// Submission flows through the ingress pipeline. Each stage fills in the
// part it owns: Validate sets Ticket, Enrich sets Event.
type Submission struct {
	Raw       []byte
	Principal identity.Principal
	Ticket    Validated
	Event     routing.TicketEvent
}

// HandlerFunc processes a submission.
type HandlerFunc func(ctx context.Context, s *Submission) (routing.PublishResult, error)

// Stage wraps a handler with one step of ingress processing.
type Stage func(next HandlerFunc) HandlerFunc

// Chain composes stages around h. The first stage runs first.
func Chain(h HandlerFunc, stages ...Stage) HandlerFunc {
	for i := len(stages) - 1; i >= 0; i-- {
		h = stages[i](h)
	}
	return h
}

// Publisher fans an event out to subscriber channels.
type Publisher interface {
	Publish(ctx context.Context, event routing.TicketEvent, principal identity.Principal) routing.PublishResult
}

// Validate rejects malformed payloads before anything is published.
func Validate(v *Validator, tracer trace.Tracer) Stage {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s *Submission) (routing.PublishResult, error) {
			ctx, span := tracer.Start(ctx, "ticket.validate")
			ticket, err := v.Validate(s.Raw)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "validation failed")
				span.End()
				return routing.PublishResult{}, err
			}
			span.End()
			s.Ticket = ticket
			return next(ctx, s)
		}
	}
}

// Enrich builds the routed event from the ticket, the caller's identity and
// the request scope.
func Enrich(tracer trace.Tracer) Stage {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s *Submission) (routing.PublishResult, error) {
			_, span := tracer.Start(ctx, "ticket.enrich")
			s.Event = routing.TicketEvent{
				Body: routing.Body{
					Type:    string(s.Ticket.Type),
					Subject: s.Ticket.Subject,
					Message: s.Ticket.Message,
				},
				Auth:             routing.AuthFromPrincipal(s.Principal),
				RequestTimeEpoch: requestcontext.Now(ctx).UnixMilli(),
				RequestID:        requestcontext.RequestID(ctx),
			}
			span.SetAttributes(attribute.String("customer_tier", string(s.Principal.Tier)))
			span.End()
			return next(ctx, s)
		}
	}
}

// PublishHandler is the terminal handler handing the event to the router.
func PublishHandler(pub Publisher, tracer trace.Tracer) HandlerFunc {
	return func(ctx context.Context, s *Submission) (routing.PublishResult, error) {
		ctx, span := tracer.Start(ctx, "ticket.publish")
		defer span.End()
		res := pub.Publish(ctx, s.Event, s.Principal)
		span.SetAttributes(
			attribute.String("event_id", res.EventID),
			attribute.Int("delivered", len(res.Delivered)),
			attribute.Int("failed", len(res.Failed)),
		)
		if err := res.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, fmt.Sprintf("%d channels failed", len(res.Failed)))
		}
		return res, nil
	}
}
