package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ticketrouting/internal/identity"
	"ticketrouting/internal/routing"
	"ticketrouting/internal/ticket"
	dErrors "ticketrouting/pkg/domain-errors"
	"ticketrouting/pkg/platform/httputil"
	"ticketrouting/pkg/requestcontext"
)

// Service defines the ticket operations exposed over HTTP.
type Service interface {
	Create(ctx context.Context, raw []byte, principal identity.Principal) (routing.PublishResult, error)
	List(ctx context.Context, principal identity.Principal) []ticket.Ticket
}

// Handler serves ticket endpoints. Routes must sit behind the access
// middleware that places the principal in the request context.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts ticket endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/tickets", h.HandleCreate)
	r.Get("/tickets", h.HandleList)
}

// CreateResponse acknowledges an accepted ticket.
type CreateResponse struct {
	Message    string     `json:"message"`
	TicketID   string     `json:"ticket_id"`
	Deliveries Deliveries `json:"deliveries"`
}

// Deliveries reports which channels accepted the ticket.
type Deliveries struct {
	Delivered []string          `json:"delivered"`
	Failed    map[string]string `json:"failed,omitempty"`
}

func fromResult(res routing.PublishResult) Deliveries {
	d := Deliveries{Delivered: res.Delivered}
	if d.Delivered == nil {
		d.Delivered = []string{}
	}
	if len(res.Failed) > 0 {
		d.Failed = make(map[string]string, len(res.Failed))
		for ch, err := range res.Failed {
			d.Failed[ch] = err.Error()
		}
	}
	return d
}

// HandleCreate handles POST /tickets.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	principal, ok := identity.FromContext(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	body, err := httputil.ReadBody(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.Create(ctx, body, principal)
	if err != nil {
		h.logger.WarnContext(ctx, "ticket creation failed",
			"request_id", requestID,
			"principal_id", principal.IDString(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "ticket accepted",
		"request_id", requestID,
		"event_id", res.EventID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, CreateResponse{
		Message:    "Ticket created successfully",
		TicketID:   res.EventID,
		Deliveries: fromResult(res),
	})
}

// HandleList handles GET /tickets.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := identity.FromContext(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.service.List(ctx, principal))
}
