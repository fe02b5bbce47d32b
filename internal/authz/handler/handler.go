package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ticketrouting/internal/authz"
	dErrors "ticketrouting/pkg/domain-errors"
	"ticketrouting/pkg/platform/httputil"
	"ticketrouting/pkg/requestcontext"
)

// Authorizer is the subset of the gate the handler needs.
type Authorizer interface {
	Authorize(ctx context.Context, credential, resource string) authz.AccessDecision
	Invalidate(ctx context.Context, credential string) error
}

// Handler exposes the authorization gate to an upstream gateway.
type Handler struct {
	gate   Authorizer
	logger *slog.Logger
}

func New(gate Authorizer, logger *slog.Logger) *Handler {
	return &Handler{gate: gate, logger: logger}
}

// Register mounts authorization endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/authorize", h.HandleAuthorize)
	r.Post("/authorize/policy", h.HandlePolicy)
	r.Post("/authorize/invalidate", h.HandleInvalidate)
}

// AuthorizeRequest carries the credential presented by the caller and the
// resource being invoked.
type AuthorizeRequest struct {
	Credential string `json:"credential"`
	Resource   string `json:"resource"`
}

// HandleAuthorize handles POST /authorize. A decision is always returned; a
// Deny is a normal 200 response.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	decision, ok := h.authorize(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision)
}

// HandlePolicy handles POST /authorize/policy, rendering the decision as a
// gateway policy document.
func (h *Handler) HandlePolicy(w http.ResponseWriter, r *http.Request) {
	decision, ok := h.authorize(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, authz.NewPolicyResponse(decision))
}

// HandleInvalidate handles POST /authorize/invalidate.
func (h *Handler) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[AuthorizeRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.gate.Invalidate(ctx, req.Credential); err != nil {
		h.logger.ErrorContext(ctx, "decision invalidation failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "decision cache unavailable"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (authz.AccessDecision, bool) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[AuthorizeRequest](r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid authorize request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return authz.AccessDecision{}, false
	}

	decision := h.gate.Authorize(ctx, req.Credential, req.Resource)
	h.logger.InfoContext(ctx, "authorization evaluated",
		"request_id", requestcontext.RequestID(ctx),
		"resource", req.Resource,
		"effect", decision.Effect,
	)
	return decision, true
}
