// Package auth gates API requests on an authorization decision.
package auth

import (
	"context"
	"log/slog"
	"net/http"

	"ticketrouting/internal/authz"
	"ticketrouting/internal/identity"
	dErrors "ticketrouting/pkg/domain-errors"
	"ticketrouting/pkg/platform/httputil"
	request "ticketrouting/pkg/platform/middleware/request"
)

// DefaultHeader carries the caller's opaque credential.
const DefaultHeader = "Token"

// Authorizer decides whether a credential may invoke a resource.
type Authorizer interface {
	Authorize(ctx context.Context, credential, resource string) authz.AccessDecision
}

// Resource names the resource a request invokes, as "<METHOD> <path>".
func Resource(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

// RequireAccess authorizes every request using the credential in header.
// Denied requests get 403; allowed requests carry the resolved principal in
// their context (see identity.FromContext).
func RequireAccess(gate Authorizer, header string, logger *slog.Logger) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			resource := Resource(r)

			decision := gate.Authorize(ctx, r.Header.Get(header), resource)
			if !decision.Allowed() {
				logger.WarnContext(ctx, "access denied",
					"request_id", request.GetRequestID(ctx),
					"resource", resource,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "access denied"))
				return
			}

			principal, err := authz.PrincipalFromDecision(decision)
			if err != nil {
				logger.ErrorContext(ctx, "allow decision carries malformed principal",
					"request_id", request.GetRequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(ctx, principal)))
		})
	}
}
