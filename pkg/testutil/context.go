package testutil

import (
	"net/http"

	"ticketrouting/internal/identity"
)

// WithPrincipal attaches a resolved principal to the request, as the access
// middleware does after an Allow decision.
func WithPrincipal(req *http.Request, p identity.Principal) *http.Request {
	return req.WithContext(identity.WithPrincipal(req.Context(), p))
}
