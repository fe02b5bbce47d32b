package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"ticketrouting/internal/identity"
)

// Channel names used by the default subscription set.
const (
	ChannelPriority  = "priority"
	ChannelGeneral   = "general"
	ChannelAnalytics = "analytics"
)

// Attributes are the string attributes filter predicates evaluate.
type Attributes map[string]string

// Clone returns an independent copy; nil stays nil.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

// Body is the validated ticket payload.
type Body struct {
	Type    string `json:"type"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
}

// Auth is the caller identity carried alongside the ticket.
type Auth struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Tier   string `json:"tier"`
}

// TicketEvent is a validated ticket ready for fan-out. Attributes are copied
// on publish; each channel receives its own encoded copy.
type TicketEvent struct {
	ID               string     `json:"id"`
	Body             Body       `json:"body"`
	Auth             Auth       `json:"auth"`
	Attributes       Attributes `json:"attributes,omitempty"`
	RequestTimeEpoch int64      `json:"request_time_epoch"`
	RequestID        string     `json:"request_id,omitempty"`
}

// AuthFromPrincipal renders the auth block for principal.
func AuthFromPrincipal(p identity.Principal) Auth {
	return Auth{UserID: p.IDString(), Email: p.Email, Tier: string(p.Tier)}
}

// Tier returns the customer tier attribute, or "" when absent.
func (e TicketEvent) Tier() string {
	return e.Attributes[identity.AttrCustomerTier]
}

// Encode renders the wire form handed to channels.
func Encode(e TicketEvent) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode ticket event: %w", err)
	}
	return raw, nil
}

// ErrMalformedEvent reports a channel body that is not a ticket event.
var ErrMalformedEvent = errors.New("malformed ticket event")

// Decode parses a channel body produced by Encode.
func Decode(raw []byte) (TicketEvent, error) {
	var e TicketEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return TicketEvent{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if e.Body.Type == "" || e.Body.Message == "" {
		return TicketEvent{}, fmt.Errorf("%w: missing body", ErrMalformedEvent)
	}
	return e, nil
}
