package ticket

import (
	"fmt"
	"time"
)

// Type is the closed set of ticket categories.
type Type string

const (
	TypeFinance Type = "finance"
	TypeGeneral Type = "general"
)

func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeFinance, TypeGeneral:
		return Type(s), nil
	default:
		return "", fmt.Errorf("invalid ticket type %q", s)
	}
}

// Field limits enforced at ingress.
const (
	MaxSubjectLength = 256
	MaxMessageLength = 4096
)

// CreateRequest is the raw ticket creation payload.
type CreateRequest struct {
	Type    string `json:"type" validate:"required,oneof=finance general"`
	Subject string `json:"subject" validate:"max=256"`
	Message string `json:"message" validate:"required,max=4096"`
}

// Validated is a ticket that passed ingress validation.
type Validated struct {
	Type    Type
	Subject string
	Message string
}

// Ticket is a previously submitted ticket as listed back to its owner.
type Ticket struct {
	Type      Type      `json:"type"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
