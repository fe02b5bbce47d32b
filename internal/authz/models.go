package authz

import (
	"fmt"
)

// Effect is the outcome of an authorization decision.
type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// GatewayPrincipalID is the principalId of every decision. The caller's
// identity travels in Context, never in principalId.
const GatewayPrincipalID = "user"

// DecisionContext is the principal information forwarded to the upstream
// gateway on Allow.
type DecisionContext struct {
	UserID       int64  `json:"user_id"`
	Email        string `json:"email"`
	CustomerTier string `json:"customer_tier"`
}

// AccessDecision is the document returned to an upstream gateway.
// Context is only present on Allow; on Deny the key is omitted entirely.
type AccessDecision struct {
	PrincipalID string           `json:"principalId"`
	Effect      Effect           `json:"effect"`
	Resource    string           `json:"resource"`
	Context     *DecisionContext `json:"context,omitempty"`
}

// Allowed reports whether the decision grants access.
func (d AccessDecision) Allowed() bool {
	return d.Effect == EffectAllow
}

// Clone returns a deep copy so cached decisions cannot be mutated by callers.
func (d AccessDecision) Clone() AccessDecision {
	out := d
	if d.Context != nil {
		c := *d.Context
		out.Context = &c
	}
	return out
}

// Validate checks the Allow/Deny shape invariants.
func (d AccessDecision) Validate() error {
	switch d.Effect {
	case EffectAllow:
		if d.Context == nil || d.Context.UserID == 0 {
			return fmt.Errorf("allow decision for %q has no principal context", d.Resource)
		}
	case EffectDeny:
		if d.Context != nil {
			return fmt.Errorf("deny decision for %q carries context", d.Resource)
		}
	default:
		return fmt.Errorf("unknown effect %q", d.Effect)
	}
	return nil
}

// PolicyVersion is the policy language version emitted in gateway documents.
const PolicyVersion = "2012-10-17"

// InvokeAction is the gateway action covered by emitted statements.
const InvokeAction = "execute-api:Invoke"

// PolicyStatement is a single allow/deny statement.
type PolicyStatement struct {
	Action   string `json:"Action"`
	Effect   Effect `json:"Effect"`
	Resource string `json:"Resource"`
}

// PolicyDocument groups statements under a version.
type PolicyDocument struct {
	Version   string            `json:"Version"`
	Statement []PolicyStatement `json:"Statement"`
}

// PolicyResponse is the gateway-authorizer rendering of a decision.
type PolicyResponse struct {
	PrincipalID    string           `json:"principalId"`
	PolicyDocument *PolicyDocument  `json:"policyDocument,omitempty"`
	Context        *DecisionContext `json:"context,omitempty"`
}

// NewPolicyResponse renders a decision as a gateway policy document.
func NewPolicyResponse(d AccessDecision) PolicyResponse {
	resp := PolicyResponse{PrincipalID: d.PrincipalID}
	if d.Effect != "" && d.Resource != "" {
		resp.PolicyDocument = &PolicyDocument{
			Version: PolicyVersion,
			Statement: []PolicyStatement{
				{Action: InvokeAction, Effect: d.Effect, Resource: d.Resource},
			},
		}
	}
	if d.Context != nil {
		c := *d.Context
		resp.Context = &c
	}
	return resp
}
