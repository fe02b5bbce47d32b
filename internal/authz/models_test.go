package authz

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicyResponse(t *testing.T) {
	t.Run("allow includes statement and context", func(t *testing.T) {
		resp := NewPolicyResponse(AccessDecision{
			PrincipalID: GatewayPrincipalID,
			Effect:      EffectAllow,
			Resource:    "arn:test",
			Context:     &DecisionContext{UserID: 1234, Email: "fakeuser234@example.com", CustomerTier: "gold"},
		})
		raw, err := json.Marshal(resp)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"principalId": "user",
			"policyDocument": {
				"Version": "2012-10-17",
				"Statement": [{"Action": "execute-api:Invoke", "Effect": "Allow", "Resource": "arn:test"}]
			},
			"context": {"user_id": 1234, "email": "fakeuser234@example.com", "customer_tier": "gold"}
		}`, string(raw))
	})

	t.Run("deny omits context", func(t *testing.T) {
		resp := NewPolicyResponse(AccessDecision{PrincipalID: "user", Effect: EffectDeny, Resource: "arn:test"})
		raw, err := json.Marshal(resp)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "context")
		assert.Contains(t, string(raw), `"Effect":"Deny"`)
	})

	t.Run("missing resource omits policy document", func(t *testing.T) {
		resp := NewPolicyResponse(AccessDecision{PrincipalID: "user", Effect: EffectDeny})
		assert.Nil(t, resp.PolicyDocument)
	})
}

func TestAccessDecisionValidate(t *testing.T) {
	assert.Error(t, AccessDecision{Effect: EffectAllow}.Validate())
	assert.Error(t, AccessDecision{Effect: EffectAllow, Context: &DecisionContext{CustomerTier: "gold"}}.Validate())
	assert.Error(t, AccessDecision{Effect: EffectDeny, Context: &DecisionContext{}}.Validate())
	assert.Error(t, AccessDecision{Effect: "Maybe"}.Validate())
	assert.NoError(t, AccessDecision{Effect: EffectDeny}.Validate())
}

func TestKeyHasher(t *testing.T) {
	h := NewKeyHasher("secret")
	assert.Equal(t, h.HashCredential("a"), h.HashCredential("a"))
	assert.NotEqual(t, h.HashCredential("a"), h.HashCredential("b"))
	assert.NotEqual(t, h.HashCredential("a"), NewKeyHasher("other").HashCredential("a"))

	long := NewKeyHasher(string(make([]byte, 100)))
	assert.Len(t, long.HashCredential("a"), 64)

	key := h.Key("a", "arn:test")
	assert.Equal(t, "authz:"+h.HashCredential("a")+":arn:test", key.String())
}
