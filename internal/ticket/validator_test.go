package ticket

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "ticketrouting/pkg/domain-errors"
)

func fieldNames(t *testing.T, err error) []string {
	t.Helper()
	var fe *dErrors.FieldErrors
	require.ErrorAs(t, err, &fe)
	names := make([]string, 0, len(fe.Fields))
	for _, f := range fe.Fields {
		names = append(names, f.Field)
	}
	return names
}

func TestValidator(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name       string
		raw        string
		wantFields []string
	}{
		{name: "valid finance", raw: `{"type":"finance","message":"refund"}`},
		{name: "valid with subject", raw: `{"type":"general","subject":"hi","message":"hello"}`},
		{name: "null subject", raw: `{"type":"general","subject":null,"message":"hello"}`},
		{name: "extra fields ignored", raw: `{"type":"general","message":"hello","priority":1}`},
		{name: "empty object", raw: `{}`, wantFields: []string{"type", "message"}},
		{name: "unknown type", raw: `{"type":"legal","message":"x"}`, wantFields: []string{"type"}},
		{name: "type not a string", raw: `{"type":5,"message":"x"}`, wantFields: []string{"type"}},
		{name: "every field wrong", raw: `{"type":true,"subject":1,"message":""}`, wantFields: []string{"type", "subject", "message"}},
		{name: "subject too long", raw: `{"type":"general","subject":"` + strings.Repeat("s", 257) + `","message":"x"}`, wantFields: []string{"subject"}},
		{name: "message too long", raw: `{"type":"general","message":"` + strings.Repeat("m", 4097) + `"}`, wantFields: []string{"message"}},
		{name: "not json", raw: `type=finance`, wantFields: []string{"body"}},
		{name: "array body", raw: `[]`, wantFields: []string{"body"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate([]byte(tt.raw))
			if tt.wantFields == nil {
				assert.NoError(t, err)
				return
			}
			assert.ElementsMatch(t, tt.wantFields, fieldNames(t, err))
			assert.Equal(t, dErrors.CodeValidation, dErrors.CodeOf(err))
		})
	}
}

func TestValidatorOutput(t *testing.T) {
	got, err := NewValidator().Validate([]byte(`{"type":"finance","subject":"Tax","message":"Need help"}`))
	require.NoError(t, err)
	assert.Equal(t, Validated{Type: TypeFinance, Subject: "Tax", Message: "Need help"}, got)
}

func TestValidatorMessages(t *testing.T) {
	_, err := NewValidator().Validate([]byte(`{"type":"legal"}`))
	var fe *dErrors.FieldErrors
	require.ErrorAs(t, err, &fe)
	byField := map[string]dErrors.FieldError{}
	for _, f := range fe.Fields {
		byField[f.Field] = f
	}
	assert.Equal(t, "oneof", byField["type"].Rule)
	assert.Equal(t, "must be one of: finance, general", byField["type"].Message)
	assert.Equal(t, "required", byField["message"].Rule)
}

func TestValidatorCountsRunes(t *testing.T) {
	_, err := NewValidator().Validate([]byte(`{"type":"general","message":"` + strings.Repeat("é", 4096) + `"}`))
	assert.NoError(t, err)
}

func TestValidatorDoesNotMutateInput(t *testing.T) {
	raw := []byte(`{"type":"general","message":"hello"}`)
	before := string(raw)
	_, _ = NewValidator().Validate(raw)
	assert.Equal(t, before, string(raw))
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("finance")
	require.NoError(t, err)
	assert.Equal(t, TypeFinance, typ)
	_, err = ParseType("Finance")
	assert.Error(t, err)
}
