package ticket

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "ticketrouting/pkg/domain-errors"
)

// Validator checks raw ticket payloads and reports every violated field.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// Validate decodes raw and checks it. Failures are returned as
// *dErrors.FieldErrors listing each violated field; raw is never modified.
func (v *Validator) Validate(raw []byte) (Validated, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		fe := &dErrors.FieldErrors{}
		fe.Add("body", "json", "must be a JSON object")
		return Validated{}, fe
	}

	var (
		req  CreateRequest
		errs dErrors.FieldErrors
	)
	decodeString(fields, "type", &req.Type, &errs)
	decodeString(fields, "subject", &req.Subject, &errs)
	decodeString(fields, "message", &req.Message, &errs)

	if err := v.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return Validated{}, fmt.Errorf("validate ticket: %w", err)
		}
		for _, fe := range verrs {
			if errs.Has(fe.Field()) {
				continue
			}
			errs.Add(fe.Field(), fe.Tag(), message(fe))
		}
	}
	if err := errs.OrNil(); err != nil {
		return Validated{}, err
	}

	typ, err := ParseType(req.Type)
	if err != nil {
		return Validated{}, fmt.Errorf("validate ticket: %w", err)
	}
	return Validated{
		Type:    typ,
		Subject: req.Subject,
		Message: req.Message,
	}, nil
}

// decodeString reads a string field, recording a type error when the JSON
// value is present but not a string. null counts as absent.
func decodeString(fields map[string]json.RawMessage, name string, dst *string, errs *dErrors.FieldErrors) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		errs.Add(name, "string", "must be a string")
	}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
