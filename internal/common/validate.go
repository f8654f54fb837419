package common

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	// decimals are compared as numbers by gt/gte/lte tags
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// ValidationError wraps validator.ValidationErrors with field messages.
type ValidationError struct {
	Errors validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("field '%s' %s", fe.Field(), msgForTag(fe)))
	}
	return strings.Join(msgs, "; ")
}

// Fields maps field names to messages.
func (e *ValidationError) Fields() map[string]string {
	fields := make(map[string]string, len(e.Errors))
	for _, fe := range e.Errors {
		fields[fe.Field()] = msgForTag(fe)
	}
	return fields
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "required_without_all":
		return "at least one field must be set"
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}

// Validate checks struct tags and returns a 400 AppError listing bad fields.
func Validate(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		verr := &ValidationError{Errors: ve}
		return NewAppError("VALIDATION_FAILED", "request validation failed", http.StatusBadRequest, verr).
			WithDetails(map[string]any{"fields": verr.Fields()})
	}
	return err
}

// DecodeAndValidate decodes the JSON body into dst and validates it.
func DecodeAndValidate(r *http.Request, dst any) error {
	if err := DecodeJSON(r, dst); err != nil {
		return err
	}
	return Validate(dst)
}
