package handler

import (
	"errors"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"tutor-agent/internal/usecase"
)

// requestValidator plugs validator/v10 into echo's c.Validate.
type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, key := range []string{"json", "query", "param"} {
			if name, _, _ := strings.Cut(f.Tag.Get(key), ","); name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return &requestValidator{v: v}
}

func (rv *requestValidator) Validate(i any) error {
	err := rv.v.Struct(i)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: reasonFor(fieldErrs[0]), Err: err}
	}
	return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_request", Err: err}
}

// reasonFor maps a failed field onto the reason strings the service layer uses.
func reasonFor(fe validator.FieldError) string {
	switch fe.Field() {
	case "message":
		return "empty_message"
	case "topic":
		return "empty_topic"
	}
	return "missing_" + snakeCase(fe.Field())
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
