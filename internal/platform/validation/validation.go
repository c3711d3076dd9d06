// Package validation wires go-playground/validator into echo and converts
// validation failures into structured field errors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/quantnex/quantnex/internal/platform/apperr"
)

var messages = map[string]string{
	"required":  "is required",
	"email":     "must be a valid email address",
	"oneof":     "must be one of: %s",
	"min":       "must be at least %s",
	"max":       "must be at most %s",
	"gte":       "must be greater than or equal to %s",
	"lte":       "must be less than or equal to %s",
	"gt":        "must be greater than %s",
	"unit":      "must be between 0 and 1",
	"patientid": "must contain only letters, digits, '-' or '_'",
	"alphanum":  "must contain only letters and digits",
	"http_url":  "must be an http or https URL",
}

// Validator implements echo.Validator.
type Validator struct {
	v *validator.Validate
}

// New returns a Validator that reports JSON field names and knows the
// project-specific tags.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			name = strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("unit", func(fl validator.FieldLevel) bool {
		f := fl.Field()
		if f.Kind() == reflect.Ptr {
			if f.IsNil() {
				return true
			}
			f = f.Elem()
		}
		switch f.Kind() {
		case reflect.Float32, reflect.Float64:
			x := f.Float()
			return x >= 0 && x <= 1
		}
		return false
	})
	_ = v.RegisterValidation("patientid", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		for _, r := range s {
			ok := r == '-' || r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
			if !ok {
				return false
			}
		}
		return true
	})
	return &Validator{v: v}
}

// Validate implements echo.Validator. Failures are returned as an
// *apperr.AppError listing every offending field.
func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.BadRequest(err.Error())
	}
	return apperr.Validation(FieldErrors(verrs)...)
}

// FieldErrors converts validator errors to API field errors.
func FieldErrors(verrs validator.ValidationErrors) []apperr.FieldError {
	out := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, apperr.FieldError{
			Field:   fieldPath(fe),
			Message: message(fe),
		})
	}
	return out
}

// fieldPath strips the top-level struct name from the namespace so nested
// errors read "alternativeDiagnoses[0].probability".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	tmpl, ok := messages[fe.Tag()]
	if !ok {
		return "is invalid"
	}
	if strings.Contains(tmpl, "%s") {
		param := fe.Param()
		if fe.Tag() == "oneof" {
			param = strings.Join(strings.Fields(param), ", ")
		}
		return fmt.Sprintf(tmpl, param)
	}
	return tmpl
}

// BindAndValidate binds the request into v and validates it. Binding
// failures (malformed JSON, type mismatches) become 400s.
func BindAndValidate(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			if msg, ok := he.Message.(string); ok {
				return apperr.BadRequest(msg)
			}
		}
		return apperr.BadRequest("malformed request body")
	}
	return c.Validate(v)
}
