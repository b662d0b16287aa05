// Package validation wraps go-playground/validator for request DTOs and
// service inputs. It doubles as the Echo Validator so c.Validate() on a
// bound request returns an apperror with a readable message.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/qubefyn/inkwell/internal/apperror"
)

// Validator implements echo.Validator.
type Validator struct {
	v *validator.Validate
}

// New creates a Validator that reports fields by their JSON names.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{v: v}
}

// defaultValidator backs the package-level Struct helper.
var defaultValidator = New()

// Struct validates s with the shared validator.
func Struct(s any) error {
	return defaultValidator.Validate(s)
}

// Validate checks s against its `validate` tags. Failures come back as a
// 400 validation apperror naming the first offending field.
func (cv *Validator) Validate(s any) error {
	err := cv.v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperror.NewValidation("invalid request")
	}

	return apperror.NewValidation(describe(verrs[0]))
}

// describe turns one field error into a client-facing sentence.
func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_without":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
