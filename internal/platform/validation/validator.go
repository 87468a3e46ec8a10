// Package validation plugs go-playground/validator into echo.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator implements echo.Validator.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks i against its `validate` struct tags.
func (cv *Validator) Validate(i interface{}) error {
	if err := cv.v.Struct(i); err != nil {
		return errors.New(FormatError(err))
	}
	return nil
}

// FormatError renders validation errors as "field: rule" pairs.
func FormatError(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		field := strings.ToLower(e.Field())
		if e.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s=%s", field, e.Tag(), e.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s", field, e.Tag()))
		}
	}
	return strings.Join(msgs, ", ")
}
