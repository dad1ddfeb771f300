package services

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Validate checks service inputs. Catalog names may not contain whitespace.
var Validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("nowhitespace", func(fl validator.FieldLevel) bool {
		return !strings.ContainsFunc(fl.Field().String(), unicode.IsSpace)
	})
	return v
}

// validateStruct runs the validator and folds field errors into a single ErrInvalidInput.
func validateStruct(input any) error {
	err := Validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
}

func validateName(field, name string) error {
	if err := Validate.Var(name, "required,max=128,nowhitespace"); err != nil {
		return fmt.Errorf("%w: %s must be a non-empty name without whitespace", ErrInvalidInput, field)
	}
	return nil
}
