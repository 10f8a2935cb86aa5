package models

import (
	"github.com/dukex/mangotango/pkg/semantic"
	"github.com/go-playground/validator/v10"
)

// NewValidator returns a validator that understands the semantic_type tag.
func NewValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	_ = validate.RegisterValidation("semantic_type", func(fl validator.FieldLevel) bool {
		return semantic.Type(fl.Field().String()).Valid()
	})

	return validate
}
