package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator instance.
func New() *validatorv10.Validate {
	return validatorv10.New()
}

var defaultValidator = New()

// Struct runs tag-based validation against the default validator.
func Struct(v interface{}) error {
	return defaultValidator.Struct(v)
}
