package domain

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	loaderCodePattern = regexp.MustCompile(`^[A-Z0-9_]{1,64}$`)
	registerOnce      sync.Once
)

// RegisterCustomValidations wires the domain's custom struct-tag validators
// into v. Safe to call multiple times; registration only happens once per
// process.
func RegisterCustomValidations(v *validator.Validate) {
	registerOnce.Do(func() {
		_ = v.RegisterValidation("uppercase_underscore", func(fl validator.FieldLevel) bool {
			return loaderCodePattern.MatchString(fl.Field().String())
		})
	})
}
