// ==============================================================================
// VALIDATOR PACKAGE - pkg/validator/validator.go
// ==============================================================================
package validator

import (
	"fmt"
	"html"
	"reflect"
	"strings"

	"github.com/ferdypruis/go-luhn"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"qatmarket/pkg/errors"
)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{
		validate: validator.New(),
	}
	v.registerCustomValidations()
	return v
}

// Validate checks struct tags and returns an error wrapping errors.ErrValidation.
func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		// Format validation errors
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, e := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"Field '%s' failed validation '%s'",
					e.Field(),
					e.Tag(),
				))
			}
			return errors.Validation("%s", strings.Join(errMessages, "; "))
		}
		return errors.Validation("%s", err.Error())
	}
	return nil
}

func (v *Validator) registerCustomValidations() {
	// Register decimal.Decimal to be validated as float64 for gt/lt checks
	v.validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if val, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := val.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	// giftcode: 8-19 digits whose last digit is a Luhn check digit.
	_ = v.validate.RegisterValidation("giftcode", func(fl validator.FieldLevel) bool {
		return ValidGiftCode(fl.Field().String())
	})

	// money: at most two fractional digits. Decimal fields reach this check
	// through the float64 view registered above; NewFromFloat keeps the
	// shortest representation, so 1.005 is still seen as three places.
	_ = v.validate.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		var d decimal.Decimal
		switch val := fl.Field().Interface().(type) {
		case float64:
			d = decimal.NewFromFloat(val)
		case decimal.Decimal:
			d = val
		default:
			return false
		}
		return d.Equal(d.Round(2))
	})
}

// ValidGiftCode reports whether code has the gift code shape.
func ValidGiftCode(code string) bool {
	code = strings.TrimSpace(code)
	if len(code) < 8 || len(code) > 19 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return luhn.Valid(code)
}

// Sanitize cleans string input to prevent XSS attacks
func Sanitize(input string) string {
	return html.EscapeString(strings.TrimSpace(input))
}
