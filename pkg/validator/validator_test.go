package validator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"qatmarket/pkg/errors"
)

type topUp struct {
	Amount decimal.Decimal `validate:"gt=0,money"`
	Code   string          `validate:"omitempty,giftcode"`
	Kind   string          `validate:"required,oneof=deposit refund"`
}

func TestValidate(t *testing.T) {
	v := New()

	ok := topUp{Amount: decimal.RequireFromString("12.50"), Code: "79927398713", Kind: "deposit"}
	assert.NoError(t, v.Validate(&ok))

	negative := ok
	negative.Amount = decimal.NewFromInt(-1)
	err := v.Validate(&negative)
	assert.ErrorIs(t, err, errors.ErrValidation)
	assert.Contains(t, err.Error(), "Amount")

	fractional := ok
	fractional.Amount = decimal.RequireFromString("1.005")
	assert.ErrorIs(t, v.Validate(&fractional), errors.ErrValidation)

	cents := ok
	cents.Amount = decimal.RequireFromString("0.07")
	assert.NoError(t, v.Validate(&cents))

	badCode := ok
	badCode.Code = "79927398710"
	assert.ErrorIs(t, v.Validate(&badCode), errors.ErrValidation)
}

func TestValidGiftCode(t *testing.T) {
	assert.True(t, ValidGiftCode("79927398713"))
	assert.True(t, ValidGiftCode(" 79927398713 "))
	assert.False(t, ValidGiftCode("79927398714"))
	assert.False(t, ValidGiftCode("7992739"))
	assert.False(t, ValidGiftCode("7992A398713"))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "&lt;b&gt;hi&lt;/b&gt;", Sanitize("  <b>hi</b> "))
}
