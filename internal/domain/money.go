package domain

import (
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places every stored amount carries.
const MoneyScale = 2

// ValidatePositiveAmount checks presence, scale and sign, and returns the
// amount normalized to MoneyScale.
func ValidatePositiveAmount(field string, amount decimal.NullDecimal) (decimal.Decimal, error) {
	d, err := validateScale(field, amount)
	if err != nil {
		return decimal.Zero, err
	}
	if d.Sign() <= 0 {
		return decimal.Zero, Validation(field, "Amount must be greater than zero")
	}
	return d, nil
}

// ValidateNonNegativeAmount is ValidatePositiveAmount but accepts zero.
func ValidateNonNegativeAmount(field string, amount decimal.NullDecimal) (decimal.Decimal, error) {
	d, err := validateScale(field, amount)
	if err != nil {
		return decimal.Zero, err
	}
	if d.Sign() < 0 {
		return decimal.Zero, Validation(field, "Amount must be zero or greater")
	}
	return d, nil
}

// ParseAmount parses a decimal string and validates it as non-negative money.
func ParseAmount(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, Validation(field, "Amount must be a decimal number")
	}
	return ValidateNonNegativeAmount(field, decimal.NullDecimal{Decimal: d, Valid: true})
}

// FormatMoney renders an amount with exactly MoneyScale decimals.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyScale)
}

func validateScale(field string, amount decimal.NullDecimal) (decimal.Decimal, error) {
	if !amount.Valid {
		return decimal.Zero, Validation(field, "Amount is required")
	}
	if amount.Decimal.Exponent() < -MoneyScale {
		return decimal.Zero, Validation(field, "Amount must have at most 2 decimal places")
	}
	return amount.Decimal.Round(MoneyScale), nil
}
