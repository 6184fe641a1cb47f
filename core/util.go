package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// ParseAmount parses a user supplied amount ("1000", "1,000.50").
// The result is not validated; see ledger validators for sign and precision rules.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(CleanString(s), ",", "")
	if s == "" {
		return decimal.Zero, NewValidationError(nil, FieldError{Field: "amount", Error: "this field is required"})
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, NewValidationError(nil, FieldError{Field: "amount", Error: "provide a valid numeric amount"})
	}
	return d, nil
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
