// Package money handles currency tags and the minor-unit representation of amounts.
package money

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/errs"
)

// minorExponents lists currencies whose minor unit is not 1/100.
var minorExponents = map[string]int32{
	"BHD": 3,
	"CLP": 0,
	"ISK": 0,
	"JPY": 0,
	"JOD": 3,
	"KRW": 0,
	"KWD": 3,
	"OMR": 3,
	"VND": 0,
}

// NormalizeCurrency upper-cases a currency tag and checks it looks like ISO 4217.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != 3 {
		return "", errs.Validation("money.NormalizeCurrency", "invalid currency %q", code)
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", errs.Validation("money.NormalizeCurrency", "invalid currency %q", code)
		}
	}
	return c, nil
}

// Exponent returns the number of decimal places of currency's minor unit.
func Exponent(currency string) int32 {
	if exp, ok := minorExponents[currency]; ok {
		return exp
	}
	return 2
}

// Format renders a minor-unit amount in major units, e.g. 1234 USD -> "12.34 USD".
func Format(amount int64, currency string) string {
	exp := Exponent(currency)
	return decimal.New(amount, -exp).StringFixed(exp) + " " + currency
}

// ParseMajor converts a major-unit string ("12.34") to minor units.
// More decimal places than the currency allows is a validation error.
func ParseMajor(s, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, errs.Validation("money.ParseMajor", "invalid amount %q", s)
	}
	exp := Exponent(currency)
	minor := d.Shift(exp)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, errs.Validation("money.ParseMajor", "amount %q has more than %d decimal places", s, exp)
	}
	return minor.IntPart(), nil
}
