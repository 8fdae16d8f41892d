// Package money converts between decimal amounts and integer minor units.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrBadAmount   = errors.New("invalid amount format")
	ErrFractional  = errors.New("amount has more precision than the currency allows")
	zeroDecimalISO = map[string]struct{}{
		"VND": {}, "IDR": {}, "JPY": {}, "KRW": {}, "CLP": {}, "XOF": {},
	}
)

var numericISO = map[string]string{
	"VND": "704", "IDR": "360", "JPY": "392", "KRW": "410", "CLP": "152",
	"XOF": "952", "USD": "840", "EUR": "978", "SGD": "702", "THB": "764",
}

// NumericCode returns the ISO 4217 numeric code of currency, or "" when it
// is not known.
func NumericCode(currency string) string {
	return numericISO[strings.ToUpper(currency)]
}

// Scale returns the number of minor-unit digits of an ISO currency code.
func Scale(currency string) int32 {
	if _, ok := zeroDecimalISO[strings.ToUpper(currency)]; ok {
		return 0
	}
	return 2
}

// ToMinor converts a decimal amount to minor units. Amounts that do not fit
// exactly are rejected rather than rounded.
func ToMinor(d decimal.Decimal, currency string) (int64, error) {
	scaled := d.Shift(Scale(currency))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrFractional
	}
	if !scaled.BigInt().IsInt64() {
		return 0, ErrBadAmount
	}
	return scaled.IntPart(), nil
}

// ParseMinor parses a plain decimal string such as "150000" or "12.50".
func ParseMinor(value, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, ErrBadAmount
	}
	return ToMinor(d, currency)
}

// FormatMinor renders minor units as a plain decimal string.
func FormatMinor(minor int64, currency string) string {
	return decimal.New(minor, -Scale(currency)).StringFixed(Scale(currency))
}
