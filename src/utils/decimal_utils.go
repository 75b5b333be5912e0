package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// QuantityPrecision is the minimum number of fractional digits carried for
// crypto-unit quantities through intermediate arithmetic.
const QuantityPrecision = 8

// USDPrecision is the number of fractional digits in emitted USD amounts.
const USDPrecision = 2

var half = decimal.New(5, -1) // 0.5

// ParseDecimal parses a decimal from its string representation. Conversions
// from any floating-point source must pass through a string so binary
// rounding error never enters the decimal domain.
func ParseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(strings.ReplaceAll(s, ",", "")))
}

// RoundUSD rounds a USD amount to cents using round-half-up: exactly half a
// cent rounds toward positive infinity.
func RoundUSD(d decimal.Decimal) decimal.Decimal {
	return d.Shift(USDPrecision).Add(half).Floor().Shift(-USDPrecision)
}

// RoundQuantity rounds to the engine's fixed quantity precision. Used on
// derived ratios (e.g. wash-sale proportions) before multiplication to avoid
// compounding rounding error.
func RoundQuantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityPrecision)
}

// MinDecimal returns the smaller of two decimals.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
