package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimalStripsFormatting(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0.1", "0.1"},
		{" 1,234.56 ", "1234.56"},
		{"-0.00000001", "-0.00000001"},
		{"10000", "10000"},
	}
	for _, tc := range tests {
		got, err := ParseDecimal(tc.in)
		require.NoError(t, err, tc.in)
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "%s parsed to %s", tc.in, got)
	}
}

func TestParseDecimalRejectsGarbage(t *testing.T) {
	_, err := ParseDecimal("not-a-number")
	require.Error(t, err)
	_, err = ParseDecimal("")
	require.Error(t, err)
}

func TestParseDecimalAvoidsBinaryFloatArtifacts(t *testing.T) {
	a, err := ParseDecimal("0.1")
	require.NoError(t, err)
	b, err := ParseDecimal("0.2")
	require.NoError(t, err)
	assert.True(t, a.Add(b).Equal(decimal.RequireFromString("0.3")))
}

func TestRoundUSDHalfUp(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2.005", "2.01"},
		{"2.004", "2.00"},
		{"2.995", "3.00"},
		{"0.005", "0.01"},
		{"-2.005", "-2.00"}, // half rounds toward positive infinity
		{"-2.006", "-2.01"},
		{"1500", "1500"},
	}
	for _, tc := range tests {
		got := RoundUSD(decimal.RequireFromString(tc.in))
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "RoundUSD(%s) = %s", tc.in, got)
	}
}

func TestRoundQuantityEightPlaces(t *testing.T) {
	got := RoundQuantity(decimal.RequireFromString("0.123456789"))
	assert.True(t, got.Equal(decimal.RequireFromString("0.12345679")))
}

func TestMinDecimal(t *testing.T) {
	a := decimal.RequireFromString("1.5")
	b := decimal.RequireFromString("2")
	assert.True(t, MinDecimal(a, b).Equal(a))
	assert.True(t, MinDecimal(b, a).Equal(a))
	assert.True(t, MinDecimal(a, a).Equal(a))
}
