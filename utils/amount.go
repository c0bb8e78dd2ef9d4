// Package utils provides amount parsing and formatting helpers shared
// by examples, tests, and configuration loading.
package utils

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// ParseAmount converts a human-unit decimal string ("1.5") into atomic
// units at the given token precision. Fractional dust beyond the
// precision is truncated.
func ParseAmount(s string, decimals int) (math.Int, error) {
	if s == "" {
		return math.ZeroInt(), fmt.Errorf("amount cannot be empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return math.ZeroInt(), fmt.Errorf("invalid amount format: %w", err)
	}
	if d.IsNegative() {
		return math.ZeroInt(), fmt.Errorf("amount cannot be negative")
	}
	atomic := d.Shift(int32(decimals)).Floor()
	return math.NewIntFromBigInt(atomic.BigInt()), nil
}

// FormatAmount renders atomic units as a human-unit decimal at the
// given precision.
func FormatAmount(amount math.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(amount.BigInt(), -int32(decimals))
}
