// Package tokens holds token arithmetic shared by the engine and its callers.
package tokens

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidRatio = errors.New("invalid exchange ratio")

// ParseRatio accepts a positive decimal with at most six fractional digits.
func ParseRatio(raw string) (decimal.Decimal, error) {
	ratio, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || ratio.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidRatio
	}
	if ratio.Exponent() < -6 {
		return decimal.Zero, ErrInvalidRatio
	}
	return ratio, nil
}

// Convert applies ratio to amount with banker's rounding to whole tokens.
func Convert(amount int64, ratio decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(ratio).RoundBank(0).IntPart()
}

func Abs(value int64) int64 {
	if value < 0 {
		return -value
	}
	return value
}
