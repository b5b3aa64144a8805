package domain

import "github.com/shopspring/decimal"

// Money helpers. Amounts are fixed-point decimals with 2 places; documents
// additionally persist minor-unit int64 mirrors so Firestore can filter and
// aggregate numerically.

// RoundMoney normalises an amount to 2 decimal places (half-up).
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MoneyString renders an amount as a fixed-point string with 2 decimals.
func MoneyString(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// MinorUnits converts an amount to integer minor units (cents).
func MinorUnits(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

// FromMinorUnits converts integer minor units back to a decimal amount.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Shift(-2)
}

// ParseMoney parses a decimal string, normalised to 2 places.
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Round(2), nil
}
