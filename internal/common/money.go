package common

import "github.com/shopspring/decimal"

// PricePrecision is the number of decimal places all monetary values are
// rounded to at the point of computation, not just at output, so later
// arithmetic (tree aggregation) stays consistent.
const PricePrecision = 2

// RoundMoney rounds using banker's rounding (round-half-to-even) at the
// configured price precision.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(PricePrecision)
}

// RoundTo rounds half-to-even at an explicit precision.
func RoundTo(d decimal.Decimal, precision int32) decimal.Decimal {
	return d.RoundBank(precision)
}

// MoneyFromFloat builds a rounded decimal from a float input, for values
// arriving through JSON payloads.
func MoneyFromFloat(v float64) decimal.Decimal {
	return RoundMoney(decimal.NewFromFloat(v))
}
