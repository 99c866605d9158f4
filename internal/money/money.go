// Package money centralizes currency arithmetic for the ledgers.
//
// Every monetary value that leaves this package has been rounded to cents
// (two decimal places). Intermediate arithmetic is carried out in
// shopspring/decimal so repeated add/subtract cycles do not accumulate
// binary floating-point drift.
package money

import "github.com/shopspring/decimal"

// Places is the fixed precision for all monetary values.
const Places = 2

// Round rounds v to cents (half away from zero).
func Round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(Places).InexactFloat64()
}

// Add returns a+b rounded to cents.
func Add(a, b float64) float64 {
	return decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Round(Places).InexactFloat64()
}

// Sub returns a-b rounded to cents.
func Sub(a, b float64) float64 {
	return decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Round(Places).InexactFloat64()
}

// Notional returns price*qty rounded to cents.
func Notional(price float64, qty int64) float64 {
	return decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty)).Round(Places).InexactFloat64()
}

// Margin returns the capital blocked for qty units at price given a margin
// rate (0.2 = 20% of notional, i.e. 5x leverage).
func Margin(price float64, qty int64, rate float64) float64 {
	return decimal.NewFromFloat(price).
		Mul(decimal.NewFromInt(qty)).
		Mul(decimal.NewFromFloat(rate)).
		Round(Places).InexactFloat64()
}

// PnL returns direction*(exit-entry)*qty rounded to cents. direction is +1
// for long exposure and -1 for short exposure.
func PnL(direction int, entry, exit float64, qty int64) float64 {
	diff := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	return diff.Mul(decimal.NewFromInt(int64(direction))).
		Mul(decimal.NewFromInt(qty)).
		Round(Places).InexactFloat64()
}

// Prorate returns amount*part/whole rounded to cents. whole must be > 0.
func Prorate(amount float64, part, whole int64) float64 {
	if whole <= 0 || part >= whole {
		return Round(amount)
	}
	return decimal.NewFromFloat(amount).
		Mul(decimal.NewFromInt(part)).
		Div(decimal.NewFromInt(whole)).
		Round(Places).InexactFloat64()
}

// WeightedAverage returns the quantity-weighted average of two fills,
// rounded to cents.
func WeightedAverage(p1 float64, q1 int64, p2 float64, q2 int64) float64 {
	total := q1 + q2
	if total == 0 {
		return 0
	}
	sum := decimal.NewFromFloat(p1).Mul(decimal.NewFromInt(q1)).
		Add(decimal.NewFromFloat(p2).Mul(decimal.NewFromInt(q2)))
	return sum.Div(decimal.NewFromInt(total)).Round(Places).InexactFloat64()
}

// Percent returns part/whole*100 (unrounded). Returns 0 when whole is 0.
func Percent(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return decimal.NewFromFloat(part).Div(decimal.NewFromFloat(whole)).
		Mul(decimal.NewFromInt(100)).InexactFloat64()
}
