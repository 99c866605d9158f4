package indicator

import (
	"math"

	"autotrader-simv1/internal/model"
)

// EqualsTolerance is the absolute tolerance used by the == operator.
const EqualsTolerance = 0.01

// Evaluate folds conditions left to right against the current observation
// and its trailing window:
//
//	result = cond[0]; result = result OR/AND cond[i] ...
//
// The first condition's logic tag is ignored and there is no operator
// precedence. An empty list never triggers.
func Evaluate(conds []model.Condition, current model.Candle, window []model.Candle) bool {
	if len(conds) == 0 {
		return false
	}
	result := Check(conds[0], current, window)
	for _, c := range conds[1:] {
		ok := Check(c, current, window)
		if c.Logic == model.LogicOr {
			result = result || ok
		} else {
			result = result && ok
		}
	}
	return result
}

// Check evaluates a single condition.
func Check(cond model.Condition, current model.Candle, window []model.Candle) bool {
	return Compare(cond.Operator, Value(cond, current, window), cond.Threshold)
}

// Compare applies op to v and threshold.
//
// CROSSES_ABOVE and CROSSES_BELOW are level comparisons on the latest value,
// not two-sample crossing detection. Strategies are tuned against this
// behaviour, so it is kept as is.
func Compare(op model.Operator, v, threshold float64) bool {
	switch op {
	case model.OpGreater, model.OpCrossAbove:
		return v > threshold
	case model.OpLess, model.OpCrossBelow:
		return v < threshold
	case model.OpGreaterEqual:
		return v >= threshold
	case model.OpLessEqual:
		return v <= threshold
	case model.OpEquals:
		return math.Abs(v-threshold) <= EqualsTolerance+1e-9
	}
	return false
}
