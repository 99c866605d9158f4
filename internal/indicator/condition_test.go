package indicator

import (
	"testing"

	"autotrader-simv1/internal/model"
)

func priceCond(op model.Operator, threshold float64, logic model.Logic) model.Condition {
	return model.Condition{Indicator: model.IndicatorPrice, Operator: op, Threshold: threshold, Logic: logic}
}

func TestEvaluate_EmptyNeverTriggers(t *testing.T) {
	if Evaluate(nil, candle(100), nil) {
		t.Fatal("empty condition list must evaluate to false")
	}
}

func TestEvaluate_LeftFoldNoPrecedence(t *testing.T) {
	cur := candle(100)
	// true OR false AND false
	// left fold: (true || false) && false = false
	// precedence-aware would give true || (false && false) = true
	conds := []model.Condition{
		priceCond(model.OpGreater, 50, ""),
		priceCond(model.OpLess, 50, model.LogicOr),
		priceCond(model.OpLess, 50, model.LogicAnd),
	}
	if Evaluate(conds, cur, nil) {
		t.Fatal("expected strict left fold to yield false")
	}

	// false AND true OR true → (false && true) || true = true
	conds = []model.Condition{
		priceCond(model.OpLess, 50, ""),
		priceCond(model.OpGreater, 50, model.LogicAnd),
		priceCond(model.OpGreater, 50, model.LogicOr),
	}
	if !Evaluate(conds, cur, nil) {
		t.Fatal("expected strict left fold to yield true")
	}
}

func TestEvaluate_FirstLogicIgnored(t *testing.T) {
	conds := []model.Condition{priceCond(model.OpGreater, 50, model.LogicOr)}
	if !Evaluate(conds, candle(100), nil) {
		t.Fatal("single true condition should trigger regardless of its logic tag")
	}
}

func TestCompare_Operators(t *testing.T) {
	cases := []struct {
		op   model.Operator
		v    float64
		th   float64
		want bool
	}{
		{model.OpGreater, 101, 100, true},
		{model.OpGreater, 100, 100, false},
		{model.OpLess, 99, 100, true},
		{model.OpGreaterEqual, 100, 100, true},
		{model.OpLessEqual, 100, 100, true},
		{model.OpEquals, 100.01, 100, true},
		{model.OpEquals, 99.99, 100, true},
		{model.OpEquals, 100.02, 100, false},
		{model.OpCrossAbove, 101, 100, true},
		{model.OpCrossAbove, 99, 100, false},
		{model.OpCrossBelow, 99, 100, true},
		{model.Operator("??"), 1, 0, false},
	}
	for _, tc := range cases {
		if got := Compare(tc.op, tc.v, tc.th); got != tc.want {
			t.Errorf("%v %s %v: got %v, want %v", tc.v, tc.op, tc.th, got, tc.want)
		}
	}
}

func TestCheck_CrossAboveIsLevelComparison(t *testing.T) {
	// Price has been above the threshold for the whole window: a true
	// crossing detector would say false, the level comparison says true.
	window, cur := series(120, 121, 122, 123)
	cond := model.Condition{Indicator: model.IndicatorPrice, Operator: model.OpCrossAbove, Threshold: 100}
	if !Check(cond, cur, window) {
		t.Fatal("CROSSES_ABOVE should compare the latest level only")
	}
}

func TestCheck_Volume(t *testing.T) {
	cur := candle(100)
	cur.Volume = 5000
	cond := model.Condition{Indicator: model.IndicatorVolume, Operator: model.OpGreaterEqual, Threshold: 5000}
	if !Check(cond, cur, nil) {
		t.Fatal("volume condition should pass")
	}
}

func TestCheck_RSIWithoutHistoryIsNeutral(t *testing.T) {
	cond := model.Condition{Indicator: model.IndicatorRSI, Operator: model.OpEquals, Threshold: 50, Period: 14}
	window, cur := series(100, 101, 102)
	if !Check(cond, cur, window) {
		t.Fatal("RSI should be neutral 50 without enough history")
	}
}
