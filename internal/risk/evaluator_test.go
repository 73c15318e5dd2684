package risk

import (
	"testing"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurvivalStateRejectsLowConfidence(t *testing.T) {
	cfg := types.DefaultRiskConfig()
	eval := NewEvaluator(cfg, types.RiskState{AccountBalance: decimal.NewFromInt(4900), Equity: decimal.NewFromInt(4900), PeakEquity: decimal.NewFromInt(10000)})

	sig := types.Signal{
		EntryPrice: decimal.NewFromFloat(1.1000),
		StopLoss:   decimal.NewFromFloat(1.0990),
		TakeProfit: decimal.NewFromFloat(1.1100),
		Confidence: decimal.NewFromFloat(0.80),
	}

	require.Equal(t, types.DrawdownSurvival, eval.State().DrawdownState, "51%% drawdown must trigger SURVIVAL")

	decision := eval.Evaluate(sig, decimal.Zero, 0, 5, true)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "confidence below SURVIVAL threshold", decision.RejectReason)
}

func TestSurvivalStateMultiplierIsAtMostPointZeroFive(t *testing.T) {
	cfg := types.DefaultRiskConfig()
	eval := NewEvaluator(cfg, types.RiskState{AccountBalance: decimal.NewFromInt(4900), Equity: decimal.NewFromInt(4900), PeakEquity: decimal.NewFromInt(10000)})
	mult, _ := eval.DrawdownMultiplier().Float64()
	assert.LessOrEqual(t, mult, 0.05)
}

func TestEffectiveRiskInterpolatesBetweenBreakpoints(t *testing.T) {
	cfg := types.DefaultRiskConfig()
	eval := NewEvaluator(cfg, types.RiskState{AccountBalance: decimal.NewFromInt(550), Equity: decimal.NewFromInt(550), PeakEquity: decimal.NewFromInt(550)})
	r := eval.EffectiveRisk()
	// Between the $100->3% and $1000->2% breakpoints, interpolated value
	// should land strictly between the two anchors.
	f, _ := r.Float64()
	assert.Greater(t, f, 0.02)
	assert.Less(t, f, 0.03)
}

func TestDailyLossLimitRejects(t *testing.T) {
	cfg := types.DefaultRiskConfig()
	eval := NewEvaluator(cfg, types.RiskState{AccountBalance: decimal.NewFromInt(10000), Equity: decimal.NewFromInt(10000), PeakEquity: decimal.NewFromInt(10000)})
	sig := types.Signal{EntryPrice: decimal.NewFromFloat(1.1), StopLoss: decimal.NewFromFloat(1.09), TakeProfit: decimal.NewFromFloat(1.12), Confidence: decimal.NewFromFloat(0.9)}
	decision := eval.Evaluate(sig, decimal.NewFromFloat(0.06), 0, 5, true)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "daily loss limit reached", decision.RejectReason)
}
