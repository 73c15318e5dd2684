package sizing

import (
	"testing"

	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioS1LongScalpNormalDrawdown reproduces spec scenario S1.
func TestScenarioS1LongScalpNormalDrawdown(t *testing.T) {
	cfg := types.DefaultRiskConfig()
	pipeline := NewPipeline(cfg, nil)

	signal := types.Signal{
		EntryPrice: decimal.NewFromFloat(1.1000),
		StopLoss:   decimal.NewFromFloat(1.0984),
		Confidence: decimal.NewFromFloat(0.9),
	}
	riskDecision := risk.Decision{
		Allowed:       true,
		EffectiveRisk: decimal.NewFromFloat(0.02),
		DrawdownMult:  decimal.NewFromFloat(1.0),
		StreakMult:    decimal.NewFromFloat(1.0),
	}
	quality := types.EntryQuality{Class: types.EntryQualityGood, SizeMultiplier: decimal.NewFromFloat(0.85)}
	spec := types.SymbolSpec{LotStep: decimal.NewFromFloat(0.01), LotMin: decimal.NewFromFloat(0.01)}

	decision := pipeline.Decide(signal, riskDecision, quality, decimal.NewFromInt(10000), decimal.NewFromInt(10), decimal.NewFromFloat(0.0001), spec)

	require.False(t, decision.Rejected)
	baseSize, _ := decision.BaseSize.Float64()
	assert.InDelta(t, 1.0, baseSize, 1e-9, "base size should be capped at max_position_size=1.0")

	final, _ := decision.FinalSize.Float64()
	assert.InDelta(t, 0.85, final, 1e-9)
}

func TestBelowLotMinIsRejected(t *testing.T) {
	cfg := types.DefaultRiskConfig()
	pipeline := NewPipeline(cfg, nil)

	signal := types.Signal{EntryPrice: decimal.NewFromFloat(1.1), StopLoss: decimal.NewFromFloat(1.0984), Confidence: decimal.NewFromFloat(0.9)}
	riskDecision := risk.Decision{Allowed: true, EffectiveRisk: decimal.NewFromFloat(0.0001), DrawdownMult: decimal.NewFromFloat(1), StreakMult: decimal.NewFromFloat(1)}
	quality := types.EntryQuality{SizeMultiplier: decimal.NewFromFloat(0.85)}
	spec := types.SymbolSpec{LotStep: decimal.NewFromFloat(0.01), LotMin: decimal.NewFromFloat(0.01)}

	decision := pipeline.Decide(signal, riskDecision, quality, decimal.NewFromInt(1), decimal.NewFromInt(10), decimal.NewFromFloat(0.0001), spec)
	assert.True(t, decision.Rejected)
	assert.Equal(t, "below lot_min", decision.RejectReason)
}

func TestStopDistanceBelowMinTickRejected(t *testing.T) {
	cfg := types.DefaultRiskConfig()
	pipeline := NewPipeline(cfg, nil)

	signal := types.Signal{EntryPrice: decimal.NewFromFloat(1.1000), StopLoss: decimal.NewFromFloat(1.09999)}
	riskDecision := risk.Decision{Allowed: true, EffectiveRisk: decimal.NewFromFloat(0.02), DrawdownMult: decimal.NewFromFloat(1), StreakMult: decimal.NewFromFloat(1)}
	spec := types.SymbolSpec{LotStep: decimal.NewFromFloat(0.01), LotMin: decimal.NewFromFloat(0.01)}

	decision := pipeline.Decide(signal, riskDecision, types.EntryQuality{SizeMultiplier: decimal.NewFromFloat(1)}, decimal.NewFromInt(10000), decimal.NewFromInt(10), decimal.NewFromFloat(0.0001), spec)
	assert.True(t, decision.Rejected)
}
