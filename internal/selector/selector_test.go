package selector

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/internal/strategy"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestColdStartUsesNeutralPerformance(t *testing.T) {
	reg := strategy.NewRegistry(zap.NewNop())
	sel := NewSelector(reg, DefaultAffinity(), Weights{Performance: 0.5, Regime: 0.3, Confidence: 0.2}, 3, 20, 180*time.Second)
	sel.SetRegime(types.RegimeTrendingUpStrong, time.Now())

	ranked := sel.Rank(map[string]*types.StrategyStats{})
	require.NotEmpty(t, ranked)
	// Trend-aligned strategies should outrank mean-reversion in a strong uptrend.
	pos := make(map[string]int)
	for i, n := range ranked {
		pos[n] = i
	}
	assert.Less(t, pos["trend_following"], pos["mean_reversion"])
}

func TestSelectSignalFallsThroughChain(t *testing.T) {
	reg := strategy.NewRegistry(zap.NewNop())
	sel := NewSelector(reg, DefaultAffinity(), Weights{Performance: 0.5, Regime: 0.3, Confidence: 0.2}, 6, 20, 180*time.Second)
	sel.SetRegime(types.RegimeRangingTight, time.Now())

	bar := types.Bar{Timestamp: time.Now(), Symbol: "EURUSD", Close: decimal.NewFromFloat(1.1)}
	frame := types.IndicatorFrame{Values: map[string]float64{"rsi": 25, "atr": 0.001, "adx": 10, "ema": 1.1, "sma": 1.1, "bb_mid": 1.1, "bb_width": 0.002}}

	sig, name, err := sel.SelectSignal(bar, frame, nil, map[string]*types.StrategyStats{})
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.NotEmpty(t, name)
}
