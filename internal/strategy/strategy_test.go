package strategy

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistryContainsCanonicalStrategies(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	for _, name := range []string{
		"sma_crossover", "ema_crossover", "rsi_reversal",
		"momentum_breakout", "scalping", "mean_reversion", "trend_following",
	} {
		_, ok := r.Get(name)
		assert.True(t, ok, "missing strategy %s", name)
	}
}

func TestRSIReversalSignalsOnExtremum(t *testing.T) {
	s := NewRSIReversal(zap.NewNop())
	bar := types.Bar{Timestamp: time.Now(), Symbol: "EURUSD", Close: decimal.NewFromFloat(1.1)}
	frame := types.IndicatorFrame{Values: map[string]float64{"rsi": 25, "atr": 0.001}}

	sig, err := s.OnBar(bar, frame, nil)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, types.OrderSideLong, sig.Side)
	assert.Equal(t, "rsi_reversal", sig.StrategyName)
}

func TestRSIReversalNoSignalInNeutralZone(t *testing.T) {
	s := NewRSIReversal(zap.NewNop())
	bar := types.Bar{Timestamp: time.Now(), Symbol: "EURUSD", Close: decimal.NewFromFloat(1.1)}
	frame := types.IndicatorFrame{Values: map[string]float64{"rsi": 50, "atr": 0.001}}

	sig, err := s.OnBar(bar, frame, nil)
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestTrendFollowingRequiresADXFloor(t *testing.T) {
	s := NewTrendFollowing(zap.NewNop())
	bar := types.Bar{Timestamp: time.Now(), Close: decimal.NewFromFloat(1.1)}
	frame := types.IndicatorFrame{Values: map[string]float64{"adx": 10, "ema": 1.05, "atr": 0.001}}

	sig, err := s.OnBar(bar, frame, nil)
	require.NoError(t, err)
	assert.Nil(t, sig, "ADX below floor must suppress trend-following entries")
}
