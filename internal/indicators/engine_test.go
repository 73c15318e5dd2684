package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeBars(n int, start float64, step float64) []types.Bar {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, n)
	price := start
	for i := 0; i < n; i++ {
		d := decimal.NewFromFloat(price)
		bars[i] = types.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Symbol:    "EURUSD",
			Timeframe: types.Timeframe1m,
			Open:      d, High: d.Add(decimal.NewFromFloat(0.0005)), Low: d.Sub(decimal.NewFromFloat(0.0005)), Close: d,
		}
		price += step
	}
	return bars
}

func TestEvaluateProducesNaNOnInsufficientHistory(t *testing.T) {
	defs := StandardSet(Lengths{EMA: 20, SMA: 20, RSI: 14, ATR: 14, BB: 20, ADX: 14, ATRAvg: 20, VolumeAvg: 20, RangeLookback: 20, MACDFast: 12, MACDSlow: 26, MACDSignal: 9})
	eng, err := NewEngine(defs)
	require.NoError(t, err)

	frame := eng.Evaluate(makeBars(5, 1.1, 0.0001))
	_, ok := frame.Get("ema")
	assert.False(t, ok, "EMA with only 5 bars and period 20 should be NaN/absent")
}

func TestEvaluateComputesIndicatorsWithEnoughHistory(t *testing.T) {
	defs := StandardSet(Lengths{EMA: 5, SMA: 5, RSI: 5, ATR: 5, BB: 5, ADX: 5, ATRAvg: 5, VolumeAvg: 5, RangeLookback: 5, MACDFast: 12, MACDSlow: 26, MACDSignal: 9})
	eng, err := NewEngine(defs)
	require.NoError(t, err)

	frame := eng.Evaluate(makeBars(60, 1.1, 0.0002))
	ema, ok := frame.Get("ema")
	require.True(t, ok)
	assert.False(t, math.IsNaN(ema))

	width, ok := frame.Get("bb_width")
	require.True(t, ok)
	assert.GreaterOrEqual(t, width, 0.0)
}

func TestTopoSortDetectsCycle(t *testing.T) {
	defs := []Definition{
		{Key: "a", Inputs: []string{"b"}, Compute: func([]types.Bar, map[string]float64) float64 { return 0 }},
		{Key: "b", Inputs: []string{"a"}, Compute: func([]types.Bar, map[string]float64) float64 { return 0 }},
	}
	_, err := NewEngine(defs)
	assert.Error(t, err)
}
