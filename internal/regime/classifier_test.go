package regime

import (
	"testing"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/stretchr/testify/assert"
)

func frameWith(adx, bbWidth float64) types.IndicatorFrame {
	return types.IndicatorFrame{Values: map[string]float64{"adx": adx, "bb_width": bbWidth, "atr": 0.001}}
}

func risingCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	v := start
	for i := range out {
		out[i] = v
		v += step
	}
	return out
}

func TestClassifyStrongUptrend(t *testing.T) {
	c := NewClassifier(DefaultThresholds())
	closes := risingCloses(25, 1.0, 0.002) // ~4% run over 20 bars
	label := c.Classify(frameWith(35, 0.03), closes, 0.001, 0.001, 100, 100, 1.2, 0.9, closes[len(closes)-1])
	assert.Equal(t, types.RegimeTrendingUpStrong, label)
}

func TestClassifyRangingTight(t *testing.T) {
	c := NewClassifier(DefaultThresholds())
	closes := risingCloses(25, 1.1, 0.0)
	label := c.Classify(frameWith(10, 0.005), closes, 0.001, 0.001, 100, 100, 1.1, 1.09, 1.1)
	assert.Equal(t, types.RegimeRangingTight, label)
}

func TestClassifyDeterministic(t *testing.T) {
	c := NewClassifier(DefaultThresholds())
	closes := risingCloses(25, 1.1, 0.0003)
	frame := frameWith(25, 0.008)
	a := c.Classify(frame, closes, 0.001, 0.001, 100, 100, 1.2, 1.09, closes[len(closes)-1])
	b := c.Classify(frame, closes, 0.001, 0.001, 100, 100, 1.2, 1.09, closes[len(closes)-1])
	assert.Equal(t, a, b, "identical inputs must yield identical labels (P8)")
}
