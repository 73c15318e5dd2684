// Package regime classifies the current market character from the latest
// IndicatorFrame using a deterministic rule table (spec §4.3). This
// replaces an HMM-based detector with plain threshold rules: the same
// inputs always produce the same label (spec §8 P8).
package regime

import (
	"math"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Thresholds holds the tunable cutoffs used by Classify. Defaults mirror
// spec §4.3 exactly.
type Thresholds struct {
	StrongADX       float64
	StrongReturn    float64
	WeakADXLow      float64
	WeakADXHigh     float64
	WeakReturnLow   float64
	WeakReturnHigh  float64
	RangingADX      float64
	TightBBWidth    float64
	WideBBWidth     float64
	VolatileATRMult float64
	ConsolidateADX  float64
	ReversalLookback int
}

// DefaultThresholds returns the spec-documented cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StrongADX:        30,
		StrongReturn:     0.01,
		WeakADXLow:       20,
		WeakADXHigh:      30,
		WeakReturnLow:    0.005,
		WeakReturnHigh:   0.01,
		RangingADX:       20,
		TightBBWidth:     0.01,
		WideBBWidth:      0.02,
		VolatileATRMult:  1.5,
		ConsolidateADX:   15,
		ReversalLookback: 5,
	}
}

// Classifier evaluates the rule table against a frame and recent closes.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier builds a classifier with the given thresholds.
func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{thresholds: t}
}

// Thresholds returns the cutoffs this classifier was built with, so
// callers that need the same volatility bar the classifier itself uses
// (e.g. a high-volatility flag for exit re-prioritisation) don't have to
// duplicate it.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Classify returns a single RegimeLabel from the latest indicator frame,
// the trailing closes used to compute return_20 and detect direction
// flips, and the average volume used for the volume-surge check. Ties
// are broken in the order the rules are listed in spec §4.3.
func (c *Classifier) Classify(frame types.IndicatorFrame, closes []float64, avgATR, currentATR float64, volume, avgVolume float64, recentHigh, recentLow, lastClose float64) types.RegimeLabel {
	t := c.thresholds

	adx, adxOK := frame.Get("adx")
	bbWidth, bbOK := frame.Get("bb_width")
	atr, atrOK := frame.Get("atr")

	ret20 := math.NaN()
	if len(closes) > 20 && closes[len(closes)-21] != 0 {
		ret20 = (closes[len(closes)-1] - closes[len(closes)-21]) / closes[len(closes)-21]
	}

	// Rule 1: STRONG trend.
	if adxOK && !math.IsNaN(ret20) && adx > t.StrongADX && math.Abs(ret20) > t.StrongReturn {
		if ret20 > 0 {
			return types.RegimeTrendingUpStrong
		}
		return types.RegimeTrendingDownStrong
	}

	// Rule 2: WEAK trend.
	if adxOK && !math.IsNaN(ret20) && adx >= t.WeakADXLow && adx <= t.WeakADXHigh &&
		math.Abs(ret20) >= t.WeakReturnLow && math.Abs(ret20) <= t.WeakReturnHigh {
		if ret20 > 0 {
			return types.RegimeTrendingUpWeak
		}
		return types.RegimeTrendingDownWeak
	}

	// Rule 3: RANGING tight/wide.
	if adxOK && bbOK && adx < t.RangingADX {
		if bbWidth < t.TightBBWidth {
			return types.RegimeRangingTight
		}
		if bbWidth < t.WideBBWidth {
			return types.RegimeRangingWide
		}
	}

	// Rule 4: VOLATILE_BREAKOUT — ATR spike + volume surge + range breakout.
	if atrOK && avgATR > 0 && currentATR/avgATR >= t.VolatileATRMult &&
		avgVolume > 0 && volume > avgVolume*1.5 &&
		(lastClose > recentHigh || lastClose < recentLow) {
		return types.RegimeVolatileBreakout
	}

	// Rule 5: VOLATILE_CONSOLIDATION — ATR high + narrow BB.
	if atrOK && avgATR > 0 && currentATR/avgATR >= t.VolatileATRMult && bbOK && bbWidth < t.TightBBWidth {
		return types.RegimeVolatileConsolidation
	}

	// Rule 6: CONSOLIDATING.
	if adxOK && bbOK && adx < t.ConsolidateADX && bbWidth < t.TightBBWidth {
		return types.RegimeConsolidating
	}

	// Rule 7: REVERSAL — direction flip within lookback (first step vs
	// last step); no momentum-divergence check is applied.
	if len(closes) > t.ReversalLookback+1 {
		recent := closes[len(closes)-t.ReversalLookback-1:]
		if directionFlip(recent) {
			return types.RegimeReversal
		}
	}

	_ = atr
	// Default fallback when no rule matched cleanly: treat as the widest
	// ranging bucket rather than an undefined label.
	return types.RegimeRangingWide
}

func directionFlip(closes []float64) bool {
	if len(closes) < 3 {
		return false
	}
	firstHalf := closes[1] - closes[0]
	lastHalf := closes[len(closes)-1] - closes[len(closes)-2]
	return (firstHalf > 0 && lastHalf < 0) || (firstHalf < 0 && lastHalf > 0)
}
