// Package quality scores a Signal's entry confluence and classifies it
// (spec §4.6), generalizing the teacher's weighted multi-source consensus
// pattern to a single-signal evidence vector.
package quality

import (
	"math"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
)

// Evidence is one independent piece of supporting information for a
// signal, each normalized to [0, 1] before weighting.
type Evidence string

const (
	EvidenceTrendFlipAgreement  Evidence = "trend_flip_agreement"
	EvidenceSRProximity         Evidence = "support_resistance_proximity"
	EvidenceMomentumAlignment   Evidence = "momentum_alignment"
	EvidenceSessionTiming       Evidence = "session_timing"
	EvidenceStructure           Evidence = "structure"
)

// Weights assigns each evidence its contribution to the confluence score.
// Weights should sum to 1, but the gate normalizes regardless.
type Weights map[Evidence]float64

// DefaultWeights spreads weight across all five evidences.
func DefaultWeights() Weights {
	return Weights{
		EvidenceTrendFlipAgreement: 0.25,
		EvidenceSRProximity:        0.25,
		EvidenceMomentumAlignment:  0.2,
		EvidenceSessionTiming:      0.15,
		EvidenceStructure:          0.15,
	}
}

// Gate classifies signals by confluence score against the configured
// thresholds.
type Gate struct {
	weights Weights
	cfg     types.EntryQualityConfig
}

// NewGate builds a gate with the given evidence weights and thresholds.
func NewGate(weights Weights, cfg types.EntryQualityConfig) *Gate {
	return &Gate{weights: weights, cfg: cfg}
}

// Evaluate computes S = Σ w_i · norm(e_i) over the supplied evidence map
// (each value already normalized to [0,1]) and classifies the result.
func (g *Gate) Evaluate(evidence map[Evidence]float64) types.EntryQuality {
	var sum, weightSum float64
	record := make(map[string]float64, len(evidence))
	for ev, w := range g.weights {
		val := clamp01(evidence[ev])
		sum += w * val
		weightSum += w
		record[string(ev)] = val
	}
	score := 0.0
	if weightSum > 0 {
		score = sum / weightSum
	}

	class, multiplier := g.classify(score)
	return types.EntryQuality{
		Class:          class,
		Score:          score,
		SizeMultiplier: decimal.NewFromFloat(multiplier),
		Evidence:       record,
	}
}

func (g *Gate) classify(score float64) (types.EntryQualityClass, float64) {
	switch {
	case score >= g.cfg.PremiumThreshold:
		return types.EntryQualityPremium, 1.0
	case score >= g.cfg.GoodThreshold:
		return types.EntryQualityGood, 0.85
	case score >= g.cfg.RejectThreshold:
		return types.EntryQualityMarginal, 0.0
	default:
		return types.EntryQualityReject, 0.0
	}
}

// Admits reports whether a classified quality should proceed to sizing:
// REJECT never does; MARGINAL only if allow_marginal is configured; GOOD
// and PREMIUM always do.
func (g *Gate) Admits(q types.EntryQuality) bool {
	switch q.Class {
	case types.EntryQualityReject:
		return false
	case types.EntryQualityMarginal:
		return g.cfg.AllowMarginal
	default:
		return true
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
