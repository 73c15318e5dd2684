package quality

import (
	"testing"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestGateClassifiesByScore(t *testing.T) {
	gate := NewGate(DefaultWeights(), types.DefaultEntryQualityConfig())

	high := gate.Evaluate(map[Evidence]float64{
		EvidenceTrendFlipAgreement: 1, EvidenceSRProximity: 1, EvidenceMomentumAlignment: 1,
		EvidenceSessionTiming: 1, EvidenceStructure: 1,
	})
	assert.Equal(t, types.EntryQualityPremium, high.Class)
	assert.True(t, gate.Admits(high))

	low := gate.Evaluate(map[Evidence]float64{
		EvidenceTrendFlipAgreement: 0, EvidenceSRProximity: 0, EvidenceMomentumAlignment: 0,
		EvidenceSessionTiming: 0, EvidenceStructure: 0,
	})
	assert.Equal(t, types.EntryQualityReject, low.Class)
	assert.False(t, gate.Admits(low))
}

func TestMarginalRespectsAllowMarginalConfig(t *testing.T) {
	cfg := types.DefaultEntryQualityConfig()
	cfg.AllowMarginal = false
	gate := NewGate(DefaultWeights(), cfg)

	marginal := gate.Evaluate(map[Evidence]float64{
		EvidenceTrendFlipAgreement: 0.5, EvidenceSRProximity: 0.5, EvidenceMomentumAlignment: 0.5,
		EvidenceSessionTiming: 0.5, EvidenceStructure: 0.5,
	})
	assert.Equal(t, types.EntryQualityMarginal, marginal.Class)
	assert.False(t, gate.Admits(marginal))

	cfg.AllowMarginal = true
	gate2 := NewGate(DefaultWeights(), cfg)
	assert.True(t, gate2.Admits(gate2.Evaluate(map[Evidence]float64{
		EvidenceTrendFlipAgreement: 0.5, EvidenceSRProximity: 0.5, EvidenceMomentumAlignment: 0.5,
		EvidenceSessionTiming: 0.5, EvidenceStructure: 0.5,
	})))
}
