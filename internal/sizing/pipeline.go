// Package sizing turns a RiskEvaluator decision and an EntryQuality
// classification into a final, lot-stepped position size (spec §4.7).
package sizing

import (
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
)

// CognitionScorer is an optional external multiplier source in [0.5,
// 1.5] — e.g. a sentiment or ML confidence scorer. Nil means "not
// configured", in which case the pipeline skips that stage entirely.
type CognitionScorer func(signal types.Signal) (decimal.Decimal, bool)

// Pipeline composes sizing adjustments in the fixed order required by
// spec §4.7: entry_quality, loss_curve, cognition (optional), performance_streak.
type Pipeline struct {
	cfg      types.RiskConfig
	cognition CognitionScorer
}

// NewPipeline builds a pipeline. cognition may be nil.
func NewPipeline(cfg types.RiskConfig, cognition CognitionScorer) *Pipeline {
	return &Pipeline{cfg: cfg, cognition: cognition}
}

// minTickK guards against near-zero stop distances (spec §4.7:
// "reject if d < min_tick × k").
const minTickK = 2.0

// Decide computes the PositionSizeDecision for an admitted signal, given
// the risk evaluator's decision, the entry quality multiplier, equity,
// pip value, and the symbol's lot constraints.
func (p *Pipeline) Decide(signal types.Signal, riskDecision risk.Decision, quality types.EntryQuality, equity decimal.Decimal, pipValue decimal.Decimal, minTick decimal.Decimal, spec types.SymbolSpec) types.PositionSizeDecision {
	if !riskDecision.Allowed {
		return types.PositionSizeDecision{Rejected: true, RejectReason: riskDecision.RejectReason}
	}

	d := signal.EntryPrice.Sub(signal.StopLoss).Abs()
	if d.LessThan(minTick.Mul(decimal.NewFromFloat(minTickK))) {
		return types.PositionSizeDecision{Rejected: true, RejectReason: "stop distance below minimum tick multiple"}
	}

	baseSize := riskDecision.EffectiveRisk.Mul(equity).Div(d.Mul(pipValue))
	if baseSize.GreaterThan(p.cfg.MaxPositionSize) {
		baseSize = p.cfg.MaxPositionSize
	}

	decision := types.PositionSizeDecision{BaseSize: baseSize}
	running := baseSize

	apply := func(reason string, multiplier decimal.Decimal) {
		decision.Adjustments = append(decision.Adjustments, types.SizeAdjustment{Reason: reason, Multiplier: multiplier})
		running = running.Mul(multiplier)
	}

	apply("entry_quality", quality.SizeMultiplier)
	apply("loss_curve", riskDecision.DrawdownMult)

	if p.cognition != nil {
		if mult, ok := p.cognition(signal); ok {
			clamped := clampDecimal(mult, decimal.NewFromFloat(0.5), decimal.NewFromFloat(1.5))
			apply("cognition", clamped)
		}
	}

	apply("performance_streak", riskDecision.StreakMult)

	finalSize := roundDownToStep(running, spec.LotStep)
	decision.FinalSize = finalSize
	decision.Reasoning = "base size scaled by entry_quality, loss_curve, cognition (if configured), and performance_streak, then rounded down to lot_step"

	if finalSize.LessThan(spec.LotMin) {
		decision.Rejected = true
		decision.RejectReason = "below lot_min"
		return decision
	}
	if finalSize.GreaterThan(p.cfg.MaxPositionSize) {
		finalSize = p.cfg.MaxPositionSize
		decision.FinalSize = finalSize
	}
	return decision
}

func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

func roundDownToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	units := v.Div(step).Floor()
	return units.Mul(step)
}
