// Package risk evaluates whether a candidate signal is allowed to trade
// and derives the risk fraction and state multipliers the sizing
// pipeline composes (spec §4.7).
package risk

import (
	"sort"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
)

// Decision is the RiskEvaluator's verdict for a single candidate signal.
type Decision struct {
	Allowed          bool
	RejectReason     string
	EffectiveRisk    decimal.Decimal // r_effective(balance), before drawdown/streak multipliers
	DrawdownMult     decimal.Decimal
	StreakMult       decimal.Decimal
	MaxPositions     int
	MinConfidence    decimal.Decimal
}

// drawdownMultipliers is the discrete size_multiplier table (spec §4.7).
var drawdownMultipliers = map[types.DrawdownState]float64{
	types.DrawdownNormal:   1.0,
	types.DrawdownCaution:  0.75,
	types.DrawdownWarning:  0.5,
	types.DrawdownDanger:   0.25,
	types.DrawdownCritical: 0.1,
	types.DrawdownSurvival: 0.05,
	types.DrawdownRecovery: 0.6,
}

// Evaluator holds risk configuration and the account's current risk
// state. The orchestrator owns the single instance and feeds it fresh
// account snapshots each tick.
type Evaluator struct {
	cfg   types.RiskConfig
	state types.RiskState
}

// NewEvaluator builds an evaluator seeded with an initial account state.
func NewEvaluator(cfg types.RiskConfig, initial types.RiskState) *Evaluator {
	e := &Evaluator{cfg: cfg, state: initial}
	e.recomputeDrawdownState()
	return e
}

// UpdateAccount refreshes balance/equity and recomputes drawdown state
// and peak tracking. Called once per tick before any signal evaluation.
func (e *Evaluator) UpdateAccount(balance, equity decimal.Decimal) {
	e.state.AccountBalance = balance
	e.state.Equity = equity
	if equity.GreaterThan(e.state.PeakEquity) {
		e.state.PeakEquity = equity
	}
	e.recomputeDrawdownState()
}

func (e *Evaluator) recomputeDrawdownState() {
	if e.state.PeakEquity.IsZero() {
		e.state.PeakEquity = e.state.Equity
	}
	if e.state.PeakEquity.IsZero() {
		e.state.DrawdownPct = decimal.Zero
		e.state.DrawdownState = types.DrawdownNormal
		return
	}
	dd := e.state.PeakEquity.Sub(e.state.Equity).Div(e.state.PeakEquity)
	if dd.IsNegative() {
		dd = decimal.Zero
	}
	e.state.DrawdownPct = dd

	ddf, _ := dd.Float64()
	switch {
	case ddf >= 0.50:
		e.state.DrawdownState = types.DrawdownSurvival
	case ddf >= 0.40:
		e.state.DrawdownState = types.DrawdownCritical
	case ddf >= 0.30:
		e.state.DrawdownState = types.DrawdownDanger
	case ddf >= 0.20:
		e.state.DrawdownState = types.DrawdownWarning
	case ddf >= 0.10:
		e.state.DrawdownState = types.DrawdownCaution
	default:
		e.state.DrawdownState = types.DrawdownNormal
	}
	// Recovery overrides a non-NORMAL bucket below RecoveryDrawdownPct once
	// the account has at least two consecutive wins. Whether the drawdown
	// earlier exceeded RecoveryDrawdownPct is not tracked.
	if e.cfg.RecoveryDrawdownPct.IsPositive() && ddf < e.cfg.RecoveryDrawdownPct.InexactFloat64() && e.state.ConsecutiveWins >= 2 && e.state.DrawdownState != types.DrawdownNormal {
		e.state.DrawdownState = types.DrawdownRecovery
	}
}

// RecordTradeOutcome updates the consecutive win/loss streak after a
// closed trade.
func (e *Evaluator) RecordTradeOutcome(win bool) {
	if win {
		e.state.ConsecutiveWins++
		e.state.ConsecutiveLosses = 0
	} else {
		e.state.ConsecutiveLosses++
		e.state.ConsecutiveWins = 0
	}
}

// State returns a copy of the current risk state (for /health and logs).
func (e *Evaluator) State() types.RiskState { return e.state }

// EffectiveRisk interpolates the adaptive loss curve across the
// configured balance breakpoints (spec §4.7) and returns only that
// balance-tiered r. No recovery-mode 50% reduction is applied here or
// elsewhere; the RECOVERY drawdown state only carries its own discrete
// multiplier in the drawdown table.
func (e *Evaluator) EffectiveRisk() decimal.Decimal {
	breakpoints := append([]types.BalanceRiskBreakpoint(nil), e.cfg.SLBalanceBreakpoints...)
	sort.Slice(breakpoints, func(i, j int) bool { return breakpoints[i].Balance.LessThan(breakpoints[j].Balance) })
	if len(breakpoints) == 0 {
		return e.cfg.FractionalRisk
	}

	balance := e.state.AccountBalance
	if balance.LessThanOrEqual(breakpoints[0].Balance) {
		return breakpoints[0].Risk
	}
	last := breakpoints[len(breakpoints)-1]
	if balance.GreaterThanOrEqual(last.Balance) {
		return last.Risk
	}
	for i := 0; i < len(breakpoints)-1; i++ {
		lo, hi := breakpoints[i], breakpoints[i+1]
		if balance.GreaterThanOrEqual(lo.Balance) && balance.LessThanOrEqual(hi.Balance) {
			span := hi.Balance.Sub(lo.Balance)
			if span.IsZero() {
				return lo.Risk
			}
			frac := balance.Sub(lo.Balance).Div(span)
			return lo.Risk.Add(hi.Risk.Sub(lo.Risk).Mul(frac))
		}
	}
	return e.cfg.FractionalRisk
}

// StreakMultiplier applies the streak adjustment table (spec §4.7).
func (e *Evaluator) StreakMultiplier() decimal.Decimal {
	switch {
	case e.state.ConsecutiveLosses >= 4:
		return decimal.NewFromFloat(0.6) // -40%
	case e.state.ConsecutiveLosses >= 3:
		return decimal.NewFromFloat(0.8) // -20%
	case e.state.ConsecutiveWins >= 4:
		return decimal.NewFromFloat(1.2) // +20%
	default:
		return decimal.NewFromFloat(1.0)
	}
}

// DrawdownMultiplier returns the discrete size_multiplier for the
// current drawdown state.
func (e *Evaluator) DrawdownMultiplier() decimal.Decimal {
	return decimal.NewFromFloat(drawdownMultipliers[e.state.DrawdownState])
}

// Evaluate applies the hard-rejection table (spec §4.7) for a candidate
// signal and, if allowed, returns the multipliers SizingPipeline should
// compose.
func (e *Evaluator) Evaluate(signal types.Signal, dailyLossPct decimal.Decimal, openPositions, maxPositions int, symbolTradable bool) Decision {
	d := Decision{
		EffectiveRisk: e.EffectiveRisk(),
		DrawdownMult:  e.DrawdownMultiplier(),
		StreakMult:    e.StreakMultiplier(),
		MaxPositions:  maxPositions,
		MinConfidence: decimal.Zero,
	}

	if dailyLossPct.GreaterThanOrEqual(e.cfg.MaxDailyLoss) {
		d.RejectReason = "daily loss limit reached"
		return d
	}
	if e.state.DrawdownPct.GreaterThanOrEqual(e.cfg.DrawdownHaltPercent) {
		d.RejectReason = "drawdown halt threshold reached"
		return d
	}
	if e.state.DrawdownState == types.DrawdownSurvival || e.state.DrawdownState == types.DrawdownCritical {
		d.MinConfidence = e.cfg.SurvivalConfidenceMin
		if signal.Confidence.LessThan(e.cfg.SurvivalConfidenceMin) {
			d.RejectReason = "confidence below SURVIVAL threshold"
			return d
		}
		if !riskRewardAtLeast(signal, e.cfg.SurvivalMinRR) {
			d.RejectReason = "risk:reward below SURVIVAL minimum"
			return d
		}
		if maxPositions > 0 && openPositions >= 1 {
			// SURVIVAL additionally caps concurrent exposure to a single position.
			d.RejectReason = "position count cap reached (SURVIVAL)"
			return d
		}
	}
	if maxPositions > 0 && openPositions >= maxPositions {
		d.RejectReason = "position count cap reached"
		return d
	}
	if !symbolTradable {
		d.RejectReason = "symbol not tradable"
		return d
	}

	d.Allowed = true
	return d
}

func riskRewardAtLeast(signal types.Signal, minRR decimal.Decimal) bool {
	risk := signal.EntryPrice.Sub(signal.StopLoss).Abs()
	reward := signal.TakeProfit.Sub(signal.EntryPrice).Abs()
	if risk.IsZero() {
		return false
	}
	return reward.Div(risk).GreaterThanOrEqual(minRR)
}
