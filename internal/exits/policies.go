package exits

import (
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
)

// survivalMode force-closes any open position once the account is in the
// SURVIVAL drawdown state; capital preservation overrides every other
// policy.
type survivalMode struct{}

func (survivalMode) Name() string     { return "SurvivalMode" }
func (survivalMode) BasePriority() int { return 100 }
func (survivalMode) Evaluate(ctx Context, cfg types.ExitsConfig) *Signal {
	if ctx.DrawdownState != types.DrawdownSurvival {
		return nil
	}
	return &Signal{Policy: "SurvivalMode", ClosePct: decimal.NewFromInt(1), Reason: "account in SURVIVAL drawdown state"}
}

// adaptiveLossExit closes early once unrealised loss exceeds a drawdown-
// state-scaled fraction tighter than the static stop loss, reacting faster
// as the account's risk state worsens.
type adaptiveLossExit struct{}

func (adaptiveLossExit) Name() string     { return "AdaptiveLossExit" }
func (adaptiveLossExit) BasePriority() int { return 90 }
func (adaptiveLossExit) Evaluate(ctx Context, cfg types.ExitsConfig) *Signal {
	var tighten decimal.Decimal
	switch ctx.DrawdownState {
	case types.DrawdownCritical:
		tighten = decimal.NewFromFloat(0.5)
	case types.DrawdownDanger:
		tighten = decimal.NewFromFloat(0.65)
	case types.DrawdownWarning:
		tighten = decimal.NewFromFloat(0.8)
	default:
		return nil
	}
	if ctx.Position.StopLoss.IsZero() {
		return nil
	}
	distance := ctx.Position.EntryPrice.Sub(ctx.Position.StopLoss).Abs().Mul(tighten)
	var threshold decimal.Decimal
	if ctx.Position.Side == types.OrderSideLong {
		threshold = ctx.Position.EntryPrice.Sub(distance)
		if ctx.Position.CurrentPrice.LessThanOrEqual(threshold) {
			return &Signal{Policy: "AdaptiveLossExit", ClosePct: decimal.NewFromInt(1), Reason: "loss exceeds drawdown-scaled threshold"}
		}
	} else {
		threshold = ctx.Position.EntryPrice.Add(distance)
		if ctx.Position.CurrentPrice.GreaterThanOrEqual(threshold) {
			return &Signal{Policy: "AdaptiveLossExit", ClosePct: decimal.NewFromInt(1), Reason: "loss exceeds drawdown-scaled threshold"}
		}
	}
	return nil
}

// microAccountProtect forces an early close once a single position's loss
// would itself breach the emergency stop-loss percentage, a tighter net
// than the per-symbol SL for very small accounts.
type microAccountProtect struct {
	emergencyPct decimal.Decimal
	balance      func() decimal.Decimal
}

func newMicroAccountProtect(emergencyPct decimal.Decimal, balance func() decimal.Decimal) *microAccountProtect {
	return &microAccountProtect{emergencyPct: emergencyPct, balance: balance}
}

func (m *microAccountProtect) Name() string     { return "MicroAccountProtect" }
func (m *microAccountProtect) BasePriority() int { return 80 }
func (m *microAccountProtect) Evaluate(ctx Context, cfg types.ExitsConfig) *Signal {
	balance := m.balance()
	if balance.IsZero() || m.emergencyPct.IsZero() {
		return nil
	}
	maxLoss := balance.Mul(m.emergencyPct)
	if ctx.Position.UnrealizedPnL.IsNegative() && ctx.Position.UnrealizedPnL.Abs().GreaterThanOrEqual(maxLoss) {
		return &Signal{Policy: "MicroAccountProtect", ClosePct: decimal.NewFromInt(1), Reason: "position loss breaches account emergency stop percentage"}
	}
	return nil
}

// confluenceExit scores multi-indicator agreement that a move is
// exhausted and closes or scales out accordingly (spec §4.10).
type confluenceExit struct{}

func (confluenceExit) Name() string     { return "ConfluenceExit" }
func (confluenceExit) BasePriority() int { return 75 }
func (confluenceExit) Evaluate(ctx Context, cfg types.ExitsConfig) *Signal {
	ev := ctx.Confluence
	weights := map[string]float64{"rsi": 0.25, "macd": 0.2, "bb": 0.2, "giveback": 0.2, "volume": 0.15}
	score := 0.0
	agree := 0
	if ev.RSITurn {
		score += weights["rsi"]
		agree++
	}
	if ev.MACDFlip {
		score += weights["macd"]
		agree++
	}
	if ev.BBRejection {
		score += weights["bb"]
		agree++
	}
	if ev.ProfitGiveback > 0 {
		score += weights["giveback"] * clamp01(ev.ProfitGiveback)
		agree++
	}
	if ev.VolumeSurge {
		score += weights["volume"]
		agree++
	}
	if agree >= 3 {
		score *= 1.2
	}
	if agree >= 4 {
		score *= 1.1
	}

	switch {
	case score >= cfg.ConfluenceEmergency:
		return &Signal{Policy: "ConfluenceExit", ClosePct: decimal.NewFromInt(1), Reason: "confluence score indicates emergency exhaustion"}
	case score >= cfg.ConfluenceCloseNow:
		return &Signal{Policy: "ConfluenceExit", ClosePct: decimal.NewFromInt(1), Reason: "confluence score indicates close now"}
	case score >= cfg.ConfluenceScaleOut:
		return &Signal{Policy: "ConfluenceExit", ClosePct: cfg.ScaleOutPct, Reason: "confluence score indicates scale out"}
	}
	return nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// adverseMovement closes if cumulative adverse movement within a bounded
// time window exceeds a configured percentage.
type adverseMovement struct{}

func (adverseMovement) Name() string     { return "AdverseMovement" }
func (adverseMovement) BasePriority() int { return 70 }
func (adverseMovement) Evaluate(ctx Context, cfg types.ExitsConfig) *Signal {
	lossFrac := pnlFraction(ctx.Position).Neg()
	if !lossFrac.IsPositive() {
		ctx.Tracked.LastAdverse = decimal.Zero
		return nil
	}
	if ctx.Tracked.LastAdverse.IsZero() || ctx.Now.Sub(ctx.Tracked.LastAdverseAt) > cfg.AdverseMovementWindow {
		ctx.Tracked.LastAdverse = lossFrac
		ctx.Tracked.LastAdverseAt = ctx.Now
		return nil
	}
	if lossFrac.GreaterThanOrEqual(cfg.AdverseMovementPct) {
		return &Signal{Policy: "AdverseMovement", ClosePct: decimal.NewFromInt(1), Reason: "cumulative adverse movement exceeded window threshold"}
	}
	return nil
}

// stopLoss closes when price has crossed the position's configured SL —
// a software-side backstop in case the broker-side SL did not trigger.
type stopLoss struct{}

func (stopLoss) Name() string     { return "StopLoss" }
func (stopLoss) BasePriority() int { return 65 }
func (stopLoss) Evaluate(ctx Context, cfg types.ExitsConfig) *Signal {
	if ctx.Position.StopLoss.IsZero() {
		return nil
	}
	p := ctx.Position
	if p.Side == types.OrderSideLong && p.CurrentPrice.LessThanOrEqual(p.StopLoss) {
		return &Signal{Policy: "StopLoss", ClosePct: decimal.NewFromInt(1), Reason: "price crossed stop loss"}
	}
	if p.Side == types.OrderSideShort && p.CurrentPrice.GreaterThanOrEqual(p.StopLoss) {
		return &Signal{Policy: "StopLoss", ClosePct: decimal.NewFromInt(1), Reason: "price crossed stop loss"}
	}
	return nil
}

// profitScaling closes close_pct at ATR-multiple profit tiers, moving SL
// to breakeven+buffer on the first tier hit (spec §4.10).
type profitScaling struct{}

func (profitScaling) Name() string     { return "ProfitScaling" }
func (profitScaling) BasePriority() int { return 60 }

var profitTiers = []struct {
	key      string
	atrMult  float64
	closePct float64
}{
	{"tier1", 1.0, 0.33},
	{"tier2", 2.0, 0.33},
	{"tier3", 3.0, 1.0},
}

func (profitScaling) Evaluate(ctx Context, cfg types.ExitsConfig) *Signal {
	if ctx.ATR.IsZero() {
		return nil
	}
	p := ctx.Position
	var favourable decimal.Decimal
	if p.Side == types.OrderSideLong {
		favourable = p.CurrentPrice.Sub(p.EntryPrice)
	} else {
		favourable = p.EntryPrice.Sub(p.CurrentPrice)
	}
	for _, tier := range profitTiers {
		if ctx.Tracked.ScaledTiersHit[tier.key] {
			continue
		}
		threshold := ctx.ATR.Mul(decimal.NewFromFloat(tier.atrMult))
		if favourable.GreaterThanOrEqual(threshold) {
			ctx.Tracked.ScaledTiersHit[tier.key] = true
			buffer := ctx.ATR.Mul(decimal.NewFromFloat(0.1))
			var newSL decimal.Decimal
			if p.Side == types.OrderSideLong {
				newSL = p.EntryPrice.Add(buffer)
			} else {
				newSL = p.EntryPrice.Sub(buffer)
			}
			return &Signal{
				Policy:   "ProfitScaling",
				ClosePct: decimal.NewFromFloat(tier.closePct),
				NewSL:    &newSL,
				Reason:   "profit tier " + tier.key + " reached",
			}
		}
	}
	return nil
}

// takeProfit closes fully once price reaches the position's configured TP.
type takeProfit struct{}

func (takeProfit) Name() string     { return "TakeProfit" }
func (takeProfit) BasePriority() int { return 55 }
func (takeProfit) Evaluate(ctx Context, cfg types.ExitsConfig) *Signal {
	if ctx.Position.TakeProfit.IsZero() {
		return nil
	}
	p := ctx.Position
	if p.Side == types.OrderSideLong && p.CurrentPrice.GreaterThanOrEqual(p.TakeProfit) {
		return &Signal{Policy: "TakeProfit", ClosePct: decimal.NewFromInt(1), Reason: "price reached take profit"}
	}
	if p.Side == types.OrderSideShort && p.CurrentPrice.LessThanOrEqual(p.TakeProfit) {
		return &Signal{Policy: "TakeProfit", ClosePct: decimal.NewFromInt(1), Reason: "price reached take profit"}
	}
	return nil
}

// timeBased closes at max_hold, and at the Friday cutoff for non-crypto
// symbols approaching the weekend.
type timeBased struct{}

func (timeBased) Name() string     { return "TimeBased" }
func (timeBased) BasePriority() int { return 45 }
func (timeBased) Evaluate(ctx Context, cfg types.ExitsConfig) *Signal {
	held := ctx.Now.Sub(ctx.Position.EntryTime)
	if cfg.MaxHold > 0 && held >= cfg.MaxHold {
		return &Signal{Policy: "TimeBased", ClosePct: decimal.NewFromInt(1), Reason: "max hold duration reached"}
	}
	if !ctx.IsCrypto && ctx.Now.Weekday() == time.Friday && ctx.Now.Hour() >= cfg.WeekendCutoffHour {
		return &Signal{Policy: "TimeBased", ClosePct: decimal.NewFromInt(1), Reason: "weekend cutoff reached for non-crypto symbol"}
	}
	return nil
}

// trailingStop activates once unrealised gain exceeds an ATR multiple,
// then maintains a stop at entry + alpha*peak_favorable that never moves
// backward.
type trailingStop struct{}

func (trailingStop) Name() string     { return "TrailingStop" }
func (trailingStop) BasePriority() int { return 40 }
func (trailingStop) Evaluate(ctx Context, cfg types.ExitsConfig) *Signal {
	if ctx.ATR.IsZero() {
		return nil
	}
	p := ctx.Position
	activation := ctx.ATR.Mul(cfg.TrailActivationATR)
	if p.MaxFavorable.LessThan(activation) {
		return nil
	}

	trail := p.MaxFavorable.Mul(cfg.TrailAlpha)
	var candidate decimal.Decimal
	if p.Side == types.OrderSideLong {
		candidate = p.EntryPrice.Add(trail)
		if candidate.LessThanOrEqual(ctx.Tracked.TrailReference) {
			candidate = ctx.Tracked.TrailReference
		} else {
			ctx.Tracked.TrailReference = candidate
		}
		if p.CurrentPrice.LessThanOrEqual(candidate) {
			return &Signal{Policy: "TrailingStop", ClosePct: decimal.NewFromInt(1), Reason: "price fell through trailing stop"}
		}
	} else {
		candidate = p.EntryPrice.Sub(trail)
		if ctx.Tracked.TrailReference.IsPositive() && candidate.GreaterThanOrEqual(ctx.Tracked.TrailReference) {
			candidate = ctx.Tracked.TrailReference
		} else {
			ctx.Tracked.TrailReference = candidate
		}
		if p.CurrentPrice.GreaterThanOrEqual(candidate) {
			return &Signal{Policy: "TrailingStop", ClosePct: decimal.NewFromInt(1), Reason: "price rose through trailing stop"}
		}
	}
	return nil
}
