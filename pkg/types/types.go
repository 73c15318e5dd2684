// Package types provides shared type definitions for the trading core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideLong  OrderSide = "long"
	OrderSideShort OrderSide = "short"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideLong {
		return OrderSideShort
	}
	return OrderSideLong
}

// OrderType represents the type of order sent to the broker.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderResultStatus represents the broker's response status for an order.
type OrderResultStatus string

const (
	OrderResultPlaced   OrderResultStatus = "placed"
	OrderResultFilled   OrderResultStatus = "filled"
	OrderResultPartial  OrderResultStatus = "partial"
	OrderResultRejected OrderResultStatus = "rejected"
	OrderResultError    OrderResultStatus = "error"
)

// Timeframe represents a bar interval.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Bar is a single OHLCV observation for a (symbol, timeframe). Immutable
// once inserted into the data pipeline.
type Bar struct {
	Timestamp  time.Time       `json:"timestamp"`
	Symbol     string          `json:"symbol"`
	Timeframe  Timeframe       `json:"timeframe"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	TickVolume decimal.Decimal `json:"tickVolume"`
	Spread     decimal.Decimal `json:"spread"`
}

// IndicatorFrame maps a namespaced indicator key to its most recently
// computed value for a (symbol, timeframe). NaN means "no signal" —
// downstream consumers must treat it as such, never as zero.
type IndicatorFrame struct {
	Symbol    string
	Timeframe Timeframe
	Values    map[string]float64
	AsOf      time.Time
}

// Get returns the indicator value or (0, false) if absent or NaN.
func (f *IndicatorFrame) Get(key string) (float64, bool) {
	v, ok := f.Values[key]
	if !ok || isNaN(v) {
		return 0, false
	}
	return v, true
}

func isNaN(f float64) bool { return f != f }

// RegimeLabel is a discrete market-character classification.
type RegimeLabel string

const (
	RegimeTrendingUpStrong      RegimeLabel = "trending_up_strong"
	RegimeTrendingUpWeak        RegimeLabel = "trending_up_weak"
	RegimeTrendingDownStrong    RegimeLabel = "trending_down_strong"
	RegimeTrendingDownWeak      RegimeLabel = "trending_down_weak"
	RegimeRangingTight          RegimeLabel = "ranging_tight"
	RegimeRangingWide           RegimeLabel = "ranging_wide"
	RegimeVolatileBreakout      RegimeLabel = "volatile_breakout"
	RegimeVolatileConsolidation RegimeLabel = "volatile_consolidation"
	RegimeConsolidating         RegimeLabel = "consolidating"
	RegimeReversal              RegimeLabel = "reversal"
)

// Signal is created by a strategy; immutable once constructed.
type Signal struct {
	SignalID     string          `json:"signalId"`
	Timestamp    time.Time       `json:"timestamp"`
	Symbol       string          `json:"symbol"`
	Timeframe    Timeframe       `json:"timeframe"`
	Side         OrderSide       `json:"side"`
	EntryPrice   decimal.Decimal `json:"entryPrice"`
	StopLoss     decimal.Decimal `json:"stopLoss"`
	TakeProfit   decimal.Decimal `json:"takeProfit"`
	Confidence   decimal.Decimal `json:"confidence"` // 0..1
	StrategyName string          `json:"strategyName"`
	Reason       string          `json:"reason"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// EntryQualityClass classifies a signal's confluence score.
type EntryQualityClass string

const (
	EntryQualityReject   EntryQualityClass = "reject"
	EntryQualityMarginal EntryQualityClass = "marginal"
	EntryQualityGood     EntryQualityClass = "good"
	EntryQualityPremium  EntryQualityClass = "premium"
)

// EntryQuality is the result of the EntryQualityGate confluence scorer.
type EntryQuality struct {
	Class          EntryQualityClass  `json:"class"`
	Score          float64            `json:"score"`
	SizeMultiplier decimal.Decimal    `json:"sizeMultiplier"`
	Evidence       map[string]float64 `json:"evidence"`
}

// SizeAdjustment is one labelled multiplier applied by the sizing pipeline.
type SizeAdjustment struct {
	Reason     string          `json:"reason"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// PositionSizeDecision is the auditable output of the sizing pipeline.
// Invariant: FinalSize == BaseSize * product(Adjustments) rounded down to
// lot_step, and LotMin <= FinalSize <= MaxPositionSize (or the decision is
// a rejection, captured by Rejected/RejectReason).
type PositionSizeDecision struct {
	BaseSize     decimal.Decimal  `json:"baseSize"`
	Adjustments  []SizeAdjustment `json:"adjustments"`
	FinalSize    decimal.Decimal  `json:"finalSize"`
	Reasoning    string           `json:"reasoning"`
	Rejected     bool             `json:"rejected"`
	RejectReason string           `json:"rejectReason,omitempty"`
}

// OrderRequest is submitted to the ExecutionEngine.
type OrderRequest struct {
	ClientTag      string          `json:"clientTag"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	Volume         decimal.Decimal `json:"volume"`
	OrderType      OrderType       `json:"orderType"`
	Price          decimal.Decimal `json:"price,omitempty"`
	StopLoss       decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit     decimal.Decimal `json:"takeProfit,omitempty"`
	DeviationTicks int             `json:"deviationTicks"`
	MagicNumber    int64           `json:"magicNumber"`
	SourceSignalID string          `json:"sourceSignalId,omitempty"`
}

// OrderResult is the broker's response to an OrderRequest.
type OrderResult struct {
	ClientTag     string            `json:"clientTag"`
	Status        OrderResultStatus `json:"status"`
	Ticket        int64             `json:"ticket,omitempty"`
	FilledVolume  decimal.Decimal   `json:"filledVolume"`
	FillPrice     decimal.Decimal   `json:"fillPrice"`
	Commission    decimal.Decimal   `json:"commission"`
	Swap          decimal.Decimal   `json:"swap"`
	BrokerMessage string            `json:"brokerMessage,omitempty"`
}

// PositionOrigin distinguishes engine-originated from externally adopted
// positions.
type PositionOrigin string

const (
	PositionOriginEngine  PositionOrigin = "engine"
	PositionOriginAdopted PositionOrigin = "adopted"
)

// Position is the authoritative view of an open broker position, reconciled
// each tick against broker truth.
type Position struct {
	Ticket        int64           `json:"ticket"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Volume        decimal.Decimal `json:"volume"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	EntryTime     time.Time       `json:"entryTime"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	StopLoss      decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit    decimal.Decimal `json:"takeProfit,omitempty"`
	MaxFavorable  decimal.Decimal `json:"maxFavorable"`
	MaxAdverse    decimal.Decimal `json:"maxAdverse"`
	HoldingBars   int             `json:"holdingBars"`
	Origin        PositionOrigin  `json:"origin"`
	StrategyName  string          `json:"strategyName,omitempty"`
}

// TrackedExit holds per-position exit state that outlives a single tick.
type TrackedExit struct {
	Ticket         int64
	PeakProfit     decimal.Decimal
	TrailReference decimal.Decimal
	ScaledTiersHit map[string]bool
	LastAdverse    decimal.Decimal
	LastAdverseAt  time.Time
}

// PendingSlTpUpdate survives in memory across ticks until resolved or
// abandoned by the execution engine's retry queue.
type PendingSlTpUpdate struct {
	Ticket      int64
	DesiredSL   decimal.Decimal
	DesiredTP   decimal.Decimal
	Attempts    int
	NextRetryAt time.Time
	LastError   string
	CreatedAt   time.Time
}

// DrawdownState is a discrete category derived from equity drawdown from
// peak, used to scale risk.
type DrawdownState string

const (
	DrawdownNormal   DrawdownState = "normal"
	DrawdownCaution  DrawdownState = "caution"
	DrawdownWarning  DrawdownState = "warning"
	DrawdownDanger   DrawdownState = "danger"
	DrawdownCritical DrawdownState = "critical"
	DrawdownSurvival DrawdownState = "survival"
	DrawdownRecovery DrawdownState = "recovery"
)

// RiskState is the single mutable risk/account state, written only by the
// RiskEvaluator.
type RiskState struct {
	AccountBalance    decimal.Decimal
	Equity            decimal.Decimal
	PeakEquity        decimal.Decimal
	DrawdownPct       decimal.Decimal
	DrawdownState     DrawdownState
	ConsecutiveWins   int
	ConsecutiveLosses int
	TradesToday       int
	DayStart          time.Time
}

// StrategyStats is the per-strategy rolling performance window consulted by
// the StrategySelector.
type StrategyStats struct {
	Name              string
	Wins              int
	Losses            int
	PnLSum            decimal.Decimal
	RecentOutcomes    []bool // ring of last N trade results, true = win
	AverageConfidence decimal.Decimal
	TotalSignals      int
}

// WinRate returns wins / (wins+losses), or 0 if no trades yet.
func (s *StrategyStats) WinRate() float64 {
	total := s.Wins + s.Losses
	if total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(total)
}

// ProfitFactor approximates gross profit / gross loss from win/loss counts
// when no granular per-trade ledger is kept.
func (s *StrategyStats) ProfitFactor() float64 {
	if s.Losses == 0 {
		if s.Wins == 0 {
			return 0
		}
		return 2.0
	}
	return float64(s.Wins) / float64(s.Losses)
}

// RecentPerformance returns the fraction of wins within RecentOutcomes.
func (s *StrategyStats) RecentPerformance() float64 {
	if len(s.RecentOutcomes) == 0 {
		return 0.5
	}
	wins := 0
	for _, w := range s.RecentOutcomes {
		if w {
			wins++
		}
	}
	return float64(wins) / float64(len(s.RecentOutcomes))
}

// ProvenanceRecord is an append-only audit trail linking a signal through
// sizing, order submission and fill.
type ProvenanceRecord struct {
	OrderID        string               `json:"orderId"`
	SignalID       string               `json:"signalId"`
	StrategyName   string               `json:"strategyName"`
	Regime         RegimeLabel          `json:"regime"`
	SizingDecision PositionSizeDecision `json:"sizingDecision"`
	SignalAt       time.Time            `json:"signalAt"`
	SizedAt        time.Time            `json:"sizedAt"`
	SubmittedAt    time.Time            `json:"submittedAt"`
	FilledAt       time.Time            `json:"filledAt,omitempty"`
	ClosedAt       time.Time            `json:"closedAt,omitempty"`
}

// Trade is the closed-out record of a position, written once on full close.
type Trade struct {
	Ticket       int64           `json:"ticket"`
	Symbol       string          `json:"symbol"`
	Side         OrderSide       `json:"side"`
	Volume       decimal.Decimal `json:"volume"`
	EntryPrice   decimal.Decimal `json:"entryPrice"`
	ExitPrice    decimal.Decimal `json:"exitPrice"`
	PnL          decimal.Decimal `json:"pnl"`
	StrategyName string          `json:"strategyName"`
	ExitReason   string          `json:"exitReason"`
	OpenedAt     time.Time       `json:"openedAt"`
	ClosedAt     time.Time       `json:"closedAt"`
	Win          bool            `json:"win"`
}
