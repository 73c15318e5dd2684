// Package exits implements the ExitCoordinator: a priority-ordered set of
// exit policies, dynamically re-prioritised by market context, evaluated
// first-wins per open position per tick (spec §4.10).
package exits

import (
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
)

// Signal is a policy's verdict to close (fully or partially) a position.
type Signal struct {
	Policy     string
	ClosePct   decimal.Decimal // 1.0 = full close
	NewSL      *decimal.Decimal
	Reason     string
}

// Context carries the per-tick, per-position inputs every policy needs.
// Not every policy uses every field.
type Context struct {
	Now            time.Time
	Position       types.Position
	Tracked        *types.TrackedExit
	Frame          types.IndicatorFrame
	ATR            decimal.Decimal
	IsCrypto       bool
	HighVolatility bool
	NewsWindow     bool
	NearMarketClose bool
	DrawdownState  types.DrawdownState
	Confluence     ConfluenceEvidence
}

// ConfluenceEvidence is the raw evidence ConfluenceExit scores.
type ConfluenceEvidence struct {
	RSITurn        bool
	MACDFlip       bool
	BBRejection    bool
	ProfitGiveback float64 // fraction of peak profit given back, 0..1
	VolumeSurge    bool
}

// Policy evaluates one exit rule for one position. A nil Signal means the
// policy does not want to close.
type Policy interface {
	Name() string
	BasePriority() int
	Evaluate(ctx Context, cfg types.ExitsConfig) *Signal
}

// contextDelta returns the priority adjustment for policy name under ctx,
// per spec §4.10's dynamic re-prioritisation table.
func contextDelta(name string, ctx Context) int {
	delta := 0
	if ctx.HighVolatility && (name == "StopLoss" || name == "AdverseMovement") {
		delta += 10
	}
	if ctx.NearMarketClose && name == "TimeBased" {
		delta += 20
	}
	if ctx.NewsWindow {
		delta += 15
	}
	if name == "StopLoss" {
		pnlFrac := pnlFraction(ctx.Position)
		if pnlFrac.LessThanOrEqual(decimal.NewFromFloat(-0.02)) {
			delta += 20
		}
	}
	if name == "TimeBased" && time.Since(ctx.Position.EntryTime) > 12*time.Hour {
		delta += 10
	}
	return delta
}

func pnlFraction(p types.Position) decimal.Decimal {
	basis := p.EntryPrice.Mul(p.Volume)
	if basis.IsZero() {
		return decimal.Zero
	}
	return p.UnrealizedPnL.Div(basis)
}
