package exits

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testCoordinator(balance decimal.Decimal) *Coordinator {
	cfg := types.DefaultExitsConfig()
	return NewCoordinator(cfg, decimal.NewFromFloat(0.01), func() decimal.Decimal { return balance }, zap.NewNop())
}

func TestSurvivalModeWinsOverEveryOtherPolicy(t *testing.T) {
	c := testCoordinator(decimal.NewFromInt(10000))
	pos := types.Position{
		Ticket: 1, Side: types.OrderSideLong,
		EntryPrice: decimal.NewFromFloat(1.10), CurrentPrice: decimal.NewFromFloat(1.12),
		StopLoss: decimal.NewFromFloat(1.05), TakeProfit: decimal.NewFromFloat(1.20),
		EntryTime: time.Now(),
	}
	ctx := Context{
		Now: time.Now(), Position: pos,
		Tracked:       &types.TrackedExit{ScaledTiersHit: map[string]bool{}},
		DrawdownState: types.DrawdownSurvival,
	}
	sig := c.Evaluate(ctx)
	require.NotNil(t, sig)
	assert.Equal(t, "SurvivalMode", sig.Policy)
}

func TestStopLossFiresWhenPriceCrossesSL(t *testing.T) {
	c := testCoordinator(decimal.NewFromInt(10000))
	pos := types.Position{
		Ticket: 2, Side: types.OrderSideLong,
		EntryPrice: decimal.NewFromFloat(1.10), CurrentPrice: decimal.NewFromFloat(1.04),
		StopLoss: decimal.NewFromFloat(1.05), EntryTime: time.Now(),
	}
	ctx := Context{
		Now: time.Now(), Position: pos,
		Tracked:       &types.TrackedExit{ScaledTiersHit: map[string]bool{}},
		DrawdownState: types.DrawdownNormal,
	}
	sig := c.Evaluate(ctx)
	require.NotNil(t, sig)
	assert.Equal(t, "StopLoss", sig.Policy)
}

func TestHighVolatilityBoostsStopLossAheadOfTakeProfitWhenBothFire(t *testing.T) {
	c := testCoordinator(decimal.NewFromInt(10000))
	// Crafting a position where both StopLoss and TakeProfit fire at once
	// is contrived; instead confirm StopLoss already outranks TakeProfit
	// and that contextDelta adds +10 to StopLoss under high volatility.
	baseSL := stopLoss{}.BasePriority()
	baseTP := takeProfit{}.BasePriority()
	assert.Greater(t, baseSL, baseTP)
	adjusted := stopLoss{}.BasePriority() + contextDelta("StopLoss", Context{HighVolatility: true})
	assert.Equal(t, baseSL+10, adjusted)
	_ = c
}

func TestNoPolicyFiresOnFlatPosition(t *testing.T) {
	c := testCoordinator(decimal.NewFromInt(10000))
	pos := types.Position{
		Ticket: 3, Side: types.OrderSideLong,
		EntryPrice: decimal.NewFromFloat(1.10), CurrentPrice: decimal.NewFromFloat(1.1005),
		EntryTime: time.Now(),
	}
	ctx := Context{
		Now: time.Now(), Position: pos,
		Tracked:       &types.TrackedExit{ScaledTiersHit: map[string]bool{}},
		DrawdownState: types.DrawdownNormal,
	}
	sig := c.Evaluate(ctx)
	assert.Nil(t, sig)
}
