package position

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/internal/broker"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fixedPriceOf(price decimal.Decimal) func(string) (decimal.Decimal, bool) {
	return func(string) (decimal.Decimal, bool) { return price, true }
}

// TestReconcileAdoptsUnknownBrokerPosition covers the merge half of P5:
// a ticket the manager has never seen appears as Opened with an
// inferred origin of ADOPTED.
func TestReconcileAdoptsUnknownBrokerPosition(t *testing.T) {
	adapter := broker.NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	adapter.SeedPosition(types.Position{
		Ticket: 1001, Symbol: "EURUSD", Side: types.OrderSideLong,
		Volume: decimal.NewFromFloat(0.1), EntryPrice: decimal.NewFromFloat(1.1), EntryTime: time.Now(),
	})
	mgr := NewManager(adapter, zap.NewNop())

	result, err := mgr.Reconcile(context.Background(), fixedPriceOf(decimal.NewFromFloat(1.1)))
	require.NoError(t, err)
	require.Len(t, result.Opened, 1)
	assert.Equal(t, int64(1001), result.Opened[0].Ticket)
	assert.Equal(t, types.PositionOriginAdopted, result.Opened[0].Origin)
	assert.Equal(t, 1, mgr.Count())
}

// TestReconcilePreservesEngineOrigin covers P5's other half: a position
// the manager already registered locally (engine-originated) must not
// be reclassified as adopted on the next reconcile.
func TestReconcilePreservesEngineOrigin(t *testing.T) {
	adapter := broker.NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	adapter.SeedPosition(types.Position{
		Ticket: 42, Symbol: "EURUSD", Side: types.OrderSideLong,
		Volume: decimal.NewFromFloat(0.1), EntryPrice: decimal.NewFromFloat(1.1), EntryTime: time.Now(),
	})
	mgr := NewManager(adapter, zap.NewNop())
	mgr.Register(types.Position{
		Ticket: 42, Symbol: "EURUSD", Side: types.OrderSideLong,
		Volume: decimal.NewFromFloat(0.1), EntryPrice: decimal.NewFromFloat(1.1), EntryTime: time.Now(),
	})

	_, err := mgr.Reconcile(context.Background(), fixedPriceOf(decimal.NewFromFloat(1.1)))
	require.NoError(t, err)

	snap := mgr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, types.PositionOriginEngine, snap[0].Origin)
}

// TestReconcileMergesVolumeDivergence covers the divergence branch: a
// broker-side partial fill/close that the manager's local volume hasn't
// caught up to is merged to broker truth and reported.
func TestReconcileMergesVolumeDivergence(t *testing.T) {
	adapter := broker.NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	ticket := adapter.SeedPosition(types.Position{
		Ticket: 7, Symbol: "EURUSD", Side: types.OrderSideLong,
		Volume: decimal.NewFromFloat(0.05), EntryPrice: decimal.NewFromFloat(1.1), EntryTime: time.Now(),
	})
	mgr := NewManager(adapter, zap.NewNop())
	mgr.Register(types.Position{
		Ticket: ticket, Symbol: "EURUSD", Side: types.OrderSideLong,
		Volume: decimal.NewFromFloat(0.1), EntryPrice: decimal.NewFromFloat(1.1), EntryTime: time.Now(),
	})

	result, err := mgr.Reconcile(context.Background(), fixedPriceOf(decimal.NewFromFloat(1.1)))
	require.NoError(t, err)
	assert.Equal(t, []int64{ticket}, result.Reconciled)

	snap := mgr.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Volume.Equal(decimal.NewFromFloat(0.05)), "local volume must be reconciled to broker truth")
}

// TestReconcileFinalisesVanishedPosition covers close-finalization: a
// position the manager knows about that no longer appears in broker
// truth (closed externally, e.g. stopped out) must produce a Trade and
// be dropped from local state.
func TestReconcileFinalisesVanishedPosition(t *testing.T) {
	adapter := broker.NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	mgr := NewManager(adapter, zap.NewNop())
	mgr.Register(types.Position{
		Ticket: 99, Symbol: "EURUSD", Side: types.OrderSideLong,
		Volume: decimal.NewFromFloat(0.1), EntryPrice: decimal.NewFromFloat(1.1), EntryTime: time.Now(),
	})
	require.Equal(t, 1, mgr.Count())

	result, err := mgr.Reconcile(context.Background(), fixedPriceOf(decimal.NewFromFloat(1.1)))
	require.NoError(t, err)
	require.Len(t, result.Closed, 1)
	assert.Equal(t, int64(99), result.Closed[0].Ticket)
	assert.Equal(t, "closed_at_broker", result.Closed[0].ExitReason)
	assert.Equal(t, 0, mgr.Count())
}

// TestMarkClosedComputesWinFromPnL covers the engine-initiated close
// path used by the exit coordinator.
func TestMarkClosedComputesWinFromPnL(t *testing.T) {
	adapter := broker.NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	mgr := NewManager(adapter, zap.NewNop())
	mgr.Register(types.Position{
		Ticket: 5, Symbol: "EURUSD", Side: types.OrderSideLong,
		Volume: decimal.NewFromFloat(0.1), EntryPrice: decimal.NewFromFloat(1.1), EntryTime: time.Now(),
	})

	trade, ok := mgr.MarkClosed(5, decimal.NewFromFloat(1.2), "take_profit")
	require.True(t, ok)
	assert.True(t, trade.Win)
	assert.Equal(t, "take_profit", trade.ExitReason)
	assert.Equal(t, 0, mgr.Count())
}
