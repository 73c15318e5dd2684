package execution

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

func testConfig() types.ExecutionConfig {
	cfg := types.DefaultExecutionConfig()
	cfg.SlTpRetries = 3
	cfg.SlTpBackoffCap = time.Millisecond
	cfg.SlTpUnverifiedTimeout = 50 * time.Millisecond
	return cfg
}

// TestPlaceDedupesByClientTag covers P2: an order resubmitted with the
// same client tag must not open a second position.
func TestPlaceDedupesByClientTag(t *testing.T) {
	adapter := broker.NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	engine := NewEngine(adapter, testConfig(), zap.NewNop())
	ctx := context.Background()

	req := types.OrderRequest{
		ClientTag: "dup-1",
		Symbol:    "EURUSD",
		Side:      types.OrderSideLong,
		Volume:    decimal.NewFromFloat(0.1),
		Price:     decimal.NewFromFloat(1.1),
	}

	first, err := engine.Place(ctx, req)
	require.NoError(t, err)

	second, err := engine.Place(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Ticket, second.Ticket)

	positions, err := adapter.ListPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, positions, 1, "duplicate client_tag must never open a second position")
}

// TestPlaceAttachesProtection covers P4: a filled order carrying SL/TP
// must have them attached and verified against the broker's position
// readback.
func TestPlaceAttachesProtection(t *testing.T) {
	adapter := broker.NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	engine := NewEngine(adapter, testConfig(), zap.NewNop())
	ctx := context.Background()

	req := types.OrderRequest{
		ClientTag:  "sl-tp-1",
		Symbol:     "EURUSD",
		Side:       types.OrderSideLong,
		Volume:     decimal.NewFromFloat(0.1),
		Price:      decimal.NewFromFloat(1.1),
		StopLoss:   decimal.NewFromFloat(1.09),
		TakeProfit: decimal.NewFromFloat(1.12),
	}

	result, err := engine.Place(ctx, req)
	require.NoError(t, err)

	positions, err := adapter.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, result.Ticket, positions[0].Ticket)
	assert.True(t, positions[0].StopLoss.Equal(req.StopLoss))
	assert.True(t, positions[0].TakeProfit.Equal(req.TakeProfit))

	failures, recovered := engine.Metrics()
	assert.Zero(t, failures, "clean attach on first attempt must not count as a failure")
	assert.Zero(t, recovered)
}

// TestAttachProtectionRetriesThenSucceeds covers S2: modify_position
// failing on the first N attempts must retry and eventually verify,
// incrementing sl_tp_failure_total per failed attempt and
// sl_tp_success_after_retry_total once it succeeds.
func TestAttachProtectionRetriesThenSucceeds(t *testing.T) {
	adapter := broker.NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	adapter.FailNextModifyPosition = 2
	engine := NewEngine(adapter, testConfig(), zap.NewNop())
	ctx := context.Background()

	req := types.OrderRequest{
		ClientTag:  "retry-1",
		Symbol:     "EURUSD",
		Side:       types.OrderSideLong,
		Volume:     decimal.NewFromFloat(0.1),
		Price:      decimal.NewFromFloat(1.1),
		StopLoss:   decimal.NewFromFloat(1.09),
		TakeProfit: decimal.NewFromFloat(1.12),
	}

	_, err := engine.Place(ctx, req)
	require.NoError(t, err)

	failures, recovered := engine.Metrics()
	assert.Equal(t, 2, failures)
	assert.Equal(t, 1, recovered)
	assert.Zero(t, engine.PendingCount(), "verified attach must not leave a pending retry entry")
}

// TestAttachProtectionExhaustsIntoPendingQueue covers the unverified
// case: modify_position failing for every configured retry must enqueue
// a PendingSlTpUpdate rather than silently dropping the protection.
func TestAttachProtectionExhaustsIntoPendingQueue(t *testing.T) {
	adapter := broker.NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	cfg := testConfig()
	adapter.FailNextModifyPosition = cfg.SlTpRetries
	engine := NewEngine(adapter, cfg, zap.NewNop())
	ctx := context.Background()

	req := types.OrderRequest{
		ClientTag:  "exhaust-1",
		Symbol:     "EURUSD",
		Side:       types.OrderSideLong,
		Volume:     decimal.NewFromFloat(0.1),
		Price:      decimal.NewFromFloat(1.1),
		StopLoss:   decimal.NewFromFloat(1.09),
		TakeProfit: decimal.NewFromFloat(1.12),
	}

	_, err := engine.Place(ctx, req)
	require.NoError(t, err)

	failures, recovered := engine.Metrics()
	assert.Equal(t, cfg.SlTpRetries, failures)
	assert.Zero(t, recovered)
	assert.Equal(t, 1, engine.PendingCount())
}

// TestDrainPendingForceClosesPastTimeout covers the force-close path:
// once a pending SL/TP update has been unverified longer than
// SlTpUnverifiedTimeout, DrainPending must force-close the position via
// the supplied closeFn when ForceCloseOnUnverified is set.
func TestDrainPendingForceClosesPastTimeout(t *testing.T) {
	adapter := broker.NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	cfg := testConfig()
	cfg.ForceCloseOnUnverified = true
	cfg.SlTpUnverifiedTimeout = time.Millisecond
	adapter.FailNextModifyPosition = cfg.SlTpRetries
	engine := NewEngine(adapter, cfg, zap.NewNop())
	ctx := context.Background()

	req := types.OrderRequest{
		ClientTag:  "force-close-1",
		Symbol:     "EURUSD",
		Side:       types.OrderSideLong,
		Volume:     decimal.NewFromFloat(0.1),
		Price:      decimal.NewFromFloat(1.1),
		StopLoss:   decimal.NewFromFloat(1.09),
		TakeProfit: decimal.NewFromFloat(1.12),
	}

	result, err := engine.Place(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 1, engine.PendingCount())

	time.Sleep(5 * time.Millisecond)

	var closed []int64
	engine.DrainPending(ctx, func(ticket int64) error {
		closed = append(closed, ticket)
		_, err := adapter.ClosePosition(ctx, ticket, decimal.Zero)
		return err
	})

	assert.Equal(t, []int64{result.Ticket}, closed)
	assert.Zero(t, engine.PendingCount())
}

// TestPlaceDuplicateAfterBrokerTimeoutReusesDedupe covers S6: a
// submission that times out from the caller's perspective but actually
// reached the broker must not open a second position when resubmitted
// with the same client tag.
func TestPlaceDuplicateAfterBrokerTimeoutReusesDedupe(t *testing.T) {
	adapter := broker.NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	engine := NewEngine(adapter, testConfig(), zap.NewNop())
	ctx := context.Background()

	req := types.OrderRequest{
		ClientTag: "timeout-retry-1",
		Symbol:    "EURUSD",
		Side:      types.OrderSideLong,
		Volume:    decimal.NewFromFloat(0.1),
		Price:     decimal.NewFromFloat(1.1),
	}

	first, err := engine.Place(ctx, req)
	require.NoError(t, err)

	// Caller believes the first attempt may have timed out and retries
	// with the identical client tag, as the execution engine's own
	// contract requires (spec §4.8 idempotent submission).
	second, err := engine.Place(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Ticket, second.Ticket)

	positions, err := adapter.ListPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

// TestCloseFullyClosesPosition covers a full close through Engine.Close:
// the result is filled and the position is gone at the broker.
func TestCloseFullyClosesPosition(t *testing.T) {
	adapter := broker.NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	engine := NewEngine(adapter, testConfig(), zap.NewNop())
	ctx := context.Background()

	req := types.OrderRequest{ClientTag: "close-1", Symbol: "EURUSD", Side: types.OrderSideLong, Volume: decimal.NewFromFloat(0.1), Price: decimal.NewFromFloat(1.1)}
	placed, err := engine.Place(ctx, req)
	require.NoError(t, err)

	result, err := engine.Close(ctx, placed.Ticket, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.Equal(t, types.OrderResultFilled, result.Status)

	positions, err := adapter.ListPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions, "fully closed position must be removed")
}
