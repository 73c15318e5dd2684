package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSymbolExactCaseInsensitive(t *testing.T) {
	adapter := NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	ctx := context.Background()

	resolved, err := adapter.ResolveSymbol(ctx, "eurusd")
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", resolved)

	_, err = adapter.ResolveSymbol(ctx, "EURUSDm")
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestSendOrderDedupesByClientTag(t *testing.T) {
	adapter := NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	ctx := context.Background()

	req := types.OrderRequest{
		ClientTag: "ct-1",
		Symbol:    "EURUSD",
		Side:      types.OrderSideLong,
		Volume:    decimal.NewFromFloat(0.1),
		Price:     decimal.NewFromFloat(1.1000),
	}

	first, err := adapter.SendOrder(ctx, req)
	require.NoError(t, err)

	second, err := adapter.SendOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Ticket, second.Ticket)

	positions, err := adapter.ListPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, positions, 1, "retried submission must not open a second position")
}

func TestSendOrderTimeoutThenRetrySucceedsOnceViaDedupe(t *testing.T) {
	adapter := NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	adapter.FailNextSendOrder = 1
	ctx := context.Background()

	req := types.OrderRequest{ClientTag: "ct-2", Symbol: "EURUSD", Side: types.OrderSideLong, Volume: decimal.NewFromFloat(0.1)}

	_, err := adapter.SendOrder(ctx, req)
	require.True(t, errors.Is(err, ErrTimeout))

	result, err := adapter.SendOrder(ctx, req)
	require.NoError(t, err)
	assert.NotZero(t, result.Ticket)
}

func TestFetchBarsReturnsMostRecentN(t *testing.T) {
	adapter := NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, 5)
	for i := range bars {
		bars[i] = types.Bar{Timestamp: base.Add(time.Duration(i) * time.Minute), Symbol: "EURUSD", Timeframe: types.Timeframe1m}
	}
	adapter.SeedBars("EURUSD", types.Timeframe1m, bars)

	got, err := adapter.FetchBars(context.Background(), "EURUSD", types.Timeframe1m, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, base.Add(3*time.Minute), got[0].Timestamp)
	assert.Equal(t, base.Add(4*time.Minute), got[1].Timestamp)
}
