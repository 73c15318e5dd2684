package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := types.PersistenceConfig{Path: filepath.Join(t.TempDir(), "test.db"), WALEnabled: false, WriterQueueCap: 16}
	store, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestWriteTradeIsDeduped(t *testing.T) {
	store := newTestStore(t)
	trade := types.Trade{Ticket: 1, Symbol: "EURUSD", PnL: decimal.NewFromFloat(10), ClosedAt: time.Unix(1000, 0)}

	store.WriteTrade(trade)
	store.WriteTrade(trade) // duplicate, must not error or double-insert

	// Drain the writer queue before asserting.
	time.Sleep(50 * time.Millisecond)

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM trades`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestReconcileOpenTicketsReturnsFilledOrders(t *testing.T) {
	store := newTestStore(t)
	store.WriteOrder(types.OrderRequest{ClientTag: "a", Symbol: "EURUSD"}, types.OrderResult{Ticket: 42, Status: types.OrderResultFilled})
	store.WriteOrder(types.OrderRequest{ClientTag: "b", Symbol: "EURUSD"}, types.OrderResult{Ticket: 43, Status: types.OrderResultRejected})
	time.Sleep(50 * time.Millisecond)

	tickets, err := store.ReconcileOpenTickets(context.Background())
	require.NoError(t, err)
	require.Contains(t, tickets, int64(42))
	require.NotContains(t, tickets, int64(43))
}
