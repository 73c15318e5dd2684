package position

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/internal/broker"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingProtector captures ApplyDefaultProtection calls instead of
// talking to a real broker.
type recordingProtector struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (r *recordingProtector) ApplyDefaultProtection(ctx context.Context, ticket int64, symbol string, side types.OrderSide, entryPrice, emergencyPct, riskReward decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ticket)
	return r.err
}

func (r *recordingProtector) tickets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.calls...)
}

// TestScanAdoptsExternalPositionWithDefaultProtection covers spec §4.9
// scenario S3: a position opened outside the engine (ticket 1001) is
// reconciled as ADOPTED, then the scanner attaches default protection.
func TestScanAdoptsExternalPositionWithDefaultProtection(t *testing.T) {
	adapter := broker.NewMemoryAdapter(types.SymbolSpec{Symbol: "EURUSD"})
	adapter.SeedPosition(types.Position{
		Ticket: 1001, Symbol: "EURUSD", Side: types.OrderSideLong,
		Volume: decimal.NewFromFloat(0.1), EntryPrice: decimal.NewFromFloat(1.1), EntryTime: time.Now(),
	})
	mgr := NewManager(adapter, zap.NewNop())

	reconcileResult, err := mgr.Reconcile(context.Background(), fixedPriceOf(decimal.NewFromFloat(1.1)))
	require.NoError(t, err)
	require.Len(t, reconcileResult.Opened, 1)
	require.Equal(t, types.PositionOriginAdopted, reconcileResult.Opened[0].Origin)

	protector := &recordingProtector{}
	cfg := types.DefaultAdoptionConfig()
	scanner := NewScanner(cfg, decimal.NewFromFloat(0.05), protector, zap.NewNop())

	scanner.Scan(context.Background(), reconcileResult.Opened)

	assert.Equal(t, []int64{1001}, protector.tickets())
}

// TestScanIsIdempotentPerTicket covers the adoptedTickets dedupe: the
// same ticket appearing across multiple scans (the orchestrator passes
// the full snapshot each cycle) must only be protected once.
func TestScanIsIdempotentPerTicket(t *testing.T) {
	protector := &recordingProtector{}
	cfg := types.DefaultAdoptionConfig()
	scanner := NewScanner(cfg, decimal.NewFromFloat(0.05), protector, zap.NewNop())

	adopted := []types.Position{{Ticket: 1001, Symbol: "EURUSD", Side: types.OrderSideLong, Origin: types.PositionOriginAdopted, EntryPrice: decimal.NewFromFloat(1.1), EntryTime: time.Now()}}

	scanner.Scan(context.Background(), adopted)
	scanner.Scan(context.Background(), adopted)

	assert.Equal(t, []int64{1001}, protector.tickets(), "a previously-adopted ticket must not be re-protected")
}

// TestScanLogOnlySkipsProtection covers the log_only policy knob: the
// scanner must still mark the ticket adopted but never call the
// protector.
func TestScanLogOnlySkipsProtection(t *testing.T) {
	protector := &recordingProtector{}
	cfg := types.DefaultAdoptionConfig()
	cfg.LogOnly = true
	scanner := NewScanner(cfg, decimal.NewFromFloat(0.05), protector, zap.NewNop())

	adopted := []types.Position{{Ticket: 2002, Symbol: "EURUSD", Side: types.OrderSideLong, Origin: types.PositionOriginAdopted, EntryPrice: decimal.NewFromFloat(1.1), EntryTime: time.Now()}}
	scanner.Scan(context.Background(), adopted)

	assert.Empty(t, protector.tickets())
}

// TestIsCryptoExemptsWeekendExit covers the crypto weekend-exit
// exemption: a symbol matching a configured crypto prefix must report
// IsCrypto true, which the exit coordinator uses to skip the Friday
// weekend cutoff (exits.timeBased only applies to !IsCrypto).
func TestIsCryptoExemptsWeekendExit(t *testing.T) {
	cfg := types.DefaultAdoptionConfig()
	cfg.CryptoPrefixes = []string{"BTC", "ETH"}
	scanner := NewScanner(cfg, decimal.Zero, &recordingProtector{}, zap.NewNop())

	assert.True(t, scanner.IsCrypto("BTCUSD"))
	assert.True(t, scanner.IsCrypto("btcusd"))
	assert.False(t, scanner.IsCrypto("EURUSD"))
}
