// Package broker abstracts the boundary to the external broker terminal
// (spec §4.1): connect/disconnect, symbol resolution, bar fetch, order
// submission and modification, and position listing.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
)

// Sentinel errors returned by Adapter implementations. Callers match on
// these with errors.Is rather than parsing broker-specific strings.
var (
	ErrConnection    = errors.New("broker: connection error")
	ErrSymbolNotFound = errors.New("broker: symbol not found")
	ErrCircuitOpen   = errors.New("broker: circuit open")
	ErrTimeout       = errors.New("broker: call timed out")
)

// Adapter is the uniform boundary every strategy, execution, and position
// component uses to reach the broker terminal. A real implementation talks
// gRPC to an MT5-style terminal bridge; MemoryAdapter is a deterministic
// fake used in tests.
type Adapter interface {
	Connect(ctx context.Context) error
	IsConnected() bool

	// ResolveSymbol matches name against the broker's symbol list,
	// exact case-insensitive on alphanumerics only (spec §4.1) — no
	// heuristic variant substitution.
	ResolveSymbol(ctx context.Context, name string) (string, error)

	// FetchBars returns up to n most recent CLOSED bars, oldest first,
	// monotonically increasing by timestamp. Any still-forming bar the
	// provider exposes must already be filtered out by the adapter.
	FetchBars(ctx context.Context, symbol string, tf types.Timeframe, n int) ([]types.Bar, error)

	// SendOrder submits an order. Adapters do not serialise calls per
	// symbol; execution.Engine holds a per-symbol lock around each call.
	SendOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)

	// ModifyPosition changes SL/TP on an open position and reports the
	// broker's acknowledgement only; execution.Engine reads the position
	// back afterwards to check the applied values are within tolerance.
	ModifyPosition(ctx context.Context, ticket int64, sl, tp *decimal.Decimal) error

	ListPositions(ctx context.Context) ([]types.Position, error)

	// ClosePosition fully or partially closes an open position.
	ClosePosition(ctx context.Context, ticket int64, volume decimal.Decimal) (types.OrderResult, error)

	// SymbolSpec returns broker-reported lot/point constraints, used by
	// sizing and execution to round volumes and prices correctly.
	SymbolSpec(ctx context.Context, symbol string) (types.SymbolSpec, error)
}

// PositionToleranceFloor is the minimum numeric tolerance used when
// verifying that a modify_position readback matches the requested values,
// per spec §4.1 ("max(point, 1e-5)").
const PositionToleranceFloor = 1e-5

// ModifyTolerance returns the tolerance to use for a symbol with the given
// point size.
func ModifyTolerance(point float64) float64 {
	if point > PositionToleranceFloor {
		return point
	}
	return PositionToleranceFloor
}

// DefaultCallTimeout bounds any single broker round trip so a stalled
// terminal never blocks the main loop indefinitely.
const DefaultCallTimeout = 10 * time.Second
