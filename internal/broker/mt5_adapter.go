package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// TerminalClient is the boundary a generated gRPC terminal stub satisfies.
// A real deployment points this at the protoc-generated client for the
// broker's terminal bridge; nothing here depends on the generated types
// themselves, only on the domain vocabulary every one of them is built to
// carry (spec §4.1, §6).
type TerminalClient interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Ping(ctx context.Context) error

	ResolveSymbol(ctx context.Context, name string) (types.SymbolSpec, error)
	FetchBars(ctx context.Context, symbol string, tf types.Timeframe, n int) ([]types.Bar, error)
	ListPositions(ctx context.Context) ([]types.Position, error)
	SendOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
	ModifyPosition(ctx context.Context, ticket int64, sl, tp *decimal.Decimal) error
	ClosePosition(ctx context.Context, ticket int64, volume decimal.Decimal) (types.OrderResult, error)
}

// MT5Adapter implements Adapter over a gRPC connection to an MT5-style
// terminal bridge. It owns reconnect/keepalive policy; TerminalClient is
// the thin RPC surface a generated stub provides.
type MT5Adapter struct {
	conn   *grpc.ClientConn
	client TerminalClient
	log    *zap.Logger

	connected bool
}

// DialMT5 opens a gRPC connection to addr and wraps newClient (typically
// the generated constructor for a terminal's gRPC stub) into an Adapter.
// Connection uses plaintext transport plus keepalive and reconnect backoff
// tuned for a LAN-local terminal bridge; swap insecure.NewCredentials for
// TLS when the bridge sits across an untrusted network.
func DialMT5(ctx context.Context, addr string, newClient func(*grpc.ClientConn) TerminalClient, log *zap.Logger) (*MT5Adapter, error) {
	bcfg := backoff.Config{
		BaseDelay:  200 * time.Millisecond,
		Multiplier: 1.6,
		Jitter:     0.2,
		MaxDelay:   5 * time.Second,
	}
	kp := keepalive.ClientParameters{
		Time:                20 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: bcfg, MinConnectTimeout: 5 * time.Second}),
		grpc.WithKeepaliveParams(kp),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, addr, err)
	}
	return &MT5Adapter{conn: conn, client: newClient(conn), log: log.Named("mt5_adapter")}, nil
}

func (a *MT5Adapter) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()
	if err := a.client.Connect(ctx); err != nil {
		a.connected = false
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	a.connected = true
	return nil
}

func (a *MT5Adapter) IsConnected() bool {
	if !a.connected {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.client.Ping(ctx); err != nil {
		a.connected = false
		return false
	}
	return true
}

func (a *MT5Adapter) ResolveSymbol(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()
	spec, err := a.client.ResolveSymbol(ctx, name)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrSymbolNotFound, name, err)
	}
	return spec.Symbol, nil
}

func (a *MT5Adapter) SymbolSpec(ctx context.Context, symbol string) (types.SymbolSpec, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()
	spec, err := a.client.ResolveSymbol(ctx, symbol)
	if err != nil {
		return types.SymbolSpec{}, fmt.Errorf("%w: %q: %v", ErrSymbolNotFound, symbol, err)
	}
	return spec, nil
}

func (a *MT5Adapter) FetchBars(ctx context.Context, symbol string, tf types.Timeframe, n int) ([]types.Bar, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()
	bars, err := a.client.FetchBars(ctx, symbol, tf, n)
	if err != nil {
		return nil, fmt.Errorf("broker: fetch_bars %s/%s: %w", symbol, tf, err)
	}
	return bars, nil
}

func (a *MT5Adapter) SendOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()
	result, err := a.client.SendOrder(ctx, req)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("broker: send_order %s: %w", req.ClientTag, err)
	}
	return result, nil
}

func (a *MT5Adapter) ModifyPosition(ctx context.Context, ticket int64, sl, tp *decimal.Decimal) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()
	if err := a.client.ModifyPosition(ctx, ticket, sl, tp); err != nil {
		return fmt.Errorf("broker: modify_position %d: %w", ticket, err)
	}
	return nil
}

func (a *MT5Adapter) ListPositions(ctx context.Context) ([]types.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()
	positions, err := a.client.ListPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker: list_positions: %w", err)
	}
	return positions, nil
}

func (a *MT5Adapter) ClosePosition(ctx context.Context, ticket int64, volume decimal.Decimal) (types.OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()
	result, err := a.client.ClosePosition(ctx, ticket, volume)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("broker: close_position %d: %w", ticket, err)
	}
	return result, nil
}

// Close releases the underlying gRPC connection.
func (a *MT5Adapter) Close() error {
	a.connected = false
	return a.conn.Close()
}
