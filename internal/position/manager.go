// Package position reconciles the engine's local view of open positions
// against broker truth and finalises trades as they close (spec §4.9).
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-core/internal/broker"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReconcileResult summarises one reconciliation pass.
type ReconcileResult struct {
	Opened        []types.Position
	Closed        []types.Trade
	Reconciled    []int64 // tickets whose local state diverged from broker truth
}

// Manager is the single writer of Position state. Only the orchestrator's
// tick loop calls its mutating methods; reads are safe from other
// goroutines via Snapshot.
type Manager struct {
	mu        sync.RWMutex
	adapter   broker.Adapter
	log       *zap.Logger
	positions map[int64]*types.Position
	exits     map[int64]*types.TrackedExit
}

// NewManager builds a position manager bound to adapter.
func NewManager(adapter broker.Adapter, log *zap.Logger) *Manager {
	return &Manager{
		adapter:   adapter,
		log:       log.Named("position"),
		positions: make(map[int64]*types.Position),
		exits:     make(map[int64]*types.TrackedExit),
	}
}

// Reconcile performs the four-step merge described in spec §4.9: fetch
// broker truth, merge/update known positions, finalise closed ones, and
// reconcile any divergence in volume to broker truth.
func (m *Manager) Reconcile(ctx context.Context, priceOf func(symbol string) (decimal.Decimal, bool)) (ReconcileResult, error) {
	brokerPositions, err := m.adapter.ListPositions(ctx)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("position: list_positions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result := ReconcileResult{}
	seen := make(map[int64]bool, len(brokerPositions))

	for _, bp := range brokerPositions {
		seen[bp.Ticket] = true
		local, known := m.positions[bp.Ticket]
		if !known {
			p := bp
			p.HoldingBars = 0
			p.MaxFavorable = decimal.Zero
			p.MaxAdverse = decimal.Zero
			if p.Origin == "" {
				p.Origin = types.PositionOriginAdopted
			}
			m.positions[bp.Ticket] = &p
			result.Opened = append(result.Opened, p)
			continue
		}

		if !local.Volume.Equal(bp.Volume) {
			m.log.Warn("reconciling volume divergence to broker truth",
				zap.Int64("ticket", bp.Ticket),
				zap.String("local", local.Volume.String()),
				zap.String("broker", bp.Volume.String()))
			result.Reconciled = append(result.Reconciled, bp.Ticket)
		}

		local.Volume = bp.Volume
		local.StopLoss = bp.StopLoss
		local.TakeProfit = bp.TakeProfit
		if price, ok := priceOf(local.Symbol); ok {
			local.CurrentPrice = price
			updateExtremes(local, price)
		}
		local.HoldingBars++
	}

	for ticket, local := range m.positions {
		if seen[ticket] {
			continue
		}
		trade := finaliseTrade(local)
		result.Closed = append(result.Closed, trade)
		delete(m.positions, ticket)
		delete(m.exits, ticket)
	}

	return result, nil
}

func updateExtremes(p *types.Position, price decimal.Decimal) {
	var favourable decimal.Decimal
	if p.Side == types.OrderSideLong {
		favourable = price.Sub(p.EntryPrice)
	} else {
		favourable = p.EntryPrice.Sub(price)
	}
	p.CurrentPrice = price
	if favourable.GreaterThan(p.MaxFavorable) {
		p.MaxFavorable = favourable
	}
	if favourable.IsNegative() && favourable.Abs().GreaterThan(p.MaxAdverse) {
		p.MaxAdverse = favourable.Abs()
	}
	if p.Side == types.OrderSideLong {
		p.UnrealizedPnL = price.Sub(p.EntryPrice).Mul(p.Volume)
	} else {
		p.UnrealizedPnL = p.EntryPrice.Sub(price).Mul(p.Volume)
	}
}

// finaliseTrade builds the closing trade record for a position that has
// disappeared from broker truth, with ExitReason "closed_at_broker";
// MarkClosed overwrites that with the exit coordinator's reason when the
// engine initiated the close.
func finaliseTrade(p *types.Position) types.Trade {
	return types.Trade{
		Ticket:       p.Ticket,
		Symbol:       p.Symbol,
		Side:         p.Side,
		Volume:       p.Volume,
		EntryPrice:   p.EntryPrice,
		ExitPrice:    p.CurrentPrice,
		PnL:          p.UnrealizedPnL,
		StrategyName: p.StrategyName,
		ExitReason:   "closed_at_broker",
		OpenedAt:     p.EntryTime,
		ClosedAt:     time.Now(),
		Win:          p.UnrealizedPnL.IsPositive(),
	}
}

// Register adds a newly-filled, engine-originated position to local
// state. Called by the orchestrator immediately after ExecutionEngine.Place
// reports a fill.
func (m *Manager) Register(p types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Origin = types.PositionOriginEngine
	m.positions[p.Ticket] = &p
}

// MarkClosed removes ticket from local state immediately after the
// orchestrator confirms an engine-initiated close, producing its trade
// record with the given exit reason and fill price.
func (m *Manager) MarkClosed(ticket int64, exitPrice decimal.Decimal, reason string) (types.Trade, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[ticket]
	if !ok {
		return types.Trade{}, false
	}
	p.CurrentPrice = exitPrice
	updateExtremes(p, exitPrice)
	trade := finaliseTrade(p)
	trade.ExitReason = reason
	delete(m.positions, ticket)
	delete(m.exits, ticket)
	return trade, true
}

// Snapshot returns a copy of all currently tracked positions.
func (m *Manager) Snapshot() []types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// Count returns the number of currently open positions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// TrackedExit returns (and lazily creates) the persistent exit-evaluation
// state for ticket, used by the exit coordinator across ticks.
func (m *Manager) TrackedExit(ticket int64) *types.TrackedExit {
	m.mu.Lock()
	defer m.mu.Unlock()
	te, ok := m.exits[ticket]
	if !ok {
		te = &types.TrackedExit{Ticket: ticket, ScaledTiersHit: make(map[string]bool)}
		m.exits[ticket] = te
	}
	return te
}
