package broker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/atlas-desktop/trading-core/pkg/utils"
	"github.com/shopspring/decimal"
)

// MemoryAdapter is a deterministic, in-process Adapter used by tests and
// the scenario suite (spec §8 "deterministic fakes"). It keeps bars,
// positions, and symbol specs entirely in memory and never touches the
// network.
type MemoryAdapter struct {
	mu sync.Mutex

	connected bool
	symbols   map[string]types.SymbolSpec // canonical upper-alnum -> spec
	bars      map[string][]types.Bar      // "SYMBOL|tf" -> closed bars, oldest first
	positions map[int64]types.Position
	nextTicket int64

	// orders dedups SendOrder calls by ClientTag so retried submissions
	// return the prior result instead of opening a second position.
	orders map[string]types.OrderResult

	// FailNextSendOrder, when >0, makes the next N SendOrder calls fail
	// with ErrTimeout, to drive the PENDING_UNKNOWN / retry scenario.
	FailNextSendOrder int

	// FailNextModifyPosition, when >0, makes the next N ModifyPosition
	// calls fail without applying, to drive the SL/TP unverified-retry
	// scenario.
	FailNextModifyPosition int
}

// NewMemoryAdapter builds an adapter pre-populated with symbols.
func NewMemoryAdapter(symbols ...types.SymbolSpec) *MemoryAdapter {
	m := &MemoryAdapter{
		symbols:    make(map[string]types.SymbolSpec),
		bars:       make(map[string][]types.Bar),
		positions:  make(map[int64]types.Position),
		orders:     make(map[string]types.OrderResult),
		nextTicket: 1,
	}
	for _, s := range symbols {
		m.symbols[utils.CanonicalSymbol(s.Symbol)] = s
	}
	return m
}

func (m *MemoryAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MemoryAdapter) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MemoryAdapter) ResolveSymbol(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := utils.CanonicalSymbol(name)
	if spec, ok := m.symbols[key]; ok {
		return spec.Symbol, nil
	}
	candidates := make([]string, 0, len(m.symbols))
	for _, s := range m.symbols {
		candidates = append(candidates, s.Symbol)
	}
	sort.Strings(candidates)
	return "", fmt.Errorf("%w: %q (candidates: %s)", ErrSymbolNotFound, name, strings.Join(candidates, ", "))
}

func (m *MemoryAdapter) SymbolSpec(ctx context.Context, symbol string) (types.SymbolSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if spec, ok := m.symbols[utils.CanonicalSymbol(symbol)]; ok {
		return spec, nil
	}
	return types.SymbolSpec{}, fmt.Errorf("%w: %q", ErrSymbolNotFound, symbol)
}

// SeedBars installs a deterministic bar history for (symbol, tf), sorted
// and deduplicated by timestamp as FetchBars would return them.
func (m *MemoryAdapter) SeedBars(symbol string, tf types.Timeframe, bars []types.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := append([]types.Bar(nil), bars...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	deduped := sorted[:0]
	for i, b := range sorted {
		if i > 0 && b.Timestamp.Equal(deduped[len(deduped)-1].Timestamp) {
			continue
		}
		deduped = append(deduped, b)
	}
	m.bars[barKey(symbol, tf)] = deduped
}

// AppendBar pushes a single new closed bar, as a live feed would.
func (m *MemoryAdapter) AppendBar(symbol string, tf types.Timeframe, bar types.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := barKey(symbol, tf)
	existing := m.bars[key]
	if len(existing) > 0 && !bar.Timestamp.After(existing[len(existing)-1].Timestamp) {
		return // out-of-order or duplicate, silently dropped like a real feed would reject it
	}
	m.bars[key] = append(existing, bar)
}

func barKey(symbol string, tf types.Timeframe) string {
	return utils.CanonicalSymbol(symbol) + "|" + string(tf)
}

func (m *MemoryAdapter) FetchBars(ctx context.Context, symbol string, tf types.Timeframe, n int) ([]types.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.bars[barKey(symbol, tf)]
	if n <= 0 || n >= len(all) {
		out := make([]types.Bar, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]types.Bar, n)
	copy(out, all[len(all)-n:])
	return out, nil
}

func (m *MemoryAdapter) SendOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.orders[req.ClientTag]; ok {
		return prior, nil // idempotent dedupe: same client_tag returns prior ticket
	}

	if m.FailNextSendOrder > 0 {
		m.FailNextSendOrder--
		return types.OrderResult{}, ErrTimeout
	}

	ticket := m.nextTicket
	m.nextTicket++

	result := types.OrderResult{
		ClientTag:    req.ClientTag,
		Status:       types.OrderResultFilled,
		Ticket:       ticket,
		FilledVolume: req.Volume,
		FillPrice:    req.Price,
	}
	m.orders[req.ClientTag] = result

	m.positions[ticket] = types.Position{
		Ticket:       ticket,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Volume:       req.Volume,
		EntryPrice:   req.Price,
		EntryTime:    time.Now(),
		CurrentPrice: req.Price,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		Origin:       types.PositionOriginEngine,
	}
	return result, nil
}

func (m *MemoryAdapter) ModifyPosition(ctx context.Context, ticket int64, sl, tp *decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNextModifyPosition > 0 {
		m.FailNextModifyPosition--
		return fmt.Errorf("broker: modify_position temporarily unavailable")
	}
	pos, ok := m.positions[ticket]
	if !ok {
		return fmt.Errorf("broker: unknown ticket %d", ticket)
	}
	if sl != nil {
		pos.StopLoss = *sl
	}
	if tp != nil {
		pos.TakeProfit = *tp
	}
	m.positions[ticket] = pos
	return nil
}

func (m *MemoryAdapter) ListPositions(ctx context.Context) ([]types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (m *MemoryAdapter) ClosePosition(ctx context.Context, ticket int64, volume decimal.Decimal) (types.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[ticket]
	if !ok {
		return types.OrderResult{}, fmt.Errorf("broker: unknown ticket %d", ticket)
	}
	remaining := pos.Volume.Sub(volume)
	result := types.OrderResult{
		Status:       types.OrderResultFilled,
		Ticket:       ticket,
		FilledVolume: volume,
		FillPrice:    pos.CurrentPrice,
	}
	if remaining.LessThanOrEqual(decimal.Zero) {
		delete(m.positions, ticket)
	} else {
		pos.Volume = remaining
		m.positions[ticket] = pos
	}
	return result, nil
}

// SeedPosition installs a position as broker truth without going through
// SendOrder, simulating a ticket opened by some other terminal client
// (e.g. a manual trade) for adoption-scan tests. If p.Ticket is zero, the
// adapter's own ticket sequence assigns one.
func (m *MemoryAdapter) SeedPosition(p types.Position) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Ticket == 0 {
		p.Ticket = m.nextTicket
		m.nextTicket++
	}
	m.positions[p.Ticket] = p
	return p.Ticket
}

// SetPrice updates a position's mark price directly, used by tests to
// drive unrealized PnL and exit evaluation without a full tick pipeline.
func (m *MemoryAdapter) SetPrice(ticket int64, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.positions[ticket]; ok {
		pos.CurrentPrice = price
		m.positions[ticket] = pos
	}
}
