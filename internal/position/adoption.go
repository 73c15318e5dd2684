package position

import (
	"context"
	"strings"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Protector applies default protection to an adopted position — an SL at
// the configured emergency percentage and a TP at the configured R:R,
// implemented by the execution engine.
type Protector interface {
	ApplyDefaultProtection(ctx context.Context, ticket int64, symbol string, side types.OrderSide, entryPrice decimal.Decimal, emergencyPct, riskReward decimal.Decimal) error
}

// Scanner flags broker positions the engine did not originate and brings
// them under management (spec §4.9).
type Scanner struct {
	cfg           types.AdoptionConfig
	emergencyPct  decimal.Decimal
	protector     Protector
	log           *zap.Logger
	adoptedTickets map[int64]bool
}

// NewScanner builds an adoption scanner.
func NewScanner(cfg types.AdoptionConfig, emergencyPct decimal.Decimal, protector Protector, log *zap.Logger) *Scanner {
	return &Scanner{
		cfg:           cfg,
		emergencyPct:  emergencyPct,
		protector:     protector,
		log:           log.Named("adoption"),
		adoptedTickets: make(map[int64]bool),
	}
}

// IsCrypto reports whether symbol carries one of the configured crypto
// prefixes, exempting it from weekend time-based exit.
func (s *Scanner) IsCrypto(symbol string) bool {
	upper := strings.ToUpper(symbol)
	for _, prefix := range s.cfg.CryptoPrefixes {
		if strings.HasPrefix(upper, strings.ToUpper(prefix)) {
			return true
		}
	}
	return false
}

func (s *Scanner) eligible(symbol string) bool {
	if len(s.cfg.IgnoreSymbols) > 0 {
		for _, sym := range s.cfg.IgnoreSymbols {
			if strings.EqualFold(sym, symbol) {
				return false
			}
		}
	}
	if len(s.cfg.AdoptSymbols) == 0 {
		return true
	}
	for _, sym := range s.cfg.AdoptSymbols {
		if strings.EqualFold(sym, symbol) {
			return true
		}
	}
	return false
}

// Scan inspects the given positions (the orchestrator passes its full
// snapshot), skipping any not classified as PositionOriginAdopted by
// Reconcile or already adopted, applies the policy table, and — unless
// log_only is set — attaches default protection.
func (s *Scanner) Scan(ctx context.Context, opened []types.Position) {
	if !s.cfg.Enabled {
		return
	}
	for _, p := range opened {
		if p.Origin != types.PositionOriginAdopted || s.adoptedTickets[p.Ticket] {
			continue
		}
		s.adoptedTickets[p.Ticket] = true

		if !s.eligible(p.Symbol) {
			s.log.Info("adopted position ignored by policy", zap.Int64("ticket", p.Ticket), zap.String("symbol", p.Symbol))
			continue
		}
		if s.cfg.MaxAge > 0 && !p.EntryTime.IsZero() && time.Since(p.EntryTime) > s.cfg.MaxAge {
			s.log.Info("adopted position exceeds max age, skipping protection", zap.Int64("ticket", p.Ticket))
			continue
		}

		s.log.Warn("adopting externally-opened position", zap.Int64("ticket", p.Ticket), zap.String("symbol", p.Symbol))
		if s.cfg.LogOnly {
			continue
		}
		if err := s.protector.ApplyDefaultProtection(ctx, p.Ticket, p.Symbol, p.Side, p.EntryPrice, s.emergencyPct, s.cfg.RiskRewardRatio); err != nil {
			s.log.Error("failed to apply default protection to adopted position", zap.Int64("ticket", p.Ticket), zap.Error(err))
		}
	}
}
