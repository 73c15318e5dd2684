package exits

import (
	"sort"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Coordinator evaluates the full policy set for each open position every
// tick, and returns the highest-adjusted-priority non-nil signal.
type Coordinator struct {
	cfg      types.ExitsConfig
	policies []Policy
	log      *zap.Logger
}

// NewCoordinator builds the coordinator with the canonical policy set
// (spec §4.10). balance is consulted live by MicroAccountProtect.
func NewCoordinator(cfg types.ExitsConfig, emergencyPct decimal.Decimal, balance func() decimal.Decimal, log *zap.Logger) *Coordinator {
	return &Coordinator{
		cfg: cfg,
		log: log.Named("exits"),
		policies: []Policy{
			survivalMode{},
			adaptiveLossExit{},
			newMicroAccountProtect(emergencyPct, balance),
			confluenceExit{},
			adverseMovement{},
			stopLoss{},
			profitScaling{},
			takeProfit{},
			timeBased{},
			trailingStop{},
		},
	}
}

// Evaluate ranks policies by adjusted priority (base + context delta) and
// returns the first one that fires. Ties fall back to the static base
// priority ordering for determinism.
func (c *Coordinator) Evaluate(ctx Context) *Signal {
	type ranked struct {
		policy   Policy
		adjusted int
	}
	ranks := make([]ranked, 0, len(c.policies))
	for _, p := range c.policies {
		ranks = append(ranks, ranked{p, p.BasePriority() + contextDelta(p.Name(), ctx)})
	}
	sort.SliceStable(ranks, func(i, j int) bool {
		if ranks[i].adjusted != ranks[j].adjusted {
			return ranks[i].adjusted > ranks[j].adjusted
		}
		return ranks[i].policy.BasePriority() > ranks[j].policy.BasePriority()
	})

	for _, r := range ranks {
		if sig := r.policy.Evaluate(ctx, c.cfg); sig != nil {
			c.log.Info("exit signal",
				zap.Int64("ticket", ctx.Position.Ticket),
				zap.String("policy", sig.Policy),
				zap.String("reason", sig.Reason),
				zap.String("close_pct", sig.ClosePct.String()))
			return sig
		}
	}
	return nil
}
