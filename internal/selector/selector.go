// Package selector chooses which strategy's signal to act on each tick,
// weighting historical performance, regime affinity, and signal
// confidence (spec §4.5).
package selector

import (
	"sort"
	"time"

	"github.com/atlas-desktop/trading-core/internal/strategy"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Affinity is the static (strategy, regime) lookup table — data, not
// code, per spec §4.5.
type Affinity map[string]map[types.RegimeLabel]float64

// DefaultAffinity returns a table biased toward each strategy's natural
// regime: trend strategies score highest in trending regimes, mean
// reversion in ranging/consolidating regimes, breakout strategies in
// volatile regimes, and the faster reactive strategies stay moderate
// everywhere.
func DefaultAffinity() Affinity {
	strong := map[types.RegimeLabel]float64{
		types.RegimeTrendingUpStrong: 0.9, types.RegimeTrendingDownStrong: 0.9,
		types.RegimeTrendingUpWeak: 0.6, types.RegimeTrendingDownWeak: 0.6,
		types.RegimeRangingTight: 0.2, types.RegimeRangingWide: 0.3,
		types.RegimeVolatileBreakout: 0.5, types.RegimeVolatileConsolidation: 0.3,
		types.RegimeConsolidating: 0.2, types.RegimeReversal: 0.4,
	}
	reverting := map[types.RegimeLabel]float64{
		types.RegimeTrendingUpStrong: 0.2, types.RegimeTrendingDownStrong: 0.2,
		types.RegimeTrendingUpWeak: 0.4, types.RegimeTrendingDownWeak: 0.4,
		types.RegimeRangingTight: 0.9, types.RegimeRangingWide: 0.8,
		types.RegimeVolatileBreakout: 0.2, types.RegimeVolatileConsolidation: 0.5,
		types.RegimeConsolidating: 0.8, types.RegimeReversal: 0.6,
	}
	breakout := map[types.RegimeLabel]float64{
		types.RegimeTrendingUpStrong: 0.5, types.RegimeTrendingDownStrong: 0.5,
		types.RegimeTrendingUpWeak: 0.4, types.RegimeTrendingDownWeak: 0.4,
		types.RegimeRangingTight: 0.3, types.RegimeRangingWide: 0.4,
		types.RegimeVolatileBreakout: 0.95, types.RegimeVolatileConsolidation: 0.3,
		types.RegimeConsolidating: 0.2, types.RegimeReversal: 0.5,
	}
	balanced := map[types.RegimeLabel]float64{
		types.RegimeTrendingUpStrong: 0.5, types.RegimeTrendingDownStrong: 0.5,
		types.RegimeTrendingUpWeak: 0.5, types.RegimeTrendingDownWeak: 0.5,
		types.RegimeRangingTight: 0.5, types.RegimeRangingWide: 0.5,
		types.RegimeVolatileBreakout: 0.4, types.RegimeVolatileConsolidation: 0.4,
		types.RegimeConsolidating: 0.4, types.RegimeReversal: 0.5,
	}
	return Affinity{
		"sma_crossover":      strong,
		"ema_crossover":      strong,
		"trend_following":    strong,
		"mean_reversion":     reverting,
		"rsi_reversal":       reverting,
		"momentum_breakout":  breakout,
		"scalping":           balanced,
	}
}

func (a Affinity) score(name string, regime types.RegimeLabel) float64 {
	if byRegime, ok := a[name]; ok {
		if v, ok := byRegime[regime]; ok {
			return v
		}
	}
	return 0.5
}

// Weights sums to 1 and scores each strategy per spec §4.5 step 2.
type Weights struct {
	Performance float64
	Regime      float64
	Confidence  float64
}

// Selector picks a primary strategy plus a fallback chain each tick.
type Selector struct {
	registry            *strategy.Registry
	affinity            Affinity
	weights             Weights
	fallbackDepth       int
	minStrategySignals  int
	regimeCheckInterval time.Duration

	lastRegimeCheck time.Time
	currentRegime   types.RegimeLabel
}

// NewSelector builds a selector. It does not classify regimes itself;
// the orchestrator calls ShouldRefreshRegime/SetRegime to throttle
// reclassification to regimeCheckInterval.
func NewSelector(registry *strategy.Registry, affinity Affinity, weights Weights, fallbackDepth, minStrategySignals int, regimeCheckInterval time.Duration) *Selector {
	return &Selector{
		registry:            registry,
		affinity:            affinity,
		weights:             weights,
		fallbackDepth:       fallbackDepth,
		minStrategySignals:  minStrategySignals,
		regimeCheckInterval: regimeCheckInterval,
	}
}

// ShouldRefreshRegime reports whether regime_check_interval has elapsed
// since the last classification.
func (s *Selector) ShouldRefreshRegime(now time.Time) bool {
	return now.Sub(s.lastRegimeCheck) >= s.regimeCheckInterval
}

// SetRegime records a freshly classified regime and resets the throttle.
func (s *Selector) SetRegime(label types.RegimeLabel, now time.Time) {
	s.currentRegime = label
	s.lastRegimeCheck = now
}

// CurrentRegime returns the last classified regime.
func (s *Selector) CurrentRegime() types.RegimeLabel { return s.currentRegime }

func perfScore(stats *types.StrategyStats, minSignals int) float64 {
	if stats == nil || stats.TotalSignals < minSignals {
		return 0.5 // cold-start neutral
	}
	winRate := stats.WinRate()
	pf := stats.ProfitFactor()
	pfCapped := pf / 2
	if pfCapped > 1 {
		pfCapped = 1
	}
	recent := stats.RecentPerformance()
	return 0.5*winRate + 0.3*pfCapped + 0.2*recent
}

type scored struct {
	name  string
	score float64
}

// Rank orders every registered strategy by total_score, descending.
func (s *Selector) Rank(stats map[string]*types.StrategyStats) []string {
	var ranked []scored
	for _, name := range s.registry.Names() {
		perf := perfScore(stats[name], s.minStrategySignals)
		regimeAffinity := s.affinity.score(name, s.currentRegime)
		avgConf := 0.5
		if st, ok := stats[name]; ok && st != nil && !st.AverageConfidence.IsZero() {
			avgConf, _ = st.AverageConfidence.Float64()
		}
		total := s.weights.Performance*perf + s.weights.Regime*regimeAffinity + s.weights.Confidence*avgConf
		ranked = append(ranked, scored{name: name, score: total})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.name
	}
	return out
}

// SelectSignal requests a signal from the top-ranked strategy, falling
// through the next fallbackDepth candidates until one produces a signal
// (spec §4.5 step 5). Returns the signal and the name of the strategy
// that produced it.
func (s *Selector) SelectSignal(bar types.Bar, frame types.IndicatorFrame, params map[string]strategy.Params, stats map[string]*types.StrategyStats) (*types.Signal, string, error) {
	ranked := s.Rank(stats)
	limit := 1 + s.fallbackDepth
	if limit > len(ranked) {
		limit = len(ranked)
	}
	for _, name := range ranked[:limit] {
		strat, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		sig, err := strat.OnBar(bar, frame, params[name])
		if err != nil {
			return nil, "", err
		}
		if sig != nil {
			return sig, name, nil
		}
	}
	return nil, "", nil
}
