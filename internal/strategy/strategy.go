// Package strategy provides the canonical strategy set (spec §4.4). Every
// strategy is a pure function of the latest bar and indicator frame; any
// state that must persist across ticks lives in the shared indicator
// window, never inside the strategy itself.
package strategy

import (
	"sync"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"go.uber.org/zap"
)

// Strategy is the interface every canonical strategy implements.
type Strategy interface {
	Name() string
	// RequiredIndicators lists the IndicatorFrame keys this strategy
	// reads, so the orchestrator can verify the engine computes them.
	RequiredIndicators() []string
	// OnBar evaluates the latest closed bar and current indicator state,
	// returning a Signal or nil if no entry condition is met.
	OnBar(bar types.Bar, frame types.IndicatorFrame, params Params) (*types.Signal, error)
}

// Params carries tunable per-strategy thresholds, populated from config.
type Params map[string]float64

func (p Params) get(key string, fallback float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return fallback
}

// Registry holds the fixed, closed set of strategy factories (spec §9:
// "no runtime plugin discovery in the core").
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry builds a registry pre-populated with the seven canonical
// strategies.
func NewRegistry(log *zap.Logger) *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	for _, s := range []Strategy{
		NewSMACrossover(log),
		NewEMACrossover(log),
		NewRSIReversal(log),
		NewMomentumBreakout(log),
		NewScalping(log),
		NewMeanReversion(log),
		NewTrendFollowing(log),
	} {
		r.Register(s)
	}
	return r
}

// Register adds (or replaces) a strategy by name.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get returns the named strategy, if registered.
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// Names returns every registered strategy name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	return names
}

// All returns every registered strategy.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	return out
}
