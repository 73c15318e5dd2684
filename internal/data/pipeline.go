// Package data maintains the in-memory ordered bar windows the rest of
// the engine reads from (spec §4.2 DataPipeline).
package data

import (
	"fmt"
	"sync"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

// SafetyMargin is added on top of the largest indicator lookback when
// sizing a symbol/timeframe window, so an indicator's full lookback is
// always satisfiable even after a dedupe/reject trims a few bars.
const SafetyMargin = 50

// Pipeline keeps an ordered, deduplicated bar window per (symbol,
// timeframe), rejecting out-of-order or duplicate-timestamp bars.
type Pipeline struct {
	mu        sync.RWMutex
	windowCap int
	series    map[string][]types.Bar
}

// NewPipeline builds a pipeline whose per-series window holds windowCap
// bars (already including safety margin — callers compute
// largestLookback+SafetyMargin and pass it in).
func NewPipeline(windowCap int) *Pipeline {
	return &Pipeline{
		windowCap: windowCap,
		series:    make(map[string][]types.Bar),
	}
}

func key(symbol string, tf types.Timeframe) string {
	return symbol + "|" + string(tf)
}

// Ingest appends bar to its series if it is strictly newer than the
// series' last bar. Returns false (no error) if the bar was rejected as
// out-of-order or a duplicate timestamp — this is expected steady-state
// behavior, not a fault.
func (p *Pipeline) Ingest(bar types.Bar) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := key(bar.Symbol, bar.Timeframe)
	series := p.series[k]
	if len(series) > 0 {
		last := series[len(series)-1]
		if !bar.Timestamp.After(last.Timestamp) {
			return false
		}
	}

	series = append(series, bar)
	if len(series) > p.windowCap {
		series = series[len(series)-p.windowCap:]
	}
	p.series[k] = series
	return true
}

// Window returns the last n bars for (symbol, timeframe), oldest first.
// If fewer than n exist, all available bars are returned.
func (p *Pipeline) Window(symbol string, tf types.Timeframe, n int) []types.Bar {
	p.mu.RLock()
	defer p.mu.RUnlock()

	series := p.series[key(symbol, tf)]
	if n <= 0 || n >= len(series) {
		out := make([]types.Bar, len(series))
		copy(out, series)
		return out
	}
	out := make([]types.Bar, n)
	copy(out, series[len(series)-n:])
	return out
}

// Latest returns the most recent bar for (symbol, timeframe), if any.
func (p *Pipeline) Latest(symbol string, tf types.Timeframe) (types.Bar, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	series := p.series[key(symbol, tf)]
	if len(series) == 0 {
		return types.Bar{}, false
	}
	return series[len(series)-1], true
}

// Len reports how many bars are currently held for (symbol, timeframe).
func (p *Pipeline) Len(symbol string, tf types.Timeframe) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.series[key(symbol, tf)])
}

// Backfill seeds a series from a bulk fetch (e.g. BrokerAdapter.FetchBars
// at startup), replacing whatever is currently held. Bars must already be
// ordered oldest-first; Backfill still dedupes and truncates to the cap.
func (p *Pipeline) Backfill(symbol string, tf types.Timeframe, bars []types.Bar) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]types.Bar, 0, len(bars))
	for _, b := range bars {
		if len(out) > 0 && !b.Timestamp.After(out[len(out)-1].Timestamp) {
			continue // dedupe/out-of-order within the backfill batch itself
		}
		if b.Symbol != symbol || b.Timeframe != tf {
			return fmt.Errorf("data: backfill bar mismatches series %s/%s", symbol, tf)
		}
		out = append(out, b)
	}
	if len(out) > p.windowCap {
		out = out[len(out)-p.windowCap:]
	}
	p.series[key(symbol, tf)] = out
	return nil
}
