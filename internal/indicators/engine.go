// Package indicators computes a declarative set of technical indicators
// per tick, in topological order, over a single pass (spec §4.2).
package indicators

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Definition declares one indicator: its output key, the inputs it reads
// (other indicator keys or the reserved price/volume series), and the
// compute function that turns closed bars plus already-computed
// dependency values into this indicator's latest value.
type Definition struct {
	Key      string
	Inputs   []string
	Compute  func(bars []types.Bar, deps map[string]float64) float64
}

// Reserved input names referring to raw bar series rather than another
// indicator's output.
const (
	InputClose  = "__close"
	InputHigh   = "__high"
	InputLow    = "__low"
	InputVolume = "__volume"
)

// RuntimePrefix namespaces dynamically added series so they never
// collide with the built-in indicator set (spec §4.2).
const RuntimePrefix = "runtime_"

// Engine evaluates a fixed set of Definitions in topological order and
// produces an IndicatorFrame per (symbol, timeframe) tick.
type Engine struct {
	defs  []Definition
	order []Definition
}

// NewEngine topologically sorts defs once at construction; Evaluate then
// just walks the precomputed order every tick.
func NewEngine(defs []Definition) (*Engine, error) {
	order, err := topoSort(defs)
	if err != nil {
		return nil, err
	}
	return &Engine{defs: defs, order: order}, nil
}

// Evaluate computes every indicator's latest value from bars (oldest
// first) and returns a populated IndicatorFrame. Indicators with
// insufficient history produce NaN, per the missing-data policy.
func (e *Engine) Evaluate(bars []types.Bar) types.IndicatorFrame {
	frame := types.IndicatorFrame{Values: make(map[string]float64, len(e.order))}
	deps := make(map[string]float64, len(e.order))

	for _, d := range e.order {
		depVals := make(map[string]float64, len(d.Inputs))
		for _, in := range d.Inputs {
			switch in {
			case InputClose, InputHigh, InputLow, InputVolume:
				// raw series, Compute pulls directly from bars
			default:
				depVals[in] = deps[in]
			}
		}
		val := d.Compute(bars, depVals)
		deps[d.Key] = val
		frame.Values[d.Key] = val
	}
	return frame
}

func topoSort(defs []Definition) ([]Definition, error) {
	byKey := make(map[string]Definition, len(defs))
	for _, d := range defs {
		byKey[d.Key] = d
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(defs))
	var order []Definition

	var visit func(key string) error
	visit = func(key string) error {
		switch state[key] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("indicators: cycle detected at %q", key)
		}
		state[key] = visiting
		def, ok := byKey[key]
		if !ok {
			return fmt.Errorf("indicators: unknown dependency %q", key)
		}
		for _, in := range def.Inputs {
			switch in {
			case InputClose, InputHigh, InputLow, InputVolume:
				continue
			}
			if err := visit(in); err != nil {
				return err
			}
		}
		state[key] = visited
		order = append(order, def)
		return nil
	}

	for _, d := range defs {
		if err := visit(d.Key); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func closes(bars []types.Bar) []float64  { return series(bars, func(b types.Bar) float64 { return f(b.Close) }) }
func highs(bars []types.Bar) []float64   { return series(bars, func(b types.Bar) float64 { return f(b.High) }) }
func lows(bars []types.Bar) []float64    { return series(bars, func(b types.Bar) float64 { return f(b.Low) }) }
func volumes(bars []types.Bar) []float64 { return series(bars, func(b types.Bar) float64 { return f(b.Volume) }) }

func series(bars []types.Bar, pick func(types.Bar) float64) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = pick(b)
	}
	return out
}

func f(d interface{ InexactFloat64() float64 }) float64 { return d.InexactFloat64() }

func lastOrNaN(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

// tailMean averages the last n non-NaN values of series, skipping the
// talib warm-up NaN padding at the front. Used to turn a full indicator
// series (e.g. ATR) into a rolling average of that indicator.
func tailMean(series []float64, n int) float64 {
	clean := make([]float64, 0, len(series))
	for _, v := range series {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	if len(clean) < n {
		return math.NaN()
	}
	tail := clean[len(clean)-n:]
	sum := 0.0
	for _, v := range tail {
		sum += v
	}
	return sum / float64(n)
}

// highLow returns the max/min of xs, or NaN if xs is empty.
func highLow(xs []float64) (hi, lo float64) {
	if len(xs) == 0 {
		return math.NaN(), math.NaN()
	}
	hi, lo = xs[0], xs[0]
	for _, x := range xs[1:] {
		if x > hi {
			hi = x
		}
		if x < lo {
			lo = x
		}
	}
	return hi, lo
}

// Lengths bundles every lookback period StandardSet needs, so adding a
// new rolling indicator doesn't grow a long positional parameter list.
type Lengths struct {
	EMA           int
	SMA           int
	RSI           int
	ATR           int
	BB            int
	ADX           int
	ATRAvg        int // bars averaged for the rolling ATR baseline (regime §4.3 rule 4/5)
	VolumeAvg     int // bars averaged for the rolling volume baseline
	RangeLookback int // bars scanned for the recent high/low breakout range, excluding the current bar
	MACDFast      int
	MACDSlow      int
	MACDSignal    int
}

// StandardSet returns the built-in indicator definitions named in spec
// §4.2: EMA/SMA recursive, ATR/RSI Wilder-smoothed, Bollinger width as
// 2*stddev(close,n), ADX via the standard directional-movement recipe,
// MACD via the standard 12/26/9 recipe, and the rolling ATR/volume
// baselines plus recent high/low range the regime classifier's volatile
// rules (§4.3 rules 4-5) need alongside the current-bar values.
func StandardSet(l Lengths) []Definition {
	return []Definition{
		{Key: "ema", Inputs: []string{InputClose}, Compute: func(bars []types.Bar, _ map[string]float64) float64 {
			if len(bars) < l.EMA {
				return math.NaN()
			}
			return lastOrNaN(talib.Ema(closes(bars), l.EMA))
		}},
		{Key: "sma", Inputs: []string{InputClose}, Compute: func(bars []types.Bar, _ map[string]float64) float64 {
			if len(bars) < l.SMA {
				return math.NaN()
			}
			return lastOrNaN(talib.Sma(closes(bars), l.SMA))
		}},
		{Key: "rsi", Inputs: []string{InputClose}, Compute: func(bars []types.Bar, _ map[string]float64) float64 {
			if len(bars) < l.RSI+1 {
				return math.NaN()
			}
			return lastOrNaN(talib.Rsi(closes(bars), l.RSI))
		}},
		{Key: "atr", Inputs: []string{InputHigh, InputLow, InputClose}, Compute: func(bars []types.Bar, _ map[string]float64) float64 {
			if len(bars) < l.ATR+1 {
				return math.NaN()
			}
			return lastOrNaN(talib.Atr(highs(bars), lows(bars), closes(bars), l.ATR))
		}},
		{Key: "atr_avg", Inputs: []string{InputHigh, InputLow, InputClose}, Compute: func(bars []types.Bar, _ map[string]float64) float64 {
			if len(bars) < l.ATR+l.ATRAvg {
				return math.NaN()
			}
			return tailMean(talib.Atr(highs(bars), lows(bars), closes(bars), l.ATR), l.ATRAvg)
		}},
		{Key: "volume", Inputs: []string{InputVolume}, Compute: func(bars []types.Bar, _ map[string]float64) float64 {
			return lastOrNaN(volumes(bars))
		}},
		{Key: "volume_avg", Inputs: []string{InputVolume}, Compute: func(bars []types.Bar, _ map[string]float64) float64 {
			vs := volumes(bars)
			if len(vs) < l.VolumeAvg {
				return math.NaN()
			}
			return tailMean(vs, l.VolumeAvg)
		}},
		{Key: "recent_high", Inputs: []string{InputHigh}, Compute: func(bars []types.Bar, _ map[string]float64) float64 {
			hs := highs(bars)
			if len(hs) <= l.RangeLookback {
				return math.NaN()
			}
			window := hs[len(hs)-1-l.RangeLookback : len(hs)-1]
			hi, _ := highLow(window)
			return hi
		}},
		{Key: "recent_low", Inputs: []string{InputLow}, Compute: func(bars []types.Bar, _ map[string]float64) float64 {
			ls := lows(bars)
			if len(ls) <= l.RangeLookback {
				return math.NaN()
			}
			window := ls[len(ls)-1-l.RangeLookback : len(ls)-1]
			_, lo := highLow(window)
			return lo
		}},
		{Key: "adx", Inputs: []string{InputHigh, InputLow, InputClose}, Compute: func(bars []types.Bar, _ map[string]float64) float64 {
			if len(bars) < l.ADX*2 {
				return math.NaN()
			}
			return lastOrNaN(talib.Adx(highs(bars), lows(bars), closes(bars), l.ADX))
		}},
		{Key: "bb_mid", Inputs: []string{InputClose}, Compute: func(bars []types.Bar, _ map[string]float64) float64 {
			if len(bars) < l.BB {
				return math.NaN()
			}
			_, mid, _ := talib.BBands(closes(bars), l.BB, 2, 2, talib.SMA)
			return lastOrNaN(mid)
		}},
		{Key: "bb_width", Inputs: []string{"bb_mid", InputClose}, Compute: func(bars []types.Bar, deps map[string]float64) float64 {
			if len(bars) < l.BB {
				return math.NaN()
			}
			cs := closes(bars)
			mean, stddev := meanStdDev(cs[len(cs)-l.BB:])
			_ = mean
			return 2 * stddev
		}},
		{Key: "macd", Inputs: []string{InputClose}, Compute: func(bars []types.Bar, _ map[string]float64) float64 {
			if len(bars) < l.MACDSlow+l.MACDSignal {
				return math.NaN()
			}
			macd, _, _ := talib.Macd(closes(bars), l.MACDFast, l.MACDSlow, l.MACDSignal)
			return lastOrNaN(macd)
		}},
		{Key: "macd_signal", Inputs: []string{InputClose}, Compute: func(bars []types.Bar, _ map[string]float64) float64 {
			if len(bars) < l.MACDSlow+l.MACDSignal {
				return math.NaN()
			}
			_, signal, _ := talib.Macd(closes(bars), l.MACDFast, l.MACDSlow, l.MACDSignal)
			return lastOrNaN(signal)
		}},
		{Key: "macd_hist", Inputs: []string{InputClose}, Compute: func(bars []types.Bar, _ map[string]float64) float64 {
			if len(bars) < l.MACDSlow+l.MACDSignal {
				return math.NaN()
			}
			_, _, hist := talib.Macd(closes(bars), l.MACDFast, l.MACDSlow, l.MACDSignal)
			return lastOrNaN(hist)
		}},
	}
}

func meanStdDev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return math.NaN(), math.NaN()
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}
