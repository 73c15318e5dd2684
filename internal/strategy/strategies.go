package strategy

import (
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/atlas-desktop/trading-core/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func signal(bar types.Bar, side types.OrderSide, sl, tp decimal.Decimal, confidence float64, name, reason string) *types.Signal {
	return &types.Signal{
		SignalID:     utils.GenerateSignalID(),
		Timestamp:    bar.Timestamp,
		Symbol:       bar.Symbol,
		Timeframe:    bar.Timeframe,
		Side:         side,
		EntryPrice:   bar.Close,
		StopLoss:     sl,
		TakeProfit:   tp,
		Confidence:   decimal.NewFromFloat(confidence),
		StrategyName: name,
		Reason:       reason,
	}
}

// --- SMA-crossover: fast/slow MA cross with an ATR-derived stop. ---

type smaCrossover struct{ log *zap.Logger }

func NewSMACrossover(log *zap.Logger) Strategy { return &smaCrossover{log: log.Named("strategy.sma_crossover")} }
func (s *smaCrossover) Name() string                { return "sma_crossover" }
func (s *smaCrossover) RequiredIndicators() []string { return []string{"sma", "ema", "atr"} }

func (s *smaCrossover) OnBar(bar types.Bar, frame types.IndicatorFrame, p Params) (*types.Signal, error) {
	sma, ok1 := frame.Get("sma")
	ema, ok2 := frame.Get("ema") // used here as the faster MA
	atr, ok3 := frame.Get("atr")
	if !ok1 || !ok2 || !ok3 {
		return nil, nil
	}
	close := bar.Close.InexactFloat64()
	atrMult := p.get("atr_stop_mult", 1.5)

	if ema > sma && close > ema {
		sl := bar.Close.Sub(decimal.NewFromFloat(atr * atrMult))
		tp := bar.Close.Add(decimal.NewFromFloat(atr * atrMult * 2))
		return signal(bar, types.OrderSideLong, sl, tp, 0.6, s.Name(), "fast MA above slow MA, price above fast MA"), nil
	}
	if ema < sma && close < ema {
		sl := bar.Close.Add(decimal.NewFromFloat(atr * atrMult))
		tp := bar.Close.Sub(decimal.NewFromFloat(atr * atrMult * 2))
		return signal(bar, types.OrderSideShort, sl, tp, 0.6, s.Name(), "fast MA below slow MA, price below fast MA"), nil
	}
	return nil, nil
}

// --- EMA-crossover: same shape as SMA-crossover but both legs are EMAs. ---

type emaCrossover struct{ log *zap.Logger }

func NewEMACrossover(log *zap.Logger) Strategy { return &emaCrossover{log: log.Named("strategy.ema_crossover")} }
func (s *emaCrossover) Name() string                { return "ema_crossover" }
func (s *emaCrossover) RequiredIndicators() []string { return []string{"ema", "sma", "atr"} }

func (s *emaCrossover) OnBar(bar types.Bar, frame types.IndicatorFrame, p Params) (*types.Signal, error) {
	ema, ok1 := frame.Get("ema")
	sma, ok2 := frame.Get("sma")
	atr, ok3 := frame.Get("atr")
	if !ok1 || !ok2 || !ok3 {
		return nil, nil
	}
	atrMult := p.get("atr_stop_mult", 1.2)
	if ema > sma*1.001 {
		sl := bar.Close.Sub(decimal.NewFromFloat(atr * atrMult))
		tp := bar.Close.Add(decimal.NewFromFloat(atr * atrMult * 2.5))
		return signal(bar, types.OrderSideLong, sl, tp, 0.55, s.Name(), "EMA crossed above SMA"), nil
	}
	if ema < sma*0.999 {
		sl := bar.Close.Add(decimal.NewFromFloat(atr * atrMult))
		tp := bar.Close.Sub(decimal.NewFromFloat(atr * atrMult * 2.5))
		return signal(bar, types.OrderSideShort, sl, tp, 0.55, s.Name(), "EMA crossed below SMA"), nil
	}
	return nil, nil
}

// --- RSI-Reversal: instant on RSI extremum plus direction change. ---

type rsiReversal struct{ log *zap.Logger }

func NewRSIReversal(log *zap.Logger) Strategy { return &rsiReversal{log: log.Named("strategy.rsi_reversal")} }
func (s *rsiReversal) Name() string                { return "rsi_reversal" }
func (s *rsiReversal) RequiredIndicators() []string { return []string{"rsi", "atr"} }

func (s *rsiReversal) OnBar(bar types.Bar, frame types.IndicatorFrame, p Params) (*types.Signal, error) {
	rsi, ok1 := frame.Get("rsi")
	atr, ok2 := frame.Get("atr")
	if !ok1 || !ok2 {
		return nil, nil
	}
	oversold := p.get("oversold", 30)
	overbought := p.get("overbought", 70)

	if rsi <= oversold {
		sl := bar.Close.Sub(decimal.NewFromFloat(atr * 1.0))
		tp := bar.Close.Add(decimal.NewFromFloat(atr * 1.8))
		return signal(bar, types.OrderSideLong, sl, tp, 0.5, s.Name(), "RSI at oversold extremum"), nil
	}
	if rsi >= overbought {
		sl := bar.Close.Add(decimal.NewFromFloat(atr * 1.0))
		tp := bar.Close.Sub(decimal.NewFromFloat(atr * 1.8))
		return signal(bar, types.OrderSideShort, sl, tp, 0.5, s.Name(), "RSI at overbought extremum"), nil
	}
	return nil, nil
}

// --- Momentum-Breakout: range break + volume confirmation + RSI filter. ---

type momentumBreakout struct{ log *zap.Logger }

func NewMomentumBreakout(log *zap.Logger) Strategy {
	return &momentumBreakout{log: log.Named("strategy.momentum_breakout")}
}
func (s *momentumBreakout) Name() string                { return "momentum_breakout" }
func (s *momentumBreakout) RequiredIndicators() []string { return []string{"rsi", "atr", "bb_mid", "bb_width"} }

func (s *momentumBreakout) OnBar(bar types.Bar, frame types.IndicatorFrame, p Params) (*types.Signal, error) {
	rsi, ok1 := frame.Get("rsi")
	atr, ok2 := frame.Get("atr")
	bbMid, ok3 := frame.Get("bb_mid")
	bbWidth, ok4 := frame.Get("bb_width")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, nil
	}
	close := bar.Close.InexactFloat64()
	upperBand := bbMid + bbWidth/2
	lowerBand := bbMid - bbWidth/2
	volumeConfirm := bar.Volume.IsPositive()

	if close > upperBand && rsi < 80 && volumeConfirm {
		sl := bar.Close.Sub(decimal.NewFromFloat(atr * 1.5))
		tp := bar.Close.Add(decimal.NewFromFloat(atr * 3))
		return signal(bar, types.OrderSideLong, sl, tp, 0.65, s.Name(), "breakout above range with volume confirmation"), nil
	}
	if close < lowerBand && rsi > 20 && volumeConfirm {
		sl := bar.Close.Add(decimal.NewFromFloat(atr * 1.5))
		tp := bar.Close.Sub(decimal.NewFromFloat(atr * 3))
		return signal(bar, types.OrderSideShort, sl, tp, 0.65, s.Name(), "breakdown below range with volume confirmation"), nil
	}
	return nil, nil
}

// --- Scalping: fast EMA cross + RSI recovery + spread filter. ---

type scalping struct{ log *zap.Logger }

func NewScalping(log *zap.Logger) Strategy { return &scalping{log: log.Named("strategy.scalping")} }
func (s *scalping) Name() string                { return "scalping" }
func (s *scalping) RequiredIndicators() []string { return []string{"ema", "rsi", "atr"} }

func (s *scalping) OnBar(bar types.Bar, frame types.IndicatorFrame, p Params) (*types.Signal, error) {
	ema, ok1 := frame.Get("ema")
	rsi, ok2 := frame.Get("rsi")
	atr, ok3 := frame.Get("atr")
	if !ok1 || !ok2 || !ok3 {
		return nil, nil
	}
	maxSpread := decimal.NewFromFloat(p.get("max_spread", 0.0003))
	if bar.Spread.GreaterThan(maxSpread) {
		return nil, nil // spread too wide to scalp profitably
	}
	close := bar.Close.InexactFloat64()

	if close > ema && rsi > 45 && rsi < 60 {
		sl := bar.Close.Sub(decimal.NewFromFloat(atr * 0.6))
		tp := bar.Close.Add(decimal.NewFromFloat(atr * 0.9))
		return signal(bar, types.OrderSideLong, sl, tp, 0.45, s.Name(), "fast EMA cross with RSI recovering from midline"), nil
	}
	if close < ema && rsi < 55 && rsi > 40 {
		sl := bar.Close.Add(decimal.NewFromFloat(atr * 0.6))
		tp := bar.Close.Sub(decimal.NewFromFloat(atr * 0.9))
		return signal(bar, types.OrderSideShort, sl, tp, 0.45, s.Name(), "fast EMA cross with RSI recovering from midline"), nil
	}
	return nil, nil
}

// --- Mean-Reversion: Bollinger touch + RSI extremum + ADX below threshold. ---

type meanReversion struct{ log *zap.Logger }

func NewMeanReversion(log *zap.Logger) Strategy { return &meanReversion{log: log.Named("strategy.mean_reversion")} }
func (s *meanReversion) Name() string                { return "mean_reversion" }
func (s *meanReversion) RequiredIndicators() []string { return []string{"bb_mid", "bb_width", "rsi", "adx"} }

func (s *meanReversion) OnBar(bar types.Bar, frame types.IndicatorFrame, p Params) (*types.Signal, error) {
	bbMid, ok1 := frame.Get("bb_mid")
	bbWidth, ok2 := frame.Get("bb_width")
	rsi, ok3 := frame.Get("rsi")
	adx, ok4 := frame.Get("adx")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, nil
	}
	adxCeiling := p.get("adx_ceiling", 25)
	if adx >= adxCeiling {
		return nil, nil // trending too strongly for reversion to the mean
	}
	close := bar.Close.InexactFloat64()
	upperBand := bbMid + bbWidth/2
	lowerBand := bbMid - bbWidth/2

	if close >= upperBand && rsi >= 70 {
		return signal(bar, types.OrderSideShort, bar.Close.Add(decimal.NewFromFloat(bbWidth*0.5)), decimal.NewFromFloat(bbMid), 0.55, s.Name(), "upper band touch with RSI overbought, ADX low"), nil
	}
	if close <= lowerBand && rsi <= 30 {
		return signal(bar, types.OrderSideLong, bar.Close.Sub(decimal.NewFromFloat(bbWidth*0.5)), decimal.NewFromFloat(bbMid), 0.55, s.Name(), "lower band touch with RSI oversold, ADX low"), nil
	}
	return nil, nil
}

// --- Trend-Following: ADX strength + directional alignment + price vs the mean. ---

type trendFollowing struct{ log *zap.Logger }

func NewTrendFollowing(log *zap.Logger) Strategy {
	return &trendFollowing{log: log.Named("strategy.trend_following")}
}
func (s *trendFollowing) Name() string                { return "trend_following" }
func (s *trendFollowing) RequiredIndicators() []string { return []string{"adx", "ema", "atr"} }

func (s *trendFollowing) OnBar(bar types.Bar, frame types.IndicatorFrame, p Params) (*types.Signal, error) {
	adx, ok1 := frame.Get("adx")
	ema, ok2 := frame.Get("ema")
	atr, ok3 := frame.Get("atr")
	if !ok1 || !ok2 || !ok3 {
		return nil, nil
	}
	adxFloor := p.get("adx_floor", 25)
	if adx < adxFloor {
		return nil, nil
	}
	close := bar.Close.InexactFloat64()

	if close > ema {
		sl := bar.Close.Sub(decimal.NewFromFloat(atr * 2))
		tp := bar.Close.Add(decimal.NewFromFloat(atr * 4))
		return signal(bar, types.OrderSideLong, sl, tp, 0.7, s.Name(), "strong trend, price above mean"), nil
	}
	sl := bar.Close.Add(decimal.NewFromFloat(atr * 2))
	tp := bar.Close.Sub(decimal.NewFromFloat(atr * 4))
	return signal(bar, types.OrderSideShort, sl, tp, 0.7, s.Name(), "strong trend, price below mean"), nil
}
