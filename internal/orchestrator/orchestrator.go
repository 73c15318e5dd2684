// Package orchestrator runs the single-threaded cooperative tick loop
// that wires every component into the nine-step cycle described in
// spec §4.12.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/atlas-desktop/trading-core/internal/broker"
	"github.com/atlas-desktop/trading-core/internal/data"
	"github.com/atlas-desktop/trading-core/internal/events"
	"github.com/atlas-desktop/trading-core/internal/execution"
	"github.com/atlas-desktop/trading-core/internal/exits"
	"github.com/atlas-desktop/trading-core/internal/indicators"
	"github.com/atlas-desktop/trading-core/internal/persistence"
	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/internal/quality"
	"github.com/atlas-desktop/trading-core/internal/regime"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/selector"
	"github.com/atlas-desktop/trading-core/internal/sizing"
	"github.com/atlas-desktop/trading-core/internal/strategy"
	"github.com/atlas-desktop/trading-core/internal/supervision"
	"github.com/atlas-desktop/trading-core/internal/workers"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/atlas-desktop/trading-core/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Orchestrator owns every long-lived component and runs the tick loop.
// Only this goroutine (via Run) mutates Positions *Manager and
// StrategyStats; every other task communicates through inbound.
type Orchestrator struct {
	log    *zap.Logger
	cfg    types.EngineConfig
	broker broker.Adapter

	pipeline   *data.Pipeline
	indicators map[string]*indicators.Engine // keyed by timeframe
	classifier *regime.Classifier
	strategies *selector.Selector
	gate       *quality.Gate
	riskEval   *risk.Evaluator
	sizer      *sizing.Pipeline
	execEngine *execution.Engine
	positions  *position.Manager
	adoption   *position.Scanner
	exitCoord  *exits.Coordinator
	store      *persistence.Store

	circuit    *supervision.CircuitBreaker
	health     *supervision.Registry
	metrics    *supervision.Metrics
	news       NewsWindowSource
	inbound    *events.Queue
	backgroundPool *workers.Pool

	stats map[string]*types.StrategyStats

	tickCount      int
	lastRegimeTime time.Time
	regimeLabel    types.RegimeLabel
	dailyLossPct   decimal.Decimal
	maxPositions   int

	stopping bool
}

// Deps bundles every component the orchestrator wires together.
type Deps struct {
	Log        *zap.Logger
	Config     types.EngineConfig
	Broker     broker.Adapter
	Pipeline   *data.Pipeline
	Indicators map[string]*indicators.Engine
	Classifier *regime.Classifier
	Selector   *selector.Selector
	Gate       *quality.Gate
	Risk       *risk.Evaluator
	Sizer      *sizing.Pipeline
	Execution  *execution.Engine
	Positions  *position.Manager
	Adoption   *position.Scanner
	Exits      *exits.Coordinator
	Store      *persistence.Store
	Circuit    *supervision.CircuitBreaker
	Health     *supervision.Registry
	Metrics    *supervision.Metrics
	News       NewsWindowSource
	MaxPositions int
}

// NewsWindowSource reports whether symbol is currently inside an
// economic-news blackout window. News/economic-calendar ingestion is an
// external collaborator (spec §1 Non-goals) the orchestrator doesn't
// implement; this is the pluggable seam a real calendar feed wires into.
// A nil News in Deps defaults to noNewsWindow, which never reports a
// blackout.
type NewsWindowSource interface {
	InWindow(symbol string, now time.Time) bool
}

type noNewsWindow struct{}

func (noNewsWindow) InWindow(string, time.Time) bool { return false }

// New builds an orchestrator from Deps.
func New(d Deps) *Orchestrator {
	news := d.News
	if news == nil {
		news = noNewsWindow{}
	}
	return &Orchestrator{
		log:        d.Log.Named("orchestrator"),
		cfg:        d.Config,
		broker:     d.Broker,
		pipeline:   d.Pipeline,
		indicators: d.Indicators,
		classifier: d.Classifier,
		strategies: d.Selector,
		gate:       d.Gate,
		riskEval:   d.Risk,
		sizer:      d.Sizer,
		execEngine: d.Execution,
		positions:  d.Positions,
		adoption:   d.Adoption,
		exitCoord:  d.Exits,
		store:      d.Store,
		circuit:    d.Circuit,
		health:     d.Health,
		metrics:    d.Metrics,
		news:       news,
		inbound:    events.NewQueue(256),
		backgroundPool: workers.NewPool(d.Log, workers.DefaultPoolConfig("background")),
		stats:      make(map[string]*types.StrategyStats),
		maxPositions: d.MaxPositions,
	}
}

// Run executes tick loops until ctx is cancelled, sleeping
// poll_interval between ticks.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.backgroundPool.Start()
	defer o.backgroundPool.Stop()

	ticker := time.NewTicker(o.cfg.Supervision.PollInterval)
	defer ticker.Stop()

	for {
		if err := o.tick(ctx); err != nil {
			o.log.Error("tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return o.shutdown(context.Background())
		case <-ticker.C:
		}
	}
}

// tick runs exactly one cycle of the nine steps in spec §4.12.
func (o *Orchestrator) tick(ctx context.Context) error {
	o.tickCount++

	// 1. Connection health check.
	if !o.broker.IsConnected() {
		if !o.circuit.Allow() {
			o.health.Report("broker", supervision.HealthDown, "circuit open")
			return fmt.Errorf("orchestrator: circuit open, skipping tick")
		}
		if err := o.broker.Connect(ctx); err != nil {
			o.circuit.RecordFailure()
			o.health.Report("broker", supervision.HealthDown, err.Error())
			return fmt.Errorf("orchestrator: reconnect: %w", err)
		}
		o.circuit.RecordSuccess()
	}
	o.health.Report("broker", supervision.HealthOK, "connected")

	// Background tasks only ever enqueue requests (spec §5); the main
	// loop performs the actual state-touching work here.
	o.processInbound(ctx)

	// 2. Reconcile positions from broker.
	priceOf := func(symbol string) (decimal.Decimal, bool) {
		for _, tf := range o.cfg.Timeframes {
			if bar, ok := o.pipeline.Latest(symbol, tf); ok {
				return bar.Close, true
			}
		}
		return decimal.Zero, false
	}
	reconcileResult, err := o.positions.Reconcile(ctx, priceOf)
	if err != nil {
		return fmt.Errorf("orchestrator: reconcile: %w", err)
	}
	for _, trade := range reconcileResult.Closed {
		o.store.WriteTrade(trade)
		o.recordOutcome(trade)
	}

	// 3 & 4. Fetch bars, update indicators, classify regime (throttled).
	var latestFrame types.IndicatorFrame
	var latestATR decimal.Decimal
	for _, symbol := range o.cfg.Symbols {
		for _, tf := range o.cfg.Timeframes {
			bars, err := o.broker.FetchBars(ctx, symbol, tf, 200)
			if err != nil {
				o.log.Warn("fetch_bars failed", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			for _, bar := range bars {
				o.pipeline.Ingest(bar)
			}
			engine, ok := o.indicators[string(tf)]
			if !ok {
				continue
			}
			window := o.pipeline.Window(symbol, tf, 200)
			if len(window) == 0 {
				continue
			}
			frame := engine.Evaluate(window)
			latestFrame = frame
			if atr, ok := frame.Get("atr"); ok {
				latestATR = decimal.NewFromFloat(atr)
			}

			if o.strategies.ShouldRefreshRegime(time.Now()) {
				closes := closesOf(window)
				avgATR, _ := frame.Get("atr_avg")
				currentATR, _ := frame.Get("atr")
				avgVolume, _ := frame.Get("volume_avg")
				recentHigh, _ := frame.Get("recent_high")
				recentLow, _ := frame.Get("recent_low")
				volume := window[len(window)-1].Volume.InexactFloat64()
				label := o.classifier.Classify(frame, closes, avgATR, currentATR, volume, avgVolume, recentHigh, recentLow, closes[len(closes)-1])
				o.strategies.SetRegime(label, time.Now())
				o.regimeLabel = label
			}

			// 5. Strategy selection → quality gate → risk → sizing → execution.
			if err := o.evaluateEntry(ctx, symbol, tf, window[len(window)-1], frame); err != nil {
				o.log.Warn("entry evaluation failed", zap.String("symbol", symbol), zap.Error(err))
			}
		}
	}

	// 6. Evaluate exits for every open position.
	o.evaluateExits(ctx, latestFrame, latestATR)

	// 7. Request a pending SL/TP retry drain through the background pool.
	// The drain itself runs on the main loop, inside processInbound at
	// the start of the next tick, so its broker round-trips still delay
	// that tick.
	o.submitRequest(events.RequestSlTpDrain)

	// 8. Adoption scan at a lower cadence.
	if o.cfg.Supervision.AdoptIntervalTicks > 0 && o.tickCount%o.cfg.Supervision.AdoptIntervalTicks == 0 {
		o.submitRequest(events.RequestAdoptionScan)
	}

	// 9. Metrics snapshot.
	o.submitRequest(events.RequestMetricsFlush)

	return nil
}

// submitRequest hands an inbound request off to the background pool,
// which only ever calls Queue.Enqueue — it never touches Positions,
// StrategyStats, or the store itself (spec §5).
func (o *Orchestrator) submitRequest(kind events.RequestKind) {
	if err := o.backgroundPool.SubmitFunc(func() error {
		return o.inbound.Enqueue(kind)
	}); err != nil {
		o.log.Debug("background pool saturated, dropping request", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// processInbound drains every request queued since the last tick and
// performs the corresponding main-loop work. This is the only place
// those operations run, keeping Position/StrategyStats mutation
// single-threaded.
func (o *Orchestrator) processInbound(ctx context.Context) {
	for _, req := range o.inbound.Drain() {
		switch req.Kind {
		case events.RequestSlTpDrain:
			o.execEngine.DrainPending(ctx, func(ticket int64) error {
				volume := decimal.Zero
				for _, p := range o.positions.Snapshot() {
					if p.Ticket == ticket {
						volume = p.Volume
					}
				}
				_, err := o.execEngine.Close(ctx, ticket, volume)
				return err
			})
		case events.RequestAdoptionScan:
			o.adoption.Scan(ctx, o.positions.Snapshot())
		case events.RequestMetricsFlush:
			o.store.WriteMetricSnapshot(o.metricsSnapshot())
			o.reportMetrics()
		}
		if req.Done != nil {
			close(req.Done)
		}
	}
}

func (o *Orchestrator) evaluateEntry(ctx context.Context, symbol string, tf types.Timeframe, bar types.Bar, frame types.IndicatorFrame) error {
	if o.positions.Count() >= o.maxPositions {
		return nil
	}

	signal, strategyName, err := o.strategies.SelectSignal(bar, frame, map[string]strategy.Params{}, o.stats)
	if err != nil || signal == nil {
		return nil
	}
	signal.SignalID = utils.GenerateClientTag()
	signal.Symbol = symbol
	signal.Timeframe = tf

	evidence := deriveEntryEvidence(signal, bar, frame, o.regimeLabel)
	entryQuality := o.gate.Evaluate(evidence)
	if !o.gate.Admits(entryQuality) {
		return nil
	}

	o.store.WriteSignal(*signal, o.regimeLabel)

	riskDecision := o.riskEval.Evaluate(*signal, o.dailyLossPct, o.positions.Count(), o.maxPositions, true)
	if !riskDecision.Allowed {
		o.log.Info("signal rejected by risk evaluator", zap.String("reason", riskDecision.RejectReason))
		return nil
	}

	spec, err := o.broker.SymbolSpec(ctx, symbol)
	if err != nil {
		return fmt.Errorf("symbol_spec: %w", err)
	}
	equity := o.riskEval.State().Equity
	sizeDecision := o.sizer.Decide(*signal, riskDecision, entryQuality, equity, spec.PipValue, spec.PointSize, spec)
	if sizeDecision.Rejected {
		o.log.Info("signal rejected by sizing pipeline", zap.String("reason", sizeDecision.RejectReason))
		return nil
	}

	req := types.OrderRequest{
		ClientTag:      utils.GenerateClientTag(),
		Symbol:         symbol,
		Side:           signal.Side,
		Volume:         sizeDecision.FinalSize,
		StopLoss:       signal.StopLoss,
		TakeProfit:     signal.TakeProfit,
		SourceSignalID: signal.SignalID,
	}
	result, err := o.execEngine.Place(ctx, req)
	if err != nil {
		return fmt.Errorf("execution place: %w", err)
	}
	o.store.WriteOrder(req, result)

	if result.Status == types.OrderResultFilled || result.Status == types.OrderResultPartial {
		o.positions.Register(types.Position{
			Ticket: result.Ticket, Symbol: symbol, Side: signal.Side, Volume: sizeDecision.FinalSize,
			EntryPrice: result.FillPrice, EntryTime: time.Now(), StopLoss: signal.StopLoss,
			TakeProfit: signal.TakeProfit, StrategyName: strategyName,
		})
		o.store.WriteProvenance(types.ProvenanceRecord{
			OrderID: req.ClientTag, SignalID: signal.SignalID, StrategyName: strategyName,
			Regime: o.regimeLabel, SizingDecision: sizeDecision, SignalAt: time.Now(), SubmittedAt: time.Now(), FilledAt: time.Now(),
		})
		o.touchStrategy(strategyName).TotalSignals++
	}
	return nil
}

func (o *Orchestrator) evaluateExits(ctx context.Context, frame types.IndicatorFrame, atr decimal.Decimal) {
	avgATR, _ := frame.Get("atr_avg")
	currentATR, _ := frame.Get("atr")
	highVol := avgATR > 0 && currentATR/avgATR >= o.classifier.Thresholds().VolatileATRMult

	now := time.Now()
	for _, p := range o.positions.Snapshot() {
		isCrypto := o.adoption.IsCrypto(p.Symbol)
		tracked := o.positions.TrackedExit(p.Ticket)
		if p.UnrealizedPnL.GreaterThan(tracked.PeakProfit) {
			tracked.PeakProfit = p.UnrealizedPnL
		}
		exitCtx := exits.Context{
			Now: now, Position: p, Tracked: tracked, Frame: frame, ATR: atr,
			IsCrypto:        isCrypto,
			DrawdownState:   o.riskEval.State().DrawdownState,
			HighVolatility:  highVol,
			NewsWindow:      o.news.InWindow(p.Symbol, now),
			NearMarketClose: nearMarketClose(now, isCrypto, o.cfg.Exits.WeekendCutoffHour),
			Confluence:      confluenceEvidence(p, tracked, frame),
		}
		sig := o.exitCoord.Evaluate(exitCtx)
		if sig == nil {
			continue
		}
		volume := p.Volume.Mul(sig.ClosePct)
		result, err := o.execEngine.Close(ctx, p.Ticket, volume)
		if err != nil {
			o.log.Error("exit close failed", zap.Int64("ticket", p.Ticket), zap.Error(err))
			continue
		}
		if sig.ClosePct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			if trade, ok := o.positions.MarkClosed(p.Ticket, result.FillPrice, sig.Reason); ok {
				o.store.WriteTrade(trade)
				o.recordOutcome(trade)
			}
		} else if sig.NewSL != nil {
			if err := o.broker.ModifyPosition(ctx, p.Ticket, sig.NewSL, nil); err != nil {
				o.log.Warn("moving stop loss after scale-out failed", zap.Int64("ticket", p.Ticket), zap.Error(err))
			}
		}
	}
}

func (o *Orchestrator) touchStrategy(name string) *types.StrategyStats {
	s, ok := o.stats[name]
	if !ok {
		s = &types.StrategyStats{Name: name}
		o.stats[name] = s
	}
	return s
}

func (o *Orchestrator) recordOutcome(trade types.Trade) {
	o.riskEval.RecordTradeOutcome(trade.Win)
	s := o.touchStrategy(trade.StrategyName)
	if trade.Win {
		s.Wins++
	} else {
		s.Losses++
	}
	s.PnLSum = s.PnLSum.Add(trade.PnL)
	s.RecentOutcomes = append(s.RecentOutcomes, trade.Win)
	if len(s.RecentOutcomes) > 20 {
		s.RecentOutcomes = s.RecentOutcomes[len(s.RecentOutcomes)-20:]
	}
}

// MetricsSnapshot is the periodic health/metrics export payload.
type MetricsSnapshot struct {
	TickCount       int                `json:"tickCount"`
	OpenPositions   int                `json:"openPositions"`
	DrawdownState   types.DrawdownState `json:"drawdownState"`
	SlTpFailures    int                `json:"slTpFailures"`
	SlTpRecovered   int                `json:"slTpRecovered"`
	PendingSlTp     int                `json:"pendingSlTp"`
}

// reportMetrics pushes the current snapshot into the Prometheus
// collectors the control surface exposes on /metrics. A nil metrics
// field (e.g. in tests that don't wire one) is a no-op.
func (o *Orchestrator) reportMetrics() {
	if o.metrics == nil {
		return
	}
	failures, recovered := o.execEngine.Metrics()
	o.metrics.TickCount.Inc()
	o.metrics.OpenPositions.Set(float64(o.positions.Count()))
	o.metrics.CircuitState.Set(supervision.CircuitStateValue(o.circuit.State()))
	o.metrics.SlTpFailures.Set(float64(failures))
	o.metrics.SlTpRecovered.Set(float64(recovered))
	o.metrics.PendingSlTp.Set(float64(o.execEngine.PendingCount()))
	drawdown, _ := o.riskEval.State().DrawdownPct.Float64()
	o.metrics.DrawdownPct.Set(drawdown)
}

func (o *Orchestrator) metricsSnapshot() MetricsSnapshot {
	failures, recovered := o.execEngine.Metrics()
	return MetricsSnapshot{
		TickCount:     o.tickCount,
		OpenPositions: o.positions.Count(),
		DrawdownState: o.riskEval.State().DrawdownState,
		SlTpFailures:  failures,
		SlTpRecovered: recovered,
		PendingSlTp:   o.execEngine.PendingCount(),
	}
}

// shutdown drains pending closes up to the configured deadline, then
// either closes all positions or leaves them per config.
func (o *Orchestrator) shutdown(ctx context.Context) error {
	o.stopping = true
	deadline := time.Now().Add(o.cfg.Supervision.ShutdownDeadline)
	for time.Now().Before(deadline) && o.execEngine.PendingCount() > 0 {
		o.execEngine.DrainPending(ctx, func(ticket int64) error {
			volume := decimal.Zero
			for _, p := range o.positions.Snapshot() {
				if p.Ticket == ticket {
					volume = p.Volume
				}
			}
			_, err := o.execEngine.Close(ctx, ticket, volume)
			return err
		})
		time.Sleep(500 * time.Millisecond)
	}
	if !o.cfg.Supervision.LeavePositionsOnShutdown {
		for _, p := range o.positions.Snapshot() {
			if _, err := o.execEngine.Close(ctx, p.Ticket, p.Volume); err != nil {
				o.log.Error("failed to close position on shutdown", zap.Int64("ticket", p.Ticket), zap.Error(err))
			}
		}
	}
	return nil
}

func closesOf(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i], _ = b.Close.Float64()
	}
	return out
}

// deriveEntryEvidence builds the EntryQualityGate's evidence vector
// (spec §4.6) from the signal's direction against the current regime,
// RSI momentum, distance to the recent high/low range, and session
// timing, instead of fixed constants.
func deriveEntryEvidence(signal *types.Signal, bar types.Bar, frame types.IndicatorFrame, regimeLabel types.RegimeLabel) map[quality.Evidence]float64 {
	long := signal.Side == types.OrderSideLong

	trendFlip := 0.5
	switch regimeLabel {
	case types.RegimeTrendingUpStrong, types.RegimeTrendingUpWeak:
		if long {
			trendFlip = 1.0
		} else {
			trendFlip = 0.0
		}
	case types.RegimeTrendingDownStrong, types.RegimeTrendingDownWeak:
		if long {
			trendFlip = 0.0
		} else {
			trendFlip = 1.0
		}
	case types.RegimeReversal:
		trendFlip = 0.7
	}

	momentum := 0.5
	if rsi, ok := frame.Get("rsi"); ok {
		if long {
			momentum = clamp01(rsi / 100)
		} else {
			momentum = clamp01((100 - rsi) / 100)
		}
	}

	srProximity := 0.5
	closeVal, _ := bar.Close.Float64()
	if hi, ok := frame.Get("recent_high"); ok {
		if lo, ok2 := frame.Get("recent_low"); ok2 && hi > lo {
			rng := hi - lo
			distToEdge := math.Min(math.Abs(closeVal-hi), math.Abs(closeVal-lo))
			srProximity = clamp01(1 - distToEdge/rng)
		}
	}

	return map[quality.Evidence]float64{
		quality.EvidenceTrendFlipAgreement: trendFlip,
		quality.EvidenceMomentumAlignment:  momentum,
		quality.EvidenceSRProximity:        srProximity,
		quality.EvidenceStructure:          regimeFitScore(regimeLabel),
		quality.EvidenceSessionTiming:      sessionQualityScore(bar.Timestamp),
	}
}

// sessionQualityScore favors the London/New York overlap, the highest
// average liquidity window, over single-session or off-hours activity.
func sessionQualityScore(t time.Time) float64 {
	hour := t.UTC().Hour()
	switch {
	case hour >= 12 && hour < 16:
		return 0.9
	case (hour >= 7 && hour < 12) || (hour >= 16 && hour < 20):
		return 0.6
	default:
		return 0.3
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// nearMarketClose reports true in the hour leading up to the non-crypto
// weekend cutoff, so TimeBased can be re-prioritised ahead of the hard
// cutoff in exits.policies.timeBased firing on the cutoff hour itself.
func nearMarketClose(now time.Time, isCrypto bool, cutoffHour int) bool {
	if isCrypto || cutoffHour <= 0 {
		return false
	}
	return now.Weekday() == time.Friday && now.Hour() >= cutoffHour-1
}

// confluenceEvidence derives the ConfluenceExit policy's evidence vector
// from the current indicator frame and the position's tracked exit
// state, rather than leaving it at its zero value.
func confluenceEvidence(p types.Position, tracked *types.TrackedExit, frame types.IndicatorFrame) exits.ConfluenceEvidence {
	long := p.Side == types.OrderSideLong

	var ev exits.ConfluenceEvidence
	if rsi, ok := frame.Get("rsi"); ok {
		ev.RSITurn = (long && rsi < 45) || (!long && rsi > 55)
	}
	if hist, ok := frame.Get("macd_hist"); ok {
		ev.MACDFlip = (long && hist < 0) || (!long && hist > 0)
	}
	if mid, ok := frame.Get("bb_mid"); ok {
		if width, ok := frame.Get("bb_width"); ok {
			upper := mid + width
			lower := mid - width
			price, _ := p.CurrentPrice.Float64()
			ev.BBRejection = (long && price >= upper) || (!long && price <= lower)
		}
	}
	if volume, ok := frame.Get("volume"); ok {
		if avgVolume, ok := frame.Get("volume_avg"); ok && avgVolume > 0 {
			ev.VolumeSurge = volume > avgVolume*1.5
		}
	}
	if tracked != nil && tracked.PeakProfit.IsPositive() {
		giveback := tracked.PeakProfit.Sub(p.UnrealizedPnL).Div(tracked.PeakProfit)
		giveback64, _ := giveback.Float64()
		ev.ProfitGiveback = giveback64
	}
	return ev
}

func regimeFitScore(label types.RegimeLabel) float64 {
	switch label {
	case types.RegimeTrendingUpStrong, types.RegimeTrendingDownStrong:
		return 0.8
	default:
		return 0.5
	}
}
