// Command engine is the entrypoint for the autonomous trading core: it
// loads configuration, wires every component, and runs the orchestrator's
// tick loop until signalled to stop (spec §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/atlas-desktop/trading-core/internal/api"
	"github.com/atlas-desktop/trading-core/internal/broker"
	"github.com/atlas-desktop/trading-core/internal/config"
	"github.com/atlas-desktop/trading-core/internal/data"
	"github.com/atlas-desktop/trading-core/internal/execution"
	"github.com/atlas-desktop/trading-core/internal/exits"
	"github.com/atlas-desktop/trading-core/internal/indicators"
	"github.com/atlas-desktop/trading-core/internal/orchestrator"
	"github.com/atlas-desktop/trading-core/internal/persistence"
	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/internal/quality"
	"github.com/atlas-desktop/trading-core/internal/regime"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/selector"
	"github.com/atlas-desktop/trading-core/internal/sizing"
	"github.com/atlas-desktop/trading-core/internal/strategy"
	"github.com/atlas-desktop/trading-core/internal/supervision"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
)

// Exit codes per spec §6.
const (
	exitOK                = 0
	exitConfigInvalid     = 1
	exitBrokerUnreachable = 2
	exitSingletonLockHeld = 3
	exitFatalInvariant    = 4
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to the engine's YAML config file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	paperTrading := flag.Bool("paper", true, "use the in-memory deterministic broker adapter instead of a live terminal")
	brokerAddr := flag.String("broker-addr", "127.0.0.1:50051", "gRPC address of the live broker terminal bridge (ignored in -paper mode)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		os.Exit(exitConfigInvalid)
	}

	lock := supervision.NewSingletonLock(cfg.Supervision.SingletonLockPath)
	if err := lock.Acquire(); err != nil {
		logger.Error("could not acquire singleton lock", zap.Error(err))
		os.Exit(exitSingletonLockHeld)
	}
	defer lock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter, closeAdapter, err := buildBroker(ctx, *paperTrading, *brokerAddr, cfg, logger)
	if err != nil {
		logger.Error("broker unreachable at startup", zap.Error(err))
		os.Exit(exitBrokerUnreachable)
	}
	if closeAdapter != nil {
		defer closeAdapter()
	}
	if err := adapter.Connect(ctx); err != nil {
		logger.Error("broker connect failed at startup", zap.Error(err))
		os.Exit(exitBrokerUnreachable)
	}

	store, err := persistence.Open(cfg.Persistence, logger)
	if err != nil {
		logger.Error("failed to open persistence store", zap.Error(err))
		os.Exit(exitFatalInvariant)
	}
	defer store.Close()

	orch, srv, scheduler, err := wire(adapter, store, *cfg, logger)
	if err != nil {
		logger.Error("failed to wire engine components", zap.Error(err))
		os.Exit(exitFatalInvariant)
	}

	scheduler.Start()
	defer scheduler.Stop()

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("control surface stopped", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("orchestrator exited with error", zap.Error(err))
		os.Exit(exitFatalInvariant)
	}

	shutdownCtx := context.Background()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("control surface shutdown error", zap.Error(err))
	}

	os.Exit(exitOK)
}

// buildBroker returns the paper (deterministic in-memory) adapter or dials
// the live MT5-style terminal bridge over gRPC.
func buildBroker(ctx context.Context, paper bool, addr string, cfg *types.EngineConfig, logger *zap.Logger) (broker.Adapter, func() error, error) {
	if paper {
		specs := make([]types.SymbolSpec, 0, len(cfg.Symbols))
		for _, sym := range cfg.Symbols {
			specs = append(specs, types.SymbolSpec{
				Symbol: sym, LotStep: decimal.NewFromFloat(0.01), LotMin: decimal.NewFromFloat(0.01),
				PointSize: decimal.NewFromFloat(0.0001), PipValue: decimal.NewFromFloat(10),
			})
		}
		return broker.NewMemoryAdapter(specs...), nil, nil
	}

	// A live deployment supplies the generated terminal stub's
	// constructor here; wiring it through TerminalClient keeps this
	// package free of any dependency on the generated protobuf code.
	adapter, err := broker.DialMT5(ctx, addr, func(conn *grpc.ClientConn) broker.TerminalClient {
		return nil // placeholder: operators inject the real generated client constructor
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("dial mt5 terminal: %w", err)
	}
	return adapter, adapter.Close, nil
}

func wire(adapter broker.Adapter, store *persistence.Store, cfg types.EngineConfig, logger *zap.Logger) (*orchestrator.Orchestrator, *api.Server, *supervision.Scheduler, error) {
	registry := strategy.NewRegistry(logger)
	registry.Register(strategy.NewSMACrossover(logger))
	registry.Register(strategy.NewEMACrossover(logger))
	registry.Register(strategy.NewRSIReversal(logger))
	registry.Register(strategy.NewMomentumBreakout(logger))
	registry.Register(strategy.NewScalping(logger))
	registry.Register(strategy.NewMeanReversion(logger))
	registry.Register(strategy.NewTrendFollowing(logger))

	strategySelector := selector.NewSelector(registry, selector.DefaultAffinity(),
		selector.Weights{Performance: cfg.Selector.PerformanceWeight, Regime: cfg.Selector.RegimeWeight, Confidence: cfg.Selector.ConfidenceWeight},
		cfg.Selector.FallbackDepth, cfg.Selector.MinStrategySignals, cfg.Selector.RegimeCheckInterval)

	classifier := regime.NewClassifier(regime.DefaultThresholds())
	gate := quality.NewGate(quality.DefaultWeights(), cfg.EntryQuality)
	riskEval := risk.NewEvaluator(cfg.Risk, types.RiskState{
		AccountBalance: decimal.NewFromInt(10000), Equity: decimal.NewFromInt(10000), PeakEquity: decimal.NewFromInt(10000),
	})
	sizer := sizing.NewPipeline(cfg.Risk, nil)
	execEngine := execution.NewEngine(adapter, cfg.Execution, logger)

	positions := position.NewManager(adapter, logger)
	adoption := position.NewScanner(cfg.Adoption, cfg.Risk.EmergencyStopLossPct, execEngine, logger)
	exitCoord := exits.NewCoordinator(cfg.Exits, cfg.Risk.EmergencyStopLossPct, func() decimal.Decimal { return riskEval.State().Equity }, logger)

	pipeline := data.NewPipeline(500)
	indicatorEngines := make(map[string]*indicators.Engine)
	for _, tf := range cfg.Timeframes {
		engine, err := indicators.NewEngine(indicators.StandardSet(indicators.Lengths{
			EMA: 12, SMA: 26, RSI: 14, ATR: 14, BB: 20, ADX: 14,
			ATRAvg: 20, VolumeAvg: 20, RangeLookback: 20,
			MACDFast: 12, MACDSlow: 26, MACDSignal: 9,
		}))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("building indicator engine for %s: %w", tf, err)
		}
		indicatorEngines[string(tf)] = engine
	}

	circuit := supervision.NewCircuitBreaker("broker", cfg.Supervision.CircuitFailureThreshold, cfg.Supervision.CircuitHalfOpenProbes, cfg.Supervision.CircuitOpenTimeout)
	health := supervision.NewRegistry()
	metrics := supervision.NewMetrics()

	orch := orchestrator.New(orchestrator.Deps{
		Log: logger, Config: cfg, Broker: adapter, Pipeline: pipeline, Indicators: indicatorEngines,
		Classifier: classifier, Selector: strategySelector, Gate: gate, Risk: riskEval, Sizer: sizer,
		Execution: execEngine, Positions: positions, Adoption: adoption, Exits: exitCoord, Store: store,
		Circuit: circuit, Health: health, Metrics: metrics, MaxPositions: maxPositions(cfg),
	})

	srv := api.NewServer(api.Deps{
		Log: logger, Config: cfg.Server, Execution: execEngine, Risk: riskEval, Positions: positions,
		Store: store, Health: health, Circuit: circuit, Metrics: metrics, MaxOpen: maxPositions(cfg),
	})

	// Health pushes to attached websocket clients run on their own cadence,
	// independent of the tick interval (which may be sub-second).
	scheduler := supervision.New(logger)
	if err := scheduler.AddJob("@every 5s", supervision.FuncJob{
		JobName: "health_broadcast",
		Fn: func() error {
			srv.BroadcastHealth()
			return nil
		},
	}); err != nil {
		return nil, nil, nil, fmt.Errorf("registering health broadcast job: %w", err)
	}

	return orch, srv, scheduler, nil
}

func maxPositions(cfg types.EngineConfig) int {
	if len(cfg.Symbols) == 0 {
		return 5
	}
	return len(cfg.Symbols) * 2
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zcfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
