// Package types provides configuration types for the trading core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskConfig configures the RiskEvaluator and SizingPipeline (spec §6 "risk").
type RiskConfig struct {
	FractionalRisk         decimal.Decimal         `mapstructure:"fractional_risk"`
	MaxPositionSize        decimal.Decimal         `mapstructure:"max_position_size"`
	MaxDailyLoss           decimal.Decimal         `mapstructure:"max_daily_loss"`
	DrawdownHaltPercent    decimal.Decimal         `mapstructure:"drawdown_halt_percent"`
	SLBalanceBreakpoints   []BalanceRiskBreakpoint `mapstructure:"sl_balance_breakpoints"`
	EmergencyStopLossPct   decimal.Decimal         `mapstructure:"emergency_stop_loss_pct"`
	MinRiskRewardRatio     decimal.Decimal         `mapstructure:"min_risk_reward_ratio"`
	PerformanceBasedSizing bool                    `mapstructure:"performance_based_sizing"`
	UseStabilized          bool                    `mapstructure:"use_stabilized"`
	RecoveryDrawdownPct    decimal.Decimal         `mapstructure:"recovery_drawdown_pct"`
	SurvivalConfidenceMin  decimal.Decimal         `mapstructure:"survival_confidence_min"`
	SurvivalMinRR          decimal.Decimal         `mapstructure:"survival_min_rr"`
}

// BalanceRiskBreakpoint anchors the adaptive loss curve at a documented
// balance breakpoint (spec §4.7).
type BalanceRiskBreakpoint struct {
	Balance decimal.Decimal `mapstructure:"balance"`
	Risk    decimal.Decimal `mapstructure:"risk"`
}

// DefaultRiskConfig returns the documented anchors from §4.7.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		FractionalRisk:      decimal.NewFromFloat(0.02),
		MaxPositionSize:     decimal.NewFromFloat(1.0),
		MaxDailyLoss:        decimal.NewFromFloat(0.06),
		DrawdownHaltPercent: decimal.NewFromFloat(0.60),
		SLBalanceBreakpoints: []BalanceRiskBreakpoint{
			{Balance: decimal.NewFromInt(5), Risk: decimal.NewFromFloat(0.10)},
			{Balance: decimal.NewFromInt(100), Risk: decimal.NewFromFloat(0.03)},
			{Balance: decimal.NewFromInt(1000), Risk: decimal.NewFromFloat(0.02)},
			{Balance: decimal.NewFromInt(5000), Risk: decimal.NewFromFloat(0.015)},
		},
		EmergencyStopLossPct:   decimal.NewFromFloat(0.01),
		MinRiskRewardRatio:     decimal.NewFromFloat(1.5),
		PerformanceBasedSizing: true,
		UseStabilized:          true,
		RecoveryDrawdownPct:    decimal.NewFromFloat(0.20),
		SurvivalConfidenceMin:  decimal.NewFromFloat(0.95),
		SurvivalMinRR:          decimal.NewFromFloat(5.0),
	}
}

// SelectorConfig configures the StrategySelector (spec §4.5 / §6 "selector").
type SelectorConfig struct {
	RegimeCheckInterval time.Duration `mapstructure:"regime_check_interval"`
	MinStrategySignals  int           `mapstructure:"min_strategy_signals"`
	PerformanceWeight   float64       `mapstructure:"performance_weight"`
	RegimeWeight        float64       `mapstructure:"regime_weight"`
	ConfidenceWeight    float64       `mapstructure:"confidence_weight"`
	FallbackDepth       int           `mapstructure:"fallback_depth"`
}

// DefaultSelectorConfig mirrors spec defaults (weights sum to 1, K=3).
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		RegimeCheckInterval: 180 * time.Second,
		MinStrategySignals:  20,
		PerformanceWeight:   0.5,
		RegimeWeight:        0.3,
		ConfidenceWeight:    0.2,
		FallbackDepth:       3,
	}
}

// ExecutionConfig configures the ExecutionEngine (spec §6 "execution").
type ExecutionConfig struct {
	SubmissionTimeout      time.Duration `mapstructure:"submission_timeout_ms"`
	SlTpRetries            int           `mapstructure:"sl_tp_retries"`
	SlTpBackoffCap         time.Duration `mapstructure:"sl_tp_backoff_ms_cap"`
	OrderDedupTTL          time.Duration `mapstructure:"order_dedup_ttl_s"`
	MagicNumber            int64         `mapstructure:"magic_number"`
	SlAttachDeadline       time.Duration `mapstructure:"sl_attach_deadline_s"`
	MaxBackgroundRetries   int           `mapstructure:"sl_tp_max_background_retries"`
	SlTpUnverifiedTimeout  time.Duration `mapstructure:"sl_tp_unverified_timeout_s"`
	ForceCloseOnUnverified bool          `mapstructure:"force_close_on_unverified"`
}

// DefaultExecutionConfig mirrors the spec's documented defaults.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		SubmissionTimeout:      10 * time.Second,
		SlTpRetries:            3,
		SlTpBackoffCap:         5 * time.Second,
		OrderDedupTTL:          5 * time.Minute,
		MagicNumber:            20260731,
		SlAttachDeadline:       3 * time.Second,
		MaxBackgroundRetries:   10,
		SlTpUnverifiedTimeout:  2 * time.Minute,
		ForceCloseOnUnverified: true,
	}
}

// AdoptionConfig configures the AdoptionScanner (spec §4.9 / §6 "adoption").
type AdoptionConfig struct {
	Enabled         bool            `mapstructure:"enabled"`
	AdoptSymbols    []string        `mapstructure:"adopt_symbols"`
	IgnoreSymbols   []string        `mapstructure:"ignore_symbols"`
	MaxAge          time.Duration   `mapstructure:"max_age_hours"`
	LogOnly         bool            `mapstructure:"log_only"`
	CryptoPrefixes  []string        `mapstructure:"crypto_prefixes"`
	RiskRewardRatio decimal.Decimal `mapstructure:"risk_reward_ratio"`
}

// DefaultAdoptionConfig returns sensible defaults, including the crypto
// prefix set used to exempt those symbols from weekend time-based exit.
func DefaultAdoptionConfig() AdoptionConfig {
	return AdoptionConfig{
		Enabled:         true,
		AdoptSymbols:    nil,
		IgnoreSymbols:   nil,
		MaxAge:          72 * time.Hour,
		LogOnly:         false,
		CryptoPrefixes:  []string{"BTC", "ETH", "XRP", "LTC", "SOL", "DOGE", "ADA", "BNB"},
		RiskRewardRatio: decimal.NewFromFloat(2.0),
	}
}

// SupervisionConfig configures fault-tolerance fabric (spec §6 "supervision").
type SupervisionConfig struct {
	PollInterval             time.Duration `mapstructure:"poll_interval_s"`
	SingletonLockPath        string        `mapstructure:"singleton_lock_path"`
	ShutdownDeadline         time.Duration `mapstructure:"shutdown_deadline_s"`
	CircuitFailureThreshold  int           `mapstructure:"circuit_failure_threshold"`
	CircuitHalfOpenProbes    int           `mapstructure:"circuit_half_open_probes"`
	CircuitOpenTimeout       time.Duration `mapstructure:"circuit_open_timeout_s"`
	AdoptIntervalTicks       int           `mapstructure:"adopt_interval_ticks"`
	LeavePositionsOnShutdown bool          `mapstructure:"leave_positions_on_shutdown"`
}

// DefaultSupervisionConfig returns the documented defaults.
func DefaultSupervisionConfig() SupervisionConfig {
	return SupervisionConfig{
		PollInterval:             5 * time.Second,
		SingletonLockPath:        "./trading-core.lock",
		ShutdownDeadline:         30 * time.Second,
		CircuitFailureThreshold:  5,
		CircuitHalfOpenProbes:    1,
		CircuitOpenTimeout:       30 * time.Second,
		AdoptIntervalTicks:       20,
		LeavePositionsOnShutdown: true,
	}
}

// PersistenceConfig configures the append-mostly store (spec §6 "persistence").
type PersistenceConfig struct {
	Path           string `mapstructure:"path"`
	WALEnabled     bool   `mapstructure:"wal_enabled"`
	WriterQueueCap int    `mapstructure:"writer_queue_cap"`
}

// DefaultPersistenceConfig returns sensible defaults.
func DefaultPersistenceConfig() PersistenceConfig {
	return PersistenceConfig{
		Path:           "./data/trading-core.db",
		WALEnabled:     true,
		WriterQueueCap: 10000,
	}
}

// ExitsConfig configures per-policy exit parameters (spec §4.10 / §6 "exits").
type ExitsConfig struct {
	AdverseMovementPct    decimal.Decimal `mapstructure:"adverse_movement_pct"`
	AdverseMovementWindow time.Duration   `mapstructure:"adverse_movement_window_s"`
	MaxHold               time.Duration   `mapstructure:"max_hold"`
	WeekendCutoffHour     int             `mapstructure:"weekend_cutoff_hour"` // Friday, local broker time
	TrailActivationATR    decimal.Decimal `mapstructure:"trail_activation_atr"`
	TrailAlpha            decimal.Decimal `mapstructure:"trail_alpha"`
	ScaleOutPct           decimal.Decimal `mapstructure:"scale_out_pct"`
	ConfluenceEmergency   float64         `mapstructure:"confluence_emergency"`
	ConfluenceCloseNow    float64         `mapstructure:"confluence_close_now"`
	ConfluenceScaleOut    float64         `mapstructure:"confluence_scale_out"`
}

// DefaultExitsConfig returns the documented defaults.
func DefaultExitsConfig() ExitsConfig {
	return ExitsConfig{
		AdverseMovementPct:    decimal.NewFromFloat(0.015),
		AdverseMovementWindow: 60 * time.Second,
		MaxHold:               24 * time.Hour,
		WeekendCutoffHour:     21,
		TrailActivationATR:    decimal.NewFromFloat(1.0),
		TrailAlpha:            decimal.NewFromFloat(0.5),
		ScaleOutPct:           decimal.NewFromFloat(0.4),
		ConfluenceEmergency:   0.90,
		ConfluenceCloseNow:    0.75,
		ConfluenceScaleOut:    0.55,
	}
}

// EntryQualityConfig configures the EntryQualityGate (spec §4.6).
type EntryQualityConfig struct {
	RejectThreshold  float64 `mapstructure:"reject_threshold"`
	GoodThreshold    float64 `mapstructure:"good_threshold"`
	PremiumThreshold float64 `mapstructure:"premium_threshold"`
	AllowMarginal    bool    `mapstructure:"allow_marginal"`
}

// DefaultEntryQualityConfig returns sensible defaults.
func DefaultEntryQualityConfig() EntryQualityConfig {
	return EntryQualityConfig{
		RejectThreshold:  0.40,
		GoodThreshold:    0.60,
		PremiumThreshold: 0.80,
		AllowMarginal:    false,
	}
}

// SymbolSpec carries broker-reported lot constraints for a symbol.
type SymbolSpec struct {
	Symbol    string
	LotStep   decimal.Decimal
	LotMin    decimal.Decimal
	PointSize decimal.Decimal
	PipValue  decimal.Decimal
}

// ServerConfig configures the loopback HTTP/websocket control surface
// (spec §6 "Control surface").
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout_s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout_s"`
}

// DefaultServerConfig binds to loopback only, per spec §6.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         8787,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// EngineConfig is the top-level configuration loaded by internal/config.
type EngineConfig struct {
	Risk         RiskConfig
	Selector     SelectorConfig
	Execution    ExecutionConfig
	Adoption     AdoptionConfig
	Supervision  SupervisionConfig
	Persistence  PersistenceConfig
	Exits        ExitsConfig
	EntryQuality EntryQualityConfig
	Server       ServerConfig
	Symbols      []string
	Timeframes   []Timeframe
}
