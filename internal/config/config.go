// Package config loads and validates the engine's layered configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/spf13/viper"
)

// Load reads configuration from path (if it exists), then environment
// variables prefixed TRADING_CORE_, layering defaults underneath both. It
// fails fast (spec §7 "Config invalid at load") rather than returning a
// partially-valid config.
func Load(path string) (*types.EngineConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADING_CORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := defaults()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func defaults() *types.EngineConfig {
	return &types.EngineConfig{
		Risk:         types.DefaultRiskConfig(),
		Selector:     types.DefaultSelectorConfig(),
		Execution:    types.DefaultExecutionConfig(),
		Adoption:     types.DefaultAdoptionConfig(),
		Supervision:  types.DefaultSupervisionConfig(),
		Persistence:  types.DefaultPersistenceConfig(),
		Exits:        types.DefaultExitsConfig(),
		EntryQuality: types.DefaultEntryQualityConfig(),
		Server:       types.DefaultServerConfig(),
		Symbols:      []string{"EURUSD", "GBPUSD", "USDJPY"},
		Timeframes:   []types.Timeframe{types.Timeframe15m, types.Timeframe1h},
	}
}

// setDefaults seeds viper with the zero-config defaults so env/file
// overrides only need to name the keys they actually change.
func setDefaults(v *viper.Viper, cfg *types.EngineConfig) {
	v.SetDefault("risk.fractional_risk", cfg.Risk.FractionalRisk.String())
	v.SetDefault("risk.max_position_size", cfg.Risk.MaxPositionSize.String())
	v.SetDefault("risk.max_daily_loss", cfg.Risk.MaxDailyLoss.String())
	v.SetDefault("risk.drawdown_halt_percent", cfg.Risk.DrawdownHaltPercent.String())
	v.SetDefault("selector.regime_check_interval", cfg.Selector.RegimeCheckInterval.String())
	v.SetDefault("selector.min_strategy_signals", cfg.Selector.MinStrategySignals)
	v.SetDefault("execution.sl_tp_retries", cfg.Execution.SlTpRetries)
	v.SetDefault("execution.magic_number", cfg.Execution.MagicNumber)
	v.SetDefault("supervision.poll_interval_s", cfg.Supervision.PollInterval.String())
	v.SetDefault("supervision.singleton_lock_path", cfg.Supervision.SingletonLockPath)
	v.SetDefault("persistence.path", cfg.Persistence.Path)
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("symbols", cfg.Symbols)
}

// Validate enforces the invariants a malformed config could otherwise
// violate silently.
func Validate(cfg *types.EngineConfig) error {
	if cfg.Risk.FractionalRisk.IsNegative() {
		return fmt.Errorf("risk.fractional_risk must be >= 0")
	}
	if !cfg.Risk.MaxPositionSize.IsPositive() {
		return fmt.Errorf("risk.max_position_size must be > 0")
	}
	if len(cfg.Risk.SLBalanceBreakpoints) == 0 {
		return fmt.Errorf("risk.sl_balance_breakpoints must not be empty")
	}
	if cfg.Selector.PerformanceWeight+cfg.Selector.RegimeWeight+cfg.Selector.ConfidenceWeight <= 0 {
		return fmt.Errorf("selector weights must sum to a positive value")
	}
	if cfg.Selector.FallbackDepth < 0 {
		return fmt.Errorf("selector.fallback_depth must be >= 0")
	}
	if cfg.Execution.SlTpRetries < 0 {
		return fmt.Errorf("execution.sl_tp_retries must be >= 0")
	}
	if cfg.Execution.MagicNumber == 0 {
		return fmt.Errorf("execution.magic_number must be non-zero")
	}
	if cfg.EntryQuality.RejectThreshold >= cfg.EntryQuality.GoodThreshold ||
		cfg.EntryQuality.GoodThreshold >= cfg.EntryQuality.PremiumThreshold {
		return fmt.Errorf("entry quality thresholds must be strictly increasing: reject < good < premium")
	}
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("at least one symbol must be configured")
	}
	if len(cfg.Timeframes) == 0 {
		return fmt.Errorf("at least one timeframe must be configured")
	}
	if cfg.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}
