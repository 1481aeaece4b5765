package schema

import (
	"errors"
	"time"
)

// SuspendStrategy selects how the optimizer scores tabs.
type SuspendStrategy string

const (
	// StrategyTime suspends tabs idle longer than the configured window.
	StrategyTime SuspendStrategy = "time"
	// StrategyUsage suspends lowest-activity tabs first under pressure.
	StrategyUsage SuspendStrategy = "usage"
	// StrategyHybrid blends recency, memory and usage into one score.
	StrategyHybrid SuspendStrategy = "hybrid"
)

// HybridWeights are the composite score weights for the hybrid strategy.
type HybridWeights struct {
	Recency float64
	Memory  float64
	Usage   float64
}

// ServiceConfig defines defaults and limits for the registry service.
type ServiceConfig struct {
	DefaultSpaceName string
	DefaultTheme     ThemeName
	DefaultLayout    LayoutName
	HistoryMax       int
	TabMemoryBytes   int64
}

// OptimizerConfig configures the suspension and memory policy engine.
type OptimizerConfig struct {
	Strategy             SuspendStrategy
	IdleAfter            time.Duration
	MemoryThresholdBytes int64
	Weights              HybridWeights
	TickInterval         time.Duration
}

// CommsConfig configures the cross-tab communication layer.
type CommsConfig struct {
	ConflictPolicy    ConflictPolicy
	CoalesceWindow    time.Duration
	ManualTimeout     time.Duration
	SweepInterval     time.Duration
	StrictPermissions bool
}

// BusConfig configures the event bus.
type BusConfig struct {
	QueueDepth int
}

// DefaultHistoryMax bounds the per-tab state history.
const DefaultHistoryMax = 50

// DefaultTabMemoryBytes is the initial memory estimate for a new tab.
const DefaultTabMemoryBytes = 50 << 20

// DefaultMemoryThresholdBytes is the optimizer's default pressure threshold.
const DefaultMemoryThresholdBytes = 1 << 30

// DefaultQueueDepth is the event bus queue depth.
const DefaultQueueDepth = 1024

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.DefaultSpaceName == "" {
		cfg.DefaultSpaceName = "main"
	}
	if cfg.DefaultTheme == "" {
		cfg.DefaultTheme = DefaultTheme
	}
	if cfg.DefaultLayout == "" {
		cfg.DefaultLayout = LayoutGrid
	}
	if cfg.HistoryMax <= 0 {
		cfg.HistoryMax = DefaultHistoryMax
	}
	if cfg.TabMemoryBytes <= 0 {
		cfg.TabMemoryBytes = DefaultTabMemoryBytes
	}
	return cfg, nil
}

// NormalizeOptimizerConfig applies defaults and validates the config.
func NormalizeOptimizerConfig(cfg OptimizerConfig) (OptimizerConfig, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyHybrid
	}
	switch cfg.Strategy {
	case StrategyTime, StrategyUsage, StrategyHybrid:
	default:
		return OptimizerConfig{}, errors.New("unknown suspend strategy")
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = 30 * time.Minute
	}
	if cfg.MemoryThresholdBytes <= 0 {
		cfg.MemoryThresholdBytes = DefaultMemoryThresholdBytes
	}
	if cfg.Weights == (HybridWeights{}) {
		cfg.Weights = HybridWeights{Recency: 0.3, Memory: 0.4, Usage: 0.3}
	}
	if cfg.Weights.Recency < 0 || cfg.Weights.Memory < 0 || cfg.Weights.Usage < 0 {
		return OptimizerConfig{}, errors.New("hybrid weights must be non-negative")
	}
	if cfg.Weights.Recency+cfg.Weights.Memory+cfg.Weights.Usage == 0 {
		return OptimizerConfig{}, errors.New("hybrid weights must not all be zero")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	return cfg, nil
}

// NormalizeCommsConfig applies defaults and validates the config.
func NormalizeCommsConfig(cfg CommsConfig) (CommsConfig, error) {
	if cfg.ConflictPolicy == "" {
		cfg.ConflictPolicy = ConflictLastWriterWins
	}
	switch cfg.ConflictPolicy {
	case ConflictLastWriterWins, ConflictManual:
	default:
		return CommsConfig{}, errors.New("unknown conflict policy")
	}
	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = 2 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	// ManualTimeout 0 keeps a manual conflict pending indefinitely.
	if cfg.ManualTimeout < 0 {
		return CommsConfig{}, errors.New("manual timeout must not be negative")
	}
	return cfg, nil
}

// NormalizeBusConfig applies defaults and validates the config.
func NormalizeBusConfig(cfg BusConfig) (BusConfig, error) {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	return cfg, nil
}
