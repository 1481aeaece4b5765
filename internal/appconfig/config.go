// Package appconfig loads the application configuration from YAML and
// converts it into the typed config structs the components consume.
package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/vela/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string          `mapstructure:"state_dir" yaml:"state_dir"`
	Service       ServiceConfig   `mapstructure:"service" yaml:"service"`
	Optimizer     OptimizerConfig `mapstructure:"optimizer" yaml:"optimizer"`
	Comms         CommsConfig     `mapstructure:"comms" yaml:"comms"`
	Bus           BusConfig       `mapstructure:"bus" yaml:"bus"`
	Engine        EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Snapshots     SnapshotsConfig `mapstructure:"snapshots" yaml:"snapshots"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ServiceConfig controls the registry service.
type ServiceConfig struct {
	DefaultSpace  string `mapstructure:"default_space" yaml:"default_space"`
	DefaultTheme  string `mapstructure:"default_theme" yaml:"default_theme"`
	DefaultLayout string `mapstructure:"default_layout" yaml:"default_layout"`
	HistoryMax    int    `mapstructure:"history_max" yaml:"history_max"`
	TabMemoryMB   int64  `mapstructure:"tab_memory_mb" yaml:"tab_memory_mb"`
}

// OptimizerConfig controls tab suspension policy.
type OptimizerConfig struct {
	Strategy            string  `mapstructure:"strategy" yaml:"strategy"`
	IdleAfterMinutes    int     `mapstructure:"idle_after_minutes" yaml:"idle_after_minutes"`
	MemoryThresholdMB   int64   `mapstructure:"memory_threshold_mb" yaml:"memory_threshold_mb"`
	RecencyWeight       float64 `mapstructure:"recency_weight" yaml:"recency_weight"`
	MemoryWeight        float64 `mapstructure:"memory_weight" yaml:"memory_weight"`
	UsageWeight         float64 `mapstructure:"usage_weight" yaml:"usage_weight"`
	TickIntervalSeconds int     `mapstructure:"tick_interval_seconds" yaml:"tick_interval_seconds"`
}

// CommsConfig controls the cross-tab communication layer.
type CommsConfig struct {
	ConflictPolicy       string `mapstructure:"conflict_policy" yaml:"conflict_policy"`
	CoalesceWindowMillis int    `mapstructure:"coalesce_window_ms" yaml:"coalesce_window_ms"`
	ManualTimeoutSeconds int    `mapstructure:"manual_timeout_seconds" yaml:"manual_timeout_seconds"`
	SweepIntervalSeconds int    `mapstructure:"sweep_interval_seconds" yaml:"sweep_interval_seconds"`
	StrictPermissions    bool   `mapstructure:"strict_permissions" yaml:"strict_permissions"`
}

// BusConfig controls the event bus.
type BusConfig struct {
	QueueDepth int `mapstructure:"queue_depth" yaml:"queue_depth"`
}

// EngineConfig controls the browser engine adapter.
type EngineConfig struct {
	Enabled           bool   `mapstructure:"enabled" yaml:"enabled"`
	Headless          bool   `mapstructure:"headless" yaml:"headless"`
	ExecPath          string `mapstructure:"exec_path" yaml:"exec_path"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds" yaml:"nav_timeout_seconds"`
}

// SnapshotsConfig controls space snapshot persistence.
type SnapshotsConfig struct {
	Dir          string `mapstructure:"dir" yaml:"dir"`
	Encrypt      bool   `mapstructure:"encrypt" yaml:"encrypt"`
	KeyStorePath string `mapstructure:"key_store_path" yaml:"key_store_path"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	stateDir := filepath.Join(home, ".vela", "state")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      stateDir,
		Service: ServiceConfig{
			DefaultSpace:  "main",
			DefaultTheme:  string(schema.DefaultTheme),
			DefaultLayout: string(schema.LayoutGrid),
			HistoryMax:    schema.DefaultHistoryMax,
			TabMemoryMB:   schema.DefaultTabMemoryBytes >> 20,
		},
		Optimizer: OptimizerConfig{
			Strategy:            string(schema.StrategyHybrid),
			IdleAfterMinutes:    30,
			MemoryThresholdMB:   schema.DefaultMemoryThresholdBytes >> 20,
			RecencyWeight:       0.3,
			MemoryWeight:        0.4,
			UsageWeight:         0.3,
			TickIntervalSeconds: 60,
		},
		Comms: CommsConfig{
			ConflictPolicy:       string(schema.ConflictLastWriterWins),
			CoalesceWindowMillis: 2000,
			ManualTimeoutSeconds: 0,
			SweepIntervalSeconds: 60,
			StrictPermissions:    false,
		},
		Bus: BusConfig{
			QueueDepth: schema.DefaultQueueDepth,
		},
		Engine: EngineConfig{
			Enabled:           false,
			Headless:          true,
			ExecPath:          "",
			NavTimeoutSeconds: 30,
		},
		Snapshots: SnapshotsConfig{
			Dir:          filepath.Join(stateDir, "snapshots"),
			Encrypt:      false,
			KeyStorePath: filepath.Join(stateDir, "keys.bundle"),
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".vela", "config.yaml"), nil
}

// ServiceSchema converts the service section into its schema config.
func (c Config) ServiceSchema() schema.ServiceConfig {
	return schema.ServiceConfig{
		DefaultSpaceName: c.Service.DefaultSpace,
		DefaultTheme:     schema.ThemeName(c.Service.DefaultTheme),
		DefaultLayout:    schema.LayoutName(c.Service.DefaultLayout),
		HistoryMax:       c.Service.HistoryMax,
		TabMemoryBytes:   c.Service.TabMemoryMB << 20,
	}
}

// OptimizerSchema converts the optimizer section into its schema config.
func (c Config) OptimizerSchema() schema.OptimizerConfig {
	return schema.OptimizerConfig{
		Strategy:             schema.SuspendStrategy(c.Optimizer.Strategy),
		IdleAfter:            time.Duration(c.Optimizer.IdleAfterMinutes) * time.Minute,
		MemoryThresholdBytes: c.Optimizer.MemoryThresholdMB << 20,
		Weights: schema.HybridWeights{
			Recency: c.Optimizer.RecencyWeight,
			Memory:  c.Optimizer.MemoryWeight,
			Usage:   c.Optimizer.UsageWeight,
		},
		TickInterval: time.Duration(c.Optimizer.TickIntervalSeconds) * time.Second,
	}
}

// CommsSchema converts the comms section into its schema config.
func (c Config) CommsSchema() schema.CommsConfig {
	return schema.CommsConfig{
		ConflictPolicy:    schema.ConflictPolicy(c.Comms.ConflictPolicy),
		CoalesceWindow:    time.Duration(c.Comms.CoalesceWindowMillis) * time.Millisecond,
		ManualTimeout:     time.Duration(c.Comms.ManualTimeoutSeconds) * time.Second,
		SweepInterval:     time.Duration(c.Comms.SweepIntervalSeconds) * time.Second,
		StrictPermissions: c.Comms.StrictPermissions,
	}
}

// BusSchema converts the bus section into its schema config.
func (c Config) BusSchema() schema.BusConfig {
	return schema.BusConfig{QueueDepth: c.Bus.QueueDepth}
}

// EngineNavTimeout returns the engine navigation timeout.
func (c Config) EngineNavTimeout() time.Duration {
	return time.Duration(c.Engine.NavTimeoutSeconds) * time.Second
}
