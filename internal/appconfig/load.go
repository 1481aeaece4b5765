package appconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses
// DefaultConfigPath. A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("service.default_space", cfg.Service.DefaultSpace)
	v.SetDefault("service.default_theme", cfg.Service.DefaultTheme)
	v.SetDefault("service.default_layout", cfg.Service.DefaultLayout)
	v.SetDefault("service.history_max", cfg.Service.HistoryMax)
	v.SetDefault("service.tab_memory_mb", cfg.Service.TabMemoryMB)
	v.SetDefault("optimizer.strategy", cfg.Optimizer.Strategy)
	v.SetDefault("optimizer.idle_after_minutes", cfg.Optimizer.IdleAfterMinutes)
	v.SetDefault("optimizer.memory_threshold_mb", cfg.Optimizer.MemoryThresholdMB)
	v.SetDefault("optimizer.recency_weight", cfg.Optimizer.RecencyWeight)
	v.SetDefault("optimizer.memory_weight", cfg.Optimizer.MemoryWeight)
	v.SetDefault("optimizer.usage_weight", cfg.Optimizer.UsageWeight)
	v.SetDefault("optimizer.tick_interval_seconds", cfg.Optimizer.TickIntervalSeconds)
	v.SetDefault("comms.conflict_policy", cfg.Comms.ConflictPolicy)
	v.SetDefault("comms.coalesce_window_ms", cfg.Comms.CoalesceWindowMillis)
	v.SetDefault("comms.manual_timeout_seconds", cfg.Comms.ManualTimeoutSeconds)
	v.SetDefault("comms.sweep_interval_seconds", cfg.Comms.SweepIntervalSeconds)
	v.SetDefault("comms.strict_permissions", cfg.Comms.StrictPermissions)
	v.SetDefault("bus.queue_depth", cfg.Bus.QueueDepth)
	v.SetDefault("engine.enabled", cfg.Engine.Enabled)
	v.SetDefault("engine.headless", cfg.Engine.Headless)
	v.SetDefault("engine.exec_path", cfg.Engine.ExecPath)
	v.SetDefault("engine.nav_timeout_seconds", cfg.Engine.NavTimeoutSeconds)
	v.SetDefault("snapshots.dir", cfg.Snapshots.Dir)
	v.SetDefault("snapshots.encrypt", cfg.Snapshots.Encrypt)
	v.SetDefault("snapshots.key_store_path", cfg.Snapshots.KeyStorePath)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return Config{}, err
			}
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	return cfg, nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Engine.ExecPath = expandEnv(cfg.Engine.ExecPath)
	cfg.Snapshots.Dir = expandEnv(cfg.Snapshots.Dir)
	cfg.Snapshots.KeyStorePath = expandEnv(cfg.Snapshots.KeyStorePath)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
