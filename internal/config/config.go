// Package config handles configuration loading and management for Hivemind.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Hivemind.
type Config struct {
	Coordinator CoordinatorConfig        `mapstructure:"coordinator"`
	Memory      MemoryConfig             `mapstructure:"memory"`
	Consensus   ConsensusConfig          `mapstructure:"consensus"`
	Profiles    map[string]ProfileConfig `mapstructure:"profiles"`
}

// CoordinatorConfig holds scheduling and recovery settings.
type CoordinatorConfig struct {
	// TickInterval is the period between scheduling passes.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// ExpectedTaskDuration seeds stall detection for agents with no history.
	ExpectedTaskDuration time.Duration `mapstructure:"expected_task_duration"`
	// StallFloor is the minimum time before a silent agent is declared stalled.
	StallFloor time.Duration `mapstructure:"stall_floor"`
	// MaxRetries is the number of reassignments before a task fails permanently.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBackoff is the base delay before a failed task becomes assignable again.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// CancelGracePeriod is how long a cancelled execution may run before its
	// agent is declared stalled.
	CancelGracePeriod time.Duration `mapstructure:"cancel_grace_period"`
	// StealThreshold is the per-type utilization gap that triggers work stealing.
	StealThreshold float64 `mapstructure:"steal_threshold"`
	// QueueDepth is the number of tasks that may wait on a busy agent.
	QueueDepth int `mapstructure:"queue_depth"`
	// EventBuffer is the capacity of the coordinator event channel.
	EventBuffer int `mapstructure:"event_buffer"`
}

// MemoryConfig holds shared-memory settings.
type MemoryConfig struct {
	// CacheCapacity is the per-namespace LRU cache size.
	CacheCapacity int `mapstructure:"cache_capacity"`
	// SweepInterval is the period between TTL sweeps.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// ReplicationFactor is the number of peers each write is copied to.
	ReplicationFactor int `mapstructure:"replication_factor"`
	// DBPath is the sqlite file backing the store. Empty uses the XDG default.
	DBPath string `mapstructure:"db_path"`
}

// ConsensusConfig holds voting settings.
type ConsensusConfig struct {
	// DefaultDeadline is the voting window applied when a proposal has none.
	DefaultDeadline time.Duration `mapstructure:"default_deadline"`
}

// ProfileConfig overrides the built-in scoring profile for an agent type.
type ProfileConfig struct {
	Keywords []string `mapstructure:"keywords"`
	Weight   float64  `mapstructure:"weight"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (HIVEMIND_*)
// 2. Project config (.hivemind.yaml in current directory or a parent)
// 3. User config (~/.config/hivemind/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("HIVEMIND")
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values that would break scheduling.
func (c *Config) Validate() error {
	if c.Coordinator.TickInterval <= 0 {
		return fmt.Errorf("coordinator.tick_interval must be positive, got %s", c.Coordinator.TickInterval)
	}
	if c.Coordinator.MaxRetries < 0 {
		return fmt.Errorf("coordinator.max_retries must not be negative, got %d", c.Coordinator.MaxRetries)
	}
	if c.Coordinator.CancelGracePeriod < 0 {
		return fmt.Errorf("coordinator.cancel_grace_period must not be negative, got %s", c.Coordinator.CancelGracePeriod)
	}
	if c.Coordinator.StealThreshold < 0 || c.Coordinator.StealThreshold > 1 {
		return fmt.Errorf("coordinator.steal_threshold must be in [0,1], got %g", c.Coordinator.StealThreshold)
	}
	if c.Memory.CacheCapacity < 0 {
		return fmt.Errorf("memory.cache_capacity must not be negative, got %d", c.Memory.CacheCapacity)
	}
	if c.Memory.ReplicationFactor < 0 {
		return fmt.Errorf("memory.replication_factor must not be negative, got %d", c.Memory.ReplicationFactor)
	}
	for name, p := range c.Profiles {
		if p.Weight < 0 {
			return fmt.Errorf("profiles.%s.weight must not be negative, got %g", name, p.Weight)
		}
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// Scheduling defaults
	v.SetDefault("coordinator.tick_interval", "5s")
	v.SetDefault("coordinator.expected_task_duration", "30s")
	v.SetDefault("coordinator.stall_floor", "30s")
	v.SetDefault("coordinator.max_retries", 3)
	v.SetDefault("coordinator.retry_backoff", "2s")
	v.SetDefault("coordinator.cancel_grace_period", "10s")
	v.SetDefault("coordinator.steal_threshold", 0.30)
	v.SetDefault("coordinator.queue_depth", 2)
	v.SetDefault("coordinator.event_buffer", 256)

	// Memory defaults
	v.SetDefault("memory.cache_capacity", 1000)
	v.SetDefault("memory.sweep_interval", "30s")
	v.SetDefault("memory.replication_factor", 0)
	v.SetDefault("memory.db_path", "")

	// Consensus defaults
	v.SetDefault("consensus.default_deadline", "2m")
}

// getUserConfigDir returns the XDG config directory for Hivemind.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hivemind")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "hivemind")
	}
	return filepath.Join(home, ".config", "hivemind")
}

// findProjectConfig searches for .hivemind.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".hivemind.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			TickInterval:         5 * time.Second,
			ExpectedTaskDuration: 30 * time.Second,
			StallFloor:           30 * time.Second,
			MaxRetries:           3,
			RetryBackoff:         2 * time.Second,
			CancelGracePeriod:    10 * time.Second,
			StealThreshold:       0.30,
			QueueDepth:           2,
			EventBuffer:          256,
		},
		Memory: MemoryConfig{
			CacheCapacity:     1000,
			SweepInterval:     30 * time.Second,
			ReplicationFactor: 0,
		},
		Consensus: ConsensusConfig{
			DefaultDeadline: 2 * time.Minute,
		},
	}
}
