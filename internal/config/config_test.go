package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Coordinator.TickInterval != 5*time.Second {
		t.Errorf("TickInterval = %s, want 5s", cfg.Coordinator.TickInterval)
	}
	if cfg.Coordinator.StallFloor != 30*time.Second {
		t.Errorf("StallFloor = %s, want 30s", cfg.Coordinator.StallFloor)
	}
	if cfg.Coordinator.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Coordinator.MaxRetries)
	}
	if cfg.Coordinator.StealThreshold != 0.30 {
		t.Errorf("StealThreshold = %g, want 0.30", cfg.Coordinator.StealThreshold)
	}
	if cfg.Memory.CacheCapacity != 1000 {
		t.Errorf("CacheCapacity = %d, want 1000", cfg.Memory.CacheCapacity)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
coordinator:
  tick_interval: 1s
  max_retries: 5
memory:
  cache_capacity: 16
profiles:
  researcher:
    keywords: [survey, literature]
    weight: 1.5
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}

	if cfg.Coordinator.TickInterval != time.Second {
		t.Errorf("TickInterval = %s, want 1s", cfg.Coordinator.TickInterval)
	}
	if cfg.Coordinator.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Coordinator.MaxRetries)
	}
	// Values absent from the file keep their defaults.
	if cfg.Coordinator.StealThreshold != 0.30 {
		t.Errorf("StealThreshold = %g, want default 0.30", cfg.Coordinator.StealThreshold)
	}
	if cfg.Memory.CacheCapacity != 16 {
		t.Errorf("CacheCapacity = %d, want 16", cfg.Memory.CacheCapacity)
	}

	prof, ok := cfg.Profiles["researcher"]
	if !ok {
		t.Fatal("expected researcher profile override")
	}
	if prof.Weight != 1.5 {
		t.Errorf("researcher weight = %g, want 1.5", prof.Weight)
	}
	if len(prof.Keywords) != 2 {
		t.Errorf("researcher keywords = %v, want 2 entries", prof.Keywords)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick interval", func(c *Config) { c.Coordinator.TickInterval = 0 }},
		{"negative retries", func(c *Config) { c.Coordinator.MaxRetries = -1 }},
		{"steal threshold above one", func(c *Config) { c.Coordinator.StealThreshold = 1.5 }},
		{"negative cache", func(c *Config) { c.Memory.CacheCapacity = -1 }},
		{"negative profile weight", func(c *Config) {
			c.Profiles = map[string]ProfileConfig{"coder": {Weight: -1}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
