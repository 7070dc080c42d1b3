package config

import (
	"os"
	"path/filepath"
	"testing"

	"enertrade/pkg/types"
)

func TestDefaultValidates(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
	if cfg.Trading.MaxOrderSize != 10_000_000 {
		t.Errorf("MaxOrderSize = %d, want 10000000", cfg.Trading.MaxOrderSize)
	}
	if cfg.Trading.MinOrderSize != 1_000 {
		t.Errorf("MinOrderSize = %d, want 1000", cfg.Trading.MinOrderSize)
	}
	if cfg.Trading.MaxPositionSize != 50_000_000 {
		t.Errorf("MaxPositionSize = %d, want 50000000", cfg.Trading.MaxPositionSize)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
trading:
  max_order_size: 500000
  min_order_size: 100
  timezone: UTC
oracle:
  mode: sim
server:
  port: 9000
logging:
  level: debug
  format: text
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Trading.MaxOrderSize != 500000 {
		t.Errorf("MaxOrderSize = %d, want 500000", cfg.Trading.MaxOrderSize)
	}
	if cfg.Trading.MinOrderSize != 100 {
		t.Errorf("MinOrderSize = %d, want 100", cfg.Trading.MinOrderSize)
	}
	// Defaults fill unset sections
	if cfg.Trading.MaxPositionSize != 50_000_000 {
		t.Errorf("MaxPositionSize = %d, want default 50000000", cfg.Trading.MaxPositionSize)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadSecretOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("notify:\n  secret: from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ENERTRADE_NOTIFY_SECRET", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Notify.Secret != "from-env" {
		t.Errorf("Notify.Secret = %q, want %q", cfg.Notify.Secret, "from-env")
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"min size zero", func(c *Config) { c.Trading.MinOrderSize = 0 }},
		{"max below min", func(c *Config) { c.Trading.MaxOrderSize = 10 }},
		{"bad session start", func(c *Config) { c.Trading.SessionStart = "25:99" }},
		{"bad timezone", func(c *Config) { c.Trading.Timezone = "Mars/Olympus" }},
		{"bad oracle mode", func(c *Config) { c.Oracle.Mode = "psychic" }},
		{"feed without url", func(c *Config) { c.Oracle.Mode = "feed"; c.Oracle.FeedURL = "" }},
		{"jitter out of range", func(c *Config) { c.Oracle.JitterPct = 1.5 }},
		{"unknown base price commodity", func(c *Config) {
			c.Oracle.BasePrices["plutonium"] = "1.00"
		}},
		{"bad base price", func(c *Config) {
			c.Oracle.BasePrices[string(types.CrudeOil)] = "eighty"
		}},
		{"margin rate zero", func(c *Config) { c.Risk.MarginRate = 0 }},
		{"bad port", func(c *Config) { c.Server.Port = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestBasePrice(t *testing.T) {
	t.Parallel()

	cfg := Default()
	got := cfg.BasePrice(types.CrudeOil)
	if got.String() != "80" {
		t.Errorf("BasePrice(crude_oil) = %v, want 80", got)
	}
	if !cfg.BasePrice(types.Commodity("unknown")).IsZero() {
		t.Error("BasePrice(unknown) should be zero")
	}
}
