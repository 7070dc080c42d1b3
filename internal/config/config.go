// Package config defines all configuration for the trading core.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ENERTRADE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"enertrade/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Trading    TradingConfig     `mapstructure:"trading"`
	Oracle     OracleConfig      `mapstructure:"oracle"`
	Risk       RiskConfig        `mapstructure:"risk"`
	Bus        BusConfig         `mapstructure:"bus"`
	Notify     NotifyConfig      `mapstructure:"notify"`
	Audit      AuditConfig       `mapstructure:"audit"`
	Prefs      PrefsConfig       `mapstructure:"prefs"`
	Server     ServerConfig      `mapstructure:"server"`
	Connectors []ConnectorConfig `mapstructure:"connectors"`
	Logging    LoggingConfig     `mapstructure:"logging"`
}

// TradingConfig sets order validation bounds and the trading session.
//
//   - MaxOrderSize / MinOrderSize: per-order quantity bounds in commodity units.
//   - MaxPositionSize: per-(user, commodity) position cap used by the risk
//     evaluator; breaching it raises alerts, it is not a pre-trade block.
//   - SessionStart / SessionEnd: local wall-clock bounds "HH:MM" of the
//     trading day in Timezone. Day orders are cancelled at SessionEnd.
//   - EnforceHours: when true, orders submitted outside the session are
//     rejected instead of accepted.
type TradingConfig struct {
	MaxOrderSize    int64  `mapstructure:"max_order_size"`
	MinOrderSize    int64  `mapstructure:"min_order_size"`
	MaxPositionSize int64  `mapstructure:"max_position_size"`
	SessionStart    string `mapstructure:"session_start"`
	SessionEnd      string `mapstructure:"session_end"`
	Timezone        string `mapstructure:"timezone"`
	EnforceHours    bool   `mapstructure:"enforce_hours"`
}

// MaxOrder returns the maximum order size as a decimal.
func (t TradingConfig) MaxOrder() decimal.Decimal { return decimal.NewFromInt(t.MaxOrderSize) }

// MinOrder returns the minimum order size as a decimal.
func (t TradingConfig) MinOrder() decimal.Decimal { return decimal.NewFromInt(t.MinOrderSize) }

// MaxPosition returns the position cap as a decimal.
func (t TradingConfig) MaxPosition() decimal.Decimal { return decimal.NewFromInt(t.MaxPositionSize) }

// OracleConfig selects and tunes the market price source.
//
//   - Mode "sim" runs the deterministic simulated oracle (base price × jitter);
//     mode "feed" polls FeedURL for live prices.
//   - BasePrices seeds the simulated oracle and serves as the fallback when
//     the feed has no quote yet.
//   - CacheTTL bounds how stale a cached price may be on the matching path.
type OracleConfig struct {
	Mode         string            `mapstructure:"mode"`
	FeedURL      string            `mapstructure:"feed_url"`
	PollInterval time.Duration     `mapstructure:"poll_interval"`
	CacheTTL     time.Duration     `mapstructure:"cache_ttl"`
	JitterPct    float64           `mapstructure:"jitter_pct"`
	BasePrices   map[string]string `mapstructure:"base_prices"` // commodity → decimal string
}

// RiskConfig tunes the default limit evaluator.
//
//   - MarginRate: fraction of gross exposure required as margin; a margin
//     call fires when mark-to-market losses approach that requirement.
//   - ConcentrationPct: share of total exposure in a single commodity above
//     which a concentration alert fires.
//   - RecentTradeSpan / VelocityLimit: rolling window and fill count above
//     which trading-velocity alerts fire.
type RiskConfig struct {
	MarginRate       float64       `mapstructure:"margin_rate"`
	ConcentrationPct float64       `mapstructure:"concentration_pct"`
	RecentTradeSpan  time.Duration `mapstructure:"recent_trade_span"`
	VelocityLimit    int           `mapstructure:"velocity_limit"`
}

// BusConfig tunes the in-process event bus.
type BusConfig struct {
	QueueWarnDepth int `mapstructure:"queue_warn_depth"`
}

// NotifyConfig points the webhook notification sink at its endpoint.
// Secret signs outbound payloads (HMAC-SHA256); RatePerSec/Burst bound the
// outbound call rate so slow endpoints cannot back up the orchestrator.
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Secret     string        `mapstructure:"secret"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RatePerSec float64       `mapstructure:"rate_per_sec"`
	Burst      float64       `mapstructure:"burst"`
}

// AuditConfig sets where the append-only audit log lives (SQLite file).
type AuditConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// PrefsConfig sets where user notification preferences are persisted and
// how long reads may be served from cache.
type PrefsConfig struct {
	DataDir  string        `mapstructure:"data_dir"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// ServerConfig controls the HTTP/WebSocket API server.
type ServerConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ConnectorConfig describes one partner-exchange link. Connectors are a
// peer service: the matching core never depends on them.
type ConnectorConfig struct {
	ExchangeID  string        `mapstructure:"exchange_id"`
	Name        string        `mapstructure:"name"`
	URL         string        `mapstructure:"url"`
	WSURL       string        `mapstructure:"ws_url"`
	APIKey      string        `mapstructure:"api_key"`
	Secret      string        `mapstructure:"secret"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Region      string        `mapstructure:"region"`
	Markets     []string      `mapstructure:"markets"`
	Regulations []string      `mapstructure:"regulations"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ENERTRADE_NOTIFY_SECRET, ENERTRADE_NOTIFY_WEBHOOK_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ENERTRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if secret := os.Getenv("ENERTRADE_NOTIFY_SECRET"); secret != "" {
		cfg.Notify.Secret = secret
	}
	if url := os.Getenv("ENERTRADE_NOTIFY_WEBHOOK_URL"); url != "" {
		cfg.Notify.WebhookURL = url
	}

	return &cfg, nil
}

// Default builds the configuration used when no file is supplied, matching
// the documented platform defaults. Tests construct engines from it.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.max_order_size", 10_000_000)
	v.SetDefault("trading.min_order_size", 1_000)
	v.SetDefault("trading.max_position_size", 50_000_000)
	v.SetDefault("trading.session_start", "08:00")
	v.SetDefault("trading.session_end", "17:00")
	v.SetDefault("trading.timezone", "America/New_York")
	v.SetDefault("trading.enforce_hours", false)

	v.SetDefault("oracle.mode", "sim")
	v.SetDefault("oracle.poll_interval", "5s")
	v.SetDefault("oracle.cache_ttl", "2s")
	v.SetDefault("oracle.jitter_pct", 0.02)
	v.SetDefault("oracle.base_prices", map[string]string{
		string(types.CrudeOil):       "80.00",
		string(types.NaturalGas):     "3.50",
		string(types.HeatingOil):     "2.80",
		string(types.Gasoline):       "2.40",
		string(types.RenewableCerts): "45.00",
		string(types.CarbonCredits):  "28.00",
	})

	v.SetDefault("risk.margin_rate", 0.1)
	v.SetDefault("risk.concentration_pct", 0.5)
	v.SetDefault("risk.recent_trade_span", "15m")
	v.SetDefault("risk.velocity_limit", 120)

	v.SetDefault("bus.queue_warn_depth", 1024)

	v.SetDefault("notify.timeout", "5s")
	v.SetDefault("notify.rate_per_sec", 20)
	v.SetDefault("notify.burst", 40)

	v.SetDefault("audit.db_path", "data/audit.db")
	v.SetDefault("prefs.data_dir", "data/prefs")
	v.SetDefault("prefs.cache_ttl", "30s")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Trading.MinOrderSize <= 0 {
		return fmt.Errorf("trading.min_order_size must be > 0")
	}
	if c.Trading.MaxOrderSize <= c.Trading.MinOrderSize {
		return fmt.Errorf("trading.max_order_size must be > trading.min_order_size")
	}
	if c.Trading.MaxPositionSize <= 0 {
		return fmt.Errorf("trading.max_position_size must be > 0")
	}
	if _, err := time.Parse("15:04", c.Trading.SessionStart); err != nil {
		return fmt.Errorf("trading.session_start must be HH:MM: %w", err)
	}
	if _, err := time.Parse("15:04", c.Trading.SessionEnd); err != nil {
		return fmt.Errorf("trading.session_end must be HH:MM: %w", err)
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		return fmt.Errorf("trading.timezone: %w", err)
	}

	switch c.Oracle.Mode {
	case "sim", "feed":
	default:
		return fmt.Errorf("oracle.mode must be one of: sim, feed")
	}
	if c.Oracle.Mode == "feed" && c.Oracle.FeedURL == "" {
		return fmt.Errorf("oracle.feed_url is required when oracle.mode is feed")
	}
	if c.Oracle.JitterPct < 0 || c.Oracle.JitterPct >= 1 {
		return fmt.Errorf("oracle.jitter_pct must be in [0, 1)")
	}
	for commodity, raw := range c.Oracle.BasePrices {
		if !types.Commodity(commodity).Valid() {
			return fmt.Errorf("oracle.base_prices: unknown commodity %q", commodity)
		}
		if _, err := decimal.NewFromString(raw); err != nil {
			return fmt.Errorf("oracle.base_prices.%s: %w", commodity, err)
		}
	}

	if c.Risk.MarginRate <= 0 || c.Risk.MarginRate > 1 {
		return fmt.Errorf("risk.margin_rate must be in (0, 1]")
	}
	if c.Risk.ConcentrationPct <= 0 || c.Risk.ConcentrationPct > 1 {
		return fmt.Errorf("risk.concentration_pct must be in (0, 1]")
	}
	if c.Risk.VelocityLimit <= 0 {
		return fmt.Errorf("risk.velocity_limit must be positive")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port must be a valid TCP port")
	}

	seen := make(map[string]bool, len(c.Connectors))
	for i, conn := range c.Connectors {
		if conn.ExchangeID == "" {
			return fmt.Errorf("connectors[%d].exchange_id is required", i)
		}
		if seen[conn.ExchangeID] {
			return fmt.Errorf("connectors[%d].exchange_id %q is duplicated", i, conn.ExchangeID)
		}
		seen[conn.ExchangeID] = true
		if conn.URL == "" {
			return fmt.Errorf("connectors[%d].url is required", i)
		}
		for _, m := range conn.Markets {
			if !types.Commodity(m).Valid() {
				return fmt.Errorf("connectors[%d].markets: unknown commodity %q", i, m)
			}
		}
	}
	return nil
}

// BasePrice returns the configured base price for a commodity, or zero when
// none is configured.
func (c *Config) BasePrice(commodity types.Commodity) decimal.Decimal {
	raw, ok := c.Oracle.BasePrices[string(commodity)]
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}
