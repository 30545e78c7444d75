// Package config defines all configuration for the arbitrage bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ARB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	API        APIConfig        `mapstructure:"api"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Volatility VolatilityConfig `mapstructure:"volatility"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// WalletConfig holds the Ethereum wallet used for live order signing.
// PrivateKey signs the L1 (EIP-712) ClobAuth message that derives L2 API keys.
// Unused in dry-run mode.
type WalletConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	ChainID    int    `mapstructure:"chain_id"`
}

// APIConfig holds upstream endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the live executor derives them via
// L1 auth on first use.
type APIConfig struct {
	GammaBaseURL   string `mapstructure:"gamma_base_url"`
	CLOBBaseURL    string `mapstructure:"clob_base_url"`
	DeribitBaseURL string `mapstructure:"deribit_base_url"`
	DeribitWSURL   string `mapstructure:"deribit_ws_url"`
	OracleBaseURL  string `mapstructure:"oracle_base_url"`
	ApiKey         string `mapstructure:"api_key"`
	Secret         string `mapstructure:"secret"`
	Passphrase     string `mapstructure:"passphrase"`
}

// TradingConfig tunes the trading state machine.
//
//   - MinEdgeToEnter:  minimum |edge| to open a position.
//   - MaxEdgeToExit:   close when |edge| shrinks below this.
//   - BasePositionSize, EdgeMultiplier, MaxPositionSize:
//     size = min(max, base + |edge|·mult), rounded to cents.
//   - MaxTotalExposure: hard cap on the sum of open notionals.
//   - PollInterval:     cycle period (min recommended 60s).
//   - MinTimeToExpiry:  minimum days-to-expiry to enter.
type TradingConfig struct {
	StartingBalance  float64       `mapstructure:"starting_balance"`
	MinEdgeToEnter   float64       `mapstructure:"min_edge_to_enter"`
	MaxEdgeToExit    float64       `mapstructure:"max_edge_to_exit"`
	BasePositionSize float64       `mapstructure:"base_position_size"`
	EdgeMultiplier   float64       `mapstructure:"edge_multiplier"`
	MaxPositionSize  float64       `mapstructure:"max_position_size"`
	MaxTotalExposure float64       `mapstructure:"max_total_exposure"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MinTimeToExpiry  float64       `mapstructure:"min_time_to_expiry_days"`
	// Always 1 in this bot; kept explicit so the limit shows up in config review.
	MaxPositionsPerMarket int `mapstructure:"max_positions_per_market"`
}

// PipelineConfig controls opportunity discovery.
type PipelineConfig struct {
	Limit          int           `mapstructure:"limit"`           // max opportunities per cycle
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`   // per-HTTP deadline
	MaxConcurrency int           `mapstructure:"max_concurrency"` // parallel surface fetches
}

// VolatilityConfig selects the volatility source.
// Mode "implied" uses the options exchange's IV surface; "realized" computes
// annualized realized vol from the oracle's daily series for symbols without
// listed options.
type VolatilityConfig struct {
	Mode               string `mapstructure:"mode"`
	RealizedWindowDays int    `mapstructure:"realized_window_days"`
	LiveIndexFeed      bool   `mapstructure:"live_index_feed"`
}

// StoreConfig sets where bot state is persisted (a single JSON document).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ARB_PRIVATE_KEY, ARB_API_KEY, ARB_API_SECRET,
// ARB_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api.gamma_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("api.clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("api.deribit_base_url", "https://www.deribit.com/api/v2")
	v.SetDefault("api.deribit_ws_url", "wss://www.deribit.com/ws/api/v2")
	v.SetDefault("api.oracle_base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("trading.min_edge_to_enter", 0.05)
	v.SetDefault("trading.max_edge_to_exit", 0.05)
	v.SetDefault("trading.max_positions_per_market", 1)
	v.SetDefault("trading.poll_interval", time.Minute)
	v.SetDefault("pipeline.limit", 20)
	v.SetDefault("pipeline.fetch_timeout", 30*time.Second)
	v.SetDefault("pipeline.max_concurrency", 10)
	v.SetDefault("volatility.mode", "implied")
	v.SetDefault("volatility.realized_window_days", 30)
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("ARB_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("ARB_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("ARB_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("ARB_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("ARB_DRY_RUN") == "true" || os.Getenv("ARB_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if !c.DryRun {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("wallet.private_key is required for live trading (set ARB_PRIVATE_KEY)")
		}
		if c.Wallet.ChainID == 0 {
			return fmt.Errorf("wallet.chain_id is required (137 for Polygon mainnet)")
		}
	}
	if c.API.GammaBaseURL == "" {
		return fmt.Errorf("api.gamma_base_url is required")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.Trading.StartingBalance <= 0 {
		return fmt.Errorf("trading.starting_balance must be > 0")
	}
	if c.Trading.MinEdgeToEnter <= 0 || c.Trading.MinEdgeToEnter >= 1 {
		return fmt.Errorf("trading.min_edge_to_enter must be in (0,1)")
	}
	if c.Trading.MaxEdgeToExit <= 0 || c.Trading.MaxEdgeToExit >= 1 {
		return fmt.Errorf("trading.max_edge_to_exit must be in (0,1)")
	}
	if c.Trading.BasePositionSize <= 0 {
		return fmt.Errorf("trading.base_position_size must be > 0")
	}
	if c.Trading.MaxPositionSize < c.Trading.BasePositionSize {
		return fmt.Errorf("trading.max_position_size must be >= base_position_size")
	}
	if c.Trading.MaxTotalExposure <= 0 {
		return fmt.Errorf("trading.max_total_exposure must be > 0")
	}
	if c.Trading.MaxPositionsPerMarket != 1 {
		return fmt.Errorf("trading.max_positions_per_market must be 1")
	}
	if c.Trading.PollInterval < time.Second {
		return fmt.Errorf("trading.poll_interval must be >= 1s")
	}
	if c.Pipeline.Limit <= 0 {
		return fmt.Errorf("pipeline.limit must be > 0")
	}
	if c.Pipeline.MaxConcurrency <= 0 || c.Pipeline.MaxConcurrency > 10 {
		return fmt.Errorf("pipeline.max_concurrency must be in [1,10]")
	}
	switch c.Volatility.Mode {
	case "implied", "realized":
	default:
		return fmt.Errorf("volatility.mode must be \"implied\" or \"realized\"")
	}
	return nil
}
