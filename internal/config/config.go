// Package config defines the top-level configuration for snipebot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SNIPEBOT_* environment
// variables.
type Config struct {
	RPC      RPCConfig      `toml:"rpc"`
	Builder  BuilderConfig  `toml:"builder"`
	Feed     FeedConfig     `toml:"feed"`
	Snipe    SnipeConfig    `toml:"snipe"`
	AutoSell AutoSellConfig `toml:"auto_sell"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// RPCConfig holds the redundant endpoint list and submission parameters.
type RPCConfig struct {
	// Endpoints is the ordered list of equivalent JSON-RPC endpoints the
	// connection pool rotates through. Must be non-empty.
	Endpoints []string `toml:"endpoints"`
	// SubmitEndpoint, when set, routes transaction submission through a
	// dedicated relay while reads stay on the pool.
	SubmitEndpoint string   `toml:"submit_endpoint"`
	Commitment     string   `toml:"commitment"`
	RequestsPerSec float64  `toml:"requests_per_sec"`
	Burst          int      `toml:"burst"`
	Simulate       bool     `toml:"simulate"`
	ConfirmTimeout duration `toml:"confirm_timeout"`

	MaxAttempts  int      `toml:"max_attempts"`
	InitialDelay duration `toml:"initial_delay"`
	MaxDelay     duration `toml:"max_delay"`
	Multiplier   float64  `toml:"multiplier"`
}

// BuilderConfig holds the local trade-builder service parameters. The
// builder owns keys and signing; snipebot only ever sees serialized signed
// payloads.
type BuilderConfig struct {
	BaseURL     string `toml:"base_url"`
	APIKey      string `toml:"api_key"`
	Wallet      string `toml:"wallet"`
	SlippageBps int    `toml:"slippage_bps"`
	PriorityFee uint64 `toml:"priority_fee"` // micro-lamports per compute unit
}

// FeedConfig holds the trade event stream parameters.
type FeedConfig struct {
	WsURL string `toml:"ws_url"`
}

// SnipeConfig holds entry parameters.
type SnipeConfig struct {
	AmountSol     float64 `toml:"amount_sol"`
	MinBalanceSol float64 `toml:"min_balance_sol"`
	// MaxPositions caps how many positions may be open at once.
	MaxPositions int `toml:"max_positions"`
	// AutoSnipe buys every new launch seen on the feed. When false, only
	// the explicit targets are sniped.
	AutoSnipe bool `toml:"auto_snipe"`
	// Targets are mints sniped immediately at startup.
	Targets []string `toml:"targets"`
}

// AutoSellConfig holds the position manager's decision loop parameters.
type AutoSellConfig struct {
	TickInterval duration `toml:"tick_interval"`
	MaxHold      duration `toml:"max_hold"`

	BreakevenEnabled bool    `toml:"breakeven_enabled"`
	BreakevenTarget  float64 `toml:"breakeven_target"`  // value/cost multiple that triggers the partial sell
	BreakevenPercent float64 `toml:"breakeven_percent"` // fraction of the position sold at breakeven

	MomentumWindow    duration `toml:"momentum_window"`
	LullThreshold     duration `toml:"lull_threshold"`
	BuySellRatioFloor float64  `toml:"buy_sell_ratio_floor"`
}

// PostgresConfig holds connection parameters for the durable trade log.
type PostgresConfig struct {
	Enabled  bool   `toml:"enabled"`
	DSN      string `toml:"dsn"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	SSLMode  string `toml:"ssl_mode"`
	MaxConns int    `toml:"pool_max_conns"`
	MinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds Redis connection parameters for the signal bus.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for the trade history archiver.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Interval       duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	// Events limits delivery to the listed event types. Empty means all.
	Events []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5s" or "250ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		RPC: RPCConfig{
			Endpoints:      []string{"https://api.mainnet-beta.solana.com"},
			Commitment:     "confirmed",
			RequestsPerSec: 20,
			Burst:          40,
			Simulate:       false,
			ConfirmTimeout: duration{45 * time.Second},
			MaxAttempts:    3,
			InitialDelay:   duration{500 * time.Millisecond},
			MaxDelay:       duration{8 * time.Second},
			Multiplier:     2.0,
		},
		Builder: BuilderConfig{
			BaseURL:     "http://localhost:9090",
			SlippageBps: 500,
			PriorityFee: 200_000,
		},
		Feed: FeedConfig{
			WsURL: "wss://pumpportal.fun/api/data",
		},
		Snipe: SnipeConfig{
			AmountSol:     0.1,
			MinBalanceSol: 0.05,
			MaxPositions:  3,
		},
		AutoSell: AutoSellConfig{
			TickInterval:      duration{2 * time.Second},
			MaxHold:           duration{90 * time.Second},
			BreakevenEnabled:  true,
			BreakevenTarget:   2.0,
			BreakevenPercent:  0.5,
			MomentumWindow:    duration{60 * time.Second},
			LullThreshold:     duration{10 * time.Second},
			BuySellRatioFloor: 0.4,
		},
		Postgres: PostgresConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     5432,
			Database: "snipebot",
			User:     "postgres",
			SSLMode:  "disable",
			MaxConns: 5,
			MinConns: 1,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "snipebot-history",
			ForcePathStyle: true,
			Interval:       duration{15 * time.Minute},
		},
		Mode:     "snipe",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"snipe":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCommitments = map[string]bool{
	"processed": true,
	"confirmed": true,
	"finalized": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var problems []string

	if !validModes[strings.ToLower(c.Mode)] {
		problems = append(problems, fmt.Sprintf("mode: unsupported value %q", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		problems = append(problems, fmt.Sprintf("log_level: unsupported value %q", c.LogLevel))
	}

	if len(c.RPC.Endpoints) == 0 {
		problems = append(problems, "rpc.endpoints: at least one endpoint is required")
	}
	for i, ep := range c.RPC.Endpoints {
		if strings.TrimSpace(ep) == "" {
			problems = append(problems, fmt.Sprintf("rpc.endpoints[%d]: empty endpoint URL", i))
		}
	}
	if !validCommitments[c.RPC.Commitment] {
		problems = append(problems, fmt.Sprintf("rpc.commitment: unsupported value %q", c.RPC.Commitment))
	}
	if c.RPC.MaxAttempts < 1 {
		problems = append(problems, "rpc.max_attempts: must be >= 1")
	}
	if c.RPC.Multiplier < 1 {
		problems = append(problems, "rpc.multiplier: must be >= 1")
	}
	if c.RPC.InitialDelay.Duration <= 0 {
		problems = append(problems, "rpc.initial_delay: must be positive")
	}
	if c.RPC.MaxDelay.Duration < c.RPC.InitialDelay.Duration {
		problems = append(problems, "rpc.max_delay: must be >= rpc.initial_delay")
	}

	if strings.ToLower(c.Mode) == "snipe" {
		if strings.TrimSpace(c.Builder.BaseURL) == "" {
			problems = append(problems, "builder.base_url: required in snipe mode")
		}
		if strings.TrimSpace(c.Builder.Wallet) == "" {
			problems = append(problems, "builder.wallet: required in snipe mode")
		}
		if c.Snipe.AmountSol <= 0 {
			problems = append(problems, "snipe.amount_sol: must be positive")
		}
		if c.Snipe.MaxPositions < 1 {
			problems = append(problems, "snipe.max_positions: must be >= 1")
		}
		if !c.Snipe.AutoSnipe && len(c.Snipe.Targets) == 0 {
			problems = append(problems, "snipe: auto_snipe disabled and no targets configured")
		}
	}

	if strings.TrimSpace(c.Feed.WsURL) == "" {
		problems = append(problems, "feed.ws_url: required")
	}

	if c.AutoSell.TickInterval.Duration <= 0 {
		problems = append(problems, "auto_sell.tick_interval: must be positive")
	}
	if c.AutoSell.MaxHold.Duration <= 0 {
		problems = append(problems, "auto_sell.max_hold: must be positive")
	}
	if c.AutoSell.MomentumWindow.Duration <= 0 {
		problems = append(problems, "auto_sell.momentum_window: must be positive")
	}
	if c.AutoSell.LullThreshold.Duration <= 0 {
		problems = append(problems, "auto_sell.lull_threshold: must be positive")
	}
	if c.AutoSell.BuySellRatioFloor <= 0 || c.AutoSell.BuySellRatioFloor >= 1 {
		problems = append(problems, "auto_sell.buy_sell_ratio_floor: must be in (0, 1)")
	}
	if c.AutoSell.BreakevenEnabled {
		if c.AutoSell.BreakevenTarget <= 1 {
			problems = append(problems, "auto_sell.breakeven_target: must be > 1")
		}
		if c.AutoSell.BreakevenPercent <= 0 || c.AutoSell.BreakevenPercent >= 1 {
			problems = append(problems, "auto_sell.breakeven_percent: must be in (0, 1)")
		}
	}

	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" && strings.TrimSpace(c.Postgres.Host) == "" {
		problems = append(problems, "postgres: dsn or host required when enabled")
	}
	if c.S3.Enabled && strings.TrimSpace(c.S3.Bucket) == "" {
		problems = append(problems, "s3.bucket: required when enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
