package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SNIPEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SNIPEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStrList(&cfg.RPC.Endpoints, "SNIPEBOT_RPC_ENDPOINTS")
	setStr(&cfg.RPC.SubmitEndpoint, "SNIPEBOT_RPC_SUBMIT_ENDPOINT")
	setStr(&cfg.RPC.Commitment, "SNIPEBOT_RPC_COMMITMENT")

	setStr(&cfg.Builder.BaseURL, "SNIPEBOT_BUILDER_BASE_URL")
	setStr(&cfg.Builder.APIKey, "SNIPEBOT_BUILDER_API_KEY")
	setStr(&cfg.Builder.Wallet, "SNIPEBOT_BUILDER_WALLET")

	setStr(&cfg.Feed.WsURL, "SNIPEBOT_FEED_WS_URL")

	setStrList(&cfg.Snipe.Targets, "SNIPEBOT_SNIPE_TARGETS")
	setBool(&cfg.Snipe.AutoSnipe, "SNIPEBOT_SNIPE_AUTO")
	setInt(&cfg.Snipe.MaxPositions, "SNIPEBOT_SNIPE_MAX_POSITIONS")

	setStr(&cfg.Postgres.DSN, "SNIPEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SNIPEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SNIPEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SNIPEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SNIPEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SNIPEBOT_POSTGRES_PASSWORD")
	setBool(&cfg.Postgres.Enabled, "SNIPEBOT_POSTGRES_ENABLED")

	setStr(&cfg.Redis.Addr, "SNIPEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SNIPEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SNIPEBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "SNIPEBOT_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "SNIPEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SNIPEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SNIPEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SNIPEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SNIPEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.Enabled, "SNIPEBOT_S3_ENABLED")

	setStr(&cfg.Notify.TelegramToken, "SNIPEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SNIPEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SNIPEBOT_NOTIFY_DISCORD_WEBHOOK_URL")

	setStr(&cfg.Mode, "SNIPEBOT_MODE")
	setStr(&cfg.LogLevel, "SNIPEBOT_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setStrList splits a comma-separated environment value into a string slice.
func setStrList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
