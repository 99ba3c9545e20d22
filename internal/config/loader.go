package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUMON_* environment variable overrides, and
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

// applyEnvOverrides reads well-known FUMON_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Binance.ApiKey, "FUMON_BINANCE_API_KEY")
	setStr(&cfg.Binance.ApiSecret, "FUMON_BINANCE_API_SECRET")
	setStr(&cfg.Binance.WsHost, "FUMON_BINANCE_WS_HOST")
	setBool(&cfg.Binance.Testnet, "FUMON_BINANCE_TESTNET")

	setStr(&cfg.Webhooks.Position, "FUMON_WEBHOOK_POSITION")
	setStr(&cfg.Webhooks.Market, "FUMON_WEBHOOK_MARKET")
	setStr(&cfg.Webhooks.Order, "FUMON_WEBHOOK_ORDER")
	setStr(&cfg.Webhooks.Exchange, "FUMON_WEBHOOK_EXCHANGE")

	setBool(&cfg.Position.Enabled, "FUMON_POSITION_ENABLED")
	setInt(&cfg.Position.Minute, "FUMON_POSITION_MINUTE")
	setFloat64(&cfg.Position.DrawdownThresholdPct, "FUMON_POSITION_DRAWDOWN_THRESHOLD_PCT")

	setBool(&cfg.Market.Enabled, "FUMON_MARKET_ENABLED")
	setInt(&cfg.Market.Speed, "FUMON_MARKET_SPEED")
	setInt(&cfg.Market.MaxSamples, "FUMON_MARKET_MAX_SAMPLES")

	setBool(&cfg.Order.Enabled, "FUMON_ORDER_ENABLED")
	setStr(&cfg.Order.BookTickerRetention, "FUMON_ORDER_BOOKTICKER_RETENTION")
	setInt(&cfg.Order.MaxTickets, "FUMON_ORDER_MAX_TICKETS")

	setBool(&cfg.Exchange.Enabled, "FUMON_EXCHANGE_ENABLED")
	setInt(&cfg.Exchange.Minute, "FUMON_EXCHANGE_MINUTE")

	setStr(&cfg.Storage.DataDir, "FUMON_STORAGE_DATA_DIR")

	setStr(&cfg.Postgres.DSN, "FUMON_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxConns, "FUMON_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.MinConns, "FUMON_POSTGRES_POOL_MIN_CONNS")

	setStr(&cfg.Redis.Addr, "FUMON_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUMON_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUMON_REDIS_DB")

	setStr(&cfg.S3.Endpoint, "FUMON_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUMON_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUMON_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUMON_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUMON_S3_SECRET_KEY")
	setStr(&cfg.S3.Prefix, "FUMON_S3_PREFIX")
	setBool(&cfg.S3.UseSSL, "FUMON_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUMON_S3_FORCE_PATH_STYLE")

	setStr(&cfg.LogLevel, "FUMON_LOG_LEVEL")
	setStringSlice(&cfg.Webhooks.BestEffort, "FUMON_WEBHOOK_BEST_EFFORT")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
