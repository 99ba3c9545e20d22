// Package config defines the top-level configuration for the futures monitor
// and provides loading and validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FUMON_* environment variables.
type Config struct {
	Binance  BinanceConfig  `toml:"binance"`
	Webhooks WebhookConfig  `toml:"webhooks"`
	Position PositionConfig `toml:"position"`
	Market   MarketConfig   `toml:"market"`
	Order    OrderConfig    `toml:"order"`
	Exchange ExchangeConfig `toml:"exchange"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	LogLevel string         `toml:"log_level"`
}

// BinanceConfig holds exchange API credentials and endpoints.
type BinanceConfig struct {
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
	// WsHost is the combined-stream websocket endpoint.
	WsHost  string `toml:"ws_host"`
	Testnet bool   `toml:"testnet"`
}

// WebhookConfig holds one Feishu webhook URL per alert category. Categories
// sharing a URL share one delivery channel.
type WebhookConfig struct {
	Position string `toml:"position"`
	Market   string `toml:"market"`
	Order    string `toml:"order"`
	Exchange string `toml:"exchange"`
	// BestEffort lists categories whose channel drops rather than blocks
	// (fire-and-forget enqueue, tick-polled send loop).
	BestEffort []string `toml:"best_effort"`
}

// PositionConfig tunes the hourly position report.
type PositionConfig struct {
	Enabled bool `toml:"enabled"`
	// Minute is the wall-clock minute offset of the hourly cycle.
	Minute               int     `toml:"minute"`
	DrawdownThresholdPct float64 `toml:"drawdown_threshold_pct"`
}

// MarketConfig tunes the market move detector.
type MarketConfig struct {
	Enabled bool `toml:"enabled"`
	// Thresholds maps window expressions ("5m", "1h") to the absolute
	// percentage change that triggers an alert for that window.
	Thresholds map[string]float64 `toml:"thresholds"`
	// Speed is the mark price stream cadence in seconds (1 or 3).
	Speed int `toml:"speed"`
	// MaxSamples caps the points retained per window; the sparse spacing is
	// interval / max_samples.
	MaxSamples int `toml:"max_samples"`
}

// OrderConfig tunes the order execution monitor.
type OrderConfig struct {
	Enabled bool `toml:"enabled"`
	// BookTickerRetention is how long best-bid/ask snapshots are kept per
	// symbol, as an interval expression.
	BookTickerRetention string `toml:"bookticker_retention"`
	// MaxTickets bounds the pending order-ticket map.
	MaxTickets int `toml:"max_tickets"`
}

// ExchangeConfig tunes the listed-instrument monitor.
type ExchangeConfig struct {
	Enabled bool `toml:"enabled"`
	Minute  int  `toml:"minute"`
}

// StorageConfig locates the file-backed state.
type StorageConfig struct {
	// DataDir holds var.json and the CSV logs.
	DataDir string `toml:"data_dir"`
}

// PostgresConfig enables the optional report-row database sink.
type PostgresConfig struct {
	DSN      string `toml:"dsn"`
	MaxConns int    `toml:"pool_max_conns"`
	MinConns int    `toml:"pool_min_conns"`
}

// RedisConfig enables the optional cross-restart alert dedup store.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// S3Config enables the optional CSV archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	Prefix         string `toml:"prefix"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// Defaults returns the built-in configuration baseline.
func Defaults() Config {
	return Config{
		Binance: BinanceConfig{
			WsHost: "wss://fstream.binance.com/stream",
		},
		Position: PositionConfig{
			Enabled:              true,
			Minute:               0,
			DrawdownThresholdPct: 5.0,
		},
		Market: MarketConfig{
			Enabled: true,
			Thresholds: map[string]float64{
				"1m": 1.0,
				"5m": 2.0,
				"1h": 3.0,
				"4h": 5.0,
				"1d": 8.0,
			},
			Speed:      1,
			MaxSamples: 256,
		},
		Order: OrderConfig{
			Enabled:             true,
			BookTickerRetention: "10m",
			MaxTickets:          4096,
		},
		Exchange: ExchangeConfig{
			Enabled: true,
			Minute:  30,
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Postgres: PostgresConfig{
			MaxConns: 4,
			MinConns: 0,
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for internally inconsistent or missing
// values. It returns an error describing the first problem found.
func (c *Config) Validate() error {
	if c.Binance.ApiKey == "" || c.Binance.ApiSecret == "" {
		return fmt.Errorf("config: binance.api_key and binance.api_secret are required")
	}
	if c.Binance.WsHost == "" {
		return fmt.Errorf("config: binance.ws_host is required")
	}
	for name, url := range map[string]string{
		"position": c.Webhooks.Position,
		"market":   c.Webhooks.Market,
		"order":    c.Webhooks.Order,
		"exchange": c.Webhooks.Exchange,
	} {
		if url == "" {
			return fmt.Errorf("config: webhooks.%s is required", name)
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("config: webhooks.%s must be an http(s) URL", name)
		}
	}
	for _, cat := range c.Webhooks.BestEffort {
		switch cat {
		case "position", "market", "order", "exchange":
		default:
			return fmt.Errorf("config: webhooks.best_effort contains unknown category %q", cat)
		}
	}
	if c.Position.Minute < 0 || c.Position.Minute > 59 {
		return fmt.Errorf("config: position.minute must be in [0, 59]")
	}
	if c.Exchange.Minute < 0 || c.Exchange.Minute > 59 {
		return fmt.Errorf("config: exchange.minute must be in [0, 59]")
	}
	if c.Market.Enabled {
		if len(c.Market.Thresholds) == 0 {
			return fmt.Errorf("config: market.thresholds must not be empty")
		}
		for expr, pct := range c.Market.Thresholds {
			if pct <= 0 {
				return fmt.Errorf("config: market.thresholds[%q] must be positive", expr)
			}
		}
		if c.Market.Speed != 1 && c.Market.Speed != 3 {
			return fmt.Errorf("config: market.speed must be 1 or 3")
		}
		if c.Market.MaxSamples <= 0 {
			return fmt.Errorf("config: market.max_samples must be positive")
		}
	}
	if c.Order.MaxTickets <= 0 {
		return fmt.Errorf("config: order.max_tickets must be positive")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("config: storage.data_dir is required")
	}
	if c.Position.DrawdownThresholdPct <= 0 {
		return fmt.Errorf("config: position.drawdown_threshold_pct must be positive")
	}
	return nil
}

// Redacted returns a copy of cfg with secrets replaced by "***" so the
// active configuration can be logged safely.
func Redacted(cfg *Config) Config {
	out := *cfg
	redact(&out.Binance.ApiKey)
	redact(&out.Binance.ApiSecret)
	redact(&out.Postgres.DSN)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
