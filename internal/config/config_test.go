package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
[binance]
api_key = "k"
api_secret = "s"

[webhooks]
position = "https://open.feishu.cn/hook/a"
market = "https://open.feishu.cn/hook/b"
order = "https://open.feishu.cn/hook/c"
exchange = "https://open.feishu.cn/hook/d"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Market.MaxSamples != 256 {
		t.Fatalf("market.max_samples default = %d", cfg.Market.MaxSamples)
	}
	if cfg.Position.DrawdownThresholdPct != 5.0 {
		t.Fatalf("drawdown threshold default = %v", cfg.Position.DrawdownThresholdPct)
	}
	if cfg.Order.BookTickerRetention != "10m" {
		t.Fatalf("bookticker retention default = %q", cfg.Order.BookTickerRetention)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FUMON_BINANCE_API_KEY", "env-key")
	t.Setenv("FUMON_POSITION_MINUTE", "15")
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Binance.ApiKey != "env-key" {
		t.Fatalf("api key = %q, want env override", cfg.Binance.ApiKey)
	}
	if cfg.Position.Minute != 15 {
		t.Fatalf("position minute = %d, want 15", cfg.Position.Minute)
	}
}

func TestValidateRejectsMissingWebhook(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[binance]
api_key = "k"
api_secret = "s"

[webhooks]
position = "https://open.feishu.cn/hook/a"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject missing webhook URLs")
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	cfg := Defaults()
	cfg.Binance.ApiKey = "k"
	cfg.Binance.ApiSecret = "s"
	cfg.Webhooks = WebhookConfig{
		Position: "https://x", Market: "https://x", Order: "https://x", Exchange: "https://x",
	}
	cfg.Market.Thresholds = map[string]float64{"5m": -1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject non-positive thresholds")
	}
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.Binance.ApiKey = "secret"
	cfg.Redis.Password = "hunter2"
	out := Redacted(&cfg)
	if out.Binance.ApiKey != "***" || out.Redis.Password != "***" {
		t.Fatalf("secrets not redacted: %+v", out.Binance)
	}
	if cfg.Binance.ApiKey != "secret" {
		t.Fatal("Redacted must not mutate the original")
	}
}
