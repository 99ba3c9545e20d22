package timeutil

import (
	"testing"
	"time"
)

func TestUntilNextHour(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 42, 30, 0, time.UTC)

	if got := UntilNextHour(now, 50); got != 7*time.Minute+30*time.Second {
		t.Fatalf("UntilNextHour(.., 50) = %v", got)
	}
	// Offset already passed this hour rolls to the next hour.
	if got := UntilNextHour(now, 30); got != 47*time.Minute+30*time.Second {
		t.Fatalf("UntilNextHour(.., 30) = %v", got)
	}
}

func TestUntilNextMinute(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 42, 30, 0, time.UTC)
	if got := UntilNextMinute(now, 0); got != 30*time.Second {
		t.Fatalf("UntilNextMinute = %v", got)
	}
	// Exactly on the boundary waits a full minute.
	boundary := time.Date(2025, 3, 1, 10, 42, 0, 0, time.UTC)
	if got := UntilNextMinute(boundary, 0); got != time.Minute {
		t.Fatalf("UntilNextMinute at boundary = %v", got)
	}
}

func TestParseInterval(t *testing.T) {
	cases := map[string]int64{
		"500ms": 500,
		"45s":   45_000,
		"5m":    300_000,
		"1h":    3_600_000,
		"1d":    86_400_000,
		"1d 4h": 100_800_000,
	}
	for in, want := range cases {
		got, err := ParseInterval(in)
		if err != nil {
			t.Fatalf("ParseInterval(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseInterval(%q) = %d, want %d", in, got, want)
		}
	}
	if _, err := ParseInterval("10x"); err == nil {
		t.Fatal("ParseInterval should reject unknown units")
	}
}

func TestFormatMillis(t *testing.T) {
	if got := FormatMillis(0); got != "0ms" {
		t.Fatalf("FormatMillis(0) = %q", got)
	}
	if got := FormatMillis(90_061_001); got != "1d 1h 1m 1s 1ms" {
		t.Fatalf("FormatMillis = %q", got)
	}
	if got := FormatMillis(3_600_000); got != "1h" {
		t.Fatalf("FormatMillis(1h) = %q", got)
	}
}

func TestFormatSymbol(t *testing.T) {
	if got := FormatSymbol("BTCUSDT"); got != "BTC/USDT" {
		t.Fatalf("FormatSymbol = %q", got)
	}
	if got := FormatSymbol("ETHBTC"); got != "ETH/BTC" {
		t.Fatalf("FormatSymbol = %q", got)
	}
	// A bare quote asset is left alone.
	if got := FormatSymbol("USDT"); got != "USDT" {
		t.Fatalf("FormatSymbol = %q", got)
	}
}
