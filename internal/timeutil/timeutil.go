// Package timeutil provides wall-clock alignment helpers for monitor
// scheduling and small formatting utilities shared by reports.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// Millis converts t to milliseconds since epoch.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// UntilNextMinute returns the duration until the next wall-clock minute
// boundary at the given second offset.
func UntilNextMinute(now time.Time, second int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), second, 0, now.Location())
	for !next.After(now) {
		next = next.Add(time.Minute)
	}
	return next.Sub(now)
}

// UntilNextHour returns the duration until the next wall-clock hour boundary
// at the given minute offset.
func UntilNextHour(now time.Time, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), minute, 0, 0, now.Location())
	for !next.After(now) {
		next = next.Add(time.Hour)
	}
	return next.Sub(now)
}

// ParseInterval parses a compact interval expression such as "5m", "1h" or
// "1d 4h" into milliseconds.
func ParseInterval(s string) (int64, error) {
	units := []struct {
		suffix string
		ms     int64
	}{
		{"ms", 1},
		{"d", 24 * 60 * 60 * 1000},
		{"h", 60 * 60 * 1000},
		{"m", 60 * 1000},
		{"s", 1000},
	}
	var total int64
	for _, part := range strings.Fields(s) {
		matched := false
		for _, u := range units {
			if !strings.HasSuffix(part, u.suffix) {
				continue
			}
			var n int64
			if _, err := fmt.Sscanf(strings.TrimSuffix(part, u.suffix), "%d", &n); err != nil {
				return 0, fmt.Errorf("timeutil: parse interval %q: %w", s, err)
			}
			total += n * u.ms
			matched = true
			break
		}
		if !matched {
			return 0, fmt.Errorf("timeutil: parse interval %q: unknown unit in %q", s, part)
		}
	}
	if total <= 0 {
		return 0, fmt.Errorf("timeutil: parse interval %q: not positive", s)
	}
	return total, nil
}

// FormatMillis renders a millisecond span as a compact human string,
// e.g. 90061001 -> "1d 1h 1m 1s 1ms".
func FormatMillis(ms int64) string {
	if ms < 0 {
		return fmt.Sprintf("-%s", FormatMillis(-ms))
	}
	if ms == 0 {
		return "0ms"
	}
	var parts []string
	days := ms / (24 * 60 * 60 * 1000)
	ms %= 24 * 60 * 60 * 1000
	hours := ms / (60 * 60 * 1000)
	ms %= 60 * 60 * 1000
	minutes := ms / (60 * 1000)
	ms %= 60 * 1000
	seconds := ms / 1000
	ms %= 1000
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	if ms > 0 {
		parts = append(parts, fmt.Sprintf("%dms", ms))
	}
	return strings.Join(parts, " ")
}

// FormatSymbol inserts a separator before a known quote-asset suffix, turning
// BTCUSDT into BTC/USDT for display.
func FormatSymbol(symbol string) string {
	for _, quote := range []string{"USDT", "USDC", "BTC", "ETH", "BNB"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return symbol[:len(symbol)-len(quote)] + "/" + quote
		}
	}
	return symbol
}

// Sleep waits for d or until ctx is done; it reports whether the full wait
// elapsed.
func Sleep(ctx interface{ Done() <-chan struct{} }, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
