package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tidewatch/futuresmon/internal/domain"
)

// fakeVarStore keeps the var document in memory.
type fakeVarStore struct {
	vars map[string]string
}

func newFakeVarStore() *fakeVarStore {
	return &fakeVarStore{vars: map[string]string{}}
}

func (s *fakeVarStore) Load(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out, nil
}

func (s *fakeVarStore) Save(ctx context.Context, vars map[string]string) error {
	s.vars = vars
	return nil
}

func newTestPositionMonitor(vars domain.VarStore) *PositionMonitor {
	return NewPositionMonitor(
		PositionConfig{DrawdownThresholdPct: 5.0},
		nil, nil, vars, nil, nil, nil, testLogger(),
	)
}

func TestDrawdownPeakNeverRatchetsDown(t *testing.T) {
	ctx := context.Background()
	store := newFakeVarStore()
	m := newTestPositionMonitor(store)

	dd, err := m.updateDrawdown(ctx, dec("100"))
	if err != nil {
		t.Fatalf("updateDrawdown: %v", err)
	}
	if dd != 0 {
		t.Fatalf("drawdown at the peak = %v, want 0", dd)
	}
	if store.vars[equityPeakKey] != "100" {
		t.Fatalf("persisted peak = %q, want 100", store.vars[equityPeakKey])
	}

	// A lowered stored value must not pull the peak down: the running
	// maximum wins and is written back.
	store.vars[equityPeakKey] = "50"
	dd, err = m.updateDrawdown(ctx, dec("80"))
	if err != nil {
		t.Fatalf("updateDrawdown: %v", err)
	}
	if dd < 19.99 || dd > 20.01 {
		t.Fatalf("drawdown = %v%%, want 20%%", dd)
	}
	if store.vars[equityPeakKey] != "100" {
		t.Fatalf("persisted peak = %q, want 100 restored", store.vars[equityPeakKey])
	}
}

func TestDrawdownAdoptsHigherStoredPeak(t *testing.T) {
	ctx := context.Background()
	store := newFakeVarStore()
	store.vars[equityPeakKey] = "200"
	m := newTestPositionMonitor(store)

	dd, err := m.updateDrawdown(ctx, dec("150"))
	if err != nil {
		t.Fatalf("updateDrawdown: %v", err)
	}
	if dd < 24.99 || dd > 25.01 {
		t.Fatalf("drawdown = %v%%, want 25%%", dd)
	}
	if store.vars[equityPeakKey] != "200" {
		t.Fatalf("persisted peak = %q, want 200", store.vars[equityPeakKey])
	}
}

func position(symbol, notional, pnl, mark string) domain.PositionRisk {
	return domain.PositionRisk{
		Symbol:           symbol,
		Notional:         dec(notional),
		UnrealizedProfit: dec(pnl),
		MarkPrice:        dec(mark),
		PositionAmt:      decimal.NewFromInt(1),
		EntryPrice:       dec(mark),
	}
}

func TestSummaryPnL1hOnEveryRow(t *testing.T) {
	m := newTestPositionMonitor(newFakeVarStore())

	prev := time.Now().Add(-time.Hour)
	m.recordSnapshot(prev, dec("1000"), []domain.PositionRisk{
		position("BTCUSDT", "600", "10", "50000"),
		position("ETHUSDT", "-200", "-5", "3000"),
	})

	report := m.buildReport(time.Now(), dec("1010"), 0, []domain.PositionRisk{
		position("BTCUSDT", "650", "12", "51000"),
		position("ETHUSDT", "-300", "-8", "2900"),
	})

	if len(report.Summary) != 4 {
		t.Fatalf("summary rows = %d, want 4", len(report.Summary))
	}
	for i, r := range report.Summary {
		if !r.HasPnL1h {
			t.Fatalf("summary[%d] (%s) has no 1h delta", i, r.Indicator)
		}
	}
	if got := report.Summary[0].PnL1h; !got.Equal(dec("50")) {
		t.Fatalf("long 1h delta = %s, want 50", got)
	}
	if got := report.Summary[1].PnL1h; !got.Equal(dec("-100")) {
		t.Fatalf("short 1h delta = %s, want -100", got)
	}
	if got := report.Summary[2].PnL1h; !got.Equal(dec("-50")) {
		t.Fatalf("total 1h delta = %s, want -50", got)
	}
	if got := report.Summary[3].PnL1h; !got.Equal(dec("10")) {
		t.Fatalf("equity 1h delta = %s, want 10", got)
	}
}

func TestSummaryPnL1hNeedsHistory(t *testing.T) {
	m := newTestPositionMonitor(newFakeVarStore())

	report := m.buildReport(time.Now(), dec("1000"), 0, []domain.PositionRisk{
		position("BTCUSDT", "600", "10", "50000"),
	})
	for i, r := range report.Summary {
		if r.HasPnL1h {
			t.Fatalf("summary[%d] (%s) reports a delta without history", i, r.Indicator)
		}
	}
}
