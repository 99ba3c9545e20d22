package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tidewatch/futuresmon/internal/domain"
	"github.com/tidewatch/futuresmon/internal/retry"
	"github.com/tidewatch/futuresmon/internal/timeutil"
	"github.com/tidewatch/futuresmon/internal/window"
)

// equityPeakKey is the var-store key of the running equity high-water mark.
const equityPeakKey = "equity_peak"

// snapshotRetention keeps enough hourly cycles for the 12h comparison.
const snapshotRetention = int64(13 * time.Hour / time.Millisecond)

// positionSnapshot is one reporting cycle's state kept for later comparison.
type positionSnapshot struct {
	equity        decimal.Decimal
	longNotional  decimal.Decimal
	shortNotional decimal.Decimal
	marks         map[string]decimal.Decimal
}

// PositionConfig tunes the position monitor.
type PositionConfig struct {
	// Minute is the wall-clock minute of the hourly reporting cycle.
	Minute int
	// DrawdownThresholdPct triggers an @all mention when reached.
	DrawdownThresholdPct float64
}

// PositionMonitor reports the account and open positions once per hour,
// tracks equity drawdown against a persisted high-water mark, and mirrors
// the report rows to CSV and the optional database sink.
type PositionMonitor struct {
	runner

	cfg  PositionConfig
	api  domain.RestAPI
	pub  *Publisher
	vars domain.VarStore

	summaryCSV   domain.RowAppender
	positionsCSV domain.RowAppender
	sink         domain.ReportSink // nil when no database is configured

	history *window.TimeWindow[positionSnapshot]
	// peak is the running equity high-water mark, reconciled with the
	// persisted value every cycle. It only ever rises.
	peak decimal.Decimal
}

// NewPositionMonitor assembles the monitor. sink may be nil.
func NewPositionMonitor(
	cfg PositionConfig,
	api domain.RestAPI,
	pub *Publisher,
	vars domain.VarStore,
	summaryCSV, positionsCSV domain.RowAppender,
	sink domain.ReportSink,
	logger *slog.Logger,
) *PositionMonitor {
	return &PositionMonitor{
		runner:       newRunner("position", logger),
		cfg:          cfg,
		api:          api,
		pub:          pub,
		vars:         vars,
		summaryCSV:   summaryCSV,
		positionsCSV: positionsCSV,
		sink:         sink,
		history:      window.New[positionSnapshot](snapshotRetention),
	}
}

// Start launches the hourly reporting loop.
func (m *PositionMonitor) Start(ctx context.Context) error {
	m.startTasks(ctx, []Task{
		{Name: "report", Run: m.reportLoop},
	})
	return nil
}

// Stop halts the loop and waits for the in-flight cycle.
func (m *PositionMonitor) Stop() error {
	return m.stopTasks()
}

func (m *PositionMonitor) reportLoop(ctx context.Context) error {
	for {
		wait := timeutil.UntilNextHour(time.Now(), m.cfg.Minute)
		if !timeutil.Sleep(ctx, wait) {
			return nil
		}
		if err := m.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.pub.Error("position report", err)
		}
	}
}

// cycle runs one full report: fetch, compare with history, alert, persist.
func (m *PositionMonitor) cycle(ctx context.Context) error {
	now := time.Now()

	account, err := retry.Do(ctx, m.api.Account)
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}
	positions, err := retry.Do(ctx, m.api.PositionRisk)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}

	equity := account.TotalMarginBalance
	drawdownPct, err := m.updateDrawdown(ctx, equity)
	if err != nil {
		return err
	}

	report := m.buildReport(now, equity, drawdownPct, positions)

	a := domain.NewAlert(domain.AlertPosition)
	a.Position = report
	a.MentionAll = drawdownPct >= m.cfg.DrawdownThresholdPct
	m.pub.Alert(a)

	m.recordSnapshot(now, equity, positions)

	if err := m.persist(ctx, now, report); err != nil {
		return err
	}
	return nil
}

// updateDrawdown takes the maximum of the in-memory peak, the persisted peak
// and current equity, persists the result, and reports the drawdown from it.
// A corrupted or manually lowered stored value cannot pull the peak down.
func (m *PositionMonitor) updateDrawdown(ctx context.Context, equity decimal.Decimal) (float64, error) {
	vars, err := m.vars.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load vars: %w", err)
	}

	peak := m.peak
	if raw, ok := vars[equityPeakKey]; ok {
		stored, err := decimal.NewFromString(raw)
		if err == nil && stored.GreaterThan(peak) {
			peak = stored
		}
	}
	if equity.GreaterThan(peak) {
		peak = equity
	}
	m.peak = peak

	vars[equityPeakKey] = peak.String()
	if err := m.vars.Save(ctx, vars); err != nil {
		return 0, fmt.Errorf("save vars: %w", err)
	}

	if peak.IsZero() || peak.IsNegative() {
		return 0, nil
	}
	dd, _ := peak.Sub(equity).Div(peak).Mul(decimal.NewFromInt(100)).Float64()
	if dd < 0 {
		dd = 0
	}
	return dd, nil
}

func (m *PositionMonitor) buildReport(now time.Time, equity decimal.Decimal, drawdownPct float64, positions []domain.PositionRisk) *domain.PositionReport {
	nowMs := timeutil.Millis(now)
	prev1h, ok1h := m.snapshotBefore(nowMs - int64(30*time.Minute/time.Millisecond))
	prev12h, ok12h := m.snapshotBefore(nowMs - int64(time.Hour/time.Millisecond)*11 - int64(30*time.Minute/time.Millisecond))

	var longNotional, shortNotional, longPnL, shortPnL, totalAbs decimal.Decimal
	for _, p := range positions {
		if p.Short() {
			shortNotional = shortNotional.Add(p.Notional)
			shortPnL = shortPnL.Add(p.UnrealizedProfit)
		} else {
			longNotional = longNotional.Add(p.Notional)
			longPnL = longPnL.Add(p.UnrealizedProfit)
		}
		totalAbs = totalAbs.Add(p.Notional.Abs())
	}

	summary := []domain.SummaryRow{
		{Indicator: "多头", Notional: longNotional, UnrealizedProfit: longPnL},
		{Indicator: "空头", Notional: shortNotional, UnrealizedProfit: shortPnL},
		{Indicator: "总计", Notional: totalAbs, UnrealizedProfit: longPnL.Add(shortPnL)},
	}
	if ok1h {
		summary[0].PnL1h = longNotional.Sub(prev1h.longNotional)
		summary[0].HasPnL1h = true
		summary[1].PnL1h = shortNotional.Sub(prev1h.shortNotional)
		summary[1].HasPnL1h = true
		summary[2].PnL1h = summary[0].PnL1h.Add(summary[1].PnL1h)
		summary[2].HasPnL1h = true
	}
	equityRow := domain.SummaryRow{
		Indicator:        "账户权益",
		Notional:         equity,
		UnrealizedProfit: longPnL.Add(shortPnL),
		DrawdownPct:      drawdownPct,
		HasDrawdown:      true,
	}
	if ok1h {
		equityRow.PnL1h = equity.Sub(prev1h.equity)
		equityRow.HasPnL1h = true
	}
	summary = append(summary, equityRow)

	rows := make([]domain.PositionRow, 0, len(positions))
	for _, p := range positions {
		row := domain.PositionRow{
			Symbol:           p.Symbol,
			Short:            p.Short(),
			Notional:         p.Notional,
			UnrealizedProfit: p.UnrealizedProfit,
			PositionAmt:      p.PositionAmt,
			EntryPrice:       p.EntryPrice,
			MarkPrice:        p.MarkPrice,
		}
		if !totalAbs.IsZero() {
			row.NotionalPct, _ = p.Notional.Abs().Div(totalAbs).Mul(decimal.NewFromInt(100)).Float64()
		}
		cost := p.PositionAmt.Mul(p.EntryPrice).Abs()
		if !cost.IsZero() {
			row.UnrealizedProfitPct, _ = p.UnrealizedProfit.Div(cost).Mul(decimal.NewFromInt(100)).Float64()
		}
		if ok1h {
			row.Change1hPct, row.HasChange1h = markChange(prev1h.marks, p.Symbol, p.MarkPrice)
		}
		if ok12h {
			row.Change12hPct, row.HasChange12h = markChange(prev12h.marks, p.Symbol, p.MarkPrice)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Notional.Abs().GreaterThan(rows[j].Notional.Abs())
	})

	return &domain.PositionReport{Summary: summary, Positions: rows}
}

func markChange(marks map[string]decimal.Decimal, symbol string, current decimal.Decimal) (float64, bool) {
	prev, ok := marks[symbol]
	if !ok || prev.IsZero() {
		return 0, false
	}
	pct, _ := current.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Float64()
	return pct, true
}

func (m *PositionMonitor) recordSnapshot(now time.Time, equity decimal.Decimal, positions []domain.PositionRisk) {
	marks := make(map[string]decimal.Decimal, len(positions))
	var long, short decimal.Decimal
	for _, p := range positions {
		marks[p.Symbol] = p.MarkPrice
		if p.Short() {
			short = short.Add(p.Notional)
		} else {
			long = long.Add(p.Notional)
		}
	}
	m.history.Push(positionSnapshot{
		equity:        equity,
		longNotional:  long,
		shortNotional: short,
		marks:         marks,
	}, timeutil.Millis(now))
}

func (m *PositionMonitor) snapshotBefore(ts int64) (positionSnapshot, bool) {
	sample, err := m.history.Before(ts)
	if err != nil {
		return positionSnapshot{}, false
	}
	return sample.Value, true
}

// persist appends the cycle to the CSV logs and, when configured, the
// database sink.
func (m *PositionMonitor) persist(ctx context.Context, now time.Time, report *domain.PositionReport) error {
	stamp := now.Format("2006-01-02 15:04:05")

	summaryRows := make([]domain.Row, 0, len(report.Summary))
	for _, r := range report.Summary {
		pnl1h, dd := "", ""
		if r.HasPnL1h {
			pnl1h = r.PnL1h.StringFixed(2)
		}
		if r.HasDrawdown {
			dd = fmt.Sprintf("%.2f", r.DrawdownPct)
		}
		summaryRows = append(summaryRows, domain.Row{
			{Key: "time", Value: stamp},
			{Key: "indicator", Value: r.Indicator},
			{Key: "notional", Value: r.Notional.StringFixed(2)},
			{Key: "unrealized_pnl", Value: r.UnrealizedProfit.StringFixed(2)},
			{Key: "pnl_1h", Value: pnl1h},
			{Key: "drawdown_pct", Value: dd},
		})
	}
	if err := m.summaryCSV.Append(ctx, summaryRows); err != nil {
		return fmt.Errorf("append summary csv: %w", err)
	}

	positionRows := make([]domain.Row, 0, len(report.Positions))
	for _, r := range report.Positions {
		side := "long"
		if r.Short {
			side = "short"
		}
		chg1h, chg12h := "", ""
		if r.HasChange1h {
			chg1h = fmt.Sprintf("%.2f", r.Change1hPct)
		}
		if r.HasChange12h {
			chg12h = fmt.Sprintf("%.2f", r.Change12hPct)
		}
		positionRows = append(positionRows, domain.Row{
			{Key: "time", Value: stamp},
			{Key: "symbol", Value: r.Symbol},
			{Key: "side", Value: side},
			{Key: "notional", Value: r.Notional.StringFixed(2)},
			{Key: "notional_pct", Value: fmt.Sprintf("%.2f", r.NotionalPct)},
			{Key: "unrealized_pnl", Value: r.UnrealizedProfit.StringFixed(2)},
			{Key: "unrealized_pnl_pct", Value: fmt.Sprintf("%.2f", r.UnrealizedProfitPct)},
			{Key: "position_amt", Value: r.PositionAmt.String()},
			{Key: "entry_price", Value: r.EntryPrice.String()},
			{Key: "mark_price", Value: r.MarkPrice.String()},
			{Key: "change_1h_pct", Value: chg1h},
			{Key: "change_12h_pct", Value: chg12h},
		})
	}
	if err := m.positionsCSV.Append(ctx, positionRows); err != nil {
		return fmt.Errorf("append positions csv: %w", err)
	}

	if m.sink != nil {
		if err := m.sink.SavePositionRows(ctx, now, report.Positions); err != nil {
			return fmt.Errorf("save position rows: %w", err)
		}
	}
	return nil
}

var _ Monitor = (*PositionMonitor)(nil)
