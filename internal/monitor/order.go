package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tidewatch/futuresmon/internal/domain"
	"github.com/tidewatch/futuresmon/internal/retry"
	"github.com/tidewatch/futuresmon/internal/timeutil"
)

const (
	// listenKeyKeepAlive renews the user data stream key well inside its
	// 60 minute server-side validity.
	listenKeyKeepAlive = 10 * time.Minute
	// orderReconcileEvery re-syncs book ticker subscriptions with the
	// exchange's listed symbols.
	orderReconcileEvery = time.Hour
	// orderReportSecond is the second offset of the minute-aligned report.
	orderReportSecond = 2
)

// OrderConfig tunes the order monitor.
type OrderConfig struct {
	// BookTickerRetentionMs is how long best-quote snapshots are kept.
	BookTickerRetentionMs int64
	// MaxTickets bounds the pending correlation tickets.
	MaxTickets int
}

// OrderMonitor follows the private order stream, correlates every fill with
// the quote that was current when the order was placed, and reports the
// events once per minute with slippage, latency and commission metrics.
type OrderMonitor struct {
	runner

	api    domain.RestAPI
	stream domain.Stream
	pub    *Publisher
	corr   *Correlator

	csv  domain.RowAppender
	sink domain.ReportSink // nil when no database is configured

	mu        sync.Mutex
	listenKey string
	pending   []domain.OrderRow
	// symbols with a live book ticker subscription
	subscribed map[string]bool
}

// NewOrderMonitor assembles the monitor and registers its stream handlers.
// Call before the stream connects. sink may be nil.
func NewOrderMonitor(
	cfg OrderConfig,
	api domain.RestAPI,
	stream domain.Stream,
	pub *Publisher,
	csv domain.RowAppender,
	sink domain.ReportSink,
	logger *slog.Logger,
) *OrderMonitor {
	m := &OrderMonitor{
		runner:     newRunner("order", logger),
		api:        api,
		stream:     stream,
		pub:        pub,
		corr:       NewCorrelator(cfg.BookTickerRetentionMs, cfg.MaxTickets),
		csv:        csv,
		sink:       sink,
		subscribed: make(map[string]bool),
	}
	stream.OnBookTicker(m.handleBookTicker)
	stream.OnOrderUpdate(m.handleOrderUpdate)
	return m
}

// Start acquires a listen key, subscribes the user data stream, and launches
// the keepalive, reconcile and reporting loops.
func (m *OrderMonitor) Start(ctx context.Context) error {
	key, err := retry.Do(ctx, m.api.NewListenKey)
	if err != nil {
		return fmt.Errorf("order: new listen key: %w", err)
	}
	if err := m.stream.SubscribeUserData(ctx, key); err != nil {
		return fmt.Errorf("order: subscribe user data: %w", err)
	}
	m.mu.Lock()
	m.listenKey = key
	m.mu.Unlock()

	m.startTasks(ctx, []Task{
		{Name: "keepalive", Run: m.keepAliveLoop},
		{Name: "report", Run: m.reportLoop},
		{Name: "reconcile", Run: m.reconcileLoop},
	})
	return nil
}

// Stop halts the loops and releases the listen key.
func (m *OrderMonitor) Stop() error {
	err := m.stopTasks()

	m.mu.Lock()
	key := m.listenKey
	m.listenKey = ""
	m.mu.Unlock()
	if key != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if closeErr := m.api.CloseListenKey(ctx, key); closeErr != nil {
			m.logger.Warn("close listen key failed", slog.String("error", closeErr.Error()))
		}
	}
	return err
}

// handleBookTicker runs on the stream read loop.
func (m *OrderMonitor) handleBookTicker(bt domain.BookTicker) {
	m.corr.ObserveTicker(bt)
}

// handleOrderUpdate runs on the stream read loop. Rows accumulate until the
// minute-aligned report drains them.
func (m *OrderMonitor) handleOrderUpdate(u domain.OrderUpdate) {
	row, ok := m.corr.Observe(u)
	if !ok {
		return
	}
	m.mu.Lock()
	m.pending = append(m.pending, row)
	m.mu.Unlock()
}

func (m *OrderMonitor) keepAliveLoop(ctx context.Context) error {
	for {
		if !timeutil.Sleep(ctx, listenKeyKeepAlive) {
			return nil
		}

		m.mu.Lock()
		key := m.listenKey
		m.mu.Unlock()
		if key == "" {
			continue
		}

		_, err := retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, m.api.KeepAliveListenKey(ctx, key)
		})
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		m.pub.Error("order listen key keepalive", err)
		if rotateErr := m.rotateListenKey(ctx, key); rotateErr != nil {
			m.pub.Error("order listen key rotate", rotateErr)
		}
	}
}

// rotateListenKey swaps in a fresh key when keepalive failed, so the user
// data stream survives a server-side key expiry.
func (m *OrderMonitor) rotateListenKey(ctx context.Context, old string) error {
	key, err := retry.Do(ctx, m.api.NewListenKey)
	if err != nil {
		return fmt.Errorf("new listen key: %w", err)
	}
	if err := m.stream.UnsubscribeUserData(ctx, old); err != nil {
		m.logger.Warn("unsubscribe old listen key failed", slog.String("error", err.Error()))
	}
	if err := m.stream.SubscribeUserData(ctx, key); err != nil {
		return fmt.Errorf("subscribe user data: %w", err)
	}
	m.mu.Lock()
	m.listenKey = key
	m.mu.Unlock()
	m.logger.Info("listen key rotated")
	return nil
}

func (m *OrderMonitor) reportLoop(ctx context.Context) error {
	for {
		wait := timeutil.UntilNextMinute(time.Now(), orderReportSecond)
		if !timeutil.Sleep(ctx, wait) {
			return nil
		}

		m.mu.Lock()
		rows := m.pending
		m.pending = nil
		m.mu.Unlock()
		if len(rows) == 0 {
			continue
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })

		a := domain.NewAlert(domain.AlertOrder)
		a.Order = &domain.OrderReport{Rows: rows}
		m.pub.Alert(a)

		if err := m.persist(ctx, rows); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.pub.Error("order report", err)
		}
	}
}

// reconcileLoop keeps one book ticker subscription per listed symbol, so a
// quote window already exists when the first order for any symbol arrives.
// The first pass runs at startup, before the hourly cadence begins.
func (m *OrderMonitor) reconcileLoop(ctx context.Context) error {
	for {
		tickers, err := retry.Do(ctx, m.api.BookTickers)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.pub.Error("order subscription reconcile", err)
		} else {
			m.reconcile(ctx, tickers)
		}
		if !timeutil.Sleep(ctx, orderReconcileEvery) {
			return nil
		}
	}
}

// reconcile subscribes symbols that appeared and unsubscribes the ones that
// vanished, dropping the vanished symbols' quote windows.
func (m *OrderMonitor) reconcile(ctx context.Context, tickers []domain.BookTicker) {
	listed := make(map[string]bool, len(tickers))
	for _, bt := range tickers {
		listed[bt.Symbol] = true
	}

	m.mu.Lock()
	have := make(map[string]bool, len(m.subscribed))
	for sym := range m.subscribed {
		have[sym] = true
	}
	m.mu.Unlock()

	for sym := range listed {
		if have[sym] {
			continue
		}
		if err := m.stream.SubscribeBookTicker(ctx, sym); err != nil {
			m.logger.Warn("book ticker subscribe failed",
				slog.String("symbol", sym), slog.String("error", err.Error()))
			continue
		}
		m.mu.Lock()
		m.subscribed[sym] = true
		m.mu.Unlock()
	}
	for sym := range have {
		if listed[sym] {
			continue
		}
		if err := m.stream.UnsubscribeBookTicker(ctx, sym); err != nil {
			m.logger.Warn("book ticker unsubscribe failed",
				slog.String("symbol", sym), slog.String("error", err.Error()))
			continue
		}
		m.corr.DropSymbol(sym)
		m.mu.Lock()
		delete(m.subscribed, sym)
		m.mu.Unlock()
	}
}

func (m *OrderMonitor) persist(ctx context.Context, rows []domain.OrderRow) error {
	csvRows := make([]domain.Row, 0, len(rows))
	for _, r := range rows {
		quoteSlippage := ""
		if r.HasQuote {
			quoteSlippage = r.QuoteSlippage.String()
		}
		latency := ""
		if r.Latency >= 0 {
			latency = fmt.Sprintf("%d", r.Latency)
		}
		csvRows = append(csvRows, domain.Row{
			{Key: "time", Value: time.UnixMilli(r.Timestamp).Format("2006-01-02 15:04:05.000")},
			{Key: "order_id", Value: fmt.Sprintf("%d", r.OrderID)},
			{Key: "symbol", Value: r.Symbol},
			{Key: "side", Value: r.Side},
			{Key: "exec_type", Value: r.ExecType},
			{Key: "status", Value: r.Status},
			{Key: "last_qty", Value: r.LastQty.String()},
			{Key: "last_price", Value: r.LastPrice.String()},
			{Key: "last_notional", Value: r.LastNotional.StringFixed(2)},
			{Key: "slippage", Value: r.Slippage.String()},
			{Key: "slippage_pct", Value: fmt.Sprintf("%.4f", r.SlippagePct)},
			{Key: "quote_slippage", Value: quoteSlippage},
			{Key: "commission", Value: r.Commission.String()},
			{Key: "commission_pct", Value: fmt.Sprintf("%.4f", r.CommissionPct)},
			{Key: "realized_pnl", Value: r.RealizedPnL.String()},
			{Key: "filled_pct", Value: fmt.Sprintf("%.2f", r.FilledPct)},
			{Key: "latency_ms", Value: latency},
			{Key: "maker", Value: fmt.Sprintf("%t", r.Maker)},
			{Key: "order_type", Value: r.OrderType},
			{Key: "time_in_force", Value: r.TimeInForce},
		})
	}
	if err := m.csv.Append(ctx, csvRows); err != nil {
		return fmt.Errorf("append orders csv: %w", err)
	}

	if m.sink != nil {
		if err := m.sink.SaveOrderRows(ctx, rows); err != nil {
			return fmt.Errorf("save order rows: %w", err)
		}
	}
	return nil
}

var _ Monitor = (*OrderMonitor)(nil)
