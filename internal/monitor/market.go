package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tidewatch/futuresmon/internal/domain"
	"github.com/tidewatch/futuresmon/internal/timeutil"
	"github.com/tidewatch/futuresmon/internal/window"
)

const (
	// marketScanEvery is the cadence of the threshold scan.
	marketScanEvery = 10 * time.Second
	// marketHoldingsEvery is the cadence of the held-positions refresh.
	marketHoldingsEvery = 10 * time.Minute
	// warmupSlackMillis absorbs sparse spacing and delivery jitter when
	// deciding whether a window covers its interval yet.
	warmupSlackMillis = int64(8000)
)

// marketBand is one configured observation window.
type marketBand struct {
	expr         string
	intervalMs   int64
	unitMs       int64
	thresholdPct float64
}

// MarketConfig tunes the market monitor.
type MarketConfig struct {
	// Thresholds maps interval expressions to the absolute percent change
	// that triggers an alert for that window.
	Thresholds map[string]float64
	// MaxSamples caps retained points per window; sparse spacing is
	// interval / MaxSamples.
	MaxSamples int
}

// MarketMonitor watches the all-market mark price stream and alerts when an
// instrument moves past a configured threshold within an observation window.
// Each (symbol, window) pair alerts at most once per window interval.
type MarketMonitor struct {
	runner

	api      domain.RestAPI
	stream   domain.Stream
	pub      *Publisher
	dedup    domain.DedupStore
	holdings *Holdings

	bands []marketBand

	mu      sync.Mutex
	windows map[string][]*window.SparseTimeWindow[decimal.Decimal]
}

// NewMarketMonitor assembles the monitor and registers its mark price
// handler on the stream. Call before the stream connects.
func NewMarketMonitor(
	cfg MarketConfig,
	api domain.RestAPI,
	stream domain.Stream,
	pub *Publisher,
	dedup domain.DedupStore,
	logger *slog.Logger,
) (*MarketMonitor, error) {
	bands := make([]marketBand, 0, len(cfg.Thresholds))
	for expr, pct := range cfg.Thresholds {
		intervalMs, err := timeutil.ParseInterval(expr)
		if err != nil {
			return nil, fmt.Errorf("market: threshold window %q: %w", expr, err)
		}
		unitMs := intervalMs / int64(cfg.MaxSamples)
		if unitMs < 1 {
			unitMs = 1
		}
		bands = append(bands, marketBand{
			expr:         expr,
			intervalMs:   intervalMs,
			unitMs:       unitMs,
			thresholdPct: pct,
		})
	}
	// Shorter windows warm up first; the scan stops at the first cold one.
	sort.Slice(bands, func(i, j int) bool { return bands[i].intervalMs < bands[j].intervalMs })

	m := &MarketMonitor{
		runner:   newRunner("market", logger),
		api:      api,
		stream:   stream,
		pub:      pub,
		dedup:    dedup,
		holdings: NewHoldings(),
		bands:    bands,
		windows:  make(map[string][]*window.SparseTimeWindow[decimal.Decimal]),
	}
	stream.OnMarkPrices(m.handleMarkPrices)
	return m, nil
}

// Start subscribes the mark price stream and launches the scan loops.
func (m *MarketMonitor) Start(ctx context.Context) error {
	if err := m.stream.SubscribeMarkPrices(ctx); err != nil {
		return fmt.Errorf("market: subscribe mark prices: %w", err)
	}
	m.startTasks(ctx, []Task{
		{Name: "scan", Run: m.scanLoop},
		refreshHoldingsTask("market holdings", m.api, m.holdings, marketHoldingsEvery, m.pub),
	})
	return nil
}

// Stop halts the loops. The stream subscription stays live so the windows
// keep filling across a restart of the monitor.
func (m *MarketMonitor) Stop() error {
	return m.stopTasks()
}

// handleMarkPrices runs on the stream read loop; it only pushes samples.
func (m *MarketMonitor) handleMarkPrices(prices []domain.MarkPrice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range prices {
		ws, ok := m.windows[p.Symbol]
		if !ok {
			ws = make([]*window.SparseTimeWindow[decimal.Decimal], len(m.bands))
			for i, band := range m.bands {
				ws[i] = window.NewSparse[decimal.Decimal](band.intervalMs, band.unitMs)
			}
			m.windows[p.Symbol] = ws
		}
		for _, w := range ws {
			w.Push(p.Price, p.EventTime)
		}
	}
}

func (m *MarketMonitor) scanLoop(ctx context.Context) error {
	for {
		if !timeutil.Sleep(ctx, marketScanEvery) {
			return nil
		}
		rows := m.scan(ctx)
		if len(rows) == 0 {
			continue
		}
		a := domain.NewAlert(domain.AlertMarket)
		a.Market = &domain.MarketReport{Rows: rows}
		for _, r := range rows {
			if r.Held {
				a.MentionAll = true
				break
			}
		}
		m.pub.Alert(a)
	}
}

// marketCandidate is one threshold crossing found under the window lock,
// awaiting deduplication.
type marketCandidate struct {
	symbol    string
	band      marketBand
	changePct float64
}

// scan walks every symbol's windows from shortest to longest, collects the
// moves that cross their band's threshold, then deduplicates. The dedup
// lookups may hit the network, so they run after the window lock is
// released; the stream read loop pushing samples is never blocked on them.
func (m *MarketMonitor) scan(ctx context.Context) []domain.MarketRow {
	candidates := m.collect()

	var rows []domain.MarketRow
	for _, c := range candidates {
		key := fmt.Sprintf("market:%s:%s", c.symbol, c.band.expr)
		first, err := m.dedup.FirstSeen(ctx, key, time.Duration(c.band.intervalMs)*time.Millisecond)
		if err != nil {
			m.logger.Warn("dedup lookup failed",
				slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		if !first {
			continue
		}

		held, short := m.holdings.Lookup(c.symbol)
		rows = append(rows, domain.MarketRow{
			Symbol:    c.symbol,
			Held:      held,
			Short:     short,
			Window:    time.Duration(c.band.intervalMs) * time.Millisecond,
			ChangePct: c.changePct,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Held != rows[j].Held {
			return rows[i].Held
		}
		if rows[i].Window != rows[j].Window {
			return rows[i].Window < rows[j].Window
		}
		ai, aj := rows[i].ChangePct, rows[j].ChangePct
		if ai < 0 {
			ai = -ai
		}
		if aj < 0 {
			aj = -aj
		}
		return ai > aj
	})
	return rows
}

// collect finds threshold crossings under the window lock.
func (m *MarketMonitor) collect() []marketCandidate {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []marketCandidate
	for symbol, ws := range m.windows {
		for i, band := range m.bands {
			w := ws[i]
			head, err := w.Head()
			if err != nil {
				break
			}
			tail, err := w.Tail()
			if err != nil {
				break
			}
			// A window that does not yet span its interval cannot judge the
			// move; longer windows of the same symbol are colder still.
			span := tail.TS - head.TS
			if span+2*w.Unit()+warmupSlackMillis < band.intervalMs {
				break
			}
			if head.Value.IsZero() {
				continue
			}
			changePct, _ := tail.Value.Sub(head.Value).Div(head.Value).Mul(decimal.NewFromInt(100)).Float64()
			if changePct < band.thresholdPct && changePct > -band.thresholdPct {
				continue
			}
			out = append(out, marketCandidate{symbol: symbol, band: band, changePct: changePct})
		}
	}
	return out
}

var _ Monitor = (*MarketMonitor)(nil)
