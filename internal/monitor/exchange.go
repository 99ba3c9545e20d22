package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tidewatch/futuresmon/internal/domain"
	"github.com/tidewatch/futuresmon/internal/retry"
	"github.com/tidewatch/futuresmon/internal/timeutil"
)

const (
	// perpetualDeliveryMs marks a perpetual contract with no scheduled
	// delivery; any other future delivery date is a delisting.
	perpetualDeliveryMs = int64(4133404800000)

	// exchangeHoldingsEvery refreshes held positions off-phase from the
	// hourly scan so a fresh snapshot precedes each report.
	exchangeHoldingsEvery = 50 * time.Minute
)

// ExchangeConfig tunes the exchange monitor.
type ExchangeConfig struct {
	// Minute is the wall-clock minute of the hourly scan.
	Minute int
}

// ExchangeMonitor scans exchange metadata once per hour for perpetual
// contracts about to list or delist. Each (symbol, status, date) combination
// alerts once per process lifetime, or once ever when Redis-backed dedup is
// configured.
type ExchangeMonitor struct {
	runner

	cfg      ExchangeConfig
	api      domain.RestAPI
	pub      *Publisher
	dedup    domain.DedupStore
	holdings *Holdings
}

// NewExchangeMonitor assembles the monitor.
func NewExchangeMonitor(
	cfg ExchangeConfig,
	api domain.RestAPI,
	pub *Publisher,
	dedup domain.DedupStore,
	logger *slog.Logger,
) *ExchangeMonitor {
	return &ExchangeMonitor{
		runner:   newRunner("exchange", logger),
		cfg:      cfg,
		api:      api,
		pub:      pub,
		dedup:    dedup,
		holdings: NewHoldings(),
	}
}

// Start launches the scan and holdings loops.
func (m *ExchangeMonitor) Start(ctx context.Context) error {
	m.startTasks(ctx, []Task{
		{Name: "scan", Run: m.scanLoop},
		refreshHoldingsTask("exchange holdings", m.api, m.holdings, exchangeHoldingsEvery, m.pub),
	})
	return nil
}

// Stop halts the loops.
func (m *ExchangeMonitor) Stop() error {
	return m.stopTasks()
}

func (m *ExchangeMonitor) scanLoop(ctx context.Context) error {
	for {
		wait := timeutil.UntilNextHour(time.Now(), m.cfg.Minute)
		if !timeutil.Sleep(ctx, wait) {
			return nil
		}
		if err := m.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.pub.Error("exchange scan", err)
		}
	}
}

func (m *ExchangeMonitor) cycle(ctx context.Context) error {
	instruments, err := retry.Do(ctx, m.api.ExchangeInfo)
	if err != nil {
		return fmt.Errorf("fetch exchange info: %w", err)
	}
	serverTime, err := retry.Do(ctx, m.api.ServerTime)
	if err != nil {
		return fmt.Errorf("fetch server time: %w", err)
	}

	var rows []domain.ExchangeRow
	for _, inst := range instruments {
		if inst.ContractType != "PERPETUAL" {
			continue
		}

		var status string
		var date, deliveryDate int64
		switch {
		case inst.OnboardDate > serverTime:
			status = "上市"
			date = inst.OnboardDate
		case inst.DeliveryDate > serverTime && inst.DeliveryDate != perpetualDeliveryMs:
			status = "下市"
			date = inst.DeliveryDate
			deliveryDate = inst.DeliveryDate
		default:
			continue
		}

		key := fmt.Sprintf("exchange:%s:%s:%d", inst.Symbol, status, date)
		first, err := m.dedup.FirstSeen(ctx, key, 0)
		if err != nil {
			m.logger.Warn("dedup lookup failed",
				slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		if !first {
			continue
		}

		held, short := m.holdings.Lookup(inst.Symbol)
		rows = append(rows, domain.ExchangeRow{
			Symbol:       inst.Symbol,
			Held:         held,
			Short:        short,
			Status:       status,
			OnboardDate:  inst.OnboardDate,
			DeliveryDate: deliveryDate,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })

	a := domain.NewAlert(domain.AlertExchange)
	a.Exchange = &domain.ExchangeReport{Rows: rows}
	for _, r := range rows {
		if r.Held {
			a.MentionAll = true
			break
		}
	}
	m.pub.Alert(a)
	return nil
}

var _ Monitor = (*ExchangeMonitor)(nil)
