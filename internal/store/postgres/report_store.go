package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidewatch/futuresmon/internal/domain"
)

// ReportStore implements domain.ReportSink using PostgreSQL.
type ReportStore struct {
	pool *pgxpool.Pool
}

// NewReportStore creates a new ReportStore backed by the given connection pool.
func NewReportStore(pool *pgxpool.Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// SaveOrderRows inserts one batch of order report rows.
func (s *ReportStore) SaveOrderRows(ctx context.Context, rows []domain.OrderRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO order_reports (
			event_time, order_id, symbol, side,
			last_qty, last_price, last_notional,
			slippage, slippage_pct, quote_slippage,
			commission, commission_pct, realized_pnl, filled_pct,
			latency_ms, maker, exec_type, status, order_type, time_in_force
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20
		)`

	for _, r := range rows {
		var quoteSlippage *string
		if r.HasQuote {
			v := r.QuoteSlippage.String()
			quoteSlippage = &v
		}
		batch.Queue(query,
			r.Timestamp, r.OrderID, r.Symbol, r.Side,
			r.LastQty.String(), r.LastPrice.String(), r.LastNotional.String(),
			r.Slippage.String(), r.SlippagePct, quoteSlippage,
			r.Commission.String(), r.CommissionPct, r.RealizedPnL.String(), r.FilledPct,
			r.Latency, r.Maker, r.ExecType, r.Status, r.OrderType, r.TimeInForce,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert order report: %w", err)
		}
	}
	return nil
}

// SavePositionRows inserts one position report snapshot.
func (s *ReportStore) SavePositionRows(ctx context.Context, at time.Time, rows []domain.PositionRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO position_reports (
			reported_at, symbol, short,
			notional, notional_pct,
			unrealized_profit, unrealized_profit_pct,
			position_amt, entry_price, mark_price,
			change_1h_pct, change_12h_pct
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7,
			$8, $9, $10,
			$11, $12
		)`

	for _, r := range rows {
		var change1h, change12h *float64
		if r.HasChange1h {
			v := r.Change1hPct
			change1h = &v
		}
		if r.HasChange12h {
			v := r.Change12hPct
			change12h = &v
		}
		batch.Queue(query,
			at, r.Symbol, r.Short,
			r.Notional.String(), r.NotionalPct,
			r.UnrealizedProfit.String(), r.UnrealizedProfitPct,
			r.PositionAmt.String(), r.EntryPrice.String(), r.MarkPrice.String(),
			change1h, change12h,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert position report: %w", err)
		}
	}
	return nil
}

var _ domain.ReportSink = (*ReportStore)(nil)
