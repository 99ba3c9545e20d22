package monitor

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tidewatch/futuresmon/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func tickerAt(ts int64, bid, ask string) domain.BookTicker {
	return domain.BookTicker{
		Symbol:       "BTCUSDT",
		BidPrice:     dec(bid),
		BidQty:       dec("1"),
		AskPrice:     dec(ask),
		AskQty:       dec("1"),
		TransactTime: ts,
	}
}

func newOrder(ts int64) domain.OrderUpdate {
	return domain.OrderUpdate{
		Symbol:       "BTCUSDT",
		OrderID:      7,
		Side:         "BUY",
		ExecType:     "NEW",
		Status:       "NEW",
		Price:        dec("100"),
		Qty:          dec("10"),
		TransactTime: ts,
	}
}

func fillOrder(ts int64, execType, status string, lastQty, cumQty, lastPrice string) domain.OrderUpdate {
	return domain.OrderUpdate{
		Symbol:       "BTCUSDT",
		OrderID:      7,
		Side:         "BUY",
		ExecType:     execType,
		Status:       status,
		Price:        dec("100"),
		Qty:          dec("10"),
		LastQty:      dec(lastQty),
		CumQty:       dec(cumQty),
		LastPrice:    dec(lastPrice),
		Commission:   dec("0.02"),
		TransactTime: ts,
	}
}

func TestCorrelatorUsesSnapshotAtOrBeforeCreation(t *testing.T) {
	c := NewCorrelator(600_000, 16)
	c.ObserveTicker(tickerAt(900, "99.5", "100.0"))
	c.ObserveTicker(tickerAt(950, "99.8", "100.2"))
	c.ObserveTicker(tickerAt(1100, "100.5", "101.0"))

	// Created at t=1000: the reference quote is the t=950 snapshot, not the
	// later one.
	if _, ok := c.Observe(newOrder(1000)); ok {
		t.Fatal("creation event must not yield a row")
	}

	row, ok := c.Observe(fillOrder(1400, "TRADE", "PARTIALLY_FILLED", "4", "4", "100.5"))
	if !ok {
		t.Fatal("fill event must yield a row")
	}
	if !row.HasQuote {
		t.Fatal("fill with ticket must resolve a reference quote")
	}
	// BUY slippage vs the t=950 ask of 100.2.
	if got := row.Slippage.String(); got != "0.3" {
		t.Fatalf("slippage = %s, want 0.3", got)
	}
	if row.Latency != 400 {
		t.Fatalf("latency = %d, want 400", row.Latency)
	}
	if row.FilledPct != 40 {
		t.Fatalf("filled pct = %v, want 40", row.FilledPct)
	}
}

func TestCorrelatorPartialFillKeepsTicketTerminalConsumes(t *testing.T) {
	c := NewCorrelator(600_000, 16)
	c.ObserveTicker(tickerAt(950, "99.8", "100.2"))
	c.Observe(newOrder(1000))

	if _, ok := c.Observe(fillOrder(1200, "TRADE", "PARTIALLY_FILLED", "4", "4", "100.3")); !ok {
		t.Fatal("partial fill must yield a row")
	}
	if c.PendingTickets() != 1 {
		t.Fatalf("pending tickets = %d, want 1 after partial fill", c.PendingTickets())
	}

	row, ok := c.Observe(fillOrder(1500, "TRADE", "FILLED", "6", "10", "100.4"))
	if !ok {
		t.Fatal("final fill must yield a row")
	}
	if row.Latency != 500 {
		t.Fatalf("latency = %d, want 500", row.Latency)
	}
	if c.PendingTickets() != 0 {
		t.Fatalf("pending tickets = %d, want 0 after terminal event", c.PendingTickets())
	}

	// Without a ticket the latency is unknown.
	row, ok = c.Observe(fillOrder(1600, "TRADE", "FILLED", "1", "1", "100.4"))
	if !ok {
		t.Fatal("fill without ticket must still yield a row")
	}
	if row.Latency != -1 {
		t.Fatalf("latency = %d, want -1 without ticket", row.Latency)
	}
	if row.HasQuote {
		t.Fatal("fill without ticket must not claim a reference quote")
	}
}

func TestCorrelatorIgnoresIntermediateNonTradeEvents(t *testing.T) {
	c := NewCorrelator(600_000, 16)
	c.Observe(newOrder(1000))

	amend := fillOrder(1100, "AMENDMENT", "NEW", "0", "0", "0")
	if _, ok := c.Observe(amend); ok {
		t.Fatal("non-trade non-terminal event must not yield a row")
	}

	cancel := fillOrder(1200, "CANCELED", "CANCELED", "0", "0", "0")
	row, ok := c.Observe(cancel)
	if !ok {
		t.Fatal("cancel must yield a row")
	}
	if row.Latency != 200 {
		t.Fatalf("latency = %d, want 200", row.Latency)
	}
	if c.PendingTickets() != 0 {
		t.Fatal("cancel must consume the ticket")
	}
}

func TestCorrelatorEvictsOldestTicketAtCap(t *testing.T) {
	c := NewCorrelator(600_000, 2)
	for i := int64(1); i <= 3; i++ {
		u := newOrder(1000 + i)
		u.OrderID = i
		c.Observe(u)
	}
	if c.PendingTickets() != 2 {
		t.Fatalf("pending tickets = %d, want 2", c.PendingTickets())
	}

	// Order 1 was evicted; its fill resolves no ticket.
	fill := fillOrder(2000, "TRADE", "FILLED", "10", "10", "100")
	fill.OrderID = 1
	row, ok := c.Observe(fill)
	if !ok {
		t.Fatal("fill must yield a row")
	}
	if row.Latency != -1 {
		t.Fatalf("latency = %d, want -1 for evicted ticket", row.Latency)
	}

	// Order 3 kept its ticket.
	fill.OrderID = 3
	fill.TransactTime = 2100
	row, _ = c.Observe(fill)
	if row.Latency != 2100-1003 {
		t.Fatalf("latency = %d, want %d", row.Latency, 2100-1003)
	}
}
