package monitor

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tidewatch/futuresmon/internal/domain"
	"github.com/tidewatch/futuresmon/internal/window"
)

// ticket is the per-order state captured when the order is created: the
// best-quote snapshot taken at or before creation time anchors the slippage
// of every later fill.
type ticket struct {
	orderID    int64
	createTime int64
	refPrice   decimal.Decimal
	hasRef     bool
}

// Correlator pairs order lifecycle events with the best-quote snapshot that
// was current when the order was placed. Book tickers are kept per symbol in
// a bounded time window; order tickets live until a terminal event consumes
// them or the ticket cap evicts the oldest.
type Correlator struct {
	retentionMs int64
	maxTickets  int

	mu      sync.Mutex
	books   map[string]*window.TimeWindow[domain.BookTicker]
	tickets map[int64]*ticket
	order   []int64 // ticket insertion order for oldest-first eviction
}

// NewCorrelator creates a correlator keeping book tickers for retentionMs
// per symbol and at most maxTickets pending order tickets.
func NewCorrelator(retentionMs int64, maxTickets int) *Correlator {
	return &Correlator{
		retentionMs: retentionMs,
		maxTickets:  maxTickets,
		books:       make(map[string]*window.TimeWindow[domain.BookTicker]),
		tickets:     make(map[int64]*ticket),
	}
}

// ObserveTicker records one best-quote snapshot.
func (c *Correlator) ObserveTicker(bt domain.BookTicker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.books[bt.Symbol]
	if !ok {
		w = window.New[domain.BookTicker](c.retentionMs)
		c.books[bt.Symbol] = w
	}
	w.Push(bt, bt.TransactTime)
}

// DropSymbol forgets the quote window of a delisted symbol. Open tickets are
// untouched; their reference price was captured at creation.
func (c *Correlator) DropSymbol(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.books, symbol)
}

// PendingTickets returns the number of open tickets.
func (c *Correlator) PendingTickets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickets)
}

// Observe processes one order event. Creation events open a ticket and yield
// no row; fills and terminal events yield a report row with the execution
// metrics the ticket allows. Partial fills keep the ticket; terminal events
// consume it.
func (c *Correlator) Observe(u domain.OrderUpdate) (domain.OrderRow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if u.ExecType == "NEW" {
		c.openTicket(u)
		return domain.OrderRow{}, false
	}
	if u.ExecType != "TRADE" && !u.Terminal() {
		return domain.OrderRow{}, false
	}

	t := c.tickets[u.OrderID]
	row := c.buildRow(u, t)
	if u.Terminal() {
		c.closeTicket(u.OrderID)
	}
	return row, true
}

// openTicket snapshots the best quote at or before the order's creation
// time. The aggressive side of the book is the reference: ask for buys, bid
// for sells.
func (c *Correlator) openTicket(u domain.OrderUpdate) {
	t := &ticket{orderID: u.OrderID, createTime: u.TransactTime}
	if w, ok := c.books[u.Symbol]; ok {
		if sample, err := w.Before(u.TransactTime); err == nil {
			if u.Side == "BUY" {
				t.refPrice = sample.Value.AskPrice
			} else {
				t.refPrice = sample.Value.BidPrice
			}
			t.hasRef = !t.refPrice.IsZero()
		}
	}

	if _, exists := c.tickets[u.OrderID]; !exists {
		c.order = append(c.order, u.OrderID)
	}
	c.tickets[u.OrderID] = t

	for len(c.tickets) > c.maxTickets && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.tickets, oldest)
	}
}

func (c *Correlator) closeTicket(orderID int64) {
	if _, ok := c.tickets[orderID]; !ok {
		return
	}
	delete(c.tickets, orderID)
	for i, id := range c.order {
		if id == orderID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Correlator) buildRow(u domain.OrderUpdate, t *ticket) domain.OrderRow {
	row := domain.OrderRow{
		Timestamp:   u.TransactTime,
		OrderID:     u.OrderID,
		Symbol:      u.Symbol,
		Side:        u.Side,
		LastQty:     u.LastQty,
		LastPrice:   u.LastPrice,
		Commission:  u.Commission,
		RealizedPnL: u.RealizedPnL,
		Latency:     -1,
		Maker:       u.Maker,
		ExecType:    u.ExecType,
		Status:      u.Status,
		OrderType:   u.OrderType,
		TimeInForce: u.TimeInForce,
	}
	row.LastNotional = u.LastQty.Mul(u.LastPrice)
	if !u.Qty.IsZero() {
		row.FilledPct, _ = u.CumQty.Div(u.Qty).Mul(decimal.NewFromInt(100)).Float64()
	}
	if !row.LastNotional.IsZero() {
		row.CommissionPct, _ = u.Commission.Div(row.LastNotional).Mul(decimal.NewFromInt(100)).Float64()
	}

	if t == nil {
		return row
	}
	row.Latency = u.TransactTime - t.createTime
	if t.hasRef && u.ExecType == "TRADE" {
		if u.Side == "BUY" {
			row.Slippage = u.LastPrice.Sub(t.refPrice)
		} else {
			row.Slippage = t.refPrice.Sub(u.LastPrice)
		}
		row.SlippagePct, _ = row.Slippage.Div(t.refPrice).Mul(decimal.NewFromInt(100)).Float64()
		row.QuoteSlippage = row.Slippage.Mul(u.LastQty)
		row.HasQuote = true
	}
	return row
}
