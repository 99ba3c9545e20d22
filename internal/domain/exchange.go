package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// AccountSummary is the slice of the futures account state the monitors need.
type AccountSummary struct {
	TotalWalletBalance decimal.Decimal
	TotalMarginBalance decimal.Decimal
	AvailableBalance   decimal.Decimal
	UpdateTime         int64
}

// PositionRisk describes one open position as reported by the exchange.
type PositionRisk struct {
	Symbol           string
	PositionAmt      decimal.Decimal
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	UnrealizedProfit decimal.Decimal
	Notional         decimal.Decimal
}

// Short reports whether the position is net short.
func (p PositionRisk) Short() bool {
	return p.Notional.IsNegative()
}

// Instrument is one listed contract from exchange metadata.
type Instrument struct {
	Symbol       string
	ContractType string
	Status       string
	OnboardDate  int64
	DeliveryDate int64
}

// BookTicker is a best-bid/ask snapshot for one instrument. TransactTime is
// the exchange-side timestamp in milliseconds.
type BookTicker struct {
	Symbol       string
	BidPrice     decimal.Decimal
	BidQty       decimal.Decimal
	AskPrice     decimal.Decimal
	AskQty       decimal.Decimal
	TransactTime int64
}

// MarkPrice is one instrument's mark price at EventTime (ms).
type MarkPrice struct {
	Symbol    string
	Price     decimal.Decimal
	EventTime int64
}

// OrderUpdate is one order lifecycle event from the user data stream.
type OrderUpdate struct {
	Symbol       string
	OrderID      int64
	Side         string
	ExecType     string
	Status       string
	OrderType    string
	TimeInForce  string
	Price        decimal.Decimal
	Qty          decimal.Decimal
	LastPrice    decimal.Decimal
	LastQty      decimal.Decimal
	CumQty       decimal.Decimal
	Commission   decimal.Decimal
	RealizedPnL  decimal.Decimal
	Maker        bool
	TransactTime int64
}

// Terminal reports whether the order has reached a final status and its
// correlation ticket can be consumed.
func (u OrderUpdate) Terminal() bool {
	switch u.Status {
	case "FILLED", "CANCELED", "EXPIRED", "REJECTED":
		return true
	}
	return false
}

// RestAPI is the synchronous exchange surface the monitors poll. Every call
// either returns data or an error; retry policy lives with the caller.
type RestAPI interface {
	Account(ctx context.Context) (*AccountSummary, error)
	PositionRisk(ctx context.Context) ([]PositionRisk, error)
	ExchangeInfo(ctx context.Context) ([]Instrument, error)
	ServerTime(ctx context.Context) (int64, error)
	BookTickers(ctx context.Context) ([]BookTicker, error)
	NewListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error
}

// Stream is the subscribable market/account message stream. Handlers must be
// registered before Connect; they are invoked from the stream's read loop and
// must not block. Subscriptions survive reconnects.
type Stream interface {
	Connect(ctx context.Context) error
	Close() error

	SubscribeMarkPrices(ctx context.Context) error
	SubscribeBookTicker(ctx context.Context, symbol string) error
	UnsubscribeBookTicker(ctx context.Context, symbol string) error
	SubscribeUserData(ctx context.Context, listenKey string) error
	UnsubscribeUserData(ctx context.Context, listenKey string) error

	OnMarkPrices(func(prices []MarkPrice))
	OnBookTicker(func(BookTicker))
	OnOrderUpdate(func(OrderUpdate))
}
