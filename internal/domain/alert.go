// Package domain defines the core data types shared across the monitor:
// alert variants, exchange data structures, persistence interfaces, and
// sentinel errors. It has no dependencies on transports or storage backends.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlertKind tags the variant carried by an Alert.
type AlertKind string

const (
	AlertLifecycle AlertKind = "lifecycle"
	AlertError     AlertKind = "error"
	AlertPosition  AlertKind = "position"
	AlertMarket    AlertKind = "market"
	AlertOrder     AlertKind = "order"
	AlertExchange  AlertKind = "exchange"
)

// Alert is one outbound notification unit. Exactly one of the variant
// pointers is set, matching Kind. Alerts are immutable once enqueued.
type Alert struct {
	ID         string
	Kind       AlertKind
	At         time.Time
	MentionAll bool

	// Text carries the body for lifecycle and error alerts.
	Text string

	Position *PositionReport
	Market   *MarketReport
	Order    *OrderReport
	Exchange *ExchangeReport
}

// NewAlert creates an alert envelope of the given kind stamped with a fresh ID.
func NewAlert(kind AlertKind) Alert {
	return Alert{ID: uuid.New().String(), Kind: kind, At: time.Now()}
}

// PositionReport is the hourly account/position summary.
type PositionReport struct {
	Summary   []SummaryRow
	Positions []PositionRow
}

// SummaryRow is one aggregate line of the position report (long / short /
// total exposure, or total equity).
type SummaryRow struct {
	Indicator        string
	Notional         decimal.Decimal
	UnrealizedProfit decimal.Decimal
	PnL1h            decimal.Decimal
	HasPnL1h         bool
	DrawdownPct      float64
	HasDrawdown      bool
}

// PositionRow is one open position line of the position report.
type PositionRow struct {
	Symbol              string
	Short               bool
	Notional            decimal.Decimal
	NotionalPct         float64
	UnrealizedProfit    decimal.Decimal
	UnrealizedProfitPct float64
	PositionAmt         decimal.Decimal
	EntryPrice          decimal.Decimal
	MarkPrice           decimal.Decimal
	Change1hPct         float64
	HasChange1h         bool
	Change12hPct        float64
	HasChange12h        bool
}

// MarketReport lists instruments whose price moved past a window threshold.
type MarketReport struct {
	Rows []MarketRow
}

// MarketRow is one qualifying market move.
type MarketRow struct {
	Symbol    string
	Held      bool
	Short     bool
	Window    time.Duration
	ChangePct float64
}

// OrderReport lists order lifecycle events observed in one reporting minute.
type OrderReport struct {
	Rows []OrderRow
}

// OrderRow is one fill/cancel/expiry event with execution quality metrics.
type OrderRow struct {
	Timestamp     int64
	OrderID       int64
	Symbol        string
	Side          string
	LastQty       decimal.Decimal
	LastPrice     decimal.Decimal
	LastNotional  decimal.Decimal
	Slippage      decimal.Decimal
	SlippagePct   float64
	QuoteSlippage decimal.Decimal
	HasQuote      bool
	Commission    decimal.Decimal
	CommissionPct float64
	RealizedPnL   decimal.Decimal
	FilledPct     float64
	// Latency is event time minus order creation time in milliseconds,
	// -1 when no ticket was resolved for the order.
	Latency     int64
	Maker       bool
	ExecType    string
	Status      string
	OrderType   string
	TimeInForce string
}

// ExchangeReport lists instruments with a pending listing or delisting.
type ExchangeReport struct {
	Rows []ExchangeRow
}

// ExchangeRow is one perpetual contract with a future onboard/delivery date.
type ExchangeRow struct {
	Symbol       string
	Held         bool
	Short        bool
	Status       string
	OnboardDate  int64
	DeliveryDate int64
}
