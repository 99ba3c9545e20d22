package binance

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tidewatch/futuresmon/internal/domain"
)

// Wire formats of the combined stream payloads. Field tags follow the
// exchange's abbreviated event schema.

type markPriceMessage struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

func (m markPriceMessage) toDomain() (domain.MarkPrice, error) {
	price, err := decimal.NewFromString(m.MarkPrice)
	if err != nil {
		return domain.MarkPrice{}, fmt.Errorf("parse mark price %q: %w", m.MarkPrice, err)
	}
	return domain.MarkPrice{
		Symbol:    m.Symbol,
		Price:     price,
		EventTime: m.EventTime,
	}, nil
}

type bookTickerMessage struct {
	Event        string `json:"e"`
	EventTime    int64  `json:"E"`
	TransactTime int64  `json:"T"`
	Symbol       string `json:"s"`
	BidPrice     string `json:"b"`
	BidQty       string `json:"B"`
	AskPrice     string `json:"a"`
	AskQty       string `json:"A"`
}

func (m bookTickerMessage) toDomain() (domain.BookTicker, error) {
	bid, err := decimal.NewFromString(m.BidPrice)
	if err != nil {
		return domain.BookTicker{}, fmt.Errorf("parse bid %q: %w", m.BidPrice, err)
	}
	bidQty, err := decimal.NewFromString(m.BidQty)
	if err != nil {
		return domain.BookTicker{}, fmt.Errorf("parse bid qty %q: %w", m.BidQty, err)
	}
	ask, err := decimal.NewFromString(m.AskPrice)
	if err != nil {
		return domain.BookTicker{}, fmt.Errorf("parse ask %q: %w", m.AskPrice, err)
	}
	askQty, err := decimal.NewFromString(m.AskQty)
	if err != nil {
		return domain.BookTicker{}, fmt.Errorf("parse ask qty %q: %w", m.AskQty, err)
	}
	return domain.BookTicker{
		Symbol:       m.Symbol,
		BidPrice:     bid,
		BidQty:       bidQty,
		AskPrice:     ask,
		AskQty:       askQty,
		TransactTime: m.TransactTime,
	}, nil
}

type orderTradeUpdateMessage struct {
	Event        string `json:"e"`
	EventTime    int64  `json:"E"`
	TransactTime int64  `json:"T"`
	Order        struct {
		Symbol      string `json:"s"`
		Side        string `json:"S"`
		OrderType   string `json:"o"`
		TimeInForce string `json:"f"`
		Qty         string `json:"q"`
		Price       string `json:"p"`
		ExecType    string `json:"x"`
		Status      string `json:"X"`
		OrderID     int64  `json:"i"`
		LastQty     string `json:"l"`
		CumQty      string `json:"z"`
		LastPrice   string `json:"L"`
		Commission  string `json:"n"`
		TradeTime   int64  `json:"T"`
		Maker       bool   `json:"m"`
		RealizedPnL string `json:"rp"`
	} `json:"o"`
}

func (m orderTradeUpdateMessage) toDomain() (domain.OrderUpdate, error) {
	o := m.Order
	price, err := decimal.NewFromString(o.Price)
	if err != nil {
		return domain.OrderUpdate{}, fmt.Errorf("parse order price %q: %w", o.Price, err)
	}
	qty, err := decimal.NewFromString(o.Qty)
	if err != nil {
		return domain.OrderUpdate{}, fmt.Errorf("parse order qty %q: %w", o.Qty, err)
	}
	lastPrice, err := decimal.NewFromString(o.LastPrice)
	if err != nil {
		return domain.OrderUpdate{}, fmt.Errorf("parse last price %q: %w", o.LastPrice, err)
	}
	lastQty, err := decimal.NewFromString(o.LastQty)
	if err != nil {
		return domain.OrderUpdate{}, fmt.Errorf("parse last qty %q: %w", o.LastQty, err)
	}
	cumQty, err := decimal.NewFromString(o.CumQty)
	if err != nil {
		return domain.OrderUpdate{}, fmt.Errorf("parse cum qty %q: %w", o.CumQty, err)
	}
	// Commission and realized PnL are absent on non-trade events.
	commission := decimal.Zero
	if o.Commission != "" {
		commission, err = decimal.NewFromString(o.Commission)
		if err != nil {
			return domain.OrderUpdate{}, fmt.Errorf("parse commission %q: %w", o.Commission, err)
		}
	}
	realized := decimal.Zero
	if o.RealizedPnL != "" {
		realized, err = decimal.NewFromString(o.RealizedPnL)
		if err != nil {
			return domain.OrderUpdate{}, fmt.Errorf("parse realized pnl %q: %w", o.RealizedPnL, err)
		}
	}
	return domain.OrderUpdate{
		Symbol:       o.Symbol,
		OrderID:      o.OrderID,
		Side:         o.Side,
		ExecType:     o.ExecType,
		Status:       o.Status,
		OrderType:    o.OrderType,
		TimeInForce:  o.TimeInForce,
		Price:        price,
		Qty:          qty,
		LastPrice:    lastPrice,
		LastQty:      lastQty,
		CumQty:       cumQty,
		Commission:   commission,
		RealizedPnL:  realized,
		Maker:        o.Maker,
		TransactTime: m.TransactTime,
	}, nil
}
