// Package binance adapts the Binance USD-M futures API to the domain
// interfaces: a REST client built on the official go-binance SDK and a
// combined-stream websocket client for market and account events.
package binance

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/tidewatch/futuresmon/internal/domain"
)

// RestClient implements domain.RestAPI on top of the go-binance futures
// client.
type RestClient struct {
	client *futures.Client
}

// NewRestClient creates a REST adapter for the given API credentials.
func NewRestClient(apiKey, apiSecret string, testnet bool) *RestClient {
	futures.UseTestnet = testnet
	return &RestClient{client: futures.NewClient(apiKey, apiSecret)}
}

// Account fetches the futures account summary.
func (c *RestClient) Account(ctx context.Context) (*domain.AccountSummary, error) {
	acc, err := c.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: account: %w", err)
	}
	wallet, err := decimal.NewFromString(acc.TotalWalletBalance)
	if err != nil {
		return nil, fmt.Errorf("binance: account wallet balance %q: %w", acc.TotalWalletBalance, err)
	}
	margin, err := decimal.NewFromString(acc.TotalMarginBalance)
	if err != nil {
		return nil, fmt.Errorf("binance: account margin balance %q: %w", acc.TotalMarginBalance, err)
	}
	avail, err := decimal.NewFromString(acc.AvailableBalance)
	if err != nil {
		return nil, fmt.Errorf("binance: account available balance %q: %w", acc.AvailableBalance, err)
	}
	return &domain.AccountSummary{
		TotalWalletBalance: wallet,
		TotalMarginBalance: margin,
		AvailableBalance:   avail,
		UpdateTime:         time.Now().UnixMilli(),
	}, nil
}

// PositionRisk fetches all open positions. Flat entries (zero notional) are
// filtered out.
func (c *RestClient) PositionRisk(ctx context.Context) ([]domain.PositionRisk, error) {
	res, err := c.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: position risk: %w", err)
	}
	out := make([]domain.PositionRisk, 0, len(res))
	for _, p := range res {
		notional, err := decimal.NewFromString(p.Notional)
		if err != nil {
			return nil, fmt.Errorf("binance: position %s notional %q: %w", p.Symbol, p.Notional, err)
		}
		if notional.IsZero() {
			continue
		}
		amt, err := decimal.NewFromString(p.PositionAmt)
		if err != nil {
			return nil, fmt.Errorf("binance: position %s amount %q: %w", p.Symbol, p.PositionAmt, err)
		}
		entry, err := decimal.NewFromString(p.EntryPrice)
		if err != nil {
			return nil, fmt.Errorf("binance: position %s entry price %q: %w", p.Symbol, p.EntryPrice, err)
		}
		mark, err := decimal.NewFromString(p.MarkPrice)
		if err != nil {
			return nil, fmt.Errorf("binance: position %s mark price %q: %w", p.Symbol, p.MarkPrice, err)
		}
		upnl, err := decimal.NewFromString(p.UnRealizedProfit)
		if err != nil {
			return nil, fmt.Errorf("binance: position %s unrealized profit %q: %w", p.Symbol, p.UnRealizedProfit, err)
		}
		out = append(out, domain.PositionRisk{
			Symbol:           p.Symbol,
			PositionAmt:      amt,
			EntryPrice:       entry,
			MarkPrice:        mark,
			UnrealizedProfit: upnl,
			Notional:         notional,
		})
	}
	return out, nil
}

// ExchangeInfo fetches listed-instrument metadata.
func (c *RestClient) ExchangeInfo(ctx context.Context) ([]domain.Instrument, error) {
	res, err := c.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: exchange info: %w", err)
	}
	out := make([]domain.Instrument, 0, len(res.Symbols))
	for _, s := range res.Symbols {
		out = append(out, domain.Instrument{
			Symbol:       s.Symbol,
			ContractType: string(s.ContractType),
			Status:       s.Status,
			OnboardDate:  s.OnboardDate,
			DeliveryDate: s.DeliveryDate,
		})
	}
	return out, nil
}

// ServerTime fetches the exchange clock in milliseconds.
func (c *RestClient) ServerTime(ctx context.Context) (int64, error) {
	t, err := c.client.NewServerTimeService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance: server time: %w", err)
	}
	return t, nil
}

// BookTickers fetches the current best bid/ask for every listed symbol.
func (c *RestClient) BookTickers(ctx context.Context) ([]domain.BookTicker, error) {
	res, err := c.client.NewListBookTickersService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: book tickers: %w", err)
	}
	out := make([]domain.BookTicker, 0, len(res))
	for _, bt := range res {
		bid, err := decimal.NewFromString(bt.BidPrice)
		if err != nil {
			return nil, fmt.Errorf("binance: book ticker %s bid %q: %w", bt.Symbol, bt.BidPrice, err)
		}
		ask, err := decimal.NewFromString(bt.AskPrice)
		if err != nil {
			return nil, fmt.Errorf("binance: book ticker %s ask %q: %w", bt.Symbol, bt.AskPrice, err)
		}
		out = append(out, domain.BookTicker{
			Symbol:       bt.Symbol,
			BidPrice:     bid,
			AskPrice:     ask,
			TransactTime: bt.Time,
		})
	}
	return out, nil
}

// NewListenKey issues a user-data stream token.
func (c *RestClient) NewListenKey(ctx context.Context) (string, error) {
	key, err := c.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return "", fmt.Errorf("binance: new listen key: %w", err)
	}
	return key, nil
}

// KeepAliveListenKey renews a user-data stream token.
func (c *RestClient) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	if err := c.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
		return fmt.Errorf("binance: keepalive listen key: %w", err)
	}
	return nil
}

// CloseListenKey revokes a user-data stream token.
func (c *RestClient) CloseListenKey(ctx context.Context, listenKey string) error {
	if err := c.client.NewCloseUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
		return fmt.Errorf("binance: close listen key: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.RestAPI = (*RestClient)(nil)
