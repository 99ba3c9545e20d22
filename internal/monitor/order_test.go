package monitor

import (
	"context"
	"testing"

	"github.com/tidewatch/futuresmon/internal/domain"
)

func newTestOrderMonitor(stream domain.Stream) *OrderMonitor {
	return NewOrderMonitor(
		OrderConfig{BookTickerRetentionMs: 60_000, MaxTickets: 64},
		nil, stream, nil, nil, nil, testLogger(),
	)
}

func bookTicker(symbol string) domain.BookTicker {
	return domain.BookTicker{
		Symbol:       symbol,
		BidPrice:     dec("99"),
		AskPrice:     dec("101"),
		TransactTime: 1,
	}
}

func TestReconcileTracksListedSymbols(t *testing.T) {
	stream := &fakeStream{}
	m := newTestOrderMonitor(stream)
	ctx := context.Background()

	m.reconcile(ctx, []domain.BookTicker{bookTicker("BTCUSDT"), bookTicker("ETHUSDT")})
	if len(stream.subscribed) != 2 {
		t.Fatalf("subscribed = %v, want BTCUSDT and ETHUSDT", stream.subscribed)
	}
	if !m.subscribed["BTCUSDT"] || !m.subscribed["ETHUSDT"] {
		t.Fatalf("tracked subscriptions = %v", m.subscribed)
	}

	// A second pass with the same listing is a no-op.
	m.reconcile(ctx, []domain.BookTicker{bookTicker("BTCUSDT"), bookTicker("ETHUSDT")})
	if len(stream.subscribed) != 2 {
		t.Fatalf("resubscribed already-tracked symbols: %v", stream.subscribed)
	}
}

func TestReconcileDropsVanishedSymbols(t *testing.T) {
	stream := &fakeStream{}
	m := newTestOrderMonitor(stream)
	ctx := context.Background()

	m.reconcile(ctx, []domain.BookTicker{bookTicker("BTCUSDT"), bookTicker("ETHUSDT")})
	m.handleBookTicker(bookTicker("ETHUSDT"))
	if _, ok := m.corr.books["ETHUSDT"]; !ok {
		t.Fatal("no quote window after ticker observation")
	}

	// ETHUSDT disappears from the listing: the subscription goes away and
	// so does its quote window.
	m.reconcile(ctx, []domain.BookTicker{bookTicker("BTCUSDT")})
	if len(stream.unsubscribed) != 1 || stream.unsubscribed[0] != "ETHUSDT" {
		t.Fatalf("unsubscribed = %v, want [ETHUSDT]", stream.unsubscribed)
	}
	if m.subscribed["ETHUSDT"] {
		t.Fatal("vanished symbol still tracked")
	}
	if _, ok := m.corr.books["ETHUSDT"]; ok {
		t.Fatal("quote window survived the delisting")
	}
	if !m.subscribed["BTCUSDT"] {
		t.Fatal("surviving symbol lost its subscription")
	}
}
