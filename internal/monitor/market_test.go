package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/tidewatch/futuresmon/internal/domain"
)

// fakeStream satisfies domain.Stream for wiring tests; it only records the
// registered handlers and subscription calls.
type fakeStream struct {
	markPrices   func([]domain.MarkPrice)
	bookTicker   func(domain.BookTicker)
	orderUpdate  func(domain.OrderUpdate)
	subscribed   []string
	unsubscribed []string
}

func (s *fakeStream) Connect(ctx context.Context) error { return nil }
func (s *fakeStream) Close() error                      { return nil }

func (s *fakeStream) SubscribeMarkPrices(ctx context.Context) error {
	s.subscribed = append(s.subscribed, "markPrices")
	return nil
}

func (s *fakeStream) SubscribeBookTicker(ctx context.Context, symbol string) error {
	s.subscribed = append(s.subscribed, symbol)
	return nil
}

func (s *fakeStream) UnsubscribeBookTicker(ctx context.Context, symbol string) error {
	s.unsubscribed = append(s.unsubscribed, symbol)
	return nil
}
func (s *fakeStream) SubscribeUserData(ctx context.Context, listenKey string) error  { return nil }
func (s *fakeStream) UnsubscribeUserData(ctx context.Context, listenKey string) error {
	return nil
}

func (s *fakeStream) OnMarkPrices(h func([]domain.MarkPrice)) { s.markPrices = h }
func (s *fakeStream) OnBookTicker(h func(domain.BookTicker))  { s.bookTicker = h }
func (s *fakeStream) OnOrderUpdate(h func(domain.OrderUpdate)) {
	s.orderUpdate = h
}

func newTestMarketMonitor(t *testing.T, thresholds map[string]float64) (*MarketMonitor, *fakeStream) {
	t.Helper()
	stream := &fakeStream{}
	m, err := NewMarketMonitor(
		MarketConfig{Thresholds: thresholds, MaxSamples: 256},
		nil, stream, nil, NewMemoryDedup(), testLogger(),
	)
	if err != nil {
		t.Fatalf("NewMarketMonitor: %v", err)
	}
	return m, stream
}

func markPrice(symbol, price string, ts int64) []domain.MarkPrice {
	return []domain.MarkPrice{{Symbol: symbol, Price: dec(price), EventTime: ts}}
}

func TestMarketScanAlertsOncePerInterval(t *testing.T) {
	m, stream := newTestMarketMonitor(t, map[string]float64{"1h": 3.0})
	ctx := context.Background()

	hour := int64(time.Hour / time.Millisecond)
	stream.markPrices(markPrice("BTCUSDT", "100", 0))
	stream.markPrices(markPrice("BTCUSDT", "103", hour))

	rows := m.scan(ctx)
	if len(rows) != 1 {
		t.Fatalf("scan rows = %d, want 1", len(rows))
	}
	if rows[0].Symbol != "BTCUSDT" || rows[0].ChangePct < 2.99 || rows[0].ChangePct > 3.01 {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
	if rows[0].Window != time.Hour {
		t.Fatalf("window = %v, want 1h", rows[0].Window)
	}

	// The move stays above threshold but the (symbol, window) pair already
	// alerted within this interval.
	stream.markPrices(markPrice("BTCUSDT", "104", hour+60_000))
	if rows := m.scan(ctx); len(rows) != 0 {
		t.Fatalf("second scan rows = %d, want 0 (deduplicated)", len(rows))
	}
}

func TestMarketScanSkipsColdWindows(t *testing.T) {
	m, stream := newTestMarketMonitor(t, map[string]float64{"1h": 3.0})

	// A huge move over one minute: the window does not span its interval
	// yet, so no verdict is possible.
	stream.markPrices(markPrice("BTCUSDT", "100", 0))
	stream.markPrices(markPrice("BTCUSDT", "120", 60_000))

	if rows := m.scan(context.Background()); len(rows) != 0 {
		t.Fatalf("scan rows = %d, want 0 while cold", len(rows))
	}
}

func TestMarketScanBelowThresholdIsQuiet(t *testing.T) {
	m, stream := newTestMarketMonitor(t, map[string]float64{"1h": 3.0})

	hour := int64(time.Hour / time.Millisecond)
	stream.markPrices(markPrice("ETHUSDT", "100", 0))
	stream.markPrices(markPrice("ETHUSDT", "101", hour))

	if rows := m.scan(context.Background()); len(rows) != 0 {
		t.Fatalf("scan rows = %d, want 0 below threshold", len(rows))
	}
}

// stallingDedup blocks every FirstSeen call until released, standing in for
// a slow network round trip.
type stallingDedup struct {
	entered chan struct{}
	release chan struct{}
}

func (d *stallingDedup) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	d.entered <- struct{}{}
	<-d.release
	return true, nil
}

func TestMarketScanDoesNotBlockIngestion(t *testing.T) {
	stream := &fakeStream{}
	dedup := &stallingDedup{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	m, err := NewMarketMonitor(
		MarketConfig{Thresholds: map[string]float64{"1h": 3.0}, MaxSamples: 256},
		nil, stream, nil, dedup, testLogger(),
	)
	if err != nil {
		t.Fatalf("NewMarketMonitor: %v", err)
	}

	hour := int64(time.Hour / time.Millisecond)
	stream.markPrices(markPrice("BTCUSDT", "100", 0))
	stream.markPrices(markPrice("BTCUSDT", "103", hour))

	rowsCh := make(chan []domain.MarketRow, 1)
	go func() { rowsCh <- m.scan(context.Background()) }()
	<-dedup.entered

	// With the dedup round trip still in flight, a stream sample must land
	// without waiting on it.
	pushed := make(chan struct{})
	go func() {
		stream.markPrices(markPrice("BTCUSDT", "104", hour+10_000))
		close(pushed)
	}()
	select {
	case <-pushed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream ingestion blocked behind the dedup lookup")
	}

	close(dedup.release)
	rows := <-rowsCh
	if len(rows) != 1 {
		t.Fatalf("scan rows = %d, want 1", len(rows))
	}
}

func TestMarketNegativeMoveTriggersToo(t *testing.T) {
	m, stream := newTestMarketMonitor(t, map[string]float64{"1h": 3.0})

	hour := int64(time.Hour / time.Millisecond)
	stream.markPrices(markPrice("SOLUSDT", "100", 0))
	stream.markPrices(markPrice("SOLUSDT", "95", hour))

	rows := m.scan(context.Background())
	if len(rows) != 1 {
		t.Fatalf("scan rows = %d, want 1", len(rows))
	}
	if rows[0].ChangePct > -4.99 || rows[0].ChangePct < -5.01 {
		t.Fatalf("change pct = %v, want -5", rows[0].ChangePct)
	}
}
