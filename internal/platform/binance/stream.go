package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tidewatch/futuresmon/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed before the connection is considered dead
	// when neither data nor pongs arrive.
	pongWait = 75 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than
	// pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// streamCommand is the live subscription management frame of the combined
// stream endpoint.
type streamCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// StreamClient is a websocket client for the futures combined stream
// endpoint. It manages the connection lifecycle and live subscriptions,
// decodes payloads, and dispatches them to registered handlers. Tracked
// subscriptions are restored after every reconnect, so a transport error
// never silently drops a stream.
type StreamClient struct {
	wsURL  string
	speed  int
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	nextID int64

	// Stream names to restore on reconnect.
	subscriptions map[string]struct{}

	handlerMu    sync.RWMutex
	onMarkPrices func([]domain.MarkPrice)
	onBookTicker func(domain.BookTicker)
	onOrder      func(domain.OrderUpdate)

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewStreamClient creates a client for the given combined-stream endpoint,
// e.g. "wss://fstream.binance.com/stream". speed selects the mark price
// cadence in seconds (1 or 3).
func NewStreamClient(wsURL string, speed int, logger *slog.Logger) *StreamClient {
	return &StreamClient{
		wsURL:         wsURL,
		speed:         speed,
		logger:        logger.With(slog.String("component", "binance_stream")),
		subscriptions: make(map[string]struct{}),
		done:          make(chan struct{}),
	}
}

// Connect establishes the websocket connection and starts the read and ping
// loops. Previously tracked subscriptions are re-sent.
func (s *StreamClient) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("binance: connect: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("binance: connect %s: %w", s.wsURL, err)
	}
	s.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	// The server pings us as well; extend the deadline on those too. The
	// default handler already answers with a pong.
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	go s.readLoop(conn)
	go s.pingLoop(conn)

	if len(s.subscriptions) > 0 {
		streams := make([]string, 0, len(s.subscriptions))
		for name := range s.subscriptions {
			streams = append(streams, name)
		}
		if err := s.sendCommand("SUBSCRIBE", streams); err != nil {
			return fmt.Errorf("binance: restore subscriptions: %w", err)
		}
		s.logger.Info("subscriptions restored", slog.Int("streams", len(streams)))
	}

	return nil
}

// Close shuts down the connection and stops the loops.
func (s *StreamClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}
	return nil
}

// markPriceStream returns the all-market mark price stream name for the
// configured speed.
func (s *StreamClient) markPriceStream() string {
	if s.speed == 1 {
		return "!markPrice@arr@1s"
	}
	return "!markPrice@arr"
}

// SubscribeMarkPrices subscribes to the all-market mark price stream.
func (s *StreamClient) SubscribeMarkPrices(ctx context.Context) error {
	return s.subscribe(s.markPriceStream())
}

// SubscribeBookTicker subscribes to best bid/ask updates for one symbol.
func (s *StreamClient) SubscribeBookTicker(ctx context.Context, symbol string) error {
	return s.subscribe(strings.ToLower(symbol) + "@bookTicker")
}

// UnsubscribeBookTicker drops the book ticker stream for one symbol.
func (s *StreamClient) UnsubscribeBookTicker(ctx context.Context, symbol string) error {
	return s.unsubscribe(strings.ToLower(symbol) + "@bookTicker")
}

// SubscribeUserData subscribes to the private account event stream for the
// given listen key.
func (s *StreamClient) SubscribeUserData(ctx context.Context, listenKey string) error {
	return s.subscribe(listenKey)
}

// UnsubscribeUserData drops the private account event stream.
func (s *StreamClient) UnsubscribeUserData(ctx context.Context, listenKey string) error {
	return s.unsubscribe(listenKey)
}

// OnMarkPrices registers the handler for all-market mark price batches.
func (s *StreamClient) OnMarkPrices(h func([]domain.MarkPrice)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onMarkPrices = h
}

// OnBookTicker registers the handler for best bid/ask snapshots.
func (s *StreamClient) OnBookTicker(h func(domain.BookTicker)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onBookTicker = h
}

// OnOrderUpdate registers the handler for order lifecycle events.
func (s *StreamClient) OnOrderUpdate(h func(domain.OrderUpdate)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onOrder = h
}

// ---------------------------------------------------------------------------
// Internal methods
// ---------------------------------------------------------------------------

func (s *StreamClient) subscribe(stream string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("binance: not connected")
	}
	if _, ok := s.subscriptions[stream]; ok {
		return nil
	}
	if err := s.sendCommand("SUBSCRIBE", []string{stream}); err != nil {
		return fmt.Errorf("binance: subscribe %s: %w", stream, err)
	}
	s.subscriptions[stream] = struct{}{}
	s.logger.Info("subscribed", slog.String("stream", stream))
	return nil
}

func (s *StreamClient) unsubscribe(stream string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("binance: not connected")
	}
	if _, ok := s.subscriptions[stream]; !ok {
		return nil
	}
	delete(s.subscriptions, stream)
	if err := s.sendCommand("UNSUBSCRIBE", []string{stream}); err != nil {
		return fmt.Errorf("binance: unsubscribe %s: %w", stream, err)
	}
	s.logger.Info("unsubscribed", slog.String("stream", stream))
	return nil
}

// sendCommand sends a subscription management frame. Caller must hold s.mu.
func (s *StreamClient) sendCommand(method string, streams []string) error {
	s.nextID++
	cmd := streamCommand{Method: method, Params: streams, ID: s.nextID}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads frames from the given connection and
// dispatches them. On a read error it triggers reconnection, unless the
// client was closed.
func (s *StreamClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Warn("stream read failed, reconnecting", slog.String("error", err.Error()))
			s.reconnect(conn)
			return // a fresh readLoop runs on the new connection
		}

		s.handleMessage(message)
	}
}

// pingLoop sends periodic pings on the given connection to keep it alive.
func (s *StreamClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// combinedFrame is the envelope of the combined stream endpoint.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// handleMessage decodes one frame and routes it by event type. Malformed
// frames are logged and discarded; the connection stays up.
func (s *StreamClient) handleMessage(raw []byte) {
	var frame combinedFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.logger.Warn("undecodable frame dropped", slog.String("error", err.Error()))
		return
	}
	data := frame.Data
	if len(data) == 0 {
		// Subscription command acks arrive without an envelope.
		return
	}

	if strings.HasPrefix(frame.Stream, "!markPrice@arr") {
		var batch []markPriceMessage
		if err := json.Unmarshal(data, &batch); err != nil {
			s.logger.Warn("bad mark price batch dropped", slog.String("error", err.Error()))
			return
		}
		prices := make([]domain.MarkPrice, 0, len(batch))
		for _, m := range batch {
			mp, err := m.toDomain()
			if err != nil {
				s.logger.Warn("bad mark price dropped",
					slog.String("symbol", m.Symbol), slog.String("error", err.Error()))
				continue
			}
			prices = append(prices, mp)
		}
		s.handlerMu.RLock()
		h := s.onMarkPrices
		s.handlerMu.RUnlock()
		if h != nil && len(prices) > 0 {
			h(prices)
		}
		return
	}

	var envelope struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Warn("undecodable event dropped", slog.String("error", err.Error()))
		return
	}

	switch envelope.Event {
	case "bookTicker":
		var msg bookTickerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("bad book ticker dropped", slog.String("error", err.Error()))
			return
		}
		bt, err := msg.toDomain()
		if err != nil {
			s.logger.Warn("bad book ticker dropped", slog.String("error", err.Error()))
			return
		}
		s.handlerMu.RLock()
		h := s.onBookTicker
		s.handlerMu.RUnlock()
		if h != nil {
			h(bt)
		}

	case "ORDER_TRADE_UPDATE":
		var msg orderTradeUpdateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("bad order update dropped", slog.String("error", err.Error()))
			return
		}
		upd, err := msg.toDomain()
		if err != nil {
			s.logger.Warn("bad order update dropped", slog.String("error", err.Error()))
			return
		}
		s.handlerMu.RLock()
		h := s.onOrder
		s.handlerMu.RUnlock()
		if h != nil {
			h(upd)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff, which in
// turn restores all tracked subscriptions. It blocks until successful or the
// client is closed.
func (s *StreamClient) reconnect(old *websocket.Conn) {
	s.mu.Lock()
	if s.conn == old {
		s.conn = nil
	}
	s.mu.Unlock()

	delay := reconnectDelay
	for {
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()
		if err == nil {
			s.logger.Info("stream reconnected")
			return
		}
		s.logger.Warn("reconnect failed", slog.String("error", err.Error()))

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Compile-time interface check.
var _ domain.Stream = (*StreamClient)(nil)
