package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// TradeHandler is called for every token trade event received on the stream.
type TradeHandler func(domain.TradeEvent)

// LaunchHandler is called for every new token launch event.
type LaunchHandler func(mint string)

// WSClient is a WebSocket client for the launchpad trade event stream. It
// manages the connection lifecycle and per-mint subscriptions, and
// dispatches decoded events to registered handlers. On disconnect it
// reconnects with exponential backoff and restores its subscriptions.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// writeMu serializes all writes to the current connection; the
	// websocket library allows at most one concurrent writer.
	writeMu sync.Mutex

	// connDone is closed when the current connection is replaced, releasing
	// the loops bound to it.
	connDone chan struct{}

	// Mints to re-subscribe on reconnect.
	mints map[string]struct{}

	// Whether the launch stream subscription is active.
	launches bool

	tradeHandlers  []TradeHandler
	launchHandlers []LaunchHandler
	handlerMu      sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a WebSocket client for the given stream URL.
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		mints: make(map[string]struct{}),
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("feed: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}

	// Release the loops bound to the previous connection before swapping in
	// the new one, so only one ping writer exists per connection.
	if w.connDone != nil {
		close(w.connDone)
	}
	connDone := make(chan struct{})
	w.connDone = connDone
	w.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop(conn, connDone)
	go w.pingLoop(conn, connDone)

	// Restore subscriptions after reconnect.
	if w.launches {
		if err := w.sendCommand(wsCommand{Method: "subscribeNewToken"}); err != nil {
			return fmt.Errorf("feed: restore launch subscription: %w", err)
		}
	}
	if len(w.mints) > 0 {
		keys := make([]string, 0, len(w.mints))
		for m := range w.mints {
			keys = append(keys, m)
		}
		if err := w.sendCommand(wsCommand{Method: "subscribeTokenTrade", Keys: keys}); err != nil {
			return fmt.Errorf("feed: restore trade subscriptions: %w", err)
		}
	}

	return nil
}

// SubscribeTrades subscribes to the trade stream for the given mints.
func (w *WSClient) SubscribeTrades(ctx context.Context, mints ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("feed: not connected")
	}

	if err := w.sendCommand(wsCommand{Method: "subscribeTokenTrade", Keys: mints}); err != nil {
		return fmt.Errorf("feed: subscribe trades: %w", err)
	}
	for _, m := range mints {
		w.mints[m] = struct{}{}
	}
	return nil
}

// UnsubscribeTrades drops the trade stream for the given mints.
func (w *WSClient) UnsubscribeTrades(ctx context.Context, mints ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("feed: not connected")
	}

	if err := w.sendCommand(wsCommand{Method: "unsubscribeTokenTrade", Keys: mints}); err != nil {
		return fmt.Errorf("feed: unsubscribe trades: %w", err)
	}
	for _, m := range mints {
		delete(w.mints, m)
	}
	return nil
}

// SubscribeLaunches subscribes to the new-token launch stream.
func (w *WSClient) SubscribeLaunches(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("feed: not connected")
	}

	if err := w.sendCommand(wsCommand{Method: "subscribeNewToken"}); err != nil {
		return fmt.Errorf("feed: subscribe launches: %w", err)
	}
	w.launches = true
	return nil
}

// OnTrade registers a handler called for every decoded trade event.
func (w *WSClient) OnTrade(handler TradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tradeHandlers = append(w.tradeHandlers, handler)
}

// OnLaunch registers a handler called for every new token launch.
func (w *WSClient) OnLaunch(handler LaunchHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.launchHandlers = append(w.launchHandlers, handler)
}

// Close shuts down the connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		w.writeMu.Lock()
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		w.writeMu.Unlock()
		return w.conn.Close()
	}

	return nil
}

// wsCommand is the JSON command envelope for the stream.
type wsCommand struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

// wsTradeMessage is the wire shape of stream events. Launch events carry
// txType "create"; trades carry "buy" or "sell".
type wsTradeMessage struct {
	TxType    string  `json:"txType"`
	Mint      string  `json:"mint"`
	SolAmount float64 `json:"solAmount"`
	Signature string  `json:"signature"`
}

// sendCommand sends a JSON command to the stream. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd wsCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from its connection and dispatches
// them to handlers. It runs in its own goroutine per connection. On
// disconnect it hands off to reconnect, unless the connection was already
// replaced or the client closed.
func (w *WSClient) readLoop(conn *websocket.Conn, connDone chan struct{}) {
	defer conn.Close()

	for {
		select {
		case <-w.done:
			return
		case <-connDone:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			case <-connDone:
				return
			default:
			}

			w.reconnect()
			return // a fresh readLoop is started by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic pings to keep its connection alive. It exits when
// the client closes or the connection is replaced.
func (w *WSClient) pingLoop(conn *websocket.Conn, connDone chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-connDone:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage decodes a raw stream message and routes it. Unparseable
// messages are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var msg wsTradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	mint := strings.TrimSpace(msg.Mint)
	if mint == "" {
		return
	}

	switch msg.TxType {
	case "create":
		w.handlerMu.RLock()
		handlers := w.launchHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(mint)
		}

	case "buy", "sell":
		ev := domain.TradeEvent{
			Mint:      mint,
			Side:      domain.TradeSide(msg.TxType),
			Lamports:  uint64(msg.SolAmount * 1e9),
			Signature: msg.Signature,
			Timestamp: time.Now(),
		}

		w.handlerMu.RLock()
		handlers := w.tradeHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(ev)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	b := &backoff.Backoff{
		Min:    2 * time.Second,
		Max:    60 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		select {
		case <-w.done:
			return
		case <-time.After(b.Duration()):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}
	}
}
