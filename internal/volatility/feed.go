// feed.go implements the optional live index-price WebSocket feed.
//
// Deribit pushes index updates on "deribit_price_index.{sym}_usd" channels.
// The feed keeps the latest price per symbol with a staleness cutoff; the
// surface provider consults it before falling back to the REST index call.
// Reconnects use exponential backoff (1s → 30s max) and re-subscribe to all
// tracked symbols; a read deadline detects silent server failures.
package volatility

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedReadTimeout  = 90 * time.Second
	feedWriteTimeout = 10 * time.Second
	feedMaxBackoff   = 30 * time.Second
	feedStaleAfter   = 2 * time.Minute
)

// wsRequest is a Deribit JSON-RPC request frame.
type wsRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

// wsNotification is the subscription push frame.
type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Channel string `json:"channel"`
		Data    struct {
			IndexName string  `json:"index_name"`
			Price     float64 `json:"price"`
			Timestamp int64   `json:"timestamp"`
		} `json:"data"`
	} `json:"params"`
}

type indexTick struct {
	price float64
	asOf  time.Time
}

// IndexFeed maintains live index prices for a fixed set of symbols.
type IndexFeed struct {
	url     string
	symbols []string

	conn   *websocket.Conn
	connMu sync.Mutex

	pricesMu sync.RWMutex
	prices   map[string]indexTick // keyed by upper-case symbol

	logger *slog.Logger
}

// NewIndexFeed creates a feed for the given symbols (e.g. BTC, ETH).
func NewIndexFeed(wsURL string, symbols []string, logger *slog.Logger) *IndexFeed {
	return &IndexFeed{
		url:     wsURL,
		symbols: symbols,
		prices:  make(map[string]indexTick),
		logger:  logger.With("component", "index_feed"),
	}
}

// Price returns the latest index price for a symbol, or false when no fresh
// update has arrived (feed down, symbol untracked, or value stale).
func (f *IndexFeed) Price(symbol string) (float64, bool) {
	f.pricesMu.RLock()
	tick, ok := f.prices[strings.ToUpper(symbol)]
	f.pricesMu.RUnlock()
	if !ok || time.Since(tick.asOf) > feedStaleAfter {
		return 0, false
	}
	return tick.price, true
}

// Run connects and maintains the WebSocket with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *IndexFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("index feed disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > feedMaxBackoff {
			backoff = feedMaxBackoff
		}
	}
}

// Close gracefully closes the connection.
func (f *IndexFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *IndexFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("index feed connected", "symbols", f.symbols)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.handleMessage(msg)
	}
}

func (f *IndexFeed) subscribe() error {
	channels := make([]string, len(f.symbols))
	for i, sym := range f.symbols {
		channels[i] = "deribit_price_index." + strings.ToLower(sym) + "_usd"
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      time.Now().UnixNano(),
		Method:  "public/subscribe",
		Params:  map[string]any{"channels": channels},
	}

	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return f.conn.WriteJSON(req)
}

func (f *IndexFeed) handleMessage(data []byte) {
	var note wsNotification
	if err := json.Unmarshal(data, &note); err != nil {
		f.logger.Debug("ignoring non-json ws message")
		return
	}
	if note.Method != "subscription" || note.Params.Data.Price <= 0 {
		return
	}

	// index_name is e.g. "btc_usd"
	sym := strings.ToUpper(strings.TrimSuffix(note.Params.Data.IndexName, "_usd"))
	if sym == "" {
		return
	}

	f.pricesMu.Lock()
	f.prices[sym] = indexTick{
		price: note.Params.Data.Price,
		asOf:  time.UnixMilli(note.Params.Data.Timestamp),
	}
	f.pricesMu.Unlock()
}
