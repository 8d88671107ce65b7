package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Reconnection and heartbeat tuning for the live feed.
const (
	InitialBackoff = 1 * time.Second
	MaxBackoff     = 60 * time.Second
	BackoffFactor  = 2.0
	JitterPercent  = 0.2

	HeartbeatTimeout = 60 * time.Second
	PongTimeout      = 10 * time.Second
	WriteTimeout     = 10 * time.Second
)

// wsTrade is the trade payload shape on the market channel. Only rows that
// carry a transaction hash survive the dedup gate downstream, so the
// listener forwards everything and lets normalization sort it out.
type wsTrade struct {
	Market          string `json:"market"`
	AssetID         string `json:"asset_id"`
	EventType       string `json:"event_type"`
	Side            string `json:"side"`
	Size            any    `json:"size"`
	Price           any    `json:"price"`
	Outcome         string `json:"outcome"`
	Timestamp       any    `json:"timestamp"`
	TransactionHash string `json:"transaction_hash"`
	ProxyWallet     string `json:"proxy_wallet"`
	Taker           string `json:"taker"`
	Slug            string `json:"slug"`
}

// Listener maintains a WebSocket connection to the Polymarket market
// channel and buffers incoming trade rows as a secondary feed. The
// ingestion cycle drains the buffer at the start of each cycle; overlap
// with the REST batch is resolved by tx-hash dedup, not here.
type Listener struct {
	url     string
	rawChan chan<- RawTrade

	conn       *websocket.Conn
	connMu     sync.Mutex
	backoff    time.Duration
	lastMsg    time.Time
	lastMsgMu  sync.RWMutex
	stopChan   chan struct{}
	wg         sync.WaitGroup
	assetIDs   []string
	assetIDsMu sync.RWMutex
}

// NewListener creates a listener that forwards raw trades to rawChan.
func NewListener(url string, rawChan chan<- RawTrade) *Listener {
	return &Listener{
		url:      url,
		rawChan:  rawChan,
		backoff:  InitialBackoff,
		stopChan: make(chan struct{}),
		assetIDs: []string{},
	}
}

// SetAssetIDs sets the outcome token IDs to subscribe to.
func (l *Listener) SetAssetIDs(ids []string) {
	l.assetIDsMu.Lock()
	defer l.assetIDsMu.Unlock()
	l.assetIDs = ids
}

// Start begins the listener with automatic reconnection.
func (l *Listener) Start() {
	l.wg.Add(1)
	go l.runLoop()

	l.wg.Add(1)
	go l.heartbeatMonitor()
}

// Stop gracefully shuts down the listener.
func (l *Listener) Stop() {
	close(l.stopChan)
	l.closeConnection()
	l.wg.Wait()
}

func (l *Listener) runLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			slog.Info("ws_loop_stopping")
			return
		default:
		}

		if err := l.connect(); err != nil {
			slog.Error("ws_connect_failed", "error", err, "backoff", l.backoff)
			l.waitBackoff()
			continue
		}

		if err := l.readLoop(); err != nil {
			slog.Warn("ws_read_error", "error", err)
		}

		l.closeConnection()

		select {
		case <-l.stopChan:
			return
		default:
			l.waitBackoff()
		}
	}
}

func (l *Listener) connect() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", "https://polymarket.com")

	url := l.url
	if !strings.HasSuffix(url, "/market") && !strings.HasSuffix(url, "/user") {
		url = strings.TrimSuffix(url, "/") + "/market"
	}

	conn, resp, err := dialer.Dial(url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	l.backoff = InitialBackoff

	slog.Info("ws_connected", "endpoint", url)

	if err := l.subscribe(); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	l.updateLastMsg()
	return nil
}

func (l *Listener) subscribe() error {
	l.assetIDsMu.RLock()
	assetIDs := l.assetIDs
	l.assetIDsMu.RUnlock()

	msg := map[string]any{
		"type":       "market",
		"assets_ids": assetIDs,
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn == nil {
		return fmt.Errorf("connection is nil")
	}

	l.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := l.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send subscribe message: %w", err)
	}

	slog.Info("ws_subscribed", "channel", "market", "asset_count", len(assetIDs))
	return nil
}

func (l *Listener) readLoop() error {
	for {
		select {
		case <-l.stopChan:
			return nil
		default:
		}

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()

		if conn == nil {
			return fmt.Errorf("connection is nil")
		}

		conn.SetReadDeadline(time.Now().Add(HeartbeatTimeout + PongTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		l.updateLastMsg()
		l.handleMessage(message)
	}
}

// handleMessage extracts trade rows and forwards them.
func (l *Listener) handleMessage(data []byte) {
	for _, raw := range parseWSTrades(data) {
		select {
		case l.rawChan <- raw:
			slog.Debug("ws_trade_buffered",
				"tx", raw.TransactionHash,
				"slug", raw.Slug,
			)
		default:
			slog.Warn("ws_buffer_full", "dropped_tx", raw.TransactionHash)
		}
	}
}

// parseWSTrades converts market-channel events into RawTrades. Book and
// price events carry no trade identity and are ignored.
func parseWSTrades(data []byte) []RawTrade {
	var events []wsTrade
	if err := json.Unmarshal(data, &events); err != nil {
		var single wsTrade
		if err := json.Unmarshal(data, &single); err != nil {
			slog.Debug("ws_parse_error", "error", err)
			return nil
		}
		events = []wsTrade{single}
	}

	var out []RawTrade
	for _, ev := range events {
		if ev.EventType != "" && ev.EventType != "trade" && ev.EventType != "last_trade_price" {
			continue
		}
		wallet := ev.ProxyWallet
		if wallet == "" {
			wallet = ev.Taker
		}
		slug := ev.Slug
		if slug == "" {
			slug = ev.Market
		}
		out = append(out, RawTrade{
			Timestamp:       ev.Timestamp,
			Side:            ev.Side,
			Price:           ev.Price,
			Size:            ev.Size,
			Outcome:         ev.Outcome,
			TransactionHash: ev.TransactionHash,
			ProxyWallet:     wallet,
			Slug:            slug,
		})
	}
	return out
}

func (l *Listener) heartbeatMonitor() {
	defer l.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.checkHeartbeat()
		}
	}
}

func (l *Listener) checkHeartbeat() {
	l.lastMsgMu.RLock()
	lastMsg := l.lastMsg
	l.lastMsgMu.RUnlock()

	if lastMsg.IsZero() {
		return
	}

	elapsed := time.Since(lastMsg)
	if elapsed > HeartbeatTimeout {
		slog.Warn("ws_heartbeat_timeout", "elapsed", elapsed)

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()

		if conn != nil {
			conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Warn("ws_ping_failed", "error", err)
				l.closeConnection()
			}
		}
	}
}

func (l *Listener) updateLastMsg() {
	l.lastMsgMu.Lock()
	l.lastMsg = time.Now()
	l.lastMsgMu.Unlock()
}

func (l *Listener) closeConnection() {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
		slog.Info("ws_disconnected")
	}
}

func (l *Listener) waitBackoff() {
	jitter := time.Duration(float64(l.backoff) * JitterPercent * (rand.Float64()*2 - 1))
	wait := l.backoff + jitter

	slog.Debug("ws_waiting_backoff", "duration", wait)

	select {
	case <-l.stopChan:
	case <-time.After(wait):
	}

	l.backoff = time.Duration(float64(l.backoff) * BackoffFactor)
	if l.backoff > MaxBackoff {
		l.backoff = MaxBackoff
	}
}
