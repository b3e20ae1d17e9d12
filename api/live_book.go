package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// quoteTTL bounds how long a websocket quote is trusted without an update.
// Stale entries fall through to the REST book.
const quoteTTL = 2 * time.Minute

// QuoteFeed maintains a best bid/ask cache for subscribed tokens, fed by the
// CLOB market websocket channel. It exists to keep the two periodic loops off
// the REST book endpoint for tokens they touch every cycle.
type QuoteFeed struct {
	wsURL string

	mu     sync.RWMutex
	quotes map[string]cachedQuote
	subs   map[string]bool

	connMu sync.Mutex
	conn   *websocket.Conn

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type cachedQuote struct {
	data      *MarketData
	updatedAt time.Time
}

// wsBookMessage covers both "book" snapshots and "price_change" deltas from
// the market channel; unused fields are ignored.
type wsBookMessage struct {
	EventType string           `json:"event_type"`
	AssetID   string           `json:"asset_id"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Changes   []struct {
		Price string `json:"price"`
		Side  string `json:"side"`
		Size  string `json:"size"`
	} `json:"changes"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

type wsSubscribeMessage struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

// NewQuoteFeed creates a quote feed for the given market websocket URL.
func NewQuoteFeed(wsURL string) *QuoteFeed {
	if wsURL == "" {
		wsURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	return &QuoteFeed{
		wsURL:  wsURL,
		quotes: make(map[string]cachedQuote),
		subs:   make(map[string]bool),
		stopCh: make(chan struct{}),
	}
}

// Start launches the connection loop. Connection failures are retried with
// backoff; the feed degrades to "no cached quote" rather than erroring.
func (f *QuoteFeed) Start(ctx context.Context) error {
	if f.running {
		return fmt.Errorf("quote feed already running")
	}
	f.running = true

	f.wg.Add(1)
	go f.connectLoop(ctx)

	log.Printf("[QuoteFeed] Started (%s)", f.wsURL)
	return nil
}

// Stop closes the connection and waits for the read loop to exit.
func (f *QuoteFeed) Stop() {
	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()
	log.Printf("[QuoteFeed] Stopped")
}

// Subscribe adds tokens to the watch set. Safe to call while running; the
// subscription is (re)sent on the current and any future connection.
func (f *QuoteFeed) Subscribe(tokenIDs ...string) {
	f.mu.Lock()
	added := false
	for _, id := range tokenIDs {
		if id != "" && !f.subs[id] {
			f.subs[id] = true
			added = true
		}
	}
	f.mu.Unlock()

	if added {
		f.sendSubscriptions()
	}
}

// Quote returns the cached best bid/ask for a token, if fresh.
func (f *QuoteFeed) Quote(tokenID string) (*MarketData, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, ok := f.quotes[tokenID]
	if !ok || time.Since(q.updatedAt) > quoteTTL {
		return nil, false
	}
	return q.data, true
}

func (f *QuoteFeed) connectLoop(ctx context.Context) {
	defer f.wg.Done()

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		default:
		}

		if err := f.runConnection(ctx); err != nil {
			log.Printf("[QuoteFeed] Connection lost: %v (reconnecting in %s)", err, backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *QuoteFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	f.sendSubscriptions()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.handleMessage(data)
	}
}

func (f *QuoteFeed) sendSubscriptions() {
	f.mu.RLock()
	ids := make([]string, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	f.mu.RUnlock()

	if len(ids) == 0 {
		return
	}

	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return
	}

	msg := wsSubscribeMessage{AssetIDs: ids, Type: "market"}
	if err := f.conn.WriteJSON(msg); err != nil {
		log.Printf("[QuoteFeed] Failed to send subscription: %v", err)
	}
}

func (f *QuoteFeed) handleMessage(data []byte) {
	// The channel batches events into arrays; single objects also occur.
	var batch []wsBookMessage
	if err := json.Unmarshal(data, &batch); err != nil {
		var single wsBookMessage
		if err := json.Unmarshal(data, &single); err != nil {
			return
		}
		batch = []wsBookMessage{single}
	}

	for _, msg := range batch {
		f.applyMessage(msg)
	}
}

func (f *QuoteFeed) applyMessage(msg wsBookMessage) {
	if msg.AssetID == "" {
		return
	}

	var bid, ask float64
	switch msg.EventType {
	case "book":
		// Snapshot: bids best-last is not guaranteed, scan for extremes
		for _, lvl := range msg.Bids {
			if p, err := strconv.ParseFloat(lvl.Price, 64); err == nil && p > bid {
				bid = p
			}
		}
		ask = 1
		found := false
		for _, lvl := range msg.Asks {
			if p, err := strconv.ParseFloat(lvl.Price, 64); err == nil && p < ask {
				ask = p
				found = true
			}
		}
		if bid == 0 || !found {
			return
		}
	case "price_change":
		b, errB := strconv.ParseFloat(msg.BestBid, 64)
		a, errA := strconv.ParseFloat(msg.BestAsk, 64)
		if errB != nil || errA != nil || b <= 0 || a <= 0 {
			return
		}
		bid, ask = b, a
	default:
		return
	}

	f.mu.Lock()
	f.quotes[msg.AssetID] = cachedQuote{
		data:      NewMarketData(bid, ask),
		updatedAt: time.Now(),
	}
	f.mu.Unlock()
}
