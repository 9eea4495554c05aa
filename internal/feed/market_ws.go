package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polycopy/internal/domain"
)

const (
	// DefaultMarketURL is the public CLOB market data WebSocket endpoint.
	DefaultMarketURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// MarketFeed keeps the price cache warm with live midpoints from the CLOB
// market WebSocket. Tokens are added with Watch as positions open and the
// feed re-subscribes to the full watch set after every reconnect.
type MarketFeed struct {
	url    string
	prices domain.PriceCache
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	watched map[string]struct{}

	// books holds the latest best bid/ask per token so incremental
	// price_change events can move the midpoint without a full snapshot.
	booksMu sync.Mutex
	books   map[string]*bookTop
}

type bookTop struct {
	bids map[string]float64 // price -> size
	asks map[string]float64
}

type subscribeCmd struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

type marketEvent struct {
	EventType string       `json:"event_type"`
	AssetID   string       `json:"asset_id"`
	Price     string       `json:"price"`
	Bids      []priceLevel `json:"bids"`
	Asks      []priceLevel `json:"asks"`
	Changes   []bookChange `json:"changes"`
}

type priceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookChange struct {
	Price string `json:"price"`
	Side  string `json:"side"`
	Size  string `json:"size"`
}

// NewMarketFeed creates a feed writing to the given price cache. url may be
// empty, in which case the public endpoint is used.
func NewMarketFeed(url string, prices domain.PriceCache, logger *slog.Logger) *MarketFeed {
	if url == "" {
		url = DefaultMarketURL
	}
	return &MarketFeed{
		url:     url,
		prices:  prices,
		logger:  logger.With(slog.String("component", "feed")),
		watched: make(map[string]struct{}),
		books:   make(map[string]*bookTop),
	}
}

// Watch adds tokens to the subscription set. If the feed is connected the
// subscription is sent immediately; otherwise it takes effect on the next
// (re)connect.
func (f *MarketFeed) Watch(tokenIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fresh := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if _, ok := f.watched[id]; ok {
			continue
		}
		f.watched[id] = struct{}{}
		fresh = append(fresh, id)
	}

	if len(fresh) == 0 || f.conn == nil {
		return nil
	}
	return f.send(subscribeCmd{Type: "market", AssetIDs: fresh})
}

// Run dials the market WebSocket and processes events until ctx is
// cancelled, reconnecting with exponential backoff on any failure.
func (f *MarketFeed) Run(ctx context.Context) error {
	delay := reconnectDelay

	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("market feed disconnected",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// session runs one connection lifecycle: dial, subscribe to the current
// watch set, then read until the connection or ctx dies.
func (f *MarketFeed) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	f.mu.Lock()
	f.conn = conn
	ids := make([]string, 0, len(f.watched))
	for id := range f.watched {
		ids = append(ids, id)
	}
	var subErr error
	if len(ids) > 0 {
		subErr = f.send(subscribeCmd{Type: "market", AssetIDs: ids})
	}
	f.mu.Unlock()
	if subErr != nil {
		return fmt.Errorf("feed: subscribe: %w", subErr)
	}

	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
	}()

	f.logger.Info("market feed connected", slog.Int("tokens", len(ids)))

	stop := make(chan struct{})
	defer close(stop)
	go f.pingLoop(conn, stop)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		f.dispatch(ctx, raw)
	}
}

// send writes a command on the active connection. Caller must hold f.mu.
func (f *MarketFeed) send(cmd subscribeCmd) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

func (f *MarketFeed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch parses a raw frame and updates the price cache. The market
// endpoint sends both single events and arrays of events.
func (f *MarketFeed) dispatch(ctx context.Context, raw []byte) {
	var events []marketEvent
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &events); err != nil {
			return
		}
	} else {
		var ev marketEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return
		}
		events = []marketEvent{ev}
	}

	for _, ev := range events {
		f.handleEvent(ctx, ev)
	}
}

func (f *MarketFeed) handleEvent(ctx context.Context, ev marketEvent) {
	switch ev.EventType {
	case "book":
		top := &bookTop{bids: make(map[string]float64), asks: make(map[string]float64)}
		for _, lvl := range ev.Bids {
			if size := parseFloat(lvl.Size); size > 0 {
				top.bids[lvl.Price] = size
			}
		}
		for _, lvl := range ev.Asks {
			if size := parseFloat(lvl.Size); size > 0 {
				top.asks[lvl.Price] = size
			}
		}
		f.booksMu.Lock()
		f.books[ev.AssetID] = top
		f.booksMu.Unlock()
		f.publishMidpoint(ctx, ev.AssetID, top)

	case "price_change":
		f.booksMu.Lock()
		top, ok := f.books[ev.AssetID]
		if !ok {
			top = &bookTop{bids: make(map[string]float64), asks: make(map[string]float64)}
			f.books[ev.AssetID] = top
		}
		for _, ch := range ev.Changes {
			side := top.bids
			if ch.Side == "SELL" {
				side = top.asks
			}
			if size := parseFloat(ch.Size); size > 0 {
				side[ch.Price] = size
			} else {
				delete(side, ch.Price)
			}
		}
		f.booksMu.Unlock()
		f.publishMidpoint(ctx, ev.AssetID, top)

	case "last_trade_price":
		// Fallback when the book is one-sided and no midpoint exists.
		f.booksMu.Lock()
		top := f.books[ev.AssetID]
		f.booksMu.Unlock()
		if top != nil && len(top.bids) > 0 && len(top.asks) > 0 {
			return
		}
		if price := parseFloat(ev.Price); price > 0 {
			f.setPrice(ctx, ev.AssetID, price)
		}
	}
}

func (f *MarketFeed) publishMidpoint(ctx context.Context, tokenID string, top *bookTop) {
	f.booksMu.Lock()
	mid, ok := midpoint(top)
	f.booksMu.Unlock()
	if !ok {
		return
	}
	f.setPrice(ctx, tokenID, mid)
}

func (f *MarketFeed) setPrice(ctx context.Context, tokenID string, price float64) {
	if err := f.prices.SetPrice(ctx, tokenID, price, time.Now()); err != nil {
		f.logger.Warn("price cache write failed",
			slog.String("token_id", tokenID),
			slog.String("error", err.Error()))
	}
}

// midpoint returns (bestBid + bestAsk) / 2, or false when either side of
// the book is empty. Caller must hold booksMu.
func midpoint(top *bookTop) (float64, bool) {
	bestBid, okBid := bestPrice(top.bids, true)
	bestAsk, okAsk := bestPrice(top.asks, false)
	if !okBid || !okAsk {
		return 0, false
	}
	return (bestBid + bestAsk) / 2, true
}

func bestPrice(levels map[string]float64, highest bool) (float64, bool) {
	if len(levels) == 0 {
		return 0, false
	}
	prices := make([]float64, 0, len(levels))
	for p := range levels {
		if v := parseFloat(p); v > 0 {
			prices = append(prices, v)
		}
	}
	if len(prices) == 0 {
		return 0, false
	}
	sort.Float64s(prices)
	if highest {
		return prices[len(prices)-1], true
	}
	return prices[0], true
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
