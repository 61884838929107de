// FILE: feed.go
// Package main – Live mark-price stream (Binance futures websocket).
//
// Subscribes to <symbol>@markPrice@1s on wss://fstream.binance.com/ws and
// pushes every update into the paper venue and the mark-price gauge, so dry
// runs fill at real marks between candle fetches. The stream also carries
// the funding rate, which feeds the funding gauge for free.
//
// Lifecycle: Run blocks until ctx is cancelled, reconnecting with doubling
// backoff (capped at 30s) whenever the connection drops. A read deadline
// acts as the watchdog; client pings keep intermediaries from idling the
// connection out.

package main

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedReadTimeout  = 60 * time.Second
	feedWriteTimeout = 10 * time.Second
	feedPingInterval = 20 * time.Second
	feedBackoffCap   = 30 * time.Second
)

type markSink interface {
	SetMarkPrice(symbol string, price float64)
}

// MarkPriceFeed streams mark prices for a set of symbols into a sink.
type MarkPriceFeed struct {
	url     string
	streams []string
	unified map[string]string // venue symbol -> unified symbol
	sink    markSink
}

func NewMarkPriceFeed(symbols []string, sink markSink) *MarkPriceFeed {
	f := &MarkPriceFeed{
		url:     getEnv("MARK_FEED_URL", "wss://fstream.binance.com/ws"),
		unified: make(map[string]string, len(symbols)),
		sink:    sink,
	}
	for _, s := range symbols {
		vs := venueSymbol(s)
		f.unified[vs] = s
		f.streams = append(f.streams, strings.ToLower(vs)+"@markPrice@1s")
	}
	return f
}

// Run drives the connect/read/reconnect loop until ctx is done.
func (f *MarkPriceFeed) Run(ctx context.Context) {
	backoff := time.Second
	for {
		started := time.Now()
		err := f.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > time.Minute {
			backoff = time.Second
		}
		log.Printf("[WARN] mark feed disconnected: %v (retry in %s)", err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > feedBackoffCap {
			backoff = feedBackoffCap
		}
	}
}

func (f *MarkPriceFeed) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("[BOOT] mark feed connected: %d streams", len(f.streams))

	sub := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": f.streams,
		"id":     time.Now().Unix(),
	}
	conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		return nil
	})

	// Pinger + cancellation watcher. Closing the conn unblocks ReadMessage.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(feedPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		f.handle(raw)
	}
}

// markPriceUpdate: {"e":"markPriceUpdate","s":"BTCUSDT","p":"...","r":"..."}
func (f *MarkPriceFeed) handle(raw []byte) {
	var ev struct {
		Event       string `json:"e"`
		Symbol      string `json:"s"`
		MarkPrice   string `json:"p"`
		FundingRate string `json:"r"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Event != "markPriceUpdate" {
		return // subscription acks and unknown events land here
	}
	symbol, ok := f.unified[ev.Symbol]
	if !ok {
		return
	}
	price := parseF(ev.MarkPrice)
	if price <= 0 {
		return
	}
	if f.sink != nil {
		f.sink.SetMarkPrice(symbol, price)
	}
	setMarkPriceMetric(symbol, price)
	if r := strings.TrimSpace(ev.FundingRate); r != "" {
		setFundingMetric(symbol, parseF(r))
	}
}
