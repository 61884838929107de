// FILE: exchange_binance.go
// Package main – Binance USDⓈ-M futures client (direct REST/HMAC).
//
// Implements ExchangeClient against the futures API:
//   • /fapi/v1/exchangeInfo  – markets + quantity/price precision (cached)
//   • /fapi/v1/klines        – candles (interval strings used as-is)
//   • /fapi/v2/positionRisk  – open position for one symbol (signed)
//   • /fapi/v2/account       – equity/margin totals (signed)
//   • /fapi/v1/order         – market/limit orders, cancel (signed)
//   • /fapi/v1/leverage, /fapi/v1/marginType – contract setup (signed)
//   • /fapi/v1/premiumIndex  – mark price + funding rate
//
// Symbols use the unified perp form "BTC/USDT:USDT" and are mapped to the
// venue form "BTCUSDT" at the wire.
//
// Required env (loaded via bot.env allowlist or process env):
//   BINANCE_API_KEY=<key>
//   BINANCE_API_SECRET=<secret>
// Optional:
//   BINANCE_FAPI_BASE=https://fapi.binance.com
//   BINANCE_RECV_WINDOW=5000
//
// Error mapping: transport failures, 418/429 and 5xx responses are flagged
// transient (the executor retries those); other rejections are not.

package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

type usdmMarket struct {
	symbol            string
	pricePrecision    int
	quantityPrecision int
}

// BinanceFutures talks to the USDⓈ-M REST API.
type BinanceFutures struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int64
	hc         *http.Client

	mu      sync.RWMutex
	markets map[string]*usdmMarket // keyed by venue symbol, e.g. "BTCUSDT"
}

func NewBinanceFutures() *BinanceFutures {
	base := getEnv("BINANCE_FAPI_BASE", "https://fapi.binance.com")
	return &BinanceFutures{
		apiKey:     getEnv("BINANCE_API_KEY", ""),
		apiSecret:  getEnv("BINANCE_API_SECRET", ""),
		baseURL:    strings.TrimRight(base, "/"),
		recvWindow: int64(getEnvInt("BINANCE_RECV_WINDOW", 5000)),
		hc:         &http.Client{Timeout: 15 * time.Second},
		markets:    map[string]*usdmMarket{},
	}
}

func (bf *BinanceFutures) Name() string { return "binance-usdm" }

// ----- Helpers -----

// venueSymbol maps "BTC/USDT:USDT" -> "BTCUSDT"; already-flat symbols pass
// through unchanged.
func venueSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return strings.ReplaceAll(s, "/", "")
}

func (bf *BinanceFutures) sign(q url.Values) string {
	mac := hmac.New(sha256.New, []byte(bf.apiSecret))
	_, _ = io.WriteString(mac, q.Encode())
	return hex.EncodeToString(mac.Sum(nil))
}

// do issues one request and classifies failures: network errors and
// 418/429/5xx responses are transient, everything else surfaces as-is.
func (bf *BinanceFutures) do(ctx context.Context, method, path string, q url.Values, signed bool) ([]byte, error) {
	if q == nil {
		q = url.Values{}
	}
	if signed {
		q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		if bf.recvWindow > 0 {
			q.Set("recvWindow", strconv.FormatInt(bf.recvWindow, 10))
		}
		q.Set("signature", bf.sign(q))
	}
	var (
		req *http.Request
		err error
	)
	u := bf.baseURL + path
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, u+"?"+q.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u, strings.NewReader(q.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	if bf.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", bf.apiKey)
	}
	res, err := bf.hc.Do(req)
	if err != nil {
		return nil, transientErr(fmt.Sprintf("%s %s", method, path), err)
	}
	defer res.Body.Close()
	bs, _ := io.ReadAll(res.Body)
	if res.StatusCode/100 != 2 {
		err := fmt.Errorf("binance %s %s: status %d: %s", method, path, res.StatusCode, string(bs))
		if res.StatusCode == 429 || res.StatusCode == 418 || res.StatusCode >= 500 {
			return nil, transientErr(fmt.Sprintf("%s %s", method, path), err)
		}
		return nil, err
	}
	return bs, nil
}

func parseF(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func toStr(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func formatQty(v float64, digits int) string {
	if digits < 0 {
		digits = 0
	}
	if digits > 10 {
		digits = 10
	}
	return strconv.FormatFloat(v, 'f', digits, 64)
}

// ----- ExchangeClient methods -----

// LoadMarkets fetches exchangeInfo once and caches per-symbol precision.
func (bf *BinanceFutures) LoadMarkets(ctx context.Context) error {
	bf.mu.RLock()
	loaded := len(bf.markets) > 0
	bf.mu.RUnlock()
	if loaded {
		return nil
	}
	bs, err := bf.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false)
	if err != nil {
		return err
	}
	var info struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			Status            string `json:"status"`
			PricePrecision    int    `json:"pricePrecision"`
			QuantityPrecision int    `json:"quantityPrecision"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(bs, &info); err != nil {
		return fmt.Errorf("decode exchangeInfo: %w", err)
	}
	if len(info.Symbols) == 0 {
		return configErr("exchangeInfo", fmt.Errorf("no symbols returned"))
	}
	markets := make(map[string]*usdmMarket, len(info.Symbols))
	for _, s := range info.Symbols {
		markets[s.Symbol] = &usdmMarket{
			symbol:            s.Symbol,
			pricePrecision:    s.PricePrecision,
			quantityPrecision: s.QuantityPrecision,
		}
	}
	bf.mu.Lock()
	bf.markets = markets
	bf.mu.Unlock()
	return nil
}

func (bf *BinanceFutures) market(symbol string) *usdmMarket {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.markets[venueSymbol(symbol)]
}

// MarketPrecision reports the cached quantity precision; 3 when the symbol
// is unknown (caller floors conservatively).
func (bf *BinanceFutures) MarketPrecision(symbol string) int {
	if m := bf.market(symbol); m != nil {
		return m.quantityPrecision
	}
	return 3
}

func (bf *BinanceFutures) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if limit <= 0 || limit > 1500 {
		limit = 500
	}
	q := url.Values{}
	q.Set("symbol", venueSymbol(symbol))
	q.Set("interval", strings.TrimSpace(timeframe))
	q.Set("limit", strconv.Itoa(limit))

	bs, err := bf.do(ctx, http.MethodGet, "/fapi/v1/klines", q, false)
	if err != nil {
		return nil, err
	}
	// kline: [ openTime, open, high, low, close, volume, closeTime, ... ]
	var raw [][]interface{}
	if err := json.Unmarshal(bs, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	out := make([]Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		openMs, _ := row[0].(float64)
		out = append(out, Candle{
			Time:   time.UnixMilli(int64(openMs)).UTC(),
			Open:   parseF(toStr(row[1])),
			High:   parseF(toStr(row[2])),
			Low:    parseF(toStr(row[3])),
			Close:  parseF(toStr(row[4])),
			Volume: parseF(toStr(row[5])),
		})
	}
	return out, nil
}

// FetchPosition returns the net position in one-way mode, nil when flat.
func (bf *BinanceFutures) FetchPosition(ctx context.Context, symbol string) (*ExchangePosition, error) {
	q := url.Values{}
	q.Set("symbol", venueSymbol(symbol))
	bs, err := bf.do(ctx, http.MethodGet, "/fapi/v2/positionRisk", q, true)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		Leverage         string `json:"leverage"`
		PositionSide     string `json:"positionSide"`
	}
	if err := json.Unmarshal(bs, &rows); err != nil {
		return nil, fmt.Errorf("decode positionRisk: %w", err)
	}
	for _, r := range rows {
		amt := parseF(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := "long"
		contracts := amt
		if amt < 0 {
			side = "short"
			contracts = -amt
		}
		return &ExchangePosition{
			Symbol:        symbol,
			Contracts:     contracts,
			Side:          side,
			EntryPrice:    parseF(r.EntryPrice),
			MarkPrice:     parseF(r.MarkPrice),
			UnrealizedPnL: parseF(r.UnRealizedProfit),
			Leverage:      parseF(r.Leverage),
		}, nil
	}
	return nil, nil
}

func (bf *BinanceFutures) FetchAccountMetrics(ctx context.Context) (AccountMetrics, error) {
	bs, err := bf.do(ctx, http.MethodGet, "/fapi/v2/account", nil, true)
	if err != nil {
		return AccountMetrics{}, err
	}
	var a struct {
		TotalMarginBalance    string `json:"totalMarginBalance"`
		TotalUnrealizedProfit string `json:"totalUnrealizedProfit"`
		TotalWalletBalance    string `json:"totalWalletBalance"`
	}
	if err := json.Unmarshal(bs, &a); err != nil {
		return AccountMetrics{}, fmt.Errorf("decode account: %w", err)
	}
	return AccountMetrics{
		Equity:        parseF(a.TotalMarginBalance),
		UnrealizedPnL: parseF(a.TotalUnrealizedProfit),
		MarginBalance: parseF(a.TotalMarginBalance),
	}, nil
}

// CreateOrder submits one order. Market orders carry no timeInForce (the
// venue rejects it); post-only limit orders use GTX.
func (bf *BinanceFutures) CreateOrder(ctx context.Context, symbol, orderType string, side OrderSide, amount, price float64, params map[string]string) (*OrderResponse, error) {
	m := bf.market(symbol)
	qtyDigits := 3
	priceDigits := 2
	if m != nil {
		qtyDigits = m.quantityPrecision
		priceDigits = m.pricePrecision
	}
	typ := strings.ToUpper(strings.TrimSpace(orderType))
	q := url.Values{}
	q.Set("symbol", venueSymbol(symbol))
	q.Set("side", strings.ToUpper(string(side)))
	q.Set("type", typ)
	q.Set("quantity", formatQty(amount, qtyDigits))
	if typ == "LIMIT" {
		if price <= 0 {
			return nil, configErr("create order", fmt.Errorf("limit order needs a positive price"))
		}
		q.Set("price", formatQty(price, priceDigits))
		tif := params["timeInForce"]
		if params["postOnly"] == "true" {
			tif = "GTX"
		}
		if tif == "" {
			tif = "GTC"
		}
		q.Set("timeInForce", tif)
	}
	if params["reduceOnly"] == "true" {
		q.Set("reduceOnly", "true")
	}
	if id := params["newClientOrderId"]; id != "" {
		q.Set("newClientOrderId", id)
	}

	bs, err := bf.do(ctx, http.MethodPost, "/fapi/v1/order", q, true)
	if err != nil {
		return nil, err
	}
	var ord struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Symbol        string `json:"symbol"`
		Status        string `json:"status"`
		Price         string `json:"price"`
		AvgPrice      string `json:"avgPrice"`
		OrigQty       string `json:"origQty"`
		ExecutedQty   string `json:"executedQty"`
		UpdateTime    int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(bs, &ord); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	created := time.Now().UTC()
	if ord.UpdateTime > 0 {
		created = time.UnixMilli(ord.UpdateTime).UTC()
	}
	return &OrderResponse{
		ID:            strconv.FormatInt(ord.OrderID, 10),
		ClientOrderID: ord.ClientOrderID,
		Symbol:        symbol,
		Side:          side,
		Status:        strings.ToLower(ord.Status),
		Price:         parseF(ord.Price),
		Average:       parseF(ord.AvgPrice),
		Amount:        parseF(ord.OrigQty),
		Filled:        parseF(ord.ExecutedQty),
		CreateTime:    created,
	}, nil
}

func (bf *BinanceFutures) CancelOrder(ctx context.Context, symbol, orderID string) error {
	q := url.Values{}
	q.Set("symbol", venueSymbol(symbol))
	q.Set("orderId", orderID)
	_, err := bf.do(ctx, http.MethodDelete, "/fapi/v1/order", q, true)
	return err
}

func (bf *BinanceFutures) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return configErr("set leverage", fmt.Errorf("leverage must be >= 1, got %d", leverage))
	}
	q := url.Values{}
	q.Set("symbol", venueSymbol(symbol))
	q.Set("leverage", strconv.Itoa(leverage))
	_, err := bf.do(ctx, http.MethodPost, "/fapi/v1/leverage", q, true)
	return err
}

// SetMarginMode tolerates the venue's "no need to change" rejection (-4046)
// so repeated boots with the mode already set stay quiet.
func (bf *BinanceFutures) SetMarginMode(ctx context.Context, symbol, mode string) error {
	mt := "CROSSED"
	if strings.EqualFold(mode, "isolated") {
		mt = "ISOLATED"
	}
	q := url.Values{}
	q.Set("symbol", venueSymbol(symbol))
	q.Set("marginType", mt)
	_, err := bf.do(ctx, http.MethodPost, "/fapi/v1/marginType", q, true)
	if err != nil && strings.Contains(err.Error(), "-4046") {
		return nil
	}
	return err
}

func (bf *BinanceFutures) FundingRate(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", venueSymbol(symbol))
	bs, err := bf.do(ctx, http.MethodGet, "/fapi/v1/premiumIndex", q, false)
	if err != nil {
		return 0, err
	}
	var p struct {
		LastFundingRate string `json:"lastFundingRate"`
		MarkPrice       string `json:"markPrice"`
	}
	if err := json.Unmarshal(bs, &p); err != nil {
		return 0, fmt.Errorf("decode premiumIndex: %w", err)
	}
	return parseF(p.LastFundingRate), nil
}

func (bf *BinanceFutures) Close() error {
	bf.hc.CloseIdleConnections()
	return nil
}
