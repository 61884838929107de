package main

import (
	"context"
	"math"
	"sync"
	"time"
)

// orderCall captures one CreateOrder invocation for assertions.
type orderCall struct {
	symbol    string
	orderType string
	side      OrderSide
	amount    float64
	price     float64
	params    map[string]string
}

// fakeExchange is a scriptable ExchangeClient for trader and executor tests.
// createErrs is consumed one entry per CreateOrder call; a nil entry means
// that call succeeds.
type fakeExchange struct {
	mu           sync.Mutex
	signalTF     string
	signal       []Candle
	exec         []Candle
	pos          *ExchangePosition
	equity       float64
	precision    int
	funding      float64
	fundingCalls int
	loadErr      error
	levErr       error
	mmErr        error
	createErrs   []error
	createResp   *OrderResponse
	orders       []orderCall
	closed       bool
}

func (f *fakeExchange) Name() string { return "fake" }

func (f *fakeExchange) LoadMarkets(ctx context.Context) error { return f.loadErr }

func (f *fakeExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if timeframe == f.signalTF {
		return f.signal, nil
	}
	return f.exec, nil
}

func (f *fakeExchange) FetchPosition(ctx context.Context, symbol string) (*ExchangePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos, nil
}

func (f *fakeExchange) FetchAccountMetrics(ctx context.Context) (AccountMetrics, error) {
	return AccountMetrics{Equity: f.equity}, nil
}

func (f *fakeExchange) CreateOrder(ctx context.Context, symbol, orderType string, side OrderSide, amount, price float64, params map[string]string) (*OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	f.orders = append(f.orders, orderCall{
		symbol: symbol, orderType: orderType, side: side,
		amount: amount, price: price, params: cp,
	})
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.createResp != nil {
		resp := *f.createResp
		return &resp, nil
	}
	return &OrderResponse{ID: "fake-order", Symbol: symbol, Side: side, Status: "filled", Amount: amount, Filled: amount}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }

func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return f.levErr
}

func (f *fakeExchange) SetMarginMode(ctx context.Context, symbol, mode string) error { return f.mmErr }

func (f *fakeExchange) MarketPrecision(symbol string) int { return f.precision }

func (f *fakeExchange) FundingRate(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fundingCalls++
	return f.funding, nil
}

func (f *fakeExchange) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeExchange) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

// rampCandles builds n bars whose closes move by step per bar. Rising bars
// close on their high, so the last bar of an up ramp sits exactly on the
// Donchian upper bound; lows run 5 under the close.
func rampCandles(n int, start, step float64, t0 time.Time, dt time.Duration) []Candle {
	out := make([]Candle, n)
	for i := 0; i < n; i++ {
		c := start + step*float64(i)
		out[i] = Candle{
			Time:  t0.Add(time.Duration(i) * dt),
			Open:  c - step,
			High:  math.Max(c, c-step),
			Low:   c - 5,
			Close: c,
		}
	}
	return out
}

// flatCandles builds n constant-price bars with a fixed high-low span, so
// the true range (and therefore the ATR) equals span exactly.
func flatCandles(n int, price, span float64, t0 time.Time, dt time.Duration) []Candle {
	out := make([]Candle, n)
	for i := 0; i < n; i++ {
		out[i] = Candle{
			Time:  t0.Add(time.Duration(i) * dt),
			Open:  price,
			High:  price + span/2,
			Low:   price - span/2,
			Close: price,
		}
	}
	return out
}

func almostEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// testStrategyConfig mirrors the production env defaults without touching
// the environment, so tests stay hermetic.
func testStrategyConfig(symbol string) StrategyConfig {
	return StrategyConfig{
		Symbol:                symbol,
		SignalTimeframe:       "1h",
		ExecTimeframe:         "15m",
		SignalLookback:        240,
		ExecLookback:          180,
		EMAFast:               50,
		EMASlow:               200,
		ADXPeriod:             14,
		ADXThreshold:          25,
		ATRPeriod:             21,
		DonchianPeriod:        20,
		KeltnerMultiplier:     2.0,
		ATRStopMultiplier:     2.5,
		TrailingATRMultiplier: 3.0,
		LoopInterval:          time.Minute,
		ContractMultiplier:    1.0,
		Leverage:              3,
		MarginMode:            "cross",
		MaxOrderRetries:       3,
		TimeInForce:           "GTC",
		Risk:                  defaultRiskLimits(),
	}
}
