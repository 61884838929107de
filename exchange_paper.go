// FILE: exchange_paper.go
// Package main – In-memory paper venue for dry runs and backtests.
//
// Fills happen instantly at the current mark price. Candles and contract
// metadata come from a delegated data client (normally the unauthenticated
// Binance futures client) so dry runs see real markets; backtests inject
// marks directly via SetMarkPrice and run without a delegate.
//
// Bookkeeping:
//   • one net position per symbol, weighted-average entry
//   • buys reduce a short before opening a long (and vice versa)
//   • realized PnL and taker fees settle into cash equity
//   • equity = cash + unrealized PnL across open positions
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type paperPosition struct {
	contracts float64 // always positive
	side      string  // "long" or "short"
	entry     float64
}

// PaperExchange implements ExchangeClient with simulated fills.
type PaperExchange struct {
	data ExchangeClient // optional candle/metadata source

	mu        sync.Mutex
	cash      float64
	feeRate   float64
	positions map[string]*paperPosition
	marks     map[string]float64
}

// NewPaperExchange seeds cash from PAPER_EQUITY and fees from PAPER_FEE_RATE.
// data may be nil for backtests.
func NewPaperExchange(data ExchangeClient) *PaperExchange {
	return &PaperExchange{
		data:      data,
		cash:      getEnvFloat("PAPER_EQUITY", 10000),
		feeRate:   getEnvFloat("PAPER_FEE_RATE", 0.0005),
		positions: make(map[string]*paperPosition),
		marks:     make(map[string]float64),
	}
}

func (p *PaperExchange) Name() string { return "paper" }

func (p *PaperExchange) LoadMarkets(ctx context.Context) error {
	if p.data != nil {
		return p.data.LoadMarkets(ctx)
	}
	return nil
}

// FetchOHLCV delegates to the data client and remembers the last close as a
// fallback mark so fills work before the price stream connects.
func (p *PaperExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if p.data == nil {
		return nil, dataErr("paper venue has no candle source for %s", symbol)
	}
	candles, err := p.data.FetchOHLCV(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	if n := len(candles); n > 0 {
		p.mu.Lock()
		if _, live := p.marks[symbol]; !live {
			p.marks[symbol] = candles[n-1].Close
		}
		p.mu.Unlock()
	}
	return candles, nil
}

// SetMarkPrice injects a live mark, taking priority over candle closes.
func (p *PaperExchange) SetMarkPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	p.marks[symbol] = price
	p.mu.Unlock()
}

func (p *PaperExchange) markLocked(symbol string) (float64, error) {
	if m, ok := p.marks[symbol]; ok && m > 0 {
		return m, nil
	}
	return 0, dataErr("no mark price for %s yet", symbol)
}

func (p *PaperExchange) FetchPosition(ctx context.Context, symbol string) (*ExchangePosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok || pos.contracts <= 0 {
		return nil, nil
	}
	mark := p.marks[symbol]
	return &ExchangePosition{
		Symbol:        symbol,
		Contracts:     pos.contracts,
		Side:          pos.side,
		EntryPrice:    pos.entry,
		MarkPrice:     mark,
		UnrealizedPnL: unrealized(pos, mark),
	}, nil
}

func unrealized(pos *paperPosition, mark float64) float64 {
	if mark <= 0 {
		return 0
	}
	if pos.side == "short" {
		return (pos.entry - mark) * pos.contracts
	}
	return (mark - pos.entry) * pos.contracts
}

func (p *PaperExchange) FetchAccountMetrics(ctx context.Context) (AccountMetrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var upnl float64
	for sym, pos := range p.positions {
		if pos.contracts > 0 {
			upnl += unrealized(pos, p.marks[sym])
		}
	}
	return AccountMetrics{
		Equity:        p.cash + upnl,
		UnrealizedPnL: upnl,
		MarginBalance: p.cash + upnl,
	}, nil
}

// CreateOrder fills market orders at the current mark. Orders against an
// open position reduce it first and settle realized PnL; any remainder on a
// non-reduce-only order opens the opposite side.
func (p *PaperExchange) CreateOrder(ctx context.Context, symbol, orderType string, side OrderSide, amount, price float64, params map[string]string) (*OrderResponse, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("paper order amount must be > 0, got %.8f", amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	mark, err := p.markLocked(symbol)
	if err != nil {
		return nil, err
	}
	reduceOnly := params["reduceOnly"] == "true"

	want := "long"
	against := "short"
	if side == SideSell {
		want, against = against, want
	}

	remaining := amount
	pos := p.positions[symbol]
	if pos != nil && pos.contracts > 0 && pos.side == against {
		closed := remaining
		if closed > pos.contracts {
			closed = pos.contracts
		}
		p.cash += unrealized(&paperPosition{contracts: closed, side: pos.side, entry: pos.entry}, mark)
		pos.contracts -= closed
		remaining -= closed
		if pos.contracts <= 0 {
			delete(p.positions, symbol)
			pos = nil
		}
	}
	if remaining > 0 && !reduceOnly {
		if pos == nil || pos.contracts <= 0 {
			p.positions[symbol] = &paperPosition{contracts: remaining, side: want, entry: mark}
		} else {
			total := pos.contracts + remaining
			pos.entry = (pos.entry*pos.contracts + mark*remaining) / total
			pos.contracts = total
		}
	}
	p.cash -= amount * mark * p.feeRate

	return &OrderResponse{
		ID:            uuid.New().String(),
		ClientOrderID: params["newClientOrderId"],
		Symbol:        symbol,
		Side:          side,
		Status:        "filled",
		Price:         mark,
		Average:       mark,
		Amount:        amount,
		Filled:        amount,
		CreateTime:    time.Now().UTC(),
	}, nil
}

func (p *PaperExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil // market fills are instant, nothing to cancel
}

func (p *PaperExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (p *PaperExchange) SetMarginMode(ctx context.Context, symbol, mode string) error {
	return nil
}

func (p *PaperExchange) MarketPrecision(symbol string) int {
	if p.data != nil {
		return p.data.MarketPrecision(symbol)
	}
	return 3
}

func (p *PaperExchange) FundingRate(ctx context.Context, symbol string) (float64, error) {
	if p.data != nil {
		return p.data.FundingRate(ctx, symbol)
	}
	return 0, nil
}

func (p *PaperExchange) Close() error {
	if p.data != nil {
		return p.data.Close()
	}
	return nil
}
