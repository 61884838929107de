// FILE: exchange.go
// Package main – Exchange abstractions shared by all venue backends.
//
// This file defines the surface the trading loop needs from a perpetual-futures
// venue (paper or real):
//   • ExchangeClient interface: markets, candles, position, account metrics,
//     order create/cancel, leverage/margin setup, quantity precision, funding
//   • Common types: Candle, OrderSide, OrderResponse, ExchangePosition,
//     AccountMetrics
//
// Two concrete implementations live in separate files:
//   • exchange_paper.go   – in-memory paper venue (fills at mark price)
//   • exchange_binance.go – Binance USD-M futures REST client
package main

import (
	"context"
	"time"
)

// Candle is the normalized OHLCV row the bot uses everywhere.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// OrderSide is the side of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderResponse is a normalized view of a created (or canceled) order.
type OrderResponse struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Status        string
	Price         float64 // limit price, 0 for market
	Average       float64 // average fill price, 0 when not yet known
	Amount        float64 // requested amount in contracts
	Filled        float64 // filled amount in contracts
	CreateTime    time.Time
}

// ExchangePosition is the venue's view of an open position. A flat book is
// reported as a nil pointer, not a zeroed struct.
type ExchangePosition struct {
	Symbol        string
	Contracts     float64 // signed on some venues; consumers use Side + abs
	Side          string  // "long" / "short" / "" when only the sign is known
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      float64
}

// AccountMetrics is the slice of account state the risk engine needs.
type AccountMetrics struct {
	Equity        float64 // wallet balance incl. unrealized, venue-defined
	UnrealizedPnL float64
	MarginBalance float64
}

// ExchangeClient is the full surface the bot needs to trade one venue.
type ExchangeClient interface {
	Name() string
	// LoadMarkets populates instrument metadata (precisions, filters). It must
	// be called before any market-dependent call.
	LoadMarkets(ctx context.Context) error
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	// FetchPosition returns (nil, nil) when no position is open for symbol.
	FetchPosition(ctx context.Context, symbol string) (*ExchangePosition, error)
	FetchAccountMetrics(ctx context.Context) (AccountMetrics, error)
	CreateOrder(ctx context.Context, symbol, orderType string, side OrderSide, amount, price float64, params map[string]string) (*OrderResponse, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	// SetLeverage / SetMarginMode are best-effort venue setup; callers treat
	// failures as warnings, not fatal.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol, mode string) error
	// MarketPrecision reports decimal places for order quantity on symbol.
	// Sizing floors to this precision before submission.
	MarketPrecision(symbol string) int
	// FundingRate returns the current funding rate for symbol (advisory).
	FundingRate(ctx context.Context, symbol string) (float64, error)
	Close() error
}
