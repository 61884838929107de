// FILE: backtest.go
// Package main – CSV loader and candle-replay backtest.
//
// What's here:
//   • loadCSV(path) -> []Candle : reads time,open,high,low,close,volume
//   • runBacktest(signalCSV, execCSV, cfg)
//       - replays the signal frame bar by bar through a real TrendTrader
//         wired to the paper venue
//       - marks fills at the latest exec-frame close
//       - reports wins/losses from the journal and final paper equity
//
// Notes:
//   • Time column accepts RFC3339 or UNIX seconds.
//   • Unknown columns are ignored; headers are case-insensitive.

package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// loadCSV reads a generic candle CSV with headers:
// time|timestamp, open, high, low, close, volume
func loadCSV(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []Candle
	var headers []string
	rowIdx := 0

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if rowIdx == 0 {
			headers = rec
			rowIdx++
			continue
		}
		row := map[string]string{}
		for j, h := range headers {
			k := strings.ToLower(strings.TrimSpace(h))
			if j < len(rec) {
				row[k] = strings.TrimSpace(rec[j])
			}
		}
		ts := first(row, "time", "timestamp")
		op := first(row, "open")
		hp := first(row, "high")
		lp := first(row, "low")
		cp := first(row, "close")
		vp := first(row, "volume", "vol")
		if ts == "" || op == "" || cp == "" {
			continue
		}
		tt, err := parseTimeFlexible(ts)
		if err != nil {
			continue
		}
		o, _ := strconv.ParseFloat(op, 64)
		h, _ := strconv.ParseFloat(hp, 64)
		l, _ := strconv.ParseFloat(lp, 64)
		c, _ := strconv.ParseFloat(cp, 64)
		v, _ := strconv.ParseFloat(vp, 64)
		out = append(out, Candle{Time: tt, Open: o, High: h, Low: l, Close: c, Volume: v})
		rowIdx++
	}

	sortCandles(out)
	return out, nil
}

// parseTimeFlexible supports RFC3339 or UNIX seconds.
func parseTimeFlexible(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time: %s", s)
}

// sortCandles ensures ascending time.
func sortCandles(c []Candle) {
	sort.Slice(c, func(i, j int) bool { return c[i].Time.Before(c[j].Time) })
}

// first returns the first non-empty value for keys in m.
func first(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}

// replaySource serves CSV candles through the ExchangeClient interface,
// windowed to a moving cutoff so the trader never sees the future.
type replaySource struct {
	cfg    StrategyConfig
	signal []Candle
	exec   []Candle
	cutoff time.Time
}

func (r *replaySource) advance(t time.Time) { r.cutoff = t }

func (r *replaySource) Name() string { return "replay" }

func (r *replaySource) LoadMarkets(context.Context) error { return nil }

func (r *replaySource) MarketPrecision(string) int { return 3 }

func (r *replaySource) Close() error { return nil }

func (r *replaySource) CancelOrder(context.Context, string, string) error { return nil }

func (r *replaySource) SetLeverage(context.Context, string, int) error { return nil }

func (r *replaySource) SetMarginMode(context.Context, string, string) error { return nil }

func (r *replaySource) FetchOHLCV(_ context.Context, _ string, timeframe string, limit int) ([]Candle, error) {
	series := r.exec
	if timeframe == r.cfg.SignalTimeframe {
		series = r.signal
	}
	n := 0
	for n < len(series) && !series[n].Time.After(r.cutoff) {
		n++
	}
	window := series[:n]
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	return window, nil
}

// The paper venue owns positions and balances during a replay.
func (r *replaySource) FetchPosition(context.Context, string) (*ExchangePosition, error) {
	return nil, nil
}
func (r *replaySource) FetchAccountMetrics(context.Context) (AccountMetrics, error) {
	return AccountMetrics{}, nil
}
func (r *replaySource) CreateOrder(context.Context, string, string, OrderSide, float64, float64, map[string]string) (*OrderResponse, error) {
	return nil, fmt.Errorf("replay source does not take orders")
}
func (r *replaySource) FundingRate(context.Context, string) (float64, error) { return 0, nil }

// runBacktest replays signal-frame bars through the full tick pipeline.
func runBacktest(signalCSV, execCSV string, cfg StrategyConfig) error {
	signalBars, err := loadCSV(signalCSV)
	if err != nil {
		return fmt.Errorf("load signal csv: %w", err)
	}
	execBars := signalBars
	if execCSV != signalCSV {
		if execBars, err = loadCSV(execCSV); err != nil {
			return fmt.Errorf("load exec csv: %w", err)
		}
	}
	warmup := cfg.EMASlow
	if cfg.ADXPeriod+1 > warmup {
		warmup = cfg.ADXPeriod + 1
	}
	if cfg.DonchianPeriod > warmup {
		warmup = cfg.DonchianPeriod
	}
	if len(signalBars) <= warmup {
		return fmt.Errorf("need more than %d signal candles, have %d", warmup, len(signalBars))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	src := &replaySource{cfg: cfg, signal: signalBars, exec: execBars}
	paper := NewPaperExchange(src)
	journal := NewJournal("")
	trader := NewTrendTrader(cfg, paper, journal, nil)
	if err := trader.Initialize(ctx); err != nil {
		return err
	}

	skipped := 0
	for i := warmup; i < len(signalBars); i++ {
		if ctx.Err() != nil {
			log.Println("backtest canceled")
			break
		}
		src.advance(signalBars[i].Time)
		paper.SetMarkPrice(cfg.Symbol, lastCloseAt(execBars, signalBars[i].Time, signalBars[i].Close))
		if err := trader.Step(ctx); err != nil {
			skipped++
		}
		if (i-warmup)%100 == 0 {
			m, _ := paper.FetchAccountMetrics(ctx)
			log.Printf("[BT] i=%d time=%s equity=%.2f", i, signalBars[i].Time.Format("2006-01-02 15:04"), m.Equity)
		}
	}

	win, loss := 0, 0
	for _, rec := range journal.Last() {
		switch rec.RealizedPnL.Sign() {
		case 1:
			win++
		case -1:
			loss++
		}
	}
	m, _ := paper.FetchAccountMetrics(ctx)
	log.Printf("Backtest complete. Bars=%d Skipped=%d Wins=%d Losses=%d Equity=%.2f",
		len(signalBars)-warmup, skipped, win, loss, m.Equity)
	setEquityMetric(cfg.Symbol, m.Equity)
	return nil
}

// lastCloseAt returns the close of the most recent candle at or before t.
func lastCloseAt(series []Candle, t time.Time, fallback float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !series[i].Time.After(t) {
			return series[i].Close
		}
	}
	return fallback
}
