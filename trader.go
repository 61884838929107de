// FILE: trader.go
// Package main – The per-symbol trend state machine.
//
// What's here:
//   • TrendTrader: holds config, exchange, executor, risk engine, position
//     state, and the last snapshot
//   • Initialize(): markets + best-effort leverage/margin setup + state load
//   • Step(): the core tick (fetch data → snapshot → resync → equity →
//     trend → exit/flip/trail → breakout → risk gate → open)
//   • Shutdown(): persist state and release the exchange
//
// Concurrency design:
//   - One goroutine (the scheduler's) drives Step; the HTTP status endpoint
//     is the only concurrent reader. Fields are mutated under the trader
//     mutex and all network I/O happens outside it.
//
// Ordering rules the tick preserves:
//   - a trend flip closes the old position BEFORE any new-entry evaluation
//     in the same tick;
//   - trailing-stop ratchet runs BEFORE the Keltner drawdown check, and a
//     held position never reaches entry evaluation in the same tick;
//   - a failed close leaves local state alone; the next tick's resync from
//     the venue is the source of truth.
package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// fundingLogEvery is the tick cadence of the advisory funding-rate probe.
const fundingLogEvery = 60

// TrendTrader runs the trend-following lifecycle for one symbol.
type TrendTrader struct {
	cfg    StrategyConfig
	ex     ExchangeClient
	orders *OrderExecutor
	risk   *RiskEngine

	mu        sync.RWMutex
	pos       PositionState
	lastSnap  *Snapshot
	equity    float64
	tickCount int64
	lastTick  time.Time

	journal *Journal
	store   *StateStore
}

// NewTrendTrader wires a trader from its collaborators. journal and store
// may be nil (backtests and tests run without them).
func NewTrendTrader(cfg StrategyConfig, ex ExchangeClient, journal *Journal, store *StateStore) *TrendTrader {
	return &TrendTrader{
		cfg:     cfg,
		ex:      ex,
		orders:  NewOrderExecutor(ex, cfg.MaxOrderRetries, cfg.TimeInForce),
		risk:    NewRiskEngine(cfg.Risk, cfg.ContractMultiplier),
		pos:     PositionState{Side: TrendFlat},
		journal: journal,
		store:   store,
	}
}

// Initialize loads venue metadata, applies best-effort contract setup and
// restores persisted local state (the stop loss in particular; the venue
// cannot return it).
func (t *TrendTrader) Initialize(ctx context.Context) error {
	log.Printf("[BOOT] %s trend strategy starting: signal=%s/%d exec=%s/%d ema=%d/%d adx=%d/%.1f atr=%d donchian=%d",
		t.cfg.Symbol, t.cfg.SignalTimeframe, t.cfg.SignalLookback, t.cfg.ExecTimeframe, t.cfg.ExecLookback,
		t.cfg.EMAFast, t.cfg.EMASlow, t.cfg.ADXPeriod, t.cfg.ADXThreshold, t.cfg.ATRPeriod, t.cfg.DonchianPeriod)
	log.Printf("[BOOT] %s order retry: %d attempts, no backoff", t.cfg.Symbol, t.cfg.MaxOrderRetries)
	if err := t.ex.LoadMarkets(ctx); err != nil {
		return fmt.Errorf("load markets %s: %w", t.cfg.Symbol, err)
	}
	if err := t.ex.SetMarginMode(ctx, t.cfg.Symbol, t.cfg.MarginMode); err != nil {
		log.Printf("[WARN] %s set margin mode %q: %v", t.cfg.Symbol, t.cfg.MarginMode, err)
	}
	if err := t.ex.SetLeverage(ctx, t.cfg.Symbol, t.cfg.Leverage); err != nil {
		log.Printf("[WARN] %s set leverage %d: %v", t.cfg.Symbol, t.cfg.Leverage, err)
	}
	if t.store != nil {
		if st, err := t.store.Load(); err != nil {
			log.Printf("[WARN] %s state load: %v", t.cfg.Symbol, err)
		} else if st != nil {
			t.mu.Lock()
			t.pos.StopLoss = st.Position.StopLoss
			t.pos.TakeProfit = st.Position.TakeProfit
			t.tickCount = st.TickCount
			t.mu.Unlock()
			log.Printf("[STATE] %s restored: stop=%.4f ticks=%d", t.cfg.Symbol, st.Position.StopLoss, st.TickCount)
		}
	}
	ex, err := t.ex.FetchPosition(ctx, t.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("initial position sync %s: %w", t.cfg.Symbol, err)
	}
	t.mu.Lock()
	t.pos = resyncPosition(t.pos, ex)
	pos := t.pos
	t.mu.Unlock()
	if pos.Open() {
		log.Printf("[SYNC] %s carrying position: side=%s size=%.6f entry=%.4f stop=%.4f",
			t.cfg.Symbol, pos.Side, pos.Size, pos.EntryPrice, pos.StopLoss)
	}
	return nil
}

// Step runs one decision tick. Any returned error is a tick-level failure:
// the scheduler logs it and the next tick starts clean.
func (t *TrendTrader) Step(ctx context.Context) error {
	signal, err := t.ex.FetchOHLCV(ctx, t.cfg.Symbol, t.cfg.SignalTimeframe, t.cfg.SignalLookback)
	if err != nil {
		return fmt.Errorf("fetch %s candles: %w", t.cfg.SignalTimeframe, err)
	}
	exec, err := t.ex.FetchOHLCV(ctx, t.cfg.Symbol, t.cfg.ExecTimeframe, t.cfg.ExecLookback)
	if err != nil {
		return fmt.Errorf("fetch %s candles: %w", t.cfg.ExecTimeframe, err)
	}

	snap, err := buildSnapshot(signal, exec, t.cfg)
	if err != nil {
		return err
	}

	exPos, err := t.ex.FetchPosition(ctx, t.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("fetch position: %w", err)
	}
	metrics, err := t.ex.FetchAccountMetrics(ctx)
	if err != nil {
		return fmt.Errorf("fetch account metrics: %w", err)
	}
	equity := metrics.Equity
	if equity < 0 {
		equity = 0
	}

	t.mu.Lock()
	t.pos = resyncPosition(t.pos, exPos)
	t.lastSnap = snap
	t.equity = equity
	t.tickCount++
	t.lastTick = time.Now().UTC()
	pos := t.pos
	tick := t.tickCount
	t.mu.Unlock()

	setEquityMetric(t.cfg.Symbol, equity)
	setSnapshotMetrics(t.cfg.Symbol, snap)
	setPositionMetric(t.cfg.Symbol, pos)

	trend := t.determineTrend(snap)
	log.Printf("[TICK] %s close=%.4f ema=%.4f/%.4f adx=%.2f atr=%.4f trend=%s pos=%s/%.6f stop=%.4f equity=%.2f",
		t.cfg.Symbol, snap.Close, snap.EMAFast, snap.EMASlow, snap.ADX, snap.ATR, trend, pos.Side, pos.Size, pos.StopLoss, equity)

	if tick%fundingLogEvery == 1 {
		t.logFunding(ctx)
	}

	if trend == TrendFlat {
		return t.maybeTrendExit(ctx, snap)
	}

	if pos.Open() && pos.Side != trend {
		log.Printf("[EXIT] %s trend flipped %s -> %s, closing before re-entry", t.cfg.Symbol, pos.Side, trend)
		if err := t.closePosition(ctx, snap, "trend_flip"); err != nil {
			return err
		}
	}

	if t.position().Open() {
		t.ratchetTrailingStop(snap)
		if t.risk.ShouldReduceOnDrawdown(snap.Close, t.position(), snap) {
			return t.closePosition(ctx, snap, "keltner_break")
		}
		return nil
	}

	if !breakoutConfirmed(trend, snap) {
		return nil
	}

	ok, reason := t.risk.CanOpen(trend, equity, snap, t.position())
	if !ok {
		log.Printf("[RISK] %s open blocked: %s", t.cfg.Symbol, reason)
		return nil
	}

	return t.openPosition(ctx, trend, snap, equity)
}

// Shutdown persists state and releases the exchange. Failures are logged
// and swallowed so termination always completes.
func (t *TrendTrader) Shutdown(ctx context.Context) {
	log.Printf("[BOOT] %s trend strategy stopping", t.cfg.Symbol)
	t.persistState()
	if err := t.ex.Close(); err != nil {
		log.Printf("[WARN] %s exchange close: %v", t.cfg.Symbol, err)
	}
}

// determineTrend applies the trader's ADX-threshold gate, stricter than the
// snapshot's own Direction.
func (t *TrendTrader) determineTrend(snap *Snapshot) TrendDirection {
	if snap.ADX < t.cfg.ADXThreshold {
		return TrendFlat
	}
	if snap.EMAFast > snap.EMASlow {
		return TrendLong
	}
	if snap.EMAFast < snap.EMASlow {
		return TrendShort
	}
	return TrendFlat
}

// breakoutConfirmed requires the close at or through the Donchian bound in
// the trend's direction before a new entry is considered.
func breakoutConfirmed(dir TrendDirection, snap *Snapshot) bool {
	switch dir {
	case TrendLong:
		return snap.Close >= snap.DonchianHigh
	case TrendShort:
		return snap.Close <= snap.DonchianLow
	default:
		return false
	}
}

// maybeTrendExit closes an open position when the trend has gone flat and
// price has crossed back through the slow EMA against the position.
func (t *TrendTrader) maybeTrendExit(ctx context.Context, snap *Snapshot) error {
	pos := t.position()
	if !pos.Open() {
		return nil
	}
	adverse := (pos.Side == TrendLong && snap.Close < snap.EMASlow) ||
		(pos.Side == TrendShort && snap.Close > snap.EMASlow)
	if !adverse {
		return nil
	}
	return t.closePosition(ctx, snap, "trend_exit")
}

// ratchetTrailingStop tightens the trailing stop and records the move.
func (t *TrendTrader) ratchetTrailingStop(snap *Snapshot) {
	offset := t.cfg.TrailingATRMultiplier * snap.ATR
	t.mu.Lock()
	next, moved := trailStop(t.pos, snap.Close, offset)
	prev := t.pos.StopLoss
	if moved {
		t.pos.StopLoss = next
	}
	t.mu.Unlock()
	if moved {
		log.Printf("[TRAIL] %s stop %.4f -> %.4f", t.cfg.Symbol, prev, next)
		t.persistState()
	}
}

// openPosition sizes, floors and submits a new entry, then installs the
// local stop.
func (t *TrendTrader) openPosition(ctx context.Context, dir TrendDirection, snap *Snapshot, equity float64) error {
	size := t.risk.PositionSize(equity, snap.ATR, snap.Close)
	amount := floorToPrecision(size, t.ex.MarketPrecision(t.cfg.Symbol))
	if amount <= 0 {
		log.Printf("[WARN] %s computed amount %.8f floors to <= 0, skipping entry", t.cfg.Symbol, size)
		return nil
	}
	side := SideSell
	if dir == TrendLong {
		side = SideBuy
	}
	resp, err := t.orders.Submit(ctx, OrderRequest{
		Symbol: t.cfg.Symbol,
		Side:   side,
		Amount: amount,
		Type:   "market",
	})
	if err != nil {
		return err
	}
	entry := resp.Average
	if entry == 0 {
		entry = snap.Close
	}
	stop := initialStop(dir, entry, t.cfg.ATRStopMultiplier*snap.ATR)
	t.mu.Lock()
	t.pos = PositionState{Size: amount, Side: dir, EntryPrice: entry, StopLoss: stop}
	pos := t.pos
	t.mu.Unlock()
	incOrderMetric(t.cfg.Symbol, side, false)
	setPositionMetric(t.cfg.Symbol, pos)
	log.Printf("[STATE] %s opened %s: size=%.6f entry=%.4f stop=%.4f order=%s",
		t.cfg.Symbol, dir, amount, entry, stop, resp.ID)
	t.persistState()
	return nil
}

// closePosition submits a reduce-only market order for the full held size.
// A floored-to-zero amount or a submit failure leaves local state alone;
// the next resync settles what actually happened.
func (t *TrendTrader) closePosition(ctx context.Context, snap *Snapshot, reason string) error {
	pos := t.position()
	if !pos.Open() {
		return nil
	}
	amount := floorToPrecision(pos.Size, t.ex.MarketPrecision(t.cfg.Symbol))
	if amount <= 0 {
		log.Printf("[WARN] %s close skipped: size %.8f floors to <= 0 (reason=%s)", t.cfg.Symbol, pos.Size, reason)
		return nil
	}
	side := SideBuy
	if pos.Side == TrendLong {
		side = SideSell
	}
	resp, err := t.orders.Submit(ctx, OrderRequest{
		Symbol:     t.cfg.Symbol,
		Side:       side,
		Amount:     amount,
		Type:       "market",
		ReduceOnly: true,
	})
	if err != nil {
		return err
	}
	exit := resp.Average
	if exit == 0 {
		exit = snap.Close
	}
	incOrderMetric(t.cfg.Symbol, side, true)
	incExitMetric(t.cfg.Symbol, reason)
	log.Printf("[EXIT] %s closed %s: size=%.6f entry=%.4f exit=%.4f reason=%s order=%s",
		t.cfg.Symbol, pos.Side, amount, pos.EntryPrice, exit, reason, resp.ID)
	if t.journal != nil {
		t.journal.RecordExit(t.cfg.Symbol, pos, exit, reason)
	}
	t.mu.Lock()
	t.pos = PositionState{Side: TrendFlat}
	flat := t.pos
	t.mu.Unlock()
	setPositionMetric(t.cfg.Symbol, flat)
	t.persistState()
	return nil
}

// logFunding surfaces the venue's current funding rate; purely advisory.
func (t *TrendTrader) logFunding(ctx context.Context) {
	rate, err := t.ex.FundingRate(ctx, t.cfg.Symbol)
	if err != nil {
		log.Printf("[WARN] %s funding rate: %v", t.cfg.Symbol, err)
		return
	}
	setFundingMetric(t.cfg.Symbol, rate)
	log.Printf("[TICK] %s funding rate %.6f", t.cfg.Symbol, rate)
}

func (t *TrendTrader) position() PositionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pos
}

func (t *TrendTrader) persistState() {
	if t.store == nil {
		return
	}
	t.mu.RLock()
	st := BotState{
		Symbol:    t.cfg.Symbol,
		Position:  t.pos,
		Equity:    t.equity,
		TickCount: t.tickCount,
		LastTick:  t.lastTick,
		UpdatedAt: time.Now().UTC(),
	}
	if t.journal != nil {
		st.Exits = t.journal.Last()
	}
	t.mu.RUnlock()
	if err := t.store.Save(st); err != nil {
		log.Printf("[WARN] %s state save: %v", t.cfg.Symbol, err)
	}
}

// TraderStatus is the read-only view served by the status endpoint.
type TraderStatus struct {
	Symbol    string         `json:"symbol"`
	Position  PositionState  `json:"position"`
	Equity    float64        `json:"equity"`
	TickCount int64          `json:"tick_count"`
	LastTick  time.Time      `json:"last_tick"`
	Snapshot  *Snapshot      `json:"snapshot,omitempty"`
	Direction TrendDirection `json:"snapshot_direction"`
}

// Status reports the trader's current state for operators.
func (t *TrendTrader) Status() TraderStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := TraderStatus{
		Symbol:    t.cfg.Symbol,
		Position:  t.pos,
		Equity:    t.equity,
		TickCount: t.tickCount,
		LastTick:  t.lastTick,
		Snapshot:  t.lastSnap,
		Direction: TrendFlat,
	}
	if t.lastSnap != nil {
		st.Direction = t.lastSnap.Direction()
	}
	return st
}
