package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

// trendSeries builds a 400-bar hourly up ramp (closes 100 .. 299.5, each
// bar closing on its high) plus 30 flat execution bars with a constant
// 5-point range ending on the last signal timestamp. The resulting
// snapshot has ATR exactly 5, a long trend well above the ADX threshold,
// and a close sitting exactly on the Donchian upper bound.
func trendSeries(t0 time.Time) (sig, exec []Candle) {
	sig = rampCandles(400, 100, 0.5, t0, time.Hour)
	execT0 := t0.Add(399*time.Hour - 29*15*time.Minute)
	exec = flatCandles(30, 299.5, 5, execT0, 15*time.Minute)
	return sig, exec
}

// crashSeries extends the up ramp with three heavy down bars (290, 280,
// 270). The fast EMA barely moves, so the close ends far below the lower
// Keltner band while the trend reading stays long.
func crashSeries(t0 time.Time) (sig, exec []Candle) {
	sig = rampCandles(400, 100, 0.5, t0, time.Hour)
	prev := sig[len(sig)-1].Close
	for i, c := range []float64{290, 280, 270} {
		sig = append(sig, Candle{
			Time:  t0.Add(time.Duration(400+i) * time.Hour),
			Open:  prev,
			High:  prev,
			Low:   c - 5,
			Close: c,
		})
		prev = c
	}
	execT0 := t0.Add(402*time.Hour - 29*15*time.Minute)
	exec = flatCandles(30, 270, 5, execT0, 15*time.Minute)
	return sig, exec
}

func newTestTrader(fe *fakeExchange, journal *Journal, store *StateStore) *TrendTrader {
	cfg := testStrategyConfig("BTC/USDT:USDT")
	return NewTrendTrader(cfg, fe, journal, store)
}

func TestStepOpensOnBreakout(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sig, exec := trendSeries(t0)
	fe := &fakeExchange{signalTF: "1h", signal: sig, exec: exec, equity: 10000, precision: 3}
	tr := newTestTrader(fe, nil, nil)

	if err := tr.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := fe.orderCount(); got != 1 {
		t.Fatalf("orders = %d, want 1", got)
	}

	call := fe.orders[0]
	if call.side != SideBuy || call.orderType != "market" {
		t.Errorf("order = %s %s, want market buy", call.orderType, call.side)
	}
	if call.params["reduceOnly"] != "" {
		t.Error("entry order must not be reduce-only")
	}
	// risk budget 10000*0.01 = 100, ATR 5 => 20 contracts.
	if !almostEq(call.amount, 20) {
		t.Errorf("amount = %v, want 20", call.amount)
	}

	pos := tr.position()
	if pos.Side != TrendLong || !almostEq(pos.Size, 20) {
		t.Fatalf("position = %+v, want long 20", pos)
	}
	// No fill average from the venue, so entry falls back to the close and
	// the stop sits 2.5 ATR under it: 299.5 - 12.5 = 287.
	if !almostEq(pos.EntryPrice, 299.5) {
		t.Errorf("entry = %v, want 299.5", pos.EntryPrice)
	}
	if !almostEq(pos.StopLoss, 287) {
		t.Errorf("stop = %v, want 287", pos.StopLoss)
	}
}

func TestStepHoldsWithoutBreakout(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sig, exec := trendSeries(t0)
	// Close a touch under the bar high: the Donchian bound stays at the
	// high and the breakout test must fail.
	sig[len(sig)-1].Close -= 0.25
	fe := &fakeExchange{signalTF: "1h", signal: sig, exec: exec, equity: 10000, precision: 3}
	tr := newTestTrader(fe, nil, nil)

	if err := tr.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := fe.orderCount(); got != 0 {
		t.Errorf("orders = %d, want 0", got)
	}
	if tr.position().Open() {
		t.Error("no entry expected without breakout confirmation")
	}
}

func TestStepClosesOnKeltnerBreak(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sig, exec := crashSeries(t0)
	fe := &fakeExchange{
		signalTF: "1h", signal: sig, exec: exec, equity: 10000, precision: 3,
		pos: &ExchangePosition{Symbol: "BTC/USDT:USDT", Contracts: 2, Side: "long", EntryPrice: 250, MarkPrice: 270, UnrealizedPnL: 40},
	}
	journal := NewJournal("")
	tr := newTestTrader(fe, journal, nil)

	if err := tr.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := fe.orderCount(); got != 1 {
		t.Fatalf("orders = %d, want 1", got)
	}

	call := fe.orders[0]
	if call.side != SideSell || call.params["reduceOnly"] != "true" {
		t.Errorf("close order = %s reduce_only=%q, want reduce-only sell", call.side, call.params["reduceOnly"])
	}
	if !almostEq(call.amount, 2) {
		t.Errorf("close amount = %v, want full size 2", call.amount)
	}
	if tr.position().Open() {
		t.Error("position should be flat after the Keltner close")
	}

	exits := journal.Last()
	if len(exits) != 1 {
		t.Fatalf("journal exits = %d, want 1", len(exits))
	}
	rec := exits[0]
	if rec.Reason != "keltner_break" || rec.Side != TrendLong {
		t.Errorf("exit = %s/%s, want long keltner_break", rec.Side, rec.Reason)
	}
	// Closed 2 contracts from 250 at the 270 close.
	if !almostEq(rec.EntryPrice, 250) || !almostEq(rec.ExitPrice, 270) {
		t.Errorf("exit prices = %v -> %v, want 250 -> 270", rec.EntryPrice, rec.ExitPrice)
	}
	if rec.RealizedPnL.String() != "40" {
		t.Errorf("realized pnl = %s, want 40", rec.RealizedPnL)
	}
}

func TestStepFlipsBeforeReentry(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sig, exec := trendSeries(t0)
	fe := &fakeExchange{
		signalTF: "1h", signal: sig, exec: exec, equity: 10000, precision: 3,
		pos: &ExchangePosition{Symbol: "BTC/USDT:USDT", Contracts: 2, Side: "short", EntryPrice: 310},
	}
	journal := NewJournal("")
	tr := newTestTrader(fe, journal, nil)

	if err := tr.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := fe.orderCount(); got != 2 {
		t.Fatalf("orders = %d, want close + entry in one tick", got)
	}

	// The stale short is bought back reduce-only first.
	if c := fe.orders[0]; c.side != SideBuy || c.params["reduceOnly"] != "true" || !almostEq(c.amount, 2) {
		t.Errorf("flip close = %+v, want reduce-only buy of 2", c)
	}
	// Then the long entry goes out as a plain market buy.
	if c := fe.orders[1]; c.side != SideBuy || c.params["reduceOnly"] != "" || !almostEq(c.amount, 20) {
		t.Errorf("re-entry = %+v, want market buy of 20", c)
	}

	exits := journal.Last()
	if len(exits) != 1 || exits[0].Reason != "trend_flip" {
		t.Fatalf("journal = %+v, want one trend_flip exit", exits)
	}
	// Short 2 from 310 bought back at 299.5.
	if exits[0].RealizedPnL.String() != "21" {
		t.Errorf("realized pnl = %s, want 21", exits[0].RealizedPnL)
	}

	pos := tr.position()
	if pos.Side != TrendLong || !almostEq(pos.Size, 20) || !almostEq(pos.EntryPrice, 299.5) {
		t.Errorf("position after flip = %+v, want long 20 @ 299.5", pos)
	}
}

func TestStepTrendExit(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("adverse close under slow ema", func(t *testing.T) {
		// Descending ramp: closes 300 down to 200.4, far below the slow
		// EMA. An impossible ADX threshold forces the flat-trend branch.
		sig := rampCandles(250, 300, -0.4, t0, time.Hour)
		execT0 := t0.Add(249*time.Hour - 29*15*time.Minute)
		exec := flatCandles(30, 200, 5, execT0, 15*time.Minute)
		fe := &fakeExchange{
			signalTF: "1h", signal: sig, exec: exec, equity: 10000, precision: 3,
			pos: &ExchangePosition{Symbol: "BTC/USDT:USDT", Contracts: 1, Side: "long", EntryPrice: 250},
		}
		journal := NewJournal("")
		tr := newTestTrader(fe, journal, nil)
		tr.cfg.ADXThreshold = 1000

		if err := tr.Step(context.Background()); err != nil {
			t.Fatalf("Step: %v", err)
		}
		if got := fe.orderCount(); got != 1 {
			t.Fatalf("orders = %d, want 1", got)
		}
		if c := fe.orders[0]; c.side != SideSell || c.params["reduceOnly"] != "true" {
			t.Errorf("close = %+v, want reduce-only sell", c)
		}
		if tr.position().Open() {
			t.Error("position should be flat after trend exit")
		}
		exits := journal.Last()
		if len(exits) != 1 || exits[0].Reason != "trend_exit" {
			t.Fatalf("journal = %+v, want one trend_exit", exits)
		}
	})

	t.Run("no exit while price holds above slow ema", func(t *testing.T) {
		sig, exec := trendSeries(t0)
		fe := &fakeExchange{
			signalTF: "1h", signal: sig, exec: exec, equity: 10000, precision: 3,
			pos: &ExchangePosition{Symbol: "BTC/USDT:USDT", Contracts: 1, Side: "long", EntryPrice: 200},
		}
		tr := newTestTrader(fe, nil, nil)
		tr.cfg.ADXThreshold = 1000

		if err := tr.Step(context.Background()); err != nil {
			t.Fatalf("Step: %v", err)
		}
		if got := fe.orderCount(); got != 0 {
			t.Errorf("orders = %d, want 0", got)
		}
		if !tr.position().Open() {
			t.Error("position should survive a flat trend while price holds")
		}
	})
}

func TestStepFailedCloseKeepsPosition(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sig, exec := crashSeries(t0)
	fe := &fakeExchange{
		signalTF: "1h", signal: sig, exec: exec, equity: 10000, precision: 3,
		pos:        &ExchangePosition{Symbol: "BTC/USDT:USDT", Contracts: 2, Side: "long", EntryPrice: 250},
		createErrs: []error{configErr("order", errors.New("-2022 reduceonly rejected"))},
	}
	journal := NewJournal("")
	tr := newTestTrader(fe, journal, nil)

	err := tr.Step(context.Background())
	if err == nil {
		t.Fatal("expected the failed close to surface as a tick error")
	}
	if kind := errKind(err); kind != "configuration" {
		t.Errorf("error kind = %q, want configuration", kind)
	}
	if got := fe.orderCount(); got != 1 {
		t.Errorf("orders = %d, want the single failed attempt", got)
	}
	// Local state is left alone; the next resync settles the truth.
	if pos := tr.position(); !pos.Open() || pos.Side != TrendLong || !almostEq(pos.Size, 2) {
		t.Errorf("position = %+v, want the long 2 still held", pos)
	}
	if exits := journal.Last(); len(exits) != 0 {
		t.Errorf("journal = %+v, want no exits for a failed close", exits)
	}
}

func TestStepAbortsOnShortData(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sig := rampCandles(50, 100, 0.5, t0, time.Hour)
	exec := flatCandles(30, 100, 5, t0, 15*time.Minute)
	fe := &fakeExchange{signalTF: "1h", signal: sig, exec: exec, equity: 10000, precision: 3}
	tr := newTestTrader(fe, nil, nil)

	err := tr.Step(context.Background())
	if !errors.Is(err, errDataInsufficient) {
		t.Fatalf("err = %v, want data insufficiency", err)
	}
	if got := fe.orderCount(); got != 0 {
		t.Errorf("orders = %d, want 0", got)
	}
}

func TestStepProbesFundingOnFirstTick(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sig, exec := trendSeries(t0)
	sig[len(sig)-1].Close -= 0.25
	fe := &fakeExchange{signalTF: "1h", signal: sig, exec: exec, equity: 10000, precision: 3, funding: 0.0001}
	tr := newTestTrader(fe, nil, nil)

	for i := 0; i < 3; i++ {
		if err := tr.Step(context.Background()); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
	fe.mu.Lock()
	calls := fe.fundingCalls
	fe.mu.Unlock()
	if calls != 1 {
		t.Errorf("funding probes = %d over 3 ticks, want 1", calls)
	}
}

func TestInitializeRestoresPersistedStop(t *testing.T) {
	store := NewStateStore(t.TempDir(), "BTC/USDT:USDT")
	saved := BotState{
		Symbol:    "BTC/USDT:USDT",
		Position:  PositionState{Size: 2, Side: TrendLong, EntryPrice: 250, StopLoss: 123.5},
		TickCount: 7,
	}
	if err := store.Save(saved); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	fe := &fakeExchange{
		pos: &ExchangePosition{Symbol: "BTC/USDT:USDT", Contracts: 2, Side: "long", EntryPrice: 250},
		// Venue setup rejections must stay non-fatal.
		levErr: configErr("leverage", errors.New("-4028 bad leverage")),
		mmErr:  configErr("margin mode", errors.New("-4046 no need to change")),
	}
	tr := newTestTrader(fe, nil, store)

	if err := tr.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	pos := tr.position()
	if pos.Side != TrendLong || !almostEq(pos.Size, 2) || !almostEq(pos.EntryPrice, 250) {
		t.Fatalf("position = %+v, want the venue's long 2 @ 250", pos)
	}
	// The stop exists only locally and must survive the restart.
	if !almostEq(pos.StopLoss, 123.5) {
		t.Errorf("stop = %v, want restored 123.5", pos.StopLoss)
	}
	if st := tr.Status(); st.TickCount != 7 {
		t.Errorf("tick count = %d, want restored 7", st.TickCount)
	}
}

func TestInitializeFailsWhenMarketsUnavailable(t *testing.T) {
	fe := &fakeExchange{loadErr: transientErr("exchangeInfo", errors.New("connection refused"))}
	tr := newTestTrader(fe, nil, nil)
	if err := tr.Initialize(context.Background()); err == nil {
		t.Fatal("expected Initialize to fail when markets cannot load")
	}
}
