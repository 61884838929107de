// FILE: position.go
// Package main – Local position state and the per-tick resync rule.
//
// PositionState is rebuilt from the venue's reported truth every tick:
// exchange-sourced fields (size, side, entry, unrealized P&L) are replaced
// atomically, then the locally-owned fields (stop loss, take profit) are
// merged back in; the venue has no concept of them in this design.
// resyncPosition is a pure function: replace, then merge, never a partial
// in-place mutation.
package main

import (
	"math"
	"strings"
)

// PositionState is the bot's view of its single position on one symbol.
// Size is always >= 0; Side is TrendFlat exactly when Size is 0. StopLoss
// and TakeProfit use 0 as "unset"; the venue never reports them.
type PositionState struct {
	Size          float64        `json:"size"`
	Side          TrendDirection `json:"side"`
	EntryPrice    float64        `json:"entry_price"`
	StopLoss      float64        `json:"stop_loss"`
	TakeProfit    float64        `json:"take_profit"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
}

// Open reports whether any position is held.
func (p PositionState) Open() bool { return p.Size > 0 && p.Side != TrendFlat }

// resyncPosition rebuilds local state from the venue's report. A nil or
// zero-contract report flattens the state entirely, dropping any local
// stop: with nothing held there is nothing left to protect. Otherwise the
// venue fields win and prev's stop/take-profit carry over.
func resyncPosition(prev PositionState, ex *ExchangePosition) PositionState {
	if ex == nil {
		return PositionState{Side: TrendFlat}
	}
	contracts := math.Abs(ex.Contracts)
	if contracts <= 0 {
		return PositionState{Side: TrendFlat}
	}
	entry := ex.EntryPrice
	if entry == 0 {
		entry = ex.MarkPrice
	}
	side := TrendShort
	if ex.Side != "" {
		if strings.HasPrefix(strings.ToLower(ex.Side), "long") {
			side = TrendLong
		}
	} else if ex.Contracts > 0 {
		side = TrendLong
	}
	return PositionState{
		Size:          contracts,
		Side:          side,
		EntryPrice:    entry,
		StopLoss:      prev.StopLoss,
		TakeProfit:    prev.TakeProfit,
		UnrealizedPnL: ex.UnrealizedPnL,
	}
}

// trailStop ratchets the stop in the favorable direction only: for a LONG
// the stop never decreases, for a SHORT it never increases. Returns the new
// stop and whether it moved.
func trailStop(pos PositionState, close, offset float64) (float64, bool) {
	switch pos.Side {
	case TrendLong:
		next := close - offset
		if prev := pos.StopLoss; prev > next {
			next = prev
		}
		return next, next != pos.StopLoss
	case TrendShort:
		next := close + offset
		if prev := pos.StopLoss; prev != 0 && prev < next {
			next = prev
		}
		return next, next != pos.StopLoss
	default:
		return pos.StopLoss, false
	}
}

// initialStop places the entry stop an ATR multiple away from the fill:
// below for LONG (floored at 0), above for SHORT.
func initialStop(dir TrendDirection, entry, offset float64) float64 {
	if dir == TrendLong {
		return math.Max(entry-offset, 0)
	}
	return entry + offset
}

// floorToPrecision truncates x toward zero at p decimal places; it never
// rounds up, so a computed size cannot exceed what the risk engine allowed.
// Negative p means the venue reported no precision; x passes through.
func floorToPrecision(x float64, p int) float64 {
	if p < 0 {
		return x
	}
	factor := math.Pow10(p)
	return math.Floor(x*factor) / factor
}
