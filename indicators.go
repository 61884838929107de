// FILE: indicators.go
// Package main – Technical indicators and the per-tick snapshot.
//
// This file implements the TA helpers behind the trend engine:
//   • EMA(vals, n)          – exponential moving average, α = 2/(n+1)
//   • WilderSmooth(vals, n) – Wilder smoothing, α = 1/n
//   • TrueRanges(c)         – per-bar true range series
//   • ATR(c, n)             – Wilder-smoothed true range
//   • ADX(c, n)             – average directional index, always in [0,100]
//   • Donchian(c, n)        – rolling high/low over the last n bars
//   • buildSnapshot(...)    – combines a signal-timeframe and an
//     execution-timeframe series into one Snapshot
//
// Notes
//   - Series functions accept chronologically ordered input and return
//     outputs aligned to input length, seeded at index 0.
//   - Keep these fast and allocation-light; they run every tick per symbol.
package main

import (
	"math"
	"time"
)

// TrendDirection labels the market regime derived from the EMAs.
type TrendDirection string

const (
	TrendLong  TrendDirection = "long"
	TrendShort TrendDirection = "short"
	TrendFlat  TrendDirection = "flat"
)

// Snapshot is the immutable point-in-time technical state for one symbol.
// It is rebuilt from scratch every tick; a Snapshot is never constructed
// with ATR <= 0.
type Snapshot struct {
	Close           float64   `json:"close"`
	EMAFast         float64   `json:"ema_fast"`
	EMASlow         float64   `json:"ema_slow"`
	ADX             float64   `json:"adx"`
	ATR             float64   `json:"atr"`
	DonchianHigh    float64   `json:"donchian_high"`
	DonchianLow     float64   `json:"donchian_low"`
	KeltnerUpper    float64   `json:"keltner_upper"`
	KeltnerLower    float64   `json:"keltner_lower"`
	TrendStrength   float64   `json:"trend_strength"`
	VolatilityRatio float64   `json:"volatility_ratio"`
	At              time.Time `json:"at"`
}

// Direction is the snapshot's own regime label: the EMAs must disagree and
// the ADX must be positive. The trader's per-tick trend determination uses a
// stricter ADX-threshold gate; both notions are kept deliberately separate.
func (s *Snapshot) Direction() TrendDirection {
	if s.EMAFast > s.EMASlow && s.ADX > 0 {
		return TrendLong
	}
	if s.EMAFast < s.EMASlow && s.ADX > 0 {
		return TrendShort
	}
	return TrendFlat
}

// EMA returns the n-period exponential moving average of vals, aligned to
// vals and seeded with the first observation.
func EMA(vals []float64, n int) []float64 {
	out := make([]float64, len(vals))
	if len(vals) == 0 || n <= 0 {
		return out
	}
	alpha := 2.0 / (float64(n) + 1.0)
	out[0] = vals[0]
	for i := 1; i < len(vals); i++ {
		out[i] = alpha*vals[i] + (1.0-alpha)*out[i-1]
	}
	return out
}

// WilderSmooth returns vals smoothed with α = 1/n, seeded with the first
// observation: out(t) = out(t−1) + (vals(t)−out(t−1))/n.
func WilderSmooth(vals []float64, n int) []float64 {
	out := make([]float64, len(vals))
	if len(vals) == 0 || n <= 0 {
		return out
	}
	inv := 1.0 / float64(n)
	out[0] = vals[0]
	for i := 1; i < len(vals); i++ {
		out[i] = out[i-1] + (vals[i]-out[i-1])*inv
	}
	return out
}

// TrueRanges returns the per-bar true range series. The first bar has no
// previous close, so TR(0) = High−Low.
func TrueRanges(c []Candle) []float64 {
	tr := make([]float64, len(c))
	if len(c) == 0 {
		return tr
	}
	tr[0] = c[0].High - c[0].Low
	for i := 1; i < len(c); i++ {
		hl := c[i].High - c[i].Low
		hc := math.Abs(c[i].High - c[i-1].Close)
		lc := math.Abs(c[i].Low - c[i-1].Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

// ATR returns the n-period Wilder-smoothed average true range, aligned to c.
func ATR(c []Candle, n int) []float64 {
	return WilderSmooth(TrueRanges(c), n)
}

// ADX returns the n-period average directional index, aligned to c.
// Directional moves count only when larger than the opposing move and
// positive; DI is zero whenever the smoothed true range is zero, and DX is
// zero (never NaN) when +DI and −DI cancel to a zero sum. The output is
// bounded to [0,100] for any input path.
func ADX(c []Candle, n int) []float64 {
	out := make([]float64, len(c))
	if len(c) == 0 || n <= 0 {
		return out
	}
	plusDM := make([]float64, len(c))
	minusDM := make([]float64, len(c))
	for i := 1; i < len(c); i++ {
		up := c[i].High - c[i-1].High
		down := c[i-1].Low - c[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}
	smTR := WilderSmooth(TrueRanges(c), n)
	smPlus := WilderSmooth(plusDM, n)
	smMinus := WilderSmooth(minusDM, n)

	dx := make([]float64, len(c))
	for i := range c {
		var pdi, mdi float64
		if smTR[i] > 0 {
			pdi = 100.0 * smPlus[i] / smTR[i]
			mdi = 100.0 * smMinus[i] / smTR[i]
		}
		if sum := pdi + mdi; sum > 0 {
			dx[i] = 100.0 * math.Abs(pdi-mdi) / sum
		}
	}
	return WilderSmooth(dx, n)
}

// Donchian returns the rolling high/low channel over the most recent n bars
// of c. Short input yields NaN bounds, mirroring an unready rolling window.
func Donchian(c []Candle, n int) (high, low float64) {
	if n <= 0 || len(c) < n {
		return math.NaN(), math.NaN()
	}
	high = math.Inf(-1)
	low = math.Inf(1)
	for _, k := range c[len(c)-n:] {
		if k.High > high {
			high = k.High
		}
		if k.Low < low {
			low = k.Low
		}
	}
	return high, low
}

func closes(c []Candle) []float64 {
	out := make([]float64, len(c))
	for i := range c {
		out[i] = c[i].Close
	}
	return out
}

// atrAsOf forward-fills the execution-frame ATR onto a signal-frame
// timestamp: the most recent value whose bar time is at or before `at`.
// NaN when no execution bar precedes `at`.
func atrAsOf(exec []Candle, atr []float64, at time.Time) float64 {
	for i := len(exec) - 1; i >= 0; i-- {
		if !exec[i].Time.After(at) {
			return atr[i]
		}
	}
	return math.NaN()
}

// buildSnapshot derives one Snapshot from the slower signal series and the
// faster execution series. EMA, ADX and Donchian run on the signal frame;
// ATR runs on the execution frame and is forward-filled onto the signal
// frame's last timestamp for the Keltner bands. Insufficient data or a
// non-positive ATR yields a nil snapshot with a data-insufficiency error,
// never a degenerate value.
func buildSnapshot(signal, exec []Candle, cfg StrategyConfig) (*Snapshot, error) {
	if len(signal) == 0 || len(exec) == 0 {
		return nil, dataErr("empty candle series (signal=%d exec=%d)", len(signal), len(exec))
	}
	signalNeed := cfg.EMASlow
	if cfg.ADXPeriod+1 > signalNeed {
		signalNeed = cfg.ADXPeriod + 1
	}
	if cfg.DonchianPeriod > signalNeed {
		signalNeed = cfg.DonchianPeriod
	}
	if len(signal) < signalNeed {
		return nil, dataErr("signal series too short: %d bars, need %d", len(signal), signalNeed)
	}
	if len(exec) < cfg.ATRPeriod {
		return nil, dataErr("execution series too short: %d bars, need %d", len(exec), cfg.ATRPeriod)
	}

	sigClose := closes(signal)
	emaFast := EMA(sigClose, cfg.EMAFast)
	emaSlow := EMA(sigClose, cfg.EMASlow)
	adx := ADX(signal, cfg.ADXPeriod)
	execATR := ATR(exec, cfg.ATRPeriod)
	donHigh, donLow := Donchian(signal, cfg.DonchianPeriod)

	last := len(signal) - 1
	at := signal[last].Time
	closePx := sigClose[last]
	atrVal := execATR[len(execATR)-1]
	if atrVal <= 0 {
		return nil, dataErr("non-positive atr %.8f", atrVal)
	}

	// Keltner midline is the fast EMA of the signal frame; the band offset
	// uses the execution-frame ATR as of the last signal bar.
	mid := emaFast[last]
	bandATR := atrAsOf(exec, execATR, at)
	kUpper := mid + cfg.KeltnerMultiplier*bandATR
	kLower := mid - cfg.KeltnerMultiplier*bandATR

	volRatio := 0.0
	if closePx != 0 {
		volRatio = atrVal / closePx
	}

	return &Snapshot{
		Close:           closePx,
		EMAFast:         emaFast[last],
		EMASlow:         emaSlow[last],
		ADX:             adx[last],
		ATR:             atrVal,
		DonchianHigh:    donHigh,
		DonchianLow:     donLow,
		KeltnerUpper:    kUpper,
		KeltnerLower:    kLower,
		TrendStrength:   (closePx - emaSlow[last]) / atrVal,
		VolatilityRatio: volRatio,
		At:              at,
	}, nil
}
