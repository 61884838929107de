// FILE: risk.go
// Package main – Risk limits, position sizing and open/reduce gating.
//
// The risk engine is a stateless policy object. Given equity, the current
// snapshot and the current position it answers three questions:
//   • PositionSize            – how many contracts a new entry may carry
//   • CanOpen                 – whether a new entry is admissible at all
//   • ShouldReduceOnDrawdown  – whether an adverse move through the Keltner
//     band forces a close, independent of the trailing stop
//
// Gate checks run in a fixed order and short-circuit on the first failure;
// the blocking reason is returned so the trader can log it verbatim.
package main

import "fmt"

// RiskLimits is the static risk configuration for one instrument.
type RiskLimits struct {
	MaxLeverage            float64 // cap on entry notional / equity
	MaxPositionRatio       float64 // existing notional / equity ceiling
	PortfolioExposureLimit float64 // account-wide leverage bound, advisory
	RiskPerTrade           float64 // equity fraction risked per entry
	MinTrendStrength       float64
	MinVolatilityRatio     float64
	MaxVolatilityRatio     float64
}

func defaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxLeverage:            5.0,
		MaxPositionRatio:       0.3,
		PortfolioExposureLimit: 3.0,
		RiskPerTrade:           0.01,
		MinTrendStrength:       1.0,
		MinVolatilityRatio:     0.001,
		MaxVolatilityRatio:     0.03,
	}
}

// RiskEngine applies RiskLimits to sizing and entry decisions.
type RiskEngine struct {
	Limits             RiskLimits
	ContractMultiplier float64
}

func NewRiskEngine(limits RiskLimits, contractMultiplier float64) *RiskEngine {
	if contractMultiplier <= 0 {
		contractMultiplier = 1.0
	}
	return &RiskEngine{Limits: limits, ContractMultiplier: contractMultiplier}
}

// PositionSize returns the contract amount for a new entry: the per-trade
// risk budget divided by ATR, with the resulting notional capped at
// equity × MaxLeverage. Non-positive inputs yield 0; the result is never
// negative. Precision flooring happens later, at order time.
func (r *RiskEngine) PositionSize(equity, atr, price float64) float64 {
	if atr <= 0 || price <= 0 || equity <= 0 {
		return 0
	}
	budget := equity * r.Limits.RiskPerTrade
	if budget <= 0 {
		return 0
	}
	size := budget / atr
	nominal := size * price * r.ContractMultiplier
	if maxNominal := equity * r.Limits.MaxLeverage; nominal > maxNominal {
		size = maxNominal / (price * r.ContractMultiplier)
	}
	if size < 0 {
		return 0
	}
	return size
}

// CanOpen decides whether a new entry in direction dir is admissible. Checks
// run in a fixed order; the first failing gate's reason is returned. Both
// volatility bounds are inclusive.
func (r *RiskEngine) CanOpen(dir TrendDirection, equity float64, snap *Snapshot, pos PositionState) (bool, string) {
	if dir == TrendFlat {
		return false, "direction flat"
	}
	if snap.TrendStrength < r.Limits.MinTrendStrength {
		return false, fmt.Sprintf("trend strength %.2f < %.2f", snap.TrendStrength, r.Limits.MinTrendStrength)
	}
	if snap.VolatilityRatio < r.Limits.MinVolatilityRatio || snap.VolatilityRatio > r.Limits.MaxVolatilityRatio {
		return false, fmt.Sprintf("volatility ratio %.4f outside [%.4f, %.4f]",
			snap.VolatilityRatio, r.Limits.MinVolatilityRatio, r.Limits.MaxVolatilityRatio)
	}
	if pos.Size > 0 && pos.Side == dir {
		return false, "same-direction position already open"
	}
	existing := pos.Size * snap.Close * r.ContractMultiplier
	if limit := equity * r.Limits.MaxPositionRatio; existing >= limit {
		return false, fmt.Sprintf("existing nominal %.2f >= cap %.2f", existing, limit)
	}
	if equity <= 0 {
		return false, "non-positive equity"
	}
	return true, ""
}

// ShouldReduceOnDrawdown reports an adverse move through the Keltner band:
// a LONG below the lower band or a SHORT above the upper band.
func (r *RiskEngine) ShouldReduceOnDrawdown(price float64, pos PositionState, snap *Snapshot) bool {
	if pos.Size <= 0 {
		return false
	}
	if pos.Side == TrendLong && price < snap.KeltnerLower {
		return true
	}
	if pos.Side == TrendShort && price > snap.KeltnerUpper {
		return true
	}
	return false
}
