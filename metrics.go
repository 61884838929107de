// FILE: metrics.go
// Package main – Prometheus metrics for observability.
//
// Exposes primary metrics the bot updates during operation:
//   • bot_ticks_total{strategy,kind}        – Loop steps by outcome kind
//   • bot_orders_total{symbol,side,reduce_only} – Orders submitted
//   • bot_order_retries_total{symbol}       – Order submissions retried
//   • bot_exits_total{symbol,reason}        – Position closes by reason
//   • bot_equity_usd{symbol}                – Account equity snapshot (gauge)
//   • bot_position_contracts{symbol}        – Signed open size (+long/−short)
//   • bot_adx / bot_atr / bot_trend_strength / bot_vol_ratio{symbol}
//   • bot_funding_rate{symbol}              – Latest funding rate
//   • bot_mark_price{symbol}                – Latest streamed mark price
//
// These are registered in init() and served by the HTTP handler started in
// main.go at /metrics (Prometheus text exposition format).

package main

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_ticks_total",
			Help: "Loop steps by outcome kind",
		},
		[]string{"strategy", "kind"}, // kind: none|data_insufficient|transient_exchange|configuration|unknown
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders submitted",
		},
		[]string{"symbol", "side", "reduce_only"},
	)

	mtxOrderRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_order_retries_total",
			Help: "Order submissions that failed and were retried",
		},
		[]string{"symbol"},
	)

	// Counts exits split by reason; reasons are keltner_break, trend_flip,
	// trend_exit, drawdown, shutdown.
	mtxExitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exits_total",
			Help: "Position closes split by reason",
		},
		[]string{"symbol", "reason"},
	)

	mtxEquity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_equity_usd",
			Help: "Account equity in USD",
		},
		[]string{"symbol"},
	)

	mtxPosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_position_contracts",
			Help: "Open position size in contracts, negative when short",
		},
		[]string{"symbol"},
	)

	mtxADX = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_adx",
			Help: "ADX on the signal timeframe",
		},
		[]string{"symbol"},
	)

	mtxATR = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_atr",
			Help: "ATR on the execution timeframe",
		},
		[]string{"symbol"},
	)

	mtxTrendStrength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_trend_strength",
			Help: "ATR-normalized distance of close from the slow EMA",
		},
		[]string{"symbol"},
	)

	mtxVolRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_vol_ratio",
			Help: "ATR divided by close",
		},
		[]string{"symbol"},
	)

	mtxFunding = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_funding_rate",
			Help: "Latest funding rate reported by the venue",
		},
		[]string{"symbol"},
	)

	mtxMarkPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_mark_price",
			Help: "Latest mark price from the venue stream",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(mtxTicks, mtxOrders, mtxOrderRetries, mtxExitReasons)
	prometheus.MustRegister(mtxEquity, mtxPosition)
	prometheus.MustRegister(mtxADX, mtxATR, mtxTrendStrength, mtxVolRatio)
	prometheus.MustRegister(mtxFunding, mtxMarkPrice)
}

// Helper setters used by the trader, executor and scheduler.

func incTickMetric(strategy, kind string) { mtxTicks.WithLabelValues(strategy, kind).Inc() }

func incOrderMetric(symbol string, side OrderSide, reduceOnly bool) {
	ro := "false"
	if reduceOnly {
		ro = "true"
	}
	mtxOrders.WithLabelValues(symbol, string(side), ro).Inc()
}

func incExitMetric(symbol, reason string) { mtxExitReasons.WithLabelValues(symbol, reason).Inc() }

func setEquityMetric(symbol string, v float64) { mtxEquity.WithLabelValues(symbol).Set(v) }

func setPositionMetric(symbol string, pos PositionState) {
	size := pos.Size
	if pos.Side == TrendShort {
		size = -size
	}
	mtxPosition.WithLabelValues(symbol).Set(size)
}

func setSnapshotMetrics(symbol string, snap *Snapshot) {
	if snap == nil {
		return
	}
	mtxADX.WithLabelValues(symbol).Set(snap.ADX)
	mtxATR.WithLabelValues(symbol).Set(snap.ATR)
	mtxTrendStrength.WithLabelValues(symbol).Set(snap.TrendStrength)
	mtxVolRatio.WithLabelValues(symbol).Set(snap.VolatilityRatio)
}

func setFundingMetric(symbol string, rate float64) { mtxFunding.WithLabelValues(symbol).Set(rate) }

func setMarkPriceMetric(symbol string, p float64) { mtxMarkPrice.WithLabelValues(symbol).Set(p) }
