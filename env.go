// FILE: env.go
// Package main – Environment helpers for the trend bot.
//
// This file provides:
//   1) Small helpers to read environment variables with sane defaults
//      (strings, ints, floats, bools, durations).
//   2) A safe loader (loadBotEnv) that reads the bot env file only,
//      applying an allowlist so stray deployment secrets never leak into
//      the process env.
//
// Notes:
//   • The bot never requires `export $(cat .env ...)`.
//   • Override the file location with TRENDBOT_ENV_FILE.

package main

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------- Env helpers (used across files) ---------

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
func getEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	case "":
		return def
	default:
		return def
	}
}
func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// parseLooseDuration accepts Go duration strings ("90s", "2m") and, for
// convenience, bare integers taken as seconds.
func parseLooseDuration(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if d, ok := parseLooseDuration(os.Getenv(key)); ok {
		return d
	}
	return def
}

// --------- .env loader (bot-only) ---------

// loadBotEnv reads the bot env file and sets ONLY the keys the bot needs.
// It won't override variables already in the environment.
func loadBotEnv() {
	path := getEnv("TRENDBOT_ENV_FILE", "/opt/trendbot/env/bot.env")
	f, err := os.Open(path)
	if err != nil {
		log.Printf("env: %s not found, relying on process env", path)
		return
	}
	defer f.Close()

	needed := map[string]struct{}{
		// instrument + timeframes
		"SYMBOL": {}, "SYMBOLS_FILE": {}, "SIGNAL_TIMEFRAME": {}, "EXEC_TIMEFRAME": {},
		"SIGNAL_LOOKBACK": {}, "EXEC_LOOKBACK": {},
		// indicators
		"EMA_FAST": {}, "EMA_SLOW": {}, "ADX_PERIOD": {}, "ADX_THRESHOLD": {},
		"ATR_PERIOD": {}, "DONCHIAN_PERIOD": {}, "KELTNER_MULT": {},
		"ATR_STOP_MULT": {}, "TRAIL_ATR_MULT": {},
		// loop, venue setup, executor
		"LOOP_INTERVAL": {}, "CONTRACT_MULTIPLIER": {}, "LEVERAGE": {}, "MARGIN_MODE": {},
		"MAX_ORDER_RETRIES": {}, "TIME_IN_FORCE": {},
		// risk limits
		"MAX_LEVERAGE": {}, "MAX_POSITION_RATIO": {}, "PORTFOLIO_EXPOSURE_LIMIT": {},
		"RISK_PER_TRADE": {}, "MIN_TREND_STRENGTH": {}, "MIN_VOL_RATIO": {}, "MAX_VOL_RATIO": {},
		// ops
		"PORT": {}, "DRY_RUN": {}, "STATE_DIR": {}, "JOURNAL_FILE": {},
		"MARK_FEED": {}, "MARK_FEED_URL": {},
		// venue + paper
		"BINANCE_API_KEY": {}, "BINANCE_API_SECRET": {}, "BINANCE_FAPI_BASE": {},
		"BINANCE_RECV_WINDOW": {}, "PAPER_EQUITY": {}, "PAPER_FEE_RATE": {},
	}

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(line[len("export "):])
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		if _, ok := needed[key]; !ok {
			continue
		}
		val := strings.TrimSpace(line[eq+1:])
		if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
			val = val[1 : len(val)-1]
		}
		if idx := strings.Index(val, "#"); idx >= 0 {
			val = strings.TrimSpace(val[:idx])
		}
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, val)
		}
	}
	log.Printf("env: loaded %s", path)
}
