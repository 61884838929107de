// FILE: config.go
// Package main – Runtime configuration model and loaders.
//
// This file defines StrategyConfig (the per-instrument knobs), AppConfig
// (process-wide ops knobs) and the helpers that populate them from the
// environment. The .env file is read by loadBotEnv() (see env.go), so you
// can tune behavior without exports. Multi-symbol deployments add a YAML
// file (SYMBOLS_FILE) whose per-symbol entries override the env base.
//
// Typical flow (see main.go):
//   loadBotEnv()
//   app := loadAppConfigFromEnv()
//   base := loadStrategyConfigFromEnv()
//   cfgs := resolveStrategyConfigs(app, base)
package main

// NOTE: All knobs here are read from UNPREFIXED env keys. Venue API creds
// remain venue-prefixed (BINANCE_API_KEY/SECRET) and are consumed by the
// venue client, not here.

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StrategyConfig holds every knob for one traded instrument.
type StrategyConfig struct {
	Symbol string

	// Timeframes and history depth
	SignalTimeframe string // slower frame driving trend/breakout, e.g. "1h"
	ExecTimeframe   string // faster frame driving ATR, e.g. "15m"
	SignalLookback  int
	ExecLookback    int

	// Indicator periods and multipliers
	EMAFast               int
	EMASlow               int
	ADXPeriod             int
	ADXThreshold          float64
	ATRPeriod             int
	DonchianPeriod        int
	KeltnerMultiplier     float64
	ATRStopMultiplier     float64
	TrailingATRMultiplier float64

	// Loop and contract
	LoopInterval       time.Duration
	ContractMultiplier float64

	// Venue setup applied best-effort at Initialize
	Leverage   int
	MarginMode string // "cross" or "isolated"

	// Order executor knobs
	MaxOrderRetries int
	TimeInForce     string

	Risk RiskLimits
}

// AppConfig holds process-wide ops knobs shared by all instruments.
type AppConfig struct {
	Port        int
	DryRun      bool   // paper fills instead of live orders
	StateDir    string // per-symbol state files live here; empty disables
	JournalFile string // CSV exit journal; empty disables
	SymbolsFile string // optional YAML multi-symbol config
	MarkFeed    bool   // stream live mark prices into the paper venue
}

func loadAppConfigFromEnv() AppConfig {
	return AppConfig{
		Port:        getEnvInt("PORT", 8080),
		DryRun:      getEnvBool("DRY_RUN", true),
		StateDir:    getEnv("STATE_DIR", "/opt/trendbot/state"),
		JournalFile: getEnv("JOURNAL_FILE", ""),
		SymbolsFile: getEnv("SYMBOLS_FILE", ""),
		MarkFeed:    getEnvBool("MARK_FEED", true),
	}
}

// loadStrategyConfigFromEnv reads the process env (already hydrated by
// loadBotEnv()) and returns the base StrategyConfig with defaults for
// missing keys.
func loadStrategyConfigFromEnv() StrategyConfig {
	rd := defaultRiskLimits()
	return StrategyConfig{
		Symbol:          getEnv("SYMBOL", "BTC/USDT:USDT"),
		SignalTimeframe: getEnv("SIGNAL_TIMEFRAME", "1h"),
		ExecTimeframe:   getEnv("EXEC_TIMEFRAME", "15m"),
		SignalLookback:  getEnvInt("SIGNAL_LOOKBACK", 240),
		ExecLookback:    getEnvInt("EXEC_LOOKBACK", 180),

		EMAFast:               getEnvInt("EMA_FAST", 50),
		EMASlow:               getEnvInt("EMA_SLOW", 200),
		ADXPeriod:             getEnvInt("ADX_PERIOD", 14),
		ADXThreshold:          getEnvFloat("ADX_THRESHOLD", 25.0),
		ATRPeriod:             getEnvInt("ATR_PERIOD", 21),
		DonchianPeriod:        getEnvInt("DONCHIAN_PERIOD", 20),
		KeltnerMultiplier:     getEnvFloat("KELTNER_MULT", 2.0),
		ATRStopMultiplier:     getEnvFloat("ATR_STOP_MULT", 2.5),
		TrailingATRMultiplier: getEnvFloat("TRAIL_ATR_MULT", 3.0),

		LoopInterval:       getEnvDuration("LOOP_INTERVAL", 60*time.Second),
		ContractMultiplier: getEnvFloat("CONTRACT_MULTIPLIER", 1.0),

		Leverage:   getEnvInt("LEVERAGE", 3),
		MarginMode: getEnv("MARGIN_MODE", "cross"),

		MaxOrderRetries: getEnvInt("MAX_ORDER_RETRIES", 3),
		TimeInForce:     getEnv("TIME_IN_FORCE", "GTC"),

		Risk: RiskLimits{
			MaxLeverage:            getEnvFloat("MAX_LEVERAGE", rd.MaxLeverage),
			MaxPositionRatio:       getEnvFloat("MAX_POSITION_RATIO", rd.MaxPositionRatio),
			PortfolioExposureLimit: getEnvFloat("PORTFOLIO_EXPOSURE_LIMIT", rd.PortfolioExposureLimit),
			RiskPerTrade:           getEnvFloat("RISK_PER_TRADE", rd.RiskPerTrade),
			MinTrendStrength:       getEnvFloat("MIN_TREND_STRENGTH", rd.MinTrendStrength),
			MinVolatilityRatio:     getEnvFloat("MIN_VOL_RATIO", rd.MinVolatilityRatio),
			MaxVolatilityRatio:     getEnvFloat("MAX_VOL_RATIO", rd.MaxVolatilityRatio),
		},
	}
}

// symbolOverride is one entry of the SYMBOLS_FILE YAML. Pointer fields
// distinguish "set to zero" from "inherit the env base".
type symbolOverride struct {
	Symbol                string        `yaml:"symbol"`
	SignalTimeframe       *string       `yaml:"signal_timeframe"`
	ExecTimeframe         *string       `yaml:"exec_timeframe"`
	SignalLookback        *int          `yaml:"signal_lookback"`
	ExecLookback          *int          `yaml:"exec_lookback"`
	EMAFast               *int          `yaml:"ema_fast"`
	EMASlow               *int          `yaml:"ema_slow"`
	ADXPeriod             *int          `yaml:"adx_period"`
	ADXThreshold          *float64      `yaml:"adx_threshold"`
	ATRPeriod             *int          `yaml:"atr_period"`
	DonchianPeriod        *int          `yaml:"donchian_period"`
	KeltnerMultiplier     *float64      `yaml:"keltner_multiplier"`
	ATRStopMultiplier     *float64      `yaml:"atr_stop_multiplier"`
	TrailingATRMultiplier *float64      `yaml:"trailing_atr_multiplier"`
	LoopInterval          *string       `yaml:"loop_interval"` // "90s", "2m" or bare seconds
	ContractMultiplier    *float64      `yaml:"contract_multiplier"`
	Leverage              *int          `yaml:"leverage"`
	MarginMode            *string       `yaml:"margin_mode"`
	Risk                  *riskOverride `yaml:"risk"`
}

type riskOverride struct {
	MaxLeverage            *float64 `yaml:"max_leverage"`
	MaxPositionRatio       *float64 `yaml:"max_position_ratio"`
	PortfolioExposureLimit *float64 `yaml:"portfolio_exposure_limit"`
	RiskPerTrade           *float64 `yaml:"risk_per_trade"`
	MinTrendStrength       *float64 `yaml:"min_trend_strength"`
	MinVolatilityRatio     *float64 `yaml:"min_volatility_ratio"`
	MaxVolatilityRatio     *float64 `yaml:"max_volatility_ratio"`
}

type symbolsFile struct {
	Symbols []symbolOverride `yaml:"symbols"`
}

// loadSymbolsFile parses the YAML multi-symbol config. A missing path is an
// error; deployments without the file simply leave SYMBOLS_FILE unset.
func loadSymbolsFile(path string) ([]symbolOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read symbols file: %w", err)
	}
	var f symbolsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse symbols file: %w", err)
	}
	return f.Symbols, nil
}

// applyOverride copies the set fields of o onto base and returns the result.
func applyOverride(base StrategyConfig, o symbolOverride) StrategyConfig {
	cfg := base
	cfg.Symbol = o.Symbol
	if o.SignalTimeframe != nil {
		cfg.SignalTimeframe = *o.SignalTimeframe
	}
	if o.ExecTimeframe != nil {
		cfg.ExecTimeframe = *o.ExecTimeframe
	}
	if o.SignalLookback != nil {
		cfg.SignalLookback = *o.SignalLookback
	}
	if o.ExecLookback != nil {
		cfg.ExecLookback = *o.ExecLookback
	}
	if o.EMAFast != nil {
		cfg.EMAFast = *o.EMAFast
	}
	if o.EMASlow != nil {
		cfg.EMASlow = *o.EMASlow
	}
	if o.ADXPeriod != nil {
		cfg.ADXPeriod = *o.ADXPeriod
	}
	if o.ADXThreshold != nil {
		cfg.ADXThreshold = *o.ADXThreshold
	}
	if o.ATRPeriod != nil {
		cfg.ATRPeriod = *o.ATRPeriod
	}
	if o.DonchianPeriod != nil {
		cfg.DonchianPeriod = *o.DonchianPeriod
	}
	if o.KeltnerMultiplier != nil {
		cfg.KeltnerMultiplier = *o.KeltnerMultiplier
	}
	if o.ATRStopMultiplier != nil {
		cfg.ATRStopMultiplier = *o.ATRStopMultiplier
	}
	if o.TrailingATRMultiplier != nil {
		cfg.TrailingATRMultiplier = *o.TrailingATRMultiplier
	}
	if o.LoopInterval != nil {
		if d, ok := parseLooseDuration(*o.LoopInterval); ok {
			cfg.LoopInterval = d
		}
	}
	if o.ContractMultiplier != nil {
		cfg.ContractMultiplier = *o.ContractMultiplier
	}
	if o.Leverage != nil {
		cfg.Leverage = *o.Leverage
	}
	if o.MarginMode != nil {
		cfg.MarginMode = *o.MarginMode
	}
	if r := o.Risk; r != nil {
		if r.MaxLeverage != nil {
			cfg.Risk.MaxLeverage = *r.MaxLeverage
		}
		if r.MaxPositionRatio != nil {
			cfg.Risk.MaxPositionRatio = *r.MaxPositionRatio
		}
		if r.PortfolioExposureLimit != nil {
			cfg.Risk.PortfolioExposureLimit = *r.PortfolioExposureLimit
		}
		if r.RiskPerTrade != nil {
			cfg.Risk.RiskPerTrade = *r.RiskPerTrade
		}
		if r.MinTrendStrength != nil {
			cfg.Risk.MinTrendStrength = *r.MinTrendStrength
		}
		if r.MinVolatilityRatio != nil {
			cfg.Risk.MinVolatilityRatio = *r.MinVolatilityRatio
		}
		if r.MaxVolatilityRatio != nil {
			cfg.Risk.MaxVolatilityRatio = *r.MaxVolatilityRatio
		}
	}
	return cfg
}

// resolveStrategyConfigs builds the per-instrument config list: the YAML
// symbols file when configured, else the -symbols flag / SYMBOL env applied
// to the base. Symbols are deduplicated preserving first occurrence.
func resolveStrategyConfigs(app AppConfig, base StrategyConfig, flagSymbols string) ([]StrategyConfig, error) {
	var cfgs []StrategyConfig
	if app.SymbolsFile != "" {
		overrides, err := loadSymbolsFile(app.SymbolsFile)
		if err != nil {
			return nil, err
		}
		for _, o := range overrides {
			if strings.TrimSpace(o.Symbol) == "" {
				return nil, fmt.Errorf("symbols file entry missing symbol")
			}
			cfgs = append(cfgs, applyOverride(base, o))
		}
	} else {
		list := flagSymbols
		if strings.TrimSpace(list) == "" {
			list = base.Symbol
		}
		for _, s := range strings.Split(list, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			cfg := base
			cfg.Symbol = s
			cfgs = append(cfgs, cfg)
		}
	}
	seen := make(map[string]bool, len(cfgs))
	out := cfgs[:0]
	for _, c := range cfgs {
		if seen[c.Symbol] {
			continue
		}
		seen[c.Symbol] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no symbols configured")
	}
	return out, nil
}
