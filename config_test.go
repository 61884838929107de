package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func iptr(v int) *int { return &v }

func fptr(v float64) *float64 { return &v }

func sptr(v string) *string { return &v }

func TestApplyOverride(t *testing.T) {
	base := testStrategyConfig("BTC/USDT:USDT")

	got := applyOverride(base, symbolOverride{
		Symbol:       "ETH/USDT:USDT",
		EMAFast:      iptr(20),
		ADXThreshold: fptr(30),
		MarginMode:   sptr("isolated"),
		Risk:         &riskOverride{RiskPerTrade: fptr(0.02)},
	})

	if got.Symbol != "ETH/USDT:USDT" {
		t.Errorf("Symbol = %q", got.Symbol)
	}
	if got.EMAFast != 20 || got.ADXThreshold != 30 || got.MarginMode != "isolated" {
		t.Errorf("overridden fields = ema_fast=%d adx_threshold=%v margin=%q", got.EMAFast, got.ADXThreshold, got.MarginMode)
	}
	if !almostEq(got.Risk.RiskPerTrade, 0.02) {
		t.Errorf("Risk.RiskPerTrade = %v, want 0.02", got.Risk.RiskPerTrade)
	}
	// Unset fields inherit the base, including the rest of the risk block.
	if got.EMASlow != base.EMASlow || got.SignalTimeframe != base.SignalTimeframe {
		t.Errorf("inherited fields changed: ema_slow=%d tf=%q", got.EMASlow, got.SignalTimeframe)
	}
	if !almostEq(got.Risk.MaxLeverage, base.Risk.MaxLeverage) {
		t.Errorf("Risk.MaxLeverage = %v, want inherited %v", got.Risk.MaxLeverage, base.Risk.MaxLeverage)
	}
}

func TestResolveStrategyConfigsFromList(t *testing.T) {
	base := testStrategyConfig("BTC/USDT:USDT")

	t.Run("flag list with dedupe", func(t *testing.T) {
		cfgs, err := resolveStrategyConfigs(AppConfig{}, base, "ETH/USDT:USDT, BTC/USDT:USDT ,ETH/USDT:USDT")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if len(cfgs) != 2 || cfgs[0].Symbol != "ETH/USDT:USDT" || cfgs[1].Symbol != "BTC/USDT:USDT" {
			t.Errorf("cfgs = %+v, want deduped [ETH, BTC]", symbolsOf(cfgs))
		}
	})

	t.Run("falls back to base symbol", func(t *testing.T) {
		cfgs, err := resolveStrategyConfigs(AppConfig{}, base, "")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if len(cfgs) != 1 || cfgs[0].Symbol != "BTC/USDT:USDT" {
			t.Errorf("cfgs = %+v, want just the base symbol", symbolsOf(cfgs))
		}
	})

	t.Run("no symbols anywhere", func(t *testing.T) {
		empty := base
		empty.Symbol = ""
		if _, err := resolveStrategyConfigs(AppConfig{}, empty, ""); err == nil {
			t.Fatal("expected an error with no symbols configured")
		}
	})
}

func TestResolveStrategyConfigsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symbols.yaml")
	doc := `symbols:
  - symbol: "BTC/USDT:USDT"
    ema_fast: 30
    loop_interval: 30s
    risk:
      risk_per_trade: 0.02
  - symbol: "ETH/USDT:USDT"
    leverage: 5
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	base := testStrategyConfig("BTC/USDT:USDT")
	cfgs, err := resolveStrategyConfigs(AppConfig{SymbolsFile: path}, base, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("cfgs = %d, want 2", len(cfgs))
	}

	btc, eth := cfgs[0], cfgs[1]
	if btc.EMAFast != 30 || !almostEq(btc.Risk.RiskPerTrade, 0.02) || btc.LoopInterval != 30*time.Second {
		t.Errorf("btc overrides = ema_fast=%d rpt=%v interval=%s", btc.EMAFast, btc.Risk.RiskPerTrade, btc.LoopInterval)
	}
	// Fields the YAML leaves alone keep the env base.
	if btc.EMASlow != base.EMASlow {
		t.Errorf("btc.EMASlow = %d, want base %d", btc.EMASlow, base.EMASlow)
	}
	if eth.Leverage != 5 || eth.EMAFast != base.EMAFast {
		t.Errorf("eth = leverage=%d ema_fast=%d", eth.Leverage, eth.EMAFast)
	}
}

func TestLoadSymbolsFileErrors(t *testing.T) {
	if _, err := loadSymbolsFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file should error")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("symbols: ["), 0644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	if _, err := loadSymbolsFile(bad); err == nil {
		t.Error("malformed yaml should error")
	}
}

func TestLoadStrategyConfigFromEnv(t *testing.T) {
	t.Setenv("SYMBOL", "SOL/USDT:USDT")
	t.Setenv("EMA_FAST", "10")
	t.Setenv("LOOP_INTERVAL", "30s")
	t.Setenv("RISK_PER_TRADE", "0.005")

	cfg := loadStrategyConfigFromEnv()
	if cfg.Symbol != "SOL/USDT:USDT" || cfg.EMAFast != 10 || cfg.LoopInterval != 30*time.Second {
		t.Errorf("cfg = symbol=%q ema_fast=%d interval=%s", cfg.Symbol, cfg.EMAFast, cfg.LoopInterval)
	}
	if !almostEq(cfg.Risk.RiskPerTrade, 0.005) {
		t.Errorf("Risk.RiskPerTrade = %v, want 0.005", cfg.Risk.RiskPerTrade)
	}
	// Untouched knobs fall back to the shipped defaults.
	if cfg.EMASlow != 200 || cfg.SignalTimeframe != "1h" {
		t.Errorf("defaults = ema_slow=%d tf=%q", cfg.EMASlow, cfg.SignalTimeframe)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("D1", "90s")
	t.Setenv("D2", "45") // bare integers read as seconds
	t.Setenv("D3", "nonsense")

	if got := getEnvDuration("D1", time.Minute); got != 90*time.Second {
		t.Errorf("D1 = %s, want 90s", got)
	}
	if got := getEnvDuration("D2", time.Minute); got != 45*time.Second {
		t.Errorf("D2 = %s, want 45s", got)
	}
	if got := getEnvDuration("D3", time.Minute); got != time.Minute {
		t.Errorf("D3 = %s, want the default", got)
	}
	if got := getEnvDuration("D_UNSET", 2*time.Minute); got != 2*time.Minute {
		t.Errorf("unset = %s, want the default", got)
	}
}

func symbolsOf(cfgs []StrategyConfig) []string {
	out := make([]string, len(cfgs))
	for i, c := range cfgs {
		out[i] = c.Symbol
	}
	return out
}
