// FILE: main.go
// Package main – Program entrypoint and HTTP/metrics server.
//
// Boot sequence:
//   1) loadBotEnv()                      – read .env (no shell exports required)
//   2) load app + base strategy config   – env-driven, YAML overrides per symbol
//   3) wire venue (paper over live data when DRY_RUN, else live futures)
//   4) start /healthz, /metrics, /status server on PORT
//   5) run one scheduled trader per symbol until SIGINT/SIGTERM
//
// Flags:
//   -backtest <csv>        Replay signal-frame CSV candles instead of live trading
//   -backtest-exec <csv>   Optional exec-frame CSV (defaults to the signal CSV)
//   -symbols A,B,C         Override the configured symbol list
//
// Example:
//   go run . -symbols "BTC/USDT:USDT,ETH/USDT:USDT"

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// ---- Flags ----
	var backtestCSV string
	var backtestExecCSV string
	var symbolsFlag string
	flag.StringVar(&backtestCSV, "backtest", "", "Path to signal-frame CSV (time,open,high,low,close,volume)")
	flag.StringVar(&backtestExecCSV, "backtest-exec", "", "Path to exec-frame CSV (defaults to -backtest file)")
	flag.StringVar(&symbolsFlag, "symbols", "", "Comma-separated symbol list (overrides SYMBOL)")
	flag.Parse()

	// ---- Environment & Config ----
	loadBotEnv()
	app := loadAppConfigFromEnv()
	base := loadStrategyConfigFromEnv()
	cfgs, err := resolveStrategyConfigs(app, base, symbolsFlag)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Backtest short-circuit ----
	if backtestCSV != "" {
		if backtestExecCSV == "" {
			backtestExecCSV = backtestCSV
		}
		if err := runBacktest(backtestCSV, backtestExecCSV, cfgs[0]); err != nil {
			log.Fatalf("backtest: %v", err)
		}
		return
	}

	// ---- Venue wiring ----
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	data := NewBinanceFutures()
	var ex ExchangeClient = data
	if app.DryRun {
		paper := NewPaperExchange(data)
		ex = paper
		if app.MarkFeed {
			symbols := make([]string, 0, len(cfgs))
			for _, c := range cfgs {
				symbols = append(symbols, c.Symbol)
			}
			go NewMarkPriceFeed(symbols, paper).Run(ctx)
		}
		log.Printf("[BOOT] dry run: paper venue over %s data", data.Name())
	} else {
		log.Printf("[BOOT] live venue: %s", ex.Name())
	}

	journal := NewJournal(app.JournalFile)
	traders := make([]*TrendTrader, 0, len(cfgs))
	runners := make([]*Runner, 0, len(cfgs))
	for _, cfg := range cfgs {
		var store *StateStore
		if app.StateDir != "" {
			store = NewStateStore(app.StateDir, cfg.Symbol)
		}
		tr := NewTrendTrader(cfg, ex, journal, store)
		traders = append(traders, tr)
		runners = append(runners, NewRunner(cfg.Symbol, tr, cfg.LoopInterval))
	}

	// ---- HTTP metrics/health/status ----
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		out := make([]TraderStatus, 0, len(traders))
		for _, tr := range traders {
			out = append(out, tr.Status())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", app.Port), Handler: mux}
	go func() {
		log.Printf("serving metrics on :%d/metrics", app.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	// ---- Run until interrupted ----
	RunAll(ctx, runners)

	// ---- Graceful shutdown for HTTP server ----
	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}
