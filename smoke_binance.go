//go:build smoke

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
)

// Build with -tags smoke for a one-shot venue probe:
//   go run -tags smoke . -symbol "BTC/USDT:USDT" -tf 1m -limit 3
// Signed probes (position/account) run only when BINANCE_API_KEY is set;
// -place submits a real market order, so leave it 0 unless you mean it.
func main() {
	symbol := flag.String("symbol", "BTC/USDT:USDT", "unified perp symbol")
	tf := flag.String("tf", "1m", "kline interval")
	limit := flag.Int("limit", 3, "candle limit")
	place := flag.Float64("place", 0, "market order size in contracts; 0 = no order")
	sideStr := flag.String("side", "BUY", "BUY|SELL")
	flag.Parse()

	loadBotEnv()
	ctx := context.Background()
	bf := NewBinanceFutures()

	if err := bf.LoadMarkets(ctx); err != nil {
		log.Fatalf("load markets: %v", err)
	}
	fmt.Printf("markets loaded, %s quantity precision=%d\n", *symbol, bf.MarketPrecision(*symbol))

	cs, err := bf.FetchOHLCV(ctx, *symbol, *tf, *limit)
	if err != nil {
		log.Fatalf("candles error: %v", err)
	}
	fmt.Printf("candles: %d\n", len(cs))
	for i, c := range cs {
		fmt.Printf("%d) %s O=%.2f H=%.2f L=%.2f C=%.2f V=%.6f\n",
			i, c.Time.UTC().Format("15:04:05"), c.Open, c.High, c.Low, c.Close, c.Volume)
	}

	rate, err := bf.FundingRate(ctx, *symbol)
	if err != nil {
		log.Fatalf("funding error: %v", err)
	}
	fmt.Printf("funding rate: %.6f\n", rate)

	if os.Getenv("BINANCE_API_KEY") == "" {
		fmt.Println("BINANCE_API_KEY not set, skipping signed probes")
		return
	}

	pos, err := bf.FetchPosition(ctx, *symbol)
	if err != nil {
		log.Fatalf("position error: %v", err)
	}
	if pos == nil {
		fmt.Println("position: flat")
	} else {
		fmt.Printf("position: %s %.6f @ %.2f (uPnL %.4f)\n", pos.Side, pos.Contracts, pos.EntryPrice, pos.UnrealizedPnL)
	}

	m, err := bf.FetchAccountMetrics(ctx)
	if err != nil {
		log.Fatalf("account error: %v", err)
	}
	fmt.Printf("equity=%.2f unrealized=%.4f\n", m.Equity, m.UnrealizedPnL)

	if *place > 0 {
		side := SideBuy
		if strings.EqualFold(strings.TrimSpace(*sideStr), "SELL") {
			side = SideSell
		}
		fmt.Printf("Placing market %s %.6f on %s ...\n", side, *place, *symbol)
		resp, err := bf.CreateOrder(ctx, *symbol, "market", side, *place, 0, nil)
		if err != nil {
			log.Fatalf("order error: %v", err)
		}
		fmt.Printf("OK id=%s status=%s filled=%.6f avg=%.2f\n", resp.ID, resp.Status, resp.Filled, resp.Average)
	}
}
