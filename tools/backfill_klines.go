// Build a backtest CSV by paging Binance futures /fapi/v1/klines backward in time.
//
// Usage:
//   go run ./tools/backfill_klines.go \
//     -symbol BTCUSDT -interval 1h -limit 1000 -pages 5 -out data/BTCUSDT-1h.csv
//
// Notes:
// - Klines come back as arrays: [openTime(ms), open, high, low, close, volume, ...]
//   with prices as strings. We page backward using startTime/endTime, dedupe on
//   openTime, sort ascending, and write RFC3339 timestamps.
// - The CSV header is: time,open,high,low,close,volume (what the backtest loader wants).

package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

type klineRow struct {
	OpenMs int64
	Open   string
	High   string
	Low    string
	Close  string
	Volume string
}

func main() {
	var (
		symbol   = flag.String("symbol", "BTCUSDT", "Venue symbol (e.g., BTCUSDT)")
		interval = flag.String("interval", "1h", "Kline interval (1m,5m,15m,1h,4h,1d,...)")
		limit    = flag.Int("limit", 1000, "Candles per page (API max 1500)")
		pages    = flag.Int("pages", 5, "How many pages to fetch (backwards)")
		outPath  = flag.String("out", "data/BTCUSDT-1h.csv", "Output CSV path")
	)
	flag.Parse()

	base := getenv("BINANCE_FAPI_BASE", "https://fapi.binance.com")
	secPer := intervalSeconds(*interval)
	if secPer <= 0 {
		panic("unsupported interval: " + *interval)
	}

	end := time.Now().UTC()
	all := make([]klineRow, 0, (*limit)*(*pages))

	for p := 0; p < *pages; p++ {
		start := end.Add(-time.Duration((*limit)*int(secPer)) * time.Second)

		url := fmt.Sprintf("%s/fapi/v1/klines?symbol=%s&interval=%s&limit=%d&startTime=%d&endTime=%d",
			trimRightSlash(base), *symbol, *interval, *limit, start.UnixMilli(), end.UnixMilli())

		resp, err := http.Get(url)
		if err != nil {
			panic(fmt.Errorf("GET %s: %w", url, err))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			panic(fmt.Errorf("klines status %d for %s", resp.StatusCode, url))
		}

		var raw [][]any
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			resp.Body.Close()
			panic(fmt.Errorf("decode JSON: %w", err))
		}
		resp.Body.Close()

		batch := toRows(raw)
		if len(batch) == 0 {
			// No more data in this window; stop early.
			break
		}

		all = append(all, batch...)
		end = start
	}

	// Dedupe by open time and sort ascending
	dedup := make(map[int64]klineRow, len(all))
	for _, r := range all {
		if r.OpenMs > 0 {
			dedup[r.OpenMs] = r
		}
	}
	all = all[:0]
	for _, r := range dedup {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].OpenMs < all[j].OpenMs })

	// Write CSV with RFC3339 timestamps
	if err := os.MkdirAll(filepath.Dir(*outPath), 0o755); err != nil {
		panic(err)
	}
	f, err := os.Create(*outPath)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		panic(err)
	}
	for _, r := range all {
		ts := time.UnixMilli(r.OpenMs).UTC().Format(time.RFC3339)
		if err := w.Write([]string{ts, r.Open, r.High, r.Low, r.Close, r.Volume}); err != nil {
			panic(err)
		}
	}
	fmt.Printf("Wrote %s (%d rows)\n", *outPath, len(all))
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func trimRightSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func intervalSeconds(iv string) int64 {
	switch iv {
	case "1m":
		return 60
	case "3m":
		return 3 * 60
	case "5m":
		return 5 * 60
	case "15m":
		return 15 * 60
	case "30m":
		return 30 * 60
	case "1h":
		return 60 * 60
	case "2h":
		return 2 * 60 * 60
	case "4h":
		return 4 * 60 * 60
	case "6h":
		return 6 * 60 * 60
	case "8h":
		return 8 * 60 * 60
	case "12h":
		return 12 * 60 * 60
	case "1d":
		return 24 * 60 * 60
	default:
		return 0
	}
}

func toRows(raw [][]any) []klineRow {
	out := make([]klineRow, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		ms, _ := row[0].(float64)
		out = append(out, klineRow{
			OpenMs: int64(ms),
			Open:   asString(row[1]),
			High:   asString(row[2]),
			Low:    asString(row[3]),
			Close:  asString(row[4]),
			Volume: asString(row[5]),
		})
	}
	return out
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
