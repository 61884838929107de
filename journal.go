// FILE: journal.go
// Package main – Trade journal for closed positions.
//
// Every close appends an ExitRecord to an in-memory ring (capped, served by
// the status endpoint and persisted with BotState) and, when JOURNAL_FILE is
// set, to an append-only CSV for offline analysis. Realized PnL is computed
// with decimal arithmetic so journal rows sum exactly; core trading math
// stays float64.

package main

import (
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// journalKeep bounds the in-memory exit ring.
const journalKeep = 200

// ExitRecord captures a compact snapshot of one closed position.
type ExitRecord struct {
	ID          string          `json:"id"`
	Time        time.Time       `json:"time"`
	Symbol      string          `json:"symbol"`
	Side        TrendDirection  `json:"side"`
	EntryPrice  float64         `json:"entry_price"`
	ExitPrice   float64         `json:"exit_price"`
	Size        float64         `json:"size"`
	Reason      string          `json:"reason"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// realizedPnL computes (exit-entry)*size for longs and (entry-exit)*size for
// shorts, in exact decimal.
func realizedPnL(side TrendDirection, entry, exit, size float64) decimal.Decimal {
	e := decimal.NewFromFloat(entry)
	x := decimal.NewFromFloat(exit)
	s := decimal.NewFromFloat(size)
	if side == TrendShort {
		return e.Sub(x).Mul(s)
	}
	return x.Sub(e).Mul(s)
}

// Journal collects exit records across all traders in the process.
type Journal struct {
	mu      sync.Mutex
	exits   []ExitRecord
	csvPath string
}

// NewJournal returns a journal; csvPath may be empty for memory-only use.
func NewJournal(csvPath string) *Journal {
	return &Journal{csvPath: csvPath}
}

// RecordExit appends a record for the position just closed at exit price.
func (j *Journal) RecordExit(symbol string, pos PositionState, exit float64, reason string) {
	rec := ExitRecord{
		ID:          uuid.New().String(),
		Time:        time.Now().UTC(),
		Symbol:      symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exit,
		Size:        pos.Size,
		Reason:      reason,
		RealizedPnL: realizedPnL(pos.Side, pos.EntryPrice, exit, pos.Size),
	}
	j.mu.Lock()
	j.exits = append(j.exits, rec)
	if len(j.exits) > journalKeep {
		j.exits = j.exits[len(j.exits)-journalKeep:]
	}
	j.mu.Unlock()
	log.Printf("[EQUITY] %s realized %s on %s exit (size=%.6f entry=%.4f exit=%.4f)",
		symbol, rec.RealizedPnL.StringFixed(4), reason, pos.Size, pos.EntryPrice, exit)
	if j.csvPath != "" {
		if err := j.appendCSV(rec); err != nil {
			log.Printf("[WARN] journal append: %v", err)
		}
	}
}

// Last returns a copy of the retained exit records, oldest first.
func (j *Journal) Last() []ExitRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]ExitRecord, len(j.exits))
	copy(out, j.exits)
	return out
}

func (j *Journal) appendCSV(rec ExitRecord) error {
	f, err := os.OpenFile(j.csvPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err == nil && st.Size() == 0 {
		if _, err := f.WriteString("id,time,symbol,side,entry,exit,size,reason,realized_pnl\n"); err != nil {
			return err
		}
	}
	row := rec.ID + "," + rec.Time.Format(time.RFC3339) + "," + rec.Symbol + "," + string(rec.Side) + "," +
		strconv.FormatFloat(rec.EntryPrice, 'f', -1, 64) + "," +
		strconv.FormatFloat(rec.ExitPrice, 'f', -1, 64) + "," +
		strconv.FormatFloat(rec.Size, 'f', -1, 64) + "," +
		rec.Reason + "," + rec.RealizedPnL.String() + "\n"
	_, err = f.WriteString(row)
	return err
}
