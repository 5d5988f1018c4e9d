// Package ledger keeps the capped, durable log of executed hedge pairs and their statistics.
package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"spreadbot-go/internal/execution"
)

const (
	// DurableCap bounds the records kept for the on-disk log.
	DurableCap = 1000
	// WindowCap bounds the in-memory analytics window.
	WindowCap = 100
	// DefaultRecentWindow is the record count RecentStats uses when given a non-positive window.
	DefaultRecentWindow = 20
)

// ErrInsufficientData is returned by RecentStats on an empty ledger.
var ErrInsufficientData = errors.New("ledger: no trades recorded")

// Statistics are session counters updated once per appended trade.
type Statistics struct {
	TotalTrades      int     `json:"total_trades"`
	SuccessfulTrades int     `json:"successful_trades"`
	TotalProfit      float64 `json:"total_profit"`
	BestTrade        float64 `json:"best_trade"`
	WorstTrade       float64 `json:"worst_trade"`
}

// Summary describes the most recent trades.
type Summary struct {
	Trades      int     `json:"trades"`
	TotalProfit float64 `json:"total_profit"`
	AvgSpread   float64 `json:"avg_spread"`
	WinRate     float64 `json:"win_rate"`
}

// Ledger stores trade records in memory and persists them as JSON lines.
type Ledger struct {
	mu      sync.Mutex
	path    string
	durable []execution.TradeRecord
	window  []execution.TradeRecord
	stats   Statistics
}

// New creates an empty ledger backed by path. An empty path keeps the ledger in memory only.
func New(path string) *Ledger {
	return &Ledger{
		path:    path,
		durable: make([]execution.TradeRecord, 0, DurableCap),
		window:  make([]execution.TradeRecord, 0, WindowCap),
	}
}

// Path returns the backing file.
func (l *Ledger) Path() string { return l.path }

// Append records a trade, evicting the oldest entries beyond each cap, and updates statistics.
func (l *Ledger) Append(record execution.TradeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.durable = appendCapped(l.durable, record, DurableCap)
	l.window = appendCapped(l.window, record, WindowCap)

	l.stats.TotalTrades++
	if record.Profit > 0 {
		l.stats.SuccessfulTrades++
	}
	l.stats.TotalProfit += record.Profit
	if l.stats.TotalTrades == 1 {
		l.stats.BestTrade = record.Profit
		l.stats.WorstTrade = record.Profit
		return
	}
	if record.Profit > l.stats.BestTrade {
		l.stats.BestTrade = record.Profit
	}
	if record.Profit < l.stats.WorstTrade {
		l.stats.WorstTrade = record.Profit
	}
}

func appendCapped(records []execution.TradeRecord, record execution.TradeRecord, limit int) []execution.TradeRecord {
	if len(records) >= limit {
		copy(records, records[len(records)-limit+1:])
		records = records[:limit-1]
	}
	return append(records, record)
}

// RecentStats summarizes up to window most recent trades from the analytics window.
func (l *Ledger) RecentStats(window int) (Summary, error) {
	if window <= 0 {
		window = DefaultRecentWindow
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.window) == 0 {
		return Summary{}, ErrInsufficientData
	}
	recent := l.window
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	var (
		summary = Summary{Trades: len(recent)}
		spread  float64
		wins    int
	)
	for _, rec := range recent {
		summary.TotalProfit += rec.Profit
		spread += rec.SpreadPercent
		if rec.Profit > 0 {
			wins++
		}
	}
	summary.AvgSpread = spread / float64(len(recent))
	summary.WinRate = float64(wins) / float64(len(recent))
	return summary, nil
}

// Stats returns a copy of the session counters.
func (l *Ledger) Stats() Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Recent returns up to n of the newest records from the analytics window, oldest first.
func (l *Ledger) Recent(n int) []execution.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.window) {
		n = len(l.window)
	}
	out := make([]execution.TradeRecord, n)
	copy(out, l.window[len(l.window)-n:])
	return out
}

// Records returns a copy of every durable record, oldest first.
func (l *Ledger) Records() []execution.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]execution.TradeRecord, len(l.durable))
	copy(out, l.durable)
	return out
}

// Len is the number of durable records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.durable)
}

// Persist atomically rewrites the backing file with the durable records.
func (l *Ledger) Persist() error {
	if l.path == "" {
		return nil
	}
	records := l.Records()

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	writer := bufio.NewWriter(tmp)
	enc := json.NewEncoder(writer)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			tmp.Close()
			return fmt.Errorf("encode trade: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

// Load replaces in-memory records with the backing file's contents.
// A missing file leaves the ledger empty. Session statistics are not restored.
func (l *Ledger) Load() error {
	if l.path == "" {
		return nil
	}
	file, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer file.Close()

	var records []execution.TradeRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec execution.TradeRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("decode ledger line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	if len(records) > DurableCap {
		records = records[len(records)-DurableCap:]
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.durable = append(l.durable[:0], records...)
	windowStart := 0
	if len(records) > WindowCap {
		windowStart = len(records) - WindowCap
	}
	l.window = append(l.window[:0], records[windowStart:]...)
	return nil
}
