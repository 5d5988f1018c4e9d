package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spreadbot-go/internal/execution"
)

func trade(i int, profit float64) execution.TradeRecord {
	return execution.TradeRecord{
		Timestamp:         time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
		Type:              "Buy-Sell",
		Symbol:            "BTCUSDT",
		Amount:            0.002,
		SpotPrice:         100,
		DerivativePrice:   101,
		SpreadPercent:     float64(i%5) * 0.1,
		Profit:            profit,
		SpotOrderID:       fmt.Sprintf("spot-%d", i),
		DerivativeOrderID: fmt.Sprintf("deriv-%d", i),
	}
}

func TestAppendCapsAndEvictsOldestFirst(t *testing.T) {
	l := New("")
	for i := 0; i < 1234; i++ {
		l.Append(trade(i, 0))
		require.LessOrEqual(t, l.Len(), DurableCap)
		require.LessOrEqual(t, len(l.Recent(0)), WindowCap)
	}

	records := l.Records()
	require.Len(t, records, DurableCap)
	require.Equal(t, "spot-234", records[0].SpotOrderID)
	require.Equal(t, "spot-1233", records[len(records)-1].SpotOrderID)
	for i := 1; i < len(records); i++ {
		require.True(t, records[i].Timestamp.After(records[i-1].Timestamp), "records stay ordered")
	}

	window := l.Recent(0)
	require.Len(t, window, WindowCap)
	require.Equal(t, "spot-1134", window[0].SpotOrderID)
	require.Equal(t, "spot-1233", window[WindowCap-1].SpotOrderID)

	last3 := l.Recent(3)
	require.Equal(t, []string{"spot-1231", "spot-1232", "spot-1233"},
		[]string{last3[0].SpotOrderID, last3[1].SpotOrderID, last3[2].SpotOrderID})
}

func TestStatisticsUpdatedOncePerTrade(t *testing.T) {
	l := New("")
	for i, p := range []float64{1.5, -0.5, 0, 3} {
		l.Append(trade(i, p))
	}
	stats := l.Stats()
	require.Equal(t, 4, stats.TotalTrades)
	require.Equal(t, 2, stats.SuccessfulTrades)
	require.InDelta(t, 4.0, stats.TotalProfit, 1e-9)
	require.Equal(t, 3.0, stats.BestTrade)
	require.Equal(t, -0.5, stats.WorstTrade)
}

func TestRecentStats(t *testing.T) {
	l := New("")
	_, err := l.RecentStats(20)
	require.True(t, errors.Is(err, ErrInsufficientData))

	for i := 0; i < 30; i++ {
		profit := -1.0
		if i%2 == 0 {
			profit = 2
		}
		l.Append(trade(i, profit))
	}
	summary, err := l.RecentStats(0)
	require.NoError(t, err)
	require.Equal(t, DefaultRecentWindow, summary.Trades)
	require.InDelta(t, 10.0, summary.TotalProfit, 1e-9)
	require.InDelta(t, 0.5, summary.WinRate, 1e-9)
	require.InDelta(t, 0.2, summary.AvgSpread, 1e-9)

	small := New("")
	small.Append(trade(1, 1))
	summary, err = small.RecentStats(20)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Trades)
	require.Equal(t, 1.0, summary.WinRate)
}

func TestPersistLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "trades.jsonl")
	l := New(path)
	for i := 0; i < 25; i++ {
		rec := trade(i, float64(i)*0.01).WithRiskLevel("medium")
		l.Append(rec)
	}
	require.NoError(t, l.Persist())

	reloaded := New(path)
	require.NoError(t, reloaded.Load())
	require.Equal(t, l.Records(), reloaded.Records())
	require.Equal(t, l.Recent(0), reloaded.Recent(0))
	require.Zero(t, reloaded.Stats().TotalTrades, "session statistics start fresh")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.NoError(t, l.Load())
	require.Zero(t, l.Len())
}

func TestLoadKeepsNewestRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	big := New("")
	for i := 0; i < DurableCap; i++ {
		big.Append(trade(i, 0))
	}
	writer := New(path)
	for _, rec := range big.Records() {
		writer.Append(rec)
	}
	writer.Append(trade(DurableCap, 0))
	require.NoError(t, writer.Persist())

	loaded := New(path)
	require.NoError(t, loaded.Load())
	require.Equal(t, DurableCap, loaded.Len())
	require.Equal(t, "spot-1", loaded.Records()[0].SpotOrderID)
	require.Len(t, loaded.Recent(0), WindowCap)
}

func TestLoadRejectsCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0o644))
	require.Error(t, New(path).Load())
}
