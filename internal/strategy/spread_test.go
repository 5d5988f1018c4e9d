package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spreadbot-go/internal/risk"
	"spreadbot-go/internal/signal"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func quotes(spot, deriv float64, at time.Time) (signal.Quote, signal.Quote) {
	return signal.Quote{Symbol: "BTCUSDT", Segment: signal.Spot, LastPrice: spot, ObservedAt: at},
		signal.Quote{Symbol: "BTCUSDT", Segment: signal.Derivative, LastPrice: deriv, ObservedAt: at}
}

func record(t *testing.T, e *SpreadEngine, spot, deriv float64, at time.Time) signal.Sample {
	t.Helper()
	s, d := quotes(spot, deriv, at)
	sample, err := e.Record(s, d)
	require.NoError(t, err)
	return sample
}

func TestRecordComputesSpread(t *testing.T) {
	e := NewSpreadEngine(0, 0)
	sample := record(t, e, 100, 101, t0)
	require.InDelta(t, 1.0, sample.SpreadPercent, 1e-9)
	require.Equal(t, t0, sample.ObservedAt)

	sample = record(t, e, 100, 99, t0.Add(time.Second))
	require.InDelta(t, -1.0, sample.SpreadPercent, 1e-9)
	require.Equal(t, 2, e.Len())

	s, d := quotes(0, 99, t0)
	_, err := e.Record(s, d)
	require.Error(t, err)
}

func TestRecordEvictsOutsideRetention(t *testing.T) {
	e := NewSpreadEngine(DefaultRetention, 0)
	for i := 0; i < 30; i++ {
		now := t0.Add(time.Duration(i) * 2 * time.Hour)
		record(t, e, 100, 100.5, now)
		cutoff := now.Add(-24 * time.Hour)
		samples := e.Samples()
		for _, s := range samples {
			require.False(t, s.ObservedAt.Before(cutoff), "sample %s older than cutoff %s", s.ObservedAt, cutoff)
		}
		for j := 1; j < len(samples); j++ {
			require.False(t, samples[j].ObservedAt.Before(samples[j-1].ObservedAt), "history must stay ordered")
		}
	}
	require.Equal(t, 13, e.Len())
}

func TestRecordKeepsHistoryMonotonic(t *testing.T) {
	e := NewSpreadEngine(0, 0)
	record(t, e, 100, 101, t0)
	late := record(t, e, 100, 101, t0.Add(-time.Minute))
	require.Equal(t, t0, late.ObservedAt)
}

func TestAssessNeedsElevenSamples(t *testing.T) {
	e := NewSpreadEngine(0, 0)
	for i := 0; i < 10; i++ {
		record(t, e, 100, 100.1, t0.Add(time.Duration(i)*time.Second))
		_, ok := e.Assess()
		require.False(t, ok, "assess must return nothing with %d samples", i+1)
	}
	record(t, e, 100, 100.1, t0.Add(10*time.Second))
	assessment, ok := e.Assess()
	require.True(t, ok)
	require.NotNil(t, assessment)
	require.Equal(t, 11, assessment.Samples)
}

func TestAssessStatistics(t *testing.T) {
	e := NewSpreadEngine(0, 0)
	// spreads 0.0, 0.1, ..., 1.1 (percent): rising, so the short average leads.
	for i := 0; i < 12; i++ {
		record(t, e, 100, 100+float64(i)*0.1, t0.Add(time.Duration(i)*time.Second))
	}
	a, ok := e.Assess()
	require.True(t, ok)
	require.Equal(t, Up, a.Trend)
	require.InDelta(t, 0.55, a.AvgSpread, 1e-9)
	require.InDelta(t, 0.0, a.MinSpread, 1e-9)
	require.InDelta(t, 1.1, a.MaxSpread, 1e-9)

	var sq float64
	for i := 0; i < 12; i++ {
		d := float64(i)*0.1 - 0.55
		sq += d * d
	}
	require.InDelta(t, math.Sqrt(sq/12), a.Volatility, 1e-9)
	require.Equal(t, risk.Medium, a.RiskLevel)

	falling := NewSpreadEngine(0, 0)
	for i := 0; i < 12; i++ {
		record(t, falling, 100, 100+float64(12-i)*0.01, t0.Add(time.Duration(i)*time.Second))
	}
	a, ok = falling.Assess()
	require.True(t, ok)
	require.Equal(t, Down, a.Trend)
	require.Equal(t, risk.Low, a.RiskLevel)
}

func TestRefreshGatesOnInterval(t *testing.T) {
	e := NewSpreadEngine(0, 5*time.Minute)

	_, refreshed := e.Refresh(t0)
	require.False(t, refreshed)
	require.True(t, e.LastAssessmentTime().IsZero(), "insufficient data must not start the gate")

	for i := 0; i < 11; i++ {
		record(t, e, 100, 100.2, t0.Add(time.Duration(i)*time.Second))
	}
	first, refreshed := e.Refresh(t0.Add(time.Minute))
	require.True(t, refreshed)
	require.NotNil(t, first)

	record(t, e, 100, 103, t0.Add(2*time.Minute))
	again, refreshed := e.Refresh(t0.Add(4 * time.Minute))
	require.False(t, refreshed)
	require.Equal(t, first.Volatility, again.Volatility)

	later, refreshed := e.Refresh(t0.Add(6 * time.Minute))
	require.True(t, refreshed)
	require.Greater(t, later.Volatility, first.Volatility)
	require.Equal(t, t0.Add(6*time.Minute), e.LastAssessmentTime())

	latest := e.Latest()
	latest.Volatility = -1
	require.NotEqual(t, -1.0, e.Latest().Volatility, "Latest must return a copy")
}
