// Package strategy tracks the spot/derivative spread and assesses how tradable it is.
package strategy

import (
	"errors"
	"math"
	"sync"
	"time"

	"spreadbot-go/internal/risk"
	"spreadbot-go/internal/signal"
)

const (
	// DefaultRetention is how long spread samples stay in history.
	DefaultRetention = 24 * time.Hour
	// DefaultAssessInterval is the minimum gap between two assessments.
	DefaultAssessInterval = 5 * time.Minute
	// MinAssessSamples is the smallest history Assess will work with.
	MinAssessSamples = 11

	shortWindow = 5
	longWindow  = 10
)

// Trend is the direction of the short spread average against the long one.
type Trend string

const (
	Up   Trend = "up"
	Down Trend = "down"
)

// Assessment summarizes the retained spread history.
type Assessment struct {
	Volatility float64    `json:"volatility"`
	Trend      Trend      `json:"trend"`
	AvgSpread  float64    `json:"avg_spread"`
	MaxSpread  float64    `json:"max_spread"`
	MinSpread  float64    `json:"min_spread"`
	RiskLevel  risk.Level `json:"risk_level"`
	Samples    int        `json:"samples"`
	AssessedAt time.Time  `json:"assessed_at"`
}

// SpreadEngine owns a bounded, time-ordered spread history and the latest assessment.
// Assessment gating happens here: Refresh runs Assess at most once per interval.
type SpreadEngine struct {
	mu             sync.Mutex
	retention      time.Duration
	assessInterval time.Duration
	history        []signal.Sample
	latest         *Assessment
	lastAssessment time.Time
}

// NewSpreadEngine builds an engine; non-positive durations fall back to the defaults.
func NewSpreadEngine(retention, assessInterval time.Duration) *SpreadEngine {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if assessInterval <= 0 {
		assessInterval = DefaultAssessInterval
	}
	return &SpreadEngine{retention: retention, assessInterval: assessInterval}
}

// Record computes the spread for a quote pair, appends it and evicts samples outside the retention window.
func (e *SpreadEngine) Record(spot, deriv signal.Quote) (signal.Sample, error) {
	if spot.LastPrice <= 0 || deriv.LastPrice <= 0 {
		return signal.Sample{}, errors.New("spread: prices must be positive")
	}
	observed := spot.ObservedAt
	if deriv.ObservedAt.After(observed) {
		observed = deriv.ObservedAt
	}
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	sample := signal.Sample{
		SpotPrice:       spot.LastPrice,
		DerivativePrice: deriv.LastPrice,
		SpreadPercent:   signal.SpreadPercent(spot.LastPrice, deriv.LastPrice),
		ObservedAt:      observed,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if n := len(e.history); n > 0 && sample.ObservedAt.Before(e.history[n-1].ObservedAt) {
		sample.ObservedAt = e.history[n-1].ObservedAt
	}
	e.history = append(e.history, sample)
	e.evict(sample.ObservedAt)
	return sample, nil
}

func (e *SpreadEngine) evict(now time.Time) {
	cutoff := now.Add(-e.retention)
	idx := 0
	for idx < len(e.history) && e.history[idx].ObservedAt.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		e.history = append(e.history[:0:0], e.history[idx:]...)
	}
}

// Assess computes volatility, trend and the risk tier over the full window.
// It returns false while fewer than MinAssessSamples samples are retained.
func (e *SpreadEngine) Assess() (*Assessment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.assess()
}

func (e *SpreadEngine) assess() (*Assessment, bool) {
	n := len(e.history)
	if n < MinAssessSamples {
		return nil, false
	}
	spreads := make([]float64, n)
	for i, s := range e.history {
		spreads[i] = s.SpreadPercent
	}
	mean, minV, maxV := stats(spreads)
	var sq float64
	for _, v := range spreads {
		sq += (v - mean) * (v - mean)
	}
	volatility := math.Sqrt(sq / float64(n))

	trend := Down
	if average(spreads[n-shortWindow:]) > average(spreads[n-longWindow:]) {
		trend = Up
	}
	return &Assessment{
		Volatility: volatility,
		Trend:      trend,
		AvgSpread:  mean,
		MaxSpread:  maxV,
		MinSpread:  minV,
		RiskLevel:  risk.TierFor(volatility),
		Samples:    n,
		AssessedAt: e.history[n-1].ObservedAt,
	}, true
}

// Refresh reassesses if the interval has elapsed since the last successful assessment.
// It reports whether a new assessment was stored.
func (e *SpreadEngine) Refresh(now time.Time) (*Assessment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.lastAssessment.IsZero() && now.Sub(e.lastAssessment) < e.assessInterval {
		return e.copyLatest(), false
	}
	assessment, ok := e.assess()
	if !ok {
		return e.copyLatest(), false
	}
	assessment.AssessedAt = now
	e.latest = assessment
	e.lastAssessment = now
	return e.copyLatest(), true
}

// Latest returns a copy of the last stored assessment, or nil.
func (e *SpreadEngine) Latest() *Assessment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyLatest()
}

func (e *SpreadEngine) copyLatest() *Assessment {
	if e.latest == nil {
		return nil
	}
	out := *e.latest
	return &out
}

// LastAssessmentTime is zero until the first successful Refresh.
func (e *SpreadEngine) LastAssessmentTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAssessment
}

// Samples returns a copy of the retained history, oldest first.
func (e *SpreadEngine) Samples() []signal.Sample {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]signal.Sample, len(e.history))
	copy(out, e.history)
	return out
}

// Len is the number of retained samples.
func (e *SpreadEngine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}

func stats(values []float64) (mean, minV, maxV float64) {
	minV, maxV = values[0], values[0]
	for _, v := range values {
		mean += v
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	return mean / float64(len(values)), minV, maxV
}

func average(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}
