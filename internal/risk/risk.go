// Package risk converts spread volatility into a tier and sizes positions from it.
package risk

import (
	"math"

	"spreadbot-go/internal/config"
)

// Level is a coarse volatility tier.
type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

const (
	// Volatility thresholds are on the same percentage scale as the spread.
	highVolatility   = 0.5
	mediumVolatility = 0.2

	maxSpreadMultiplier = 2.0
)

// TierFor classifies a spread volatility.
func TierFor(volatility float64) Level {
	switch {
	case volatility > highVolatility:
		return High
	case volatility > mediumVolatility:
		return Medium
	}
	return Low
}

// Multiplier scales base size down as risk rises. Unknown levels are treated as high.
func (l Level) Multiplier() float64 {
	switch l {
	case Low:
		return 1.0
	case Medium:
		return 0.7
	}
	return 0.5
}

// SizeOf returns baseAmount scaled by the risk tier and by how far the spread exceeds minSpread, capped at 2x.
func SizeOf(baseAmount, spreadPercent float64, level Level, minSpread float64) (float64, error) {
	if minSpread <= 0 {
		return 0, &config.InvalidConfigError{Field: "trading.min_spread", Reason: "must be positive"}
	}
	spreadMultiplier := math.Min(math.Abs(spreadPercent)/minSpread, maxSpreadMultiplier)
	return baseAmount * level.Multiplier() * spreadMultiplier, nil
}

// Limits caps how much size a single hedge may take on.
type Limits struct {
	MaxPosition float64
}

// Allow reports whether amount fits the cap. A zero cap disables the check.
func (l Limits) Allow(amount float64) bool {
	return l.MaxPosition <= 0 || amount <= l.MaxPosition
}

// Clamp trims amount to the cap.
func (l Limits) Clamp(amount float64) float64 {
	if l.Allow(amount) {
		return amount
	}
	return l.MaxPosition
}
