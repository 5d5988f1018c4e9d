// Package signal standardizes payloads shared between market data ingestion and the spread strategy.
package signal

import (
	"fmt"
	"strings"
	"time"
)

// Segment names the market a quote was taken from.
type Segment string

const (
	// Spot is the cash market.
	Spot Segment = "spot"
	// Derivative is the linear perpetual market for the same asset.
	Derivative Segment = "derivative"
)

// Category maps a segment onto the venue's REST category parameter.
func (s Segment) Category() string {
	if s == Derivative {
		return "linear"
	}
	return "spot"
}

// ParseSegment accepts either segment names or venue categories.
func ParseSegment(raw string) (Segment, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "spot":
		return Spot, nil
	case "derivative", "linear", "futures", "perp":
		return Derivative, nil
	}
	return "", fmt.Errorf("unknown market segment %q", raw)
}

// Quote is one price observation for a symbol in a segment.
type Quote struct {
	Symbol     string
	Segment    Segment
	LastPrice  float64
	Volume24h  float64
	ObservedAt time.Time
}

// Sample is one spot/derivative spread observation.
type Sample struct {
	SpotPrice       float64   `json:"spot_price"`
	DerivativePrice float64   `json:"derivative_price"`
	SpreadPercent   float64   `json:"spread_percent"`
	ObservedAt      time.Time `json:"observed_at"`
}

// SpreadPercent returns (derivative - spot) / spot * 100.
func SpreadPercent(spot, derivative float64) float64 {
	return (derivative - spot) / spot * 100
}
