// Package execution handles paired spot/derivative order placement.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spreadbot-go/internal/metrics"
	"spreadbot-go/internal/signal"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "Buy"
	// Sell indicates a short order.
	Sell Side = "Sell"
)

// Order represents a market order leg.
type Order struct {
	Symbol  string
	Segment signal.Segment
	Side    Side
	Qty     decimal.Decimal
	// LinkID is the client order id echoed back by the venue.
	LinkID string
	// RefPrice is the quote that triggered the order; venues that fill at market ignore it.
	RefPrice float64
}

// Ack is the venue's acceptance of an order.
type Ack struct {
	OrderID string
	LinkID  string
}

// OrderPlacer submits a single market order.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order Order) (Ack, error)
}

// Precision maps symbols to quantity decimal places.
type Precision struct {
	Places  map[string]int
	Default int
}

// For returns the configured places for symbol, or the default.
func (p Precision) For(symbol string) int32 {
	if places, ok := p.Places[strings.ToUpper(symbol)]; ok {
		return int32(places)
	}
	return int32(p.Default)
}

// Round rounds amount half away from zero to the symbol's precision.
func (p Precision) Round(symbol string, amount float64) decimal.Decimal {
	return decimal.NewFromFloat(amount).Round(p.For(symbol))
}

// ErrUnconfirmedAck marks an order the venue accepted without a usable order id. The order may be open.
var ErrUnconfirmedAck = errors.New("order accepted without confirmation")

// PartialFillError means the spot leg is open and the derivative leg is not, leaving an unhedged position.
// SpotOrderID is empty when the venue accepted the spot leg without confirming it; SpotLinkID still identifies it.
type PartialFillError struct {
	Symbol      string
	SpotOrderID string
	SpotLinkID  string
	SpotSide    Side
	Qty         decimal.Decimal
	Err         error
}

func (e *PartialFillError) Error() string {
	if e.SpotOrderID == "" {
		return fmt.Sprintf("partial fill on %s: spot %s %s accepted unconfirmed (link %s), derivative leg not placed: %v",
			e.Symbol, e.SpotSide, e.Qty.String(), e.SpotLinkID, e.Err)
	}
	return fmt.Sprintf("partial fill on %s: spot %s %s filled as order %s, derivative leg failed: %v",
		e.Symbol, e.SpotSide, e.Qty.String(), e.SpotOrderID, e.Err)
}

func (e *PartialFillError) Unwrap() error { return e.Err }

// TradeRecord is an executed hedge pair. It is a value type and is never mutated after creation.
type TradeRecord struct {
	Timestamp         time.Time `json:"timestamp"`
	Type              string    `json:"type"`
	Symbol            string    `json:"symbol"`
	Amount            float64   `json:"amount"`
	SpotPrice         float64   `json:"spot_price"`
	DerivativePrice   float64   `json:"derivative_price"`
	SpreadPercent     float64   `json:"spread"`
	Profit            float64   `json:"profit"`
	RiskLevel         string    `json:"risk_level,omitempty"`
	SpotOrderID       string    `json:"spot_order_id"`
	DerivativeOrderID string    `json:"derivative_order_id"`
}

// WithProfit returns a copy carrying the settled profit.
func (r TradeRecord) WithProfit(profit float64) TradeRecord {
	r.Profit = profit
	return r
}

// WithRiskLevel returns a copy tagged with the risk tier active at execution.
func (r TradeRecord) WithRiskLevel(level string) TradeRecord {
	r.RiskLevel = level
	return r
}

// Direction returns the spot and derivative sides that capture convergence.
func Direction(spotPrice, derivPrice float64) (spot, deriv Side) {
	if derivPrice > spotPrice {
		return Buy, Sell
	}
	return Sell, Buy
}

// Executor places both legs of a hedge through an OrderPlacer.
type Executor struct {
	log       zerolog.Logger
	placer    OrderPlacer
	precision Precision
	now       func() time.Time
	newLinkID func() string
}

// NewExecutor wires a placer and precision table.
func NewExecutor(log zerolog.Logger, placer OrderPlacer, precision Precision) *Executor {
	return &Executor{
		log:       log.With().Str("component", "executor").Logger(),
		placer:    placer,
		precision: precision,
		now:       time.Now,
		newLinkID: func() string { return uuid.NewString() },
	}
}

// Execute places the spot leg, then the derivative leg. A failed derivative leg after a filled
// spot leg returns *PartialFillError and is never retried. So does a spot leg the venue accepted
// without confirming, since it may be open.
func (executor *Executor) Execute(ctx context.Context, symbol string, spotPrice, derivPrice, amount float64) (TradeRecord, error) {
	if spotPrice <= 0 || derivPrice <= 0 {
		return TradeRecord{}, fmt.Errorf("execute %s: prices must be positive", symbol)
	}
	qty := executor.precision.Round(symbol, amount)
	if !qty.IsPositive() {
		return TradeRecord{}, fmt.Errorf("execute %s: amount %.8f rounds to zero", symbol, amount)
	}

	started := executor.now().UTC()
	spread := signal.SpreadPercent(spotPrice, derivPrice)
	spotSide, derivSide := Direction(spotPrice, derivPrice)
	executor.log.Info().Str("sym", symbol).Str("qty", qty.String()).Float64("spread", spread).
		Str("spot_side", string(spotSide)).Str("deriv_side", string(derivSide)).Msg("executing hedge pair")

	spotOrder := Order{
		Symbol: symbol, Segment: signal.Spot, Side: spotSide, Qty: qty,
		LinkID: executor.newLinkID(), RefPrice: spotPrice,
	}
	spotAck, err := executor.submit(ctx, spotOrder)
	if errors.Is(err, ErrUnconfirmedAck) {
		return TradeRecord{}, &PartialFillError{
			Symbol:     symbol,
			SpotLinkID: spotOrder.LinkID,
			SpotSide:   spotSide,
			Qty:        qty,
			Err:        err,
		}
	}
	if err != nil {
		return TradeRecord{}, fmt.Errorf("spot leg: %w", err)
	}

	derivAck, err := executor.submit(ctx, Order{
		Symbol: symbol, Segment: signal.Derivative, Side: derivSide, Qty: qty,
		LinkID: executor.newLinkID(), RefPrice: derivPrice,
	})
	if err != nil {
		return TradeRecord{}, &PartialFillError{
			Symbol:      symbol,
			SpotOrderID: spotAck.OrderID,
			SpotLinkID:  spotOrder.LinkID,
			SpotSide:    spotSide,
			Qty:         qty,
			Err:         err,
		}
	}

	amountF, _ := qty.Float64()
	record := TradeRecord{
		Timestamp:         started,
		Type:              string(spotSide) + "-" + string(derivSide),
		Symbol:            symbol,
		Amount:            amountF,
		SpotPrice:         spotPrice,
		DerivativePrice:   derivPrice,
		SpreadPercent:     spread,
		SpotOrderID:       spotAck.OrderID,
		DerivativeOrderID: derivAck.OrderID,
	}
	executor.log.Info().Str("sym", symbol).Str("type", record.Type).Str("spot_order", record.SpotOrderID).
		Str("deriv_order", record.DerivativeOrderID).Msg("hedge pair filled")
	return record, nil
}

func (executor *Executor) submit(ctx context.Context, order Order) (Ack, error) {
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Segment), string(order.Side)).Inc()
	executor.log.Info().Str("sym", order.Symbol).Str("segment", string(order.Segment)).Str("side", string(order.Side)).
		Str("qty", order.Qty.String()).Str("link_id", order.LinkID).Msg("submit order")
	ack, err := executor.placer.PlaceOrder(ctx, order)
	if err != nil {
		return Ack{}, err
	}
	if ack.OrderID == "" {
		return Ack{LinkID: order.LinkID}, fmt.Errorf("%s order: %w", order.Segment, ErrUnconfirmedAck)
	}
	return ack, nil
}
