// Package paper simulates order placement so the loop can run against live prices without trading.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"spreadbot-go/internal/execution"
	"spreadbot-go/internal/signal"
)

const epsilon = 1e-9

type positionKey struct {
	segment signal.Segment
	symbol  string
}

type positionState struct {
	Qty     float64
	AvgCost float64
}

// Account tracks virtual cash, realized PnL, and positions per segment.
// Spot positions cannot go short; derivative positions can.
type Account struct {
	mu          sync.Mutex
	cash        float64
	realizedPnL float64
	positions   map[positionKey]positionState
	seq         int
}

// PositionSnapshot exposes a read-only view of a single position.
type PositionSnapshot struct {
	Segment signal.Segment
	Symbol  string
	Qty     float64
	AvgCost float64
}

// Snapshot represents a thread-safe view of the account state.
type Snapshot struct {
	Cash        float64
	RealizedPnL float64
	Positions   []PositionSnapshot
}

// NewAccount constructs an account populated with starting cash.
func NewAccount(startingCash float64) *Account {
	return &Account{cash: startingCash, positions: make(map[positionKey]positionState)}
}

// Seed sets an opening position, e.g. spot inventory needed to sell into a negative spread.
func (a *Account) Seed(segment signal.Segment, symbol string, qty, price float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positions[positionKey{segment, symbol}] = positionState{Qty: qty, AvgCost: price}
}

// PlaceOrder fills the order immediately at its reference price.
func (a *Account) PlaceOrder(ctx context.Context, order execution.Order) (execution.Ack, error) {
	if err := ctx.Err(); err != nil {
		return execution.Ack{}, err
	}
	qty, _ := order.Qty.Float64()
	if err := a.MarketFill(order.Segment, order.Symbol, order.Side, qty, order.RefPrice); err != nil {
		return execution.Ack{}, fmt.Errorf("paper %s %s: %w", order.Segment, order.Side, err)
	}
	a.mu.Lock()
	a.seq++
	id := fmt.Sprintf("paper-%d", a.seq)
	a.mu.Unlock()
	return execution.Ack{OrderID: id, LinkID: order.LinkID}, nil
}

// MarketFill executes a market order at price, mutating balances if successful.
func (a *Account) MarketFill(segment signal.Segment, symbol string, side execution.Side, qty, price float64) error {
	if qty <= 0 {
		return errors.New("quantity must be positive")
	}
	if price <= 0 {
		return errors.New("price must be positive")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := positionKey{segment, symbol}
	state := a.positions[key]
	notional := qty * price

	var signed float64
	switch side {
	case execution.Buy:
		if segment == signal.Spot && notional > a.cash+epsilon {
			return errors.New("insufficient cash for buy")
		}
		signed = qty
	case execution.Sell:
		if segment == signal.Spot && (state.Qty <= 0 || state.Qty+epsilon < qty) {
			return errors.New("insufficient position to sell")
		}
		signed = -qty
	default:
		return errors.New("unknown order side")
	}

	if segment == signal.Spot {
		a.cash -= signed * price
	}

	newQty := state.Qty + signed
	switch {
	case state.Qty == 0 || sameSign(state.Qty, signed):
		// opening or adding
		state.AvgCost = (state.AvgCost*abs(state.Qty) + notional) / abs(newQty)
	default:
		closed := minFloat(abs(signed), abs(state.Qty))
		direction := 1.0
		if state.Qty < 0 {
			direction = -1
		}
		a.realizedPnL += (price - state.AvgCost) * closed * direction
		if abs(signed) > abs(state.Qty)+epsilon {
			state.AvgCost = price
		}
	}
	state.Qty = newQty
	if abs(state.Qty) <= epsilon {
		delete(a.positions, key)
		return nil
	}
	a.positions[key] = state
	return nil
}

// Snapshot returns a copy of balances and open positions.
func (a *Account) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	positions := make([]PositionSnapshot, 0, len(a.positions))
	for key, pos := range a.positions {
		positions = append(positions, PositionSnapshot{Segment: key.segment, Symbol: key.symbol, Qty: pos.Qty, AvgCost: pos.AvgCost})
	}
	return Snapshot{Cash: a.cash, RealizedPnL: a.realizedPnL, Positions: positions}
}

// Position returns the signed position size for symbol in segment.
func (a *Account) Position(segment signal.Segment, symbol string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[positionKey{segment, symbol}].Qty
}

// RealizedPnL returns total closed-trade profit and loss.
func (a *Account) RealizedPnL() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realizedPnL
}

func sameSign(a, b float64) bool { return (a > 0) == (b > 0) }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
