package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MaxTakeProfitLevels is the number of take-profit prices a trade can carry.
const MaxTakeProfitLevels = 4

// ErrInvalidTransition is returned when a status change would leave a terminal state
// or skip the lifecycle order.
var ErrInvalidTransition = errors.New("invalid trade status transition")

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	TradeStatusPending    TradeStatus = "PENDING"
	TradeStatusOpen       TradeStatus = "OPEN"
	TradeStatusClosed     TradeStatus = "CLOSED"
	TradeStatusFailed     TradeStatus = "FAILED"
	TradeStatusStoppedOut TradeStatus = "STOPPED_OUT"
	TradeStatusLiquidated TradeStatus = "LIQUIDATED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case TradeStatusClosed, TradeStatusFailed, TradeStatusStoppedOut, TradeStatusLiquidated:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s TradeStatus) CanTransitionTo(next TradeStatus) bool {
	switch s {
	case TradeStatusPending:
		return next == TradeStatusOpen || next == TradeStatusFailed
	case TradeStatusOpen:
		return next == TradeStatusClosed || next == TradeStatusStoppedOut || next == TradeStatusLiquidated
	default:
		return false
	}
}

// ProtectiveState tracks the stop-loss / take-profit placement stage of a trade.
type ProtectiveState string

const (
	ProtectiveNone         ProtectiveState = "NONE"
	ProtectiveAwaitingFill ProtectiveState = "AWAITING_FILL"
	ProtectivePlaced       ProtectiveState = "PLACED"
	ProtectivePartial      ProtectiveState = "PARTIAL"
)

// LegKind identifies a protective order leg.
type LegKind string

const (
	LegStopLoss   LegKind = "SL"
	LegTakeProfit LegKind = "TP"
)

// ProtectiveOrder is a reduce-only exit order resting on the exchange for a trade.
type ProtectiveOrder struct {
	Kind         LegKind
	Level        int // 1-based for take-profits, 0 for the stop-loss
	OrderID      int64
	TriggerPrice float64
	Quantity     decimal.Decimal
	Filled       bool
}

// Trade is one position attempt, from accepted signal to terminal status.
type Trade struct {
	ID                  int64
	AccountID           string
	SignalID            int64
	Pair                string
	Side                OrderSide
	RequestedLeverage   int
	Leverage            int
	LeverageCapped      bool
	EntryPrice          float64
	EntryQuantity       decimal.Decimal
	StopLoss            float64
	TakeProfits         [MaxTakeProfitLevels]float64
	EntryOrderID        int64
	EntryClientOrderID  string
	Status              TradeStatus
	ProtectiveState     ProtectiveState
	ProtectivePlaced    int
	ProtectiveAttempted int
	ProtectiveOrders    []ProtectiveOrder
	CreatedAt           time.Time
	OpenedAt            time.Time
	ClosedAt            time.Time
	ExitPrice           float64
	PNL                 float64
	PNLPercent          float64
	ExitReason          CloseReason
	Message             string
}

// TransitionTo moves the trade to next, refusing regressions and moves out of terminal states.
func (t *Trade) TransitionTo(next TradeStatus, at time.Time) error {
	if t.Status == next && !next.IsTerminal() {
		return nil
	}
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s (trade %d)", ErrInvalidTransition, t.Status, next, t.ID)
	}
	t.Status = next
	switch {
	case next == TradeStatusOpen:
		t.OpenedAt = at
	case next.IsTerminal():
		t.ClosedAt = at
	}
	return nil
}

// ExitSide is the side used by every reduce-only order of the trade.
func (t *Trade) ExitSide() OrderSide {
	return t.Side.Opposite()
}

// ActiveTakeProfits returns the non-zero take-profit prices in level order.
func (t *Trade) ActiveTakeProfits() []float64 {
	prices := make([]float64, 0, MaxTakeProfitLevels)
	for _, p := range t.TakeProfits {
		if p > 0 {
			prices = append(prices, p)
		}
	}
	return prices
}

// ProtectiveOrderByID returns the protective leg with the given exchange order id.
func (t *Trade) ProtectiveOrderByID(orderID int64) (*ProtectiveOrder, bool) {
	for i := range t.ProtectiveOrders {
		if t.ProtectiveOrders[i].OrderID == orderID {
			return &t.ProtectiveOrders[i], true
		}
	}
	return nil, false
}

// RemainingTakeProfits counts take-profit legs that have not filled yet.
func (t *Trade) RemainingTakeProfits() int {
	n := 0
	for _, o := range t.ProtectiveOrders {
		if o.Kind == LegTakeProfit && !o.Filled {
			n++
		}
	}
	return n
}

// RealizedPNL computes PnL and PnL percent of margin for an exit at exitPrice.
func (t *Trade) RealizedPNL(exitPrice float64) (pnl float64, pct float64) {
	qty := t.EntryQuantity.InexactFloat64()
	diff := exitPrice - t.EntryPrice
	if t.Side == Sell {
		diff = -diff
	}
	pnl = diff * qty
	leverage := t.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	margin := t.EntryPrice * qty / float64(leverage)
	if margin > 0 {
		pct = pnl / margin * 100
	}
	return pnl, pct
}
