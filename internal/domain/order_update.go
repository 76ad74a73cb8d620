package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses and execution types carried by order updates.
const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusExpired         = "EXPIRED"

	ExecutionTypeTrade      = "TRADE"
	ExecutionTypeCalculated = "CALCULATED" // liquidation
)

// OrderUpdate is a venue-neutral order event from the private user stream.
type OrderUpdate struct {
	Symbol          string
	OrderID         int64
	ClientOrderID   string
	Side            OrderSide
	Type            OrderType
	Status          string
	ExecutionType   string
	AveragePrice    float64
	LastFilledPrice float64
	FilledQuantity  decimal.Decimal
	ReduceOnly      bool
	EventTime       time.Time
}

// IsFilled reports whether the update is a terminal fill.
func (u *OrderUpdate) IsFilled() bool {
	return u.Status == OrderStatusFilled
}

// IsLiquidation reports whether the exchange closed the position by liquidation.
func (u *OrderUpdate) IsLiquidation() bool {
	return u.ExecutionType == ExecutionTypeCalculated
}

// FillPrice prefers the average price and falls back to the last fill.
func (u *OrderUpdate) FillPrice() float64 {
	if u.AveragePrice > 0 {
		return u.AveragePrice
	}
	return u.LastFilledPrice
}
