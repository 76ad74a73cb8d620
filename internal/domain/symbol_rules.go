package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SymbolRules are the exchange filters an order must satisfy.
type SymbolRules struct {
	Symbol            string
	StepSize          decimal.Decimal
	TickSize          decimal.Decimal
	MinNotional       decimal.Decimal
	QuantityPrecision int32
	PricePrecision    int32
	FetchedAt         time.Time
	IsDefault         bool // built-in fallback, not read from the exchange
}
