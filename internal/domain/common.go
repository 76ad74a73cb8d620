package domain

import "strings"

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the side that reduces a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseOrderSide maps signal notation (LONG/SHORT) and order notation (BUY/SELL) to an OrderSide.
func ParseOrderSide(raw string) (OrderSide, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "LONG":
		return Buy, true
	case "SELL", "SHORT":
		return Sell, true
	default:
		return "", false
	}
}

// Direction is the position direction carried by a signal.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Side returns the entry order side for the direction.
func (d Direction) Side() OrderSide {
	if d == Short {
		return Sell
	}
	return Buy
}

// OrderType mirrors the futures order types used by the orchestrator.
type OrderType string

const (
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// MarginMode is the futures margin type for a symbol.
type MarginMode string

const (
	MarginIsolated MarginMode = "ISOLATED"
	MarginCrossed  MarginMode = "CROSSED"
)

// ParseMarginMode accepts the spellings users tend to send (ISOLATE, CROSS).
func ParseMarginMode(raw string) (MarginMode, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ISOLATE", "ISOLATED":
		return MarginIsolated, true
	case "CROSS", "CROSSED":
		return MarginCrossed, true
	default:
		return "", false
	}
}

// CloseReason indicates why a trade was closed.
type CloseReason string

const (
	CloseReasonStopLoss    CloseReason = "SL"
	CloseReasonTakeProfit  CloseReason = "TP"
	CloseReasonManual      CloseReason = "MANUAL"
	CloseReasonLiquidation CloseReason = "LIQUIDATION"
	CloseReasonUnknown     CloseReason = "UNKNOWN"
)

// NormalizeSymbol strips the perpetual ".P" suffix used in signal channels.
func NormalizeSymbol(pair string) string {
	symbol := strings.ToUpper(strings.TrimSpace(pair))
	return strings.TrimSuffix(symbol, ".P")
}
