package compliance

import (
	"fmt"

	"github.com/shopspring/decimal"

	"signalTrader/internal/domain"
	"signalTrader/internal/ports"
)

// ErrBelowMinNotional is returned when qty*price is under the symbol's minimum notional.
var ErrBelowMinNotional = fmt.Errorf("order value below minimum notional: %w", ports.ErrComplianceViolation)

// NormalizeQuantity rounds raw down to a multiple of the step size. Never rounds up.
func NormalizeQuantity(raw decimal.Decimal, rules domain.SymbolRules) decimal.Decimal {
	if !raw.IsPositive() {
		return decimal.Zero
	}
	if !rules.StepSize.IsPositive() {
		return raw.Truncate(rules.QuantityPrecision)
	}
	steps := raw.Div(rules.StepSize).Floor()
	return steps.Mul(rules.StepSize).Truncate(rules.QuantityPrecision)
}

// NormalizePrice rounds raw to the nearest tick.
func NormalizePrice(raw decimal.Decimal, rules domain.SymbolRules) decimal.Decimal {
	if !raw.IsPositive() {
		return decimal.Zero
	}
	if !rules.TickSize.IsPositive() {
		return raw.Round(rules.PricePrecision)
	}
	ticks := raw.Div(rules.TickSize).Round(0)
	return ticks.Mul(rules.TickSize).Round(rules.PricePrecision)
}

// FormatQuantity renders q at the step precision with no trailing zeros.
func FormatQuantity(q decimal.Decimal, rules domain.SymbolRules) string {
	return q.Truncate(rules.QuantityPrecision).String()
}

// FormatPrice renders p at the tick precision with no trailing zeros.
func FormatPrice(p decimal.Decimal, rules domain.SymbolRules) string {
	return p.Round(rules.PricePrecision).String()
}

// ValidateNotional rejects qty*price below the minimum notional unless the order is reduce-only.
func ValidateNotional(qty, price decimal.Decimal, rules domain.SymbolRules, reduceOnly bool) error {
	if reduceOnly {
		return nil
	}
	notional := qty.Mul(price)
	if notional.LessThan(rules.MinNotional) {
		return fmt.Errorf("%w: %s x %s = %s < %s (%s)",
			ErrBelowMinNotional, qty.String(), price.String(), notional.String(), rules.MinNotional.String(), rules.Symbol)
	}
	return nil
}
