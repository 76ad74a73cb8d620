package risk

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"signalTrader/internal/compliance"
	"signalTrader/internal/domain"
	"signalTrader/internal/ports"
)

// MaxExchangeLeverage is the highest leverage the venue accepts for any symbol.
const MaxExchangeLeverage = 125

var (
	// ErrInvalidConfig wraps every risk config validation failure.
	ErrInvalidConfig = fmt.Errorf("invalid risk config: %w", ports.ErrValidation)

	defaultMinQuantity = decimal.RequireFromString("0.001")
	hundred            = decimal.NewFromInt(100)
)

// Manager sizes positions and applies the account's risk limits.
// The risk config is passed per call; Manager holds no account state.
type Manager struct {
	logger      ports.Logger
	minQuantity decimal.Decimal
}

// NewManager creates a risk manager with the default floor quantity.
func NewManager(logger ports.Logger) *Manager {
	return &Manager{logger: logger, minQuantity: defaultMinQuantity}
}

// ComputeQuantity returns the requested quantity when one was given, otherwise
// balance * allocation * leverage / entry, floored at the minimum quantity.
func (m *Manager) ComputeQuantity(ctx context.Context, requested, entry float64, leverage int, balance float64, cfg domain.RiskConfig) decimal.Decimal {
	if requested > 0 {
		return decimal.NewFromFloat(requested)
	}
	if leverage <= 0 {
		leverage = 1
	}

	fraction := cfg.AllocationFraction
	if fraction <= 0 || fraction > 1 {
		fraction = domain.DefaultRiskConfig().AllocationFraction
	}

	qty := decimal.Zero
	if entry > 0 && balance > 0 {
		qty = decimal.NewFromFloat(balance).
			Mul(decimal.NewFromFloat(fraction)).
			Mul(decimal.NewFromInt(int64(leverage))).
			Div(decimal.NewFromFloat(entry))
	}
	if qty.LessThan(m.minQuantity) {
		m.logger.Warn(ctx, "Derived quantity below floor, using minimum", map[string]interface{}{
			"derived": qty.String(), "minimum": m.minQuantity.String(), "balance": balance, "entry": entry,
		})
		return m.minQuantity
	}
	return qty
}

// CapLeverage returns min(requested, cfg.MaxLeverage) and whether capping happened.
// Non-positive requests are treated as 1x.
func CapLeverage(requested int, cfg domain.RiskConfig) (int, bool) {
	if requested <= 0 {
		requested = 1
	}
	maxLev := cfg.MaxLeverage
	if maxLev <= 0 || maxLev > MaxExchangeLeverage {
		maxLev = MaxExchangeLeverage
	}
	if requested > maxLev {
		return maxLev, true
	}
	return requested, false
}

// MaxPositionValue is the largest notional allowed for a new position, zero meaning unlimited.
// In percent mode the percentage applies to the margin committed, so it scales with leverage.
func MaxPositionValue(balance float64, leverage int, cfg domain.RiskConfig) decimal.Decimal {
	if cfg.MaxPositionValue <= 0 {
		return decimal.Zero
	}
	limit := decimal.NewFromFloat(cfg.MaxPositionValue)
	if !cfg.MaxPositionIsPercent {
		return limit
	}
	if leverage <= 0 {
		leverage = 1
	}
	return decimal.NewFromFloat(balance).Mul(limit).Div(hundred).Mul(decimal.NewFromInt(int64(leverage)))
}

// CapPositionValue shrinks qty so qty*entry stays within the configured maximum.
func (m *Manager) CapPositionValue(ctx context.Context, qty decimal.Decimal, entry float64, leverage int, balance float64, cfg domain.RiskConfig) (decimal.Decimal, bool) {
	limit := MaxPositionValue(balance, leverage, cfg)
	if !limit.IsPositive() || entry <= 0 {
		return qty, false
	}
	price := decimal.NewFromFloat(entry)
	if qty.Mul(price).LessThanOrEqual(limit) {
		return qty, false
	}
	capped := limit.Div(price)
	m.logger.Info(ctx, "Position value capped", map[string]interface{}{
		"requestedQty": qty.String(), "cappedQty": capped.String(), "maxValue": limit.String(),
	})
	return capped, true
}

// ExitPercentages returns the exit split for a trade with the given number of take-profit levels.
// The configured percentages for those levels are rescaled so they sum to 100.
func ExitPercentages(cfg domain.RiskConfig, levels int) []float64 {
	if levels <= 0 {
		return nil
	}
	src := cfg.TPExitPercentages
	if len(src) < levels {
		// Not enough configured levels: split evenly.
		out := make([]float64, levels)
		for i := range out {
			out[i] = 100 / float64(levels)
		}
		return out
	}
	src = src[:levels]
	total := 0.0
	for _, p := range src {
		total += p
	}
	out := make([]float64, levels)
	for i, p := range src {
		if total > 0 {
			out[i] = p / total * 100
		} else {
			out[i] = 100 / float64(levels)
		}
	}
	return out
}

// SplitExitQuantity splits total across take-profit levels. The first N-1 legs are
// normalized shares; the last leg takes the remainder so the legs sum to total exactly.
func SplitExitQuantity(total decimal.Decimal, percentages []float64, rules domain.SymbolRules) ([]decimal.Decimal, error) {
	if len(percentages) == 0 {
		return nil, fmt.Errorf("%w: no take-profit percentages", ErrInvalidConfig)
	}
	if err := validatePercentages(percentages); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	legs := make([]decimal.Decimal, len(percentages))
	allocated := decimal.Zero
	for i, pct := range percentages[:len(percentages)-1] {
		share := total.Mul(decimal.NewFromFloat(pct)).Div(hundred)
		legs[i] = compliance.NormalizeQuantity(share, rules)
		allocated = allocated.Add(legs[i])
	}
	legs[len(legs)-1] = total.Sub(allocated)
	return legs, nil
}

// ValidateConfig rejects risk configs the orchestrator cannot apply.
func ValidateConfig(cfg domain.RiskConfig) error {
	var errs []string

	if _, ok := domain.ParseMarginMode(string(cfg.MarginMode)); !ok {
		errs = append(errs, fmt.Sprintf("margin mode %q must be ISOLATED or CROSSED", cfg.MarginMode))
	}
	if cfg.MaxLeverage < 1 || cfg.MaxLeverage > MaxExchangeLeverage {
		errs = append(errs, fmt.Sprintf("max leverage must be between 1 and %d", MaxExchangeLeverage))
	}
	if cfg.MaxPositionValue < 0 {
		errs = append(errs, "max position value cannot be negative")
	}
	if cfg.MaxPositionIsPercent && cfg.MaxPositionValue > 100 {
		errs = append(errs, "max position percent cannot exceed 100")
	}
	if cfg.AllocationFraction <= 0 || cfg.AllocationFraction > 1 {
		errs = append(errs, "allocation fraction must be in (0, 1]")
	}
	if cfg.TrailingStopPercent < 0 || cfg.BreakevenProfitPercent < 0 {
		errs = append(errs, "trailing stop and breakeven percentages cannot be negative")
	}
	if n := len(cfg.TPExitPercentages); n == 0 || n > domain.MaxTakeProfitLevels {
		errs = append(errs, fmt.Sprintf("between 1 and %d take-profit levels are required", domain.MaxTakeProfitLevels))
	} else if err := validatePercentages(cfg.TPExitPercentages); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

func validatePercentages(percentages []float64) error {
	sum := decimal.Zero
	for i, p := range percentages {
		if p <= 0 {
			return fmt.Errorf("take-profit %d percentage must be positive", i+1)
		}
		sum = sum.Add(decimal.NewFromFloat(p))
	}
	if sum.Sub(hundred).Abs().GreaterThan(decimal.RequireFromString("0.000001")) {
		return fmt.Errorf("take-profit percentages sum to %s, want 100", sum.String())
	}
	return nil
}
