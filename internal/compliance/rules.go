// Package compliance turns arbitrary prices and quantities into values the exchange accepts.
package compliance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"signalTrader/internal/domain"
	"signalTrader/internal/ports"
)

// DefaultRulesTTL bounds how long fetched rules are reused.
const DefaultRulesTTL = 15 * time.Minute

// fetchTimeout bounds a shared exchange-info fetch. It does not follow any single
// caller's context because every waiter on the symbol receives its result.
const fetchTimeout = 10 * time.Second

var (
	defaultStepSize    = decimal.NewFromInt(1)
	defaultTickSize    = decimal.RequireFromString("0.01")
	defaultMinNotional = decimal.NewFromInt(10)
)

// FilterSource is the slice of the exchange client the normalizer reads from.
type FilterSource interface {
	GetSymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error)
}

// Normalizer fetches and caches per-symbol trading rules.
type Normalizer struct {
	source FilterSource
	logger ports.Logger
	ttl    time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]domain.SymbolRules
	group singleflight.Group
}

// NewNormalizer creates a Normalizer. A non-positive ttl uses DefaultRulesTTL.
func NewNormalizer(source FilterSource, logger ports.Logger, ttl time.Duration) *Normalizer {
	if ttl <= 0 {
		ttl = DefaultRulesTTL
	}
	return &Normalizer{
		source: source,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]domain.SymbolRules),
	}
}

// DefaultRules is the conservative fallback used when the exchange cannot be read.
func DefaultRules(symbol string) domain.SymbolRules {
	return domain.SymbolRules{
		Symbol:            symbol,
		StepSize:          defaultStepSize,
		TickSize:          defaultTickSize,
		MinNotional:       defaultMinNotional,
		QuantityPrecision: decimalPlaces(defaultStepSize),
		PricePrecision:    decimalPlaces(defaultTickSize),
		IsDefault:         true,
	}
}

// GetSymbolRules never fails: on any lookup problem it logs and returns DefaultRules.
// Defaults are not cached so the next call tries the exchange again.
func (n *Normalizer) GetSymbolRules(ctx context.Context, symbol string) domain.SymbolRules {
	if rules, ok := n.cached(symbol); ok {
		return rules
	}

	v, err, _ := n.group.Do(symbol, func() (interface{}, error) {
		if rules, ok := n.cached(symbol); ok {
			return rules, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		filters, err := n.source.GetSymbolFilters(fetchCtx, symbol)
		if err != nil {
			return nil, err
		}
		if filters == nil {
			return nil, fmt.Errorf("symbol %s not listed: %w", symbol, ports.ErrNotFound)
		}
		rules, err := ParseFilters(filters)
		if err != nil {
			return nil, err
		}
		rules.FetchedAt = n.now()

		n.mu.Lock()
		n.cache[symbol] = rules
		n.mu.Unlock()
		return rules, nil
	})
	if err != nil {
		n.logger.Warn(ctx, "Using default symbol rules", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return DefaultRules(symbol)
	}
	return v.(domain.SymbolRules)
}

// Invalidate drops a cached entry, e.g. after the exchange rejects an order for filter reasons.
func (n *Normalizer) Invalidate(symbol string) {
	n.mu.Lock()
	delete(n.cache, symbol)
	n.mu.Unlock()
}

func (n *Normalizer) cached(symbol string) (domain.SymbolRules, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	rules, ok := n.cache[symbol]
	if !ok || n.now().Sub(rules.FetchedAt) > n.ttl {
		return domain.SymbolRules{}, false
	}
	return rules, true
}

// ParseFilters converts raw filter strings to rules. Missing filters keep their defaults.
func ParseFilters(f *ports.SymbolFilters) (domain.SymbolRules, error) {
	rules := DefaultRules(f.Symbol)
	rules.IsDefault = false

	if f.StepSize != "" {
		step, err := decimal.NewFromString(f.StepSize)
		if err != nil {
			return domain.SymbolRules{}, fmt.Errorf("parse step size %q: %w", f.StepSize, err)
		}
		if step.IsPositive() {
			rules.StepSize = step
		}
	}
	if f.TickSize != "" {
		tick, err := decimal.NewFromString(f.TickSize)
		if err != nil {
			return domain.SymbolRules{}, fmt.Errorf("parse tick size %q: %w", f.TickSize, err)
		}
		if tick.IsPositive() {
			rules.TickSize = tick
		}
	}
	if f.MinNotional != "" {
		notional, err := decimal.NewFromString(f.MinNotional)
		if err != nil {
			return domain.SymbolRules{}, fmt.Errorf("parse min notional %q: %w", f.MinNotional, err)
		}
		rules.MinNotional = notional
	}

	rules.QuantityPrecision = decimalPlaces(rules.StepSize)
	rules.PricePrecision = decimalPlaces(rules.TickSize)
	return rules, nil
}

// decimalPlaces counts significant fractional digits, so "0.01000000" gives 2.
func decimalPlaces(d decimal.Decimal) int32 {
	s := d.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}
