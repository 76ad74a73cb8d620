package risk

import (
	"context"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalTrader/internal/compliance"
	"signalTrader/internal/domain"
	"signalTrader/internal/ports"
)

func testRules(t *testing.T, step string) domain.SymbolRules {
	t.Helper()
	rules, err := compliance.ParseFilters(&ports.SymbolFilters{Symbol: "ABCUSDT", StepSize: step, TickSize: "0.001", MinNotional: "5"})
	require.NoError(t, err)
	return rules
}

func TestManager_ComputeQuantity(t *testing.T) {
	m := NewManager(ports.NopLogger{})
	cfg := domain.DefaultRiskConfig()
	ctx := context.Background()

	tests := []struct {
		name      string
		requested float64
		entry     float64
		leverage  int
		balance   float64
		fraction  float64
		want      string
	}{
		{name: "explicit quantity used as is", requested: 0.575, entry: 100, leverage: 10, balance: 1000, fraction: 0.5, want: "0.575"},
		{name: "derived from balance", entry: 100, leverage: 10, balance: 1000, fraction: 0.5, want: "50"},
		{name: "configurable fraction", entry: 100, leverage: 10, balance: 1000, fraction: 0.25, want: "25"},
		{name: "zero leverage treated as 1x", entry: 50, leverage: 0, balance: 1000, fraction: 0.5, want: "10"},
		{name: "zero balance floors", entry: 100, leverage: 10, balance: 0, fraction: 0.5, want: "0.001"},
		{name: "missing entry floors", entry: 0, leverage: 10, balance: 1000, fraction: 0.5, want: "0.001"},
		{name: "tiny result floors", entry: 1_000_000, leverage: 1, balance: 1, fraction: 0.5, want: "0.001"},
		{name: "invalid fraction uses default", entry: 100, leverage: 10, balance: 1000, fraction: 3, want: "50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			c.AllocationFraction = tt.fraction
			got := m.ComputeQuantity(ctx, tt.requested, tt.entry, tt.leverage, tt.balance, c)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestCapLeverage(t *testing.T) {
	cfg := domain.DefaultRiskConfig()
	cfg.MaxLeverage = 10

	applied, capped := CapLeverage(20, cfg)
	assert.Equal(t, 10, applied)
	assert.True(t, capped)

	applied, capped = CapLeverage(5, cfg)
	assert.Equal(t, 5, applied)
	assert.False(t, capped)

	applied, capped = CapLeverage(0, cfg)
	assert.Equal(t, 1, applied)
	assert.False(t, capped)

	for requested := -5; requested <= 200; requested++ {
		once, _ := CapLeverage(requested, cfg)
		twice, cappedAgain := CapLeverage(once, cfg)
		assert.Equal(t, once, twice, "capLeverage not idempotent for %d", requested)
		assert.False(t, cappedAgain)
		assert.LessOrEqual(t, once, cfg.MaxLeverage)
	}
}

func TestManager_CapPositionValue(t *testing.T) {
	m := NewManager(ports.NopLogger{})
	ctx := context.Background()

	t.Run("absolute limit", func(t *testing.T) {
		cfg := domain.DefaultRiskConfig()
		cfg.MaxPositionIsPercent = false
		cfg.MaxPositionValue = 500

		qty, capped := m.CapPositionValue(ctx, decimal.NewFromInt(10), 100, 10, 1000, cfg)
		assert.True(t, capped)
		assert.Equal(t, "5", qty.String())

		qty, capped = m.CapPositionValue(ctx, decimal.NewFromInt(4), 100, 10, 1000, cfg)
		assert.False(t, capped)
		assert.Equal(t, "4", qty.String())
	})

	t.Run("percent of balance as margin", func(t *testing.T) {
		cfg := domain.DefaultRiskConfig()
		cfg.MaxPositionIsPercent = true
		cfg.MaxPositionValue = 10

		// 10% of 1000 = 100 margin, x5 leverage = 500 notional
		qty, capped := m.CapPositionValue(ctx, decimal.NewFromInt(10), 100, 5, 1000, cfg)
		assert.True(t, capped)
		assert.Equal(t, "5", qty.String())
	})

	t.Run("zero means unlimited", func(t *testing.T) {
		cfg := domain.DefaultRiskConfig()
		cfg.MaxPositionValue = 0
		qty, capped := m.CapPositionValue(ctx, decimal.NewFromInt(1_000), 100, 5, 1000, cfg)
		assert.False(t, capped)
		assert.Equal(t, "1000", qty.String())
	})
}

func TestSplitExitQuantity(t *testing.T) {
	rules := testRules(t, "0.001")

	legs, err := SplitExitQuantity(decimal.RequireFromString("1.003"), []float64{25, 25, 25, 25}, rules)
	require.NoError(t, err)
	got := make([]string, len(legs))
	for i, l := range legs {
		got[i] = l.String()
	}
	assert.Equal(t, []string{"0.25", "0.25", "0.25", "0.253"}, got)

	_, err = SplitExitQuantity(decimal.NewFromInt(1), []float64{50, 40}, rules)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, ports.ErrValidation)

	_, err = SplitExitQuantity(decimal.NewFromInt(1), nil, rules)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSplitExitQuantity_SumsToTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	splits := [][]float64{
		{100},
		{50, 50},
		{50, 30, 20},
		{33.33, 33.33, 33.34},
		{25, 25, 25, 25},
		{10, 20, 30, 40},
	}
	steps := []string{"1", "0.1", "0.01", "0.001"}

	for i := 0; i < 300; i++ {
		rules := testRules(t, steps[rng.Intn(len(steps))])
		pcts := splits[rng.Intn(len(splits))]
		total := compliance.NormalizeQuantity(decimal.NewFromFloat(rng.Float64()*500).Round(4), rules)

		legs, err := SplitExitQuantity(total, pcts, rules)
		require.NoError(t, err)
		require.Len(t, legs, len(pcts))

		sum := decimal.Zero
		for _, l := range legs {
			assert.False(t, l.IsNegative())
			sum = sum.Add(l)
		}
		assert.True(t, sum.Equal(total), "legs %v sum to %s, want %s", legs, sum, total)
	}
}

func TestExitPercentages(t *testing.T) {
	cfg := domain.DefaultRiskConfig()

	assert.Equal(t, []float64{25, 25, 25, 25}, ExitPercentages(cfg, 4))
	assert.Equal(t, []float64{50, 50}, ExitPercentages(cfg, 2))
	assert.Nil(t, ExitPercentages(cfg, 0))

	cfg.TPExitPercentages = []float64{60, 40}
	assert.Equal(t, []float64{60, 40}, ExitPercentages(cfg, 2))
	thirds := ExitPercentages(cfg, 3)
	require.Len(t, thirds, 3)
	assert.InDelta(t, 100.0/3, thirds[0], 1e-9)

	cfg.TPExitPercentages = []float64{40, 30, 20, 10}
	one := ExitPercentages(cfg, 1)
	assert.Equal(t, []float64{100}, one)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.RiskConfig)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *domain.RiskConfig) {}},
		{name: "cross margin", mutate: func(c *domain.RiskConfig) { c.MarginMode = domain.MarginCrossed }},
		{name: "three levels summing to 100", mutate: func(c *domain.RiskConfig) { c.TPExitPercentages = []float64{50, 30, 20} }},
		{name: "percentages not summing to 100", mutate: func(c *domain.RiskConfig) { c.TPExitPercentages = []float64{25, 25, 25, 20} }, wantErr: true},
		{name: "zero percentage", mutate: func(c *domain.RiskConfig) { c.TPExitPercentages = []float64{100, 0} }, wantErr: true},
		{name: "too many levels", mutate: func(c *domain.RiskConfig) { c.TPExitPercentages = []float64{20, 20, 20, 20, 20} }, wantErr: true},
		{name: "no levels", mutate: func(c *domain.RiskConfig) { c.TPExitPercentages = nil }, wantErr: true},
		{name: "unknown margin mode", mutate: func(c *domain.RiskConfig) { c.MarginMode = "PORTFOLIO" }, wantErr: true},
		{name: "leverage above venue max", mutate: func(c *domain.RiskConfig) { c.MaxLeverage = 200 }, wantErr: true},
		{name: "zero leverage", mutate: func(c *domain.RiskConfig) { c.MaxLeverage = 0 }, wantErr: true},
		{name: "bad allocation", mutate: func(c *domain.RiskConfig) { c.AllocationFraction = 0 }, wantErr: true},
		{name: "percent over 100", mutate: func(c *domain.RiskConfig) { c.MaxPositionValue = 150 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultRiskConfig()
			tt.mutate(&cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}
