package domain

import "time"

// RiskConfig holds the per-account limits read on every trade.
// Exactly one is active per account; a missing row means the injected default applies.
type RiskConfig struct {
	AccountID              string     `yaml:"-"`
	MarginMode             MarginMode `yaml:"margin_mode"`
	MaxLeverage            int        `yaml:"max_leverage"`
	MaxPositionValue       float64    `yaml:"max_position_value"`
	MaxPositionIsPercent   bool       `yaml:"max_position_is_percent"`
	TPExitPercentages      []float64  `yaml:"tp_exit_percentages"`
	AllocationFraction     float64    `yaml:"allocation_fraction"`
	EnableTrailingStop     bool       `yaml:"enable_trailing_stop"`
	TrailingStopPercent    float64    `yaml:"trailing_stop_percent"`
	EnableBreakeven        bool       `yaml:"enable_breakeven"`
	BreakevenProfitPercent float64    `yaml:"breakeven_profit_percent"`
	CreatedAt              time.Time  `yaml:"-"`
	UpdatedAt              time.Time  `yaml:"-"`
}

// DefaultRiskConfig returns the built-in risk profile used when nothing else is configured.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MarginMode:             MarginIsolated,
		MaxLeverage:            20,
		MaxPositionValue:       100,
		MaxPositionIsPercent:   true,
		TPExitPercentages:      []float64{25, 25, 25, 25},
		AllocationFraction:     0.5,
		TrailingStopPercent:    1,
		BreakevenProfitPercent: 1,
	}
}

// ForAccount returns a copy of c bound to accountID.
func (c RiskConfig) ForAccount(accountID string) RiskConfig {
	c.AccountID = accountID
	c.TPExitPercentages = append([]float64(nil), c.TPExitPercentages...)
	return c
}
