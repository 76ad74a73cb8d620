package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"signalTrader/internal/domain"
	"signalTrader/internal/ports"
)

// RiskConfigStore implements ports.RiskConfigRepository. One row per account.
type RiskConfigStore struct {
	db     *sql.DB
	logger ports.Logger
}

var _ ports.RiskConfigRepository = (*RiskConfigStore)(nil)

// Save upserts the account's risk config, keeping the original created_at.
func (s *RiskConfigStore) Save(ctx context.Context, cfg *domain.RiskConfig) error {
	const query = `
	INSERT INTO risk_configs (account_id, margin_mode, max_leverage, max_position_value, max_position_is_percent,
	                          tp_exit_percentages, allocation_fraction, enable_trailing_stop, trailing_stop_percent,
	                          enable_breakeven, breakeven_profit_percent, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(account_id) DO UPDATE SET
		margin_mode = excluded.margin_mode,
		max_leverage = excluded.max_leverage,
		max_position_value = excluded.max_position_value,
		max_position_is_percent = excluded.max_position_is_percent,
		tp_exit_percentages = excluded.tp_exit_percentages,
		allocation_fraction = excluded.allocation_fraction,
		enable_trailing_stop = excluded.enable_trailing_stop,
		trailing_stop_percent = excluded.trailing_stop_percent,
		enable_breakeven = excluded.enable_breakeven,
		breakeven_profit_percent = excluded.breakeven_profit_percent,
		updated_at = excluded.updated_at`

	if cfg.AccountID == "" {
		return fmt.Errorf("risk config without account: %w", ports.ErrInvalidRequest)
	}
	pcts, err := encodeFloats(cfg.TPExitPercentages)
	if err != nil {
		return fmt.Errorf("failed to encode exit percentages for %s: %w", cfg.AccountID, err)
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, query,
		cfg.AccountID, cfg.MarginMode, cfg.MaxLeverage, cfg.MaxPositionValue, cfg.MaxPositionIsPercent,
		pcts, cfg.AllocationFraction, cfg.EnableTrailingStop, cfg.TrailingStopPercent,
		cfg.EnableBreakeven, cfg.BreakevenProfitPercent, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save risk config for %s: %w: %w", cfg.AccountID, ports.ErrUpdateFailed, err)
	}
	s.logger.Debug(ctx, "Risk config saved", map[string]interface{}{"accountID": cfg.AccountID})
	return nil
}

// FindByAccount returns the stored config, or nil when the account uses defaults.
func (s *RiskConfigStore) FindByAccount(ctx context.Context, accountID string) (*domain.RiskConfig, error) {
	const query = `
	SELECT account_id, margin_mode, max_leverage, max_position_value, max_position_is_percent,
	       tp_exit_percentages, allocation_fraction, enable_trailing_stop, trailing_stop_percent,
	       enable_breakeven, breakeven_profit_percent, created_at, updated_at
	FROM risk_configs WHERE account_id = ?`

	cfg := &domain.RiskConfig{}
	var marginMode, pcts string
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(
		&cfg.AccountID, &marginMode, &cfg.MaxLeverage, &cfg.MaxPositionValue, &cfg.MaxPositionIsPercent,
		&pcts, &cfg.AllocationFraction, &cfg.EnableTrailingStop, &cfg.TrailingStopPercent,
		&cfg.EnableBreakeven, &cfg.BreakevenProfitPercent, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query risk config for %s: %w: %w", accountID, ports.ErrQueryFailed, err)
	}
	cfg.MarginMode = domain.MarginMode(marginMode)
	if cfg.TPExitPercentages, err = decodeFloats(pcts); err != nil {
		return nil, fmt.Errorf("risk config for %s has malformed exit percentages: %w", accountID, err)
	}
	return cfg, nil
}

// Delete removes the stored config so the account falls back to defaults.
// Deleting a missing row is not an error.
func (s *RiskConfigStore) Delete(ctx context.Context, accountID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM risk_configs WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("failed to delete risk config for %s: %w: %w", accountID, ports.ErrUpdateFailed, err)
	}
	s.logger.Debug(ctx, "Risk config deleted", map[string]interface{}{"accountID": accountID})
	return nil
}
