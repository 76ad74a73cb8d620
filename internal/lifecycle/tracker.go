// Package lifecycle owns trade status changes. Every transition goes through Tracker.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"signalTrader/internal/domain"
	"signalTrader/internal/ports"
)

// Tracker is the single writer of trade status.
type Tracker struct {
	repo   ports.TradeRepository
	logger ports.Logger
	now    func() time.Time
}

// NewTracker creates a Tracker backed by repo.
func NewTracker(repo ports.TradeRepository, logger ports.Logger) *Tracker {
	return &Tracker{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Create persists a new trade in PENDING.
func (t *Tracker) Create(ctx context.Context, trade *domain.Trade) error {
	trade.Status = domain.TradeStatusPending
	if trade.ProtectiveState == "" {
		trade.ProtectiveState = domain.ProtectiveNone
	}
	trade.CreatedAt = t.now()
	id, err := t.repo.Create(ctx, trade)
	if err != nil {
		return fmt.Errorf("create trade for %s: %w", trade.Pair, err)
	}
	trade.ID = id
	t.logger.Info(ctx, "Trade created", map[string]interface{}{"tradeID": id, "pair": trade.Pair, "side": trade.Side})
	return nil
}

// Save persists non-status changes (order ids, protective legs, messages).
func (t *Tracker) Save(ctx context.Context, trade *domain.Trade) error {
	if err := t.repo.Update(ctx, trade); err != nil {
		return fmt.Errorf("save trade %d: %w", trade.ID, err)
	}
	return nil
}

// MarkOpen records the confirmed fill and moves the trade to OPEN.
func (t *Tracker) MarkOpen(ctx context.Context, trade *domain.Trade, fillPrice float64, fillQty decimal.Decimal) error {
	prev := *trade
	if err := trade.TransitionTo(domain.TradeStatusOpen, t.now()); err != nil {
		return err
	}
	if fillPrice > 0 {
		trade.EntryPrice = fillPrice
	}
	if fillQty.IsPositive() {
		trade.EntryQuantity = fillQty
	}
	if err := t.repo.Update(ctx, trade); err != nil {
		*trade = prev
		return fmt.Errorf("mark trade %d open: %w", trade.ID, err)
	}
	t.logger.Info(ctx, "Trade open", map[string]interface{}{
		"tradeID": trade.ID, "entryPrice": trade.EntryPrice, "quantity": trade.EntryQuantity.String(),
	})
	return nil
}

// MarkFailed moves a PENDING trade to FAILED with the reason kept verbatim.
func (t *Tracker) MarkFailed(ctx context.Context, trade *domain.Trade, reason string) error {
	prev := *trade
	if err := trade.TransitionTo(domain.TradeStatusFailed, t.now()); err != nil {
		return err
	}
	trade.Message = reason
	if err := t.repo.Update(ctx, trade); err != nil {
		*trade = prev
		return fmt.Errorf("mark trade %d failed: %w", trade.ID, err)
	}
	t.logger.Warn(ctx, "Trade failed", map[string]interface{}{"tradeID": trade.ID, "reason": reason})
	return nil
}

// Close moves an OPEN trade to a terminal exit status and records realized PnL.
func (t *Tracker) Close(ctx context.Context, trade *domain.Trade, status domain.TradeStatus, exitPrice float64, reason domain.CloseReason) error {
	if status != domain.TradeStatusClosed && status != domain.TradeStatusStoppedOut && status != domain.TradeStatusLiquidated {
		return fmt.Errorf("%w: %s is not an exit status", domain.ErrInvalidTransition, status)
	}
	prev := *trade
	if err := trade.TransitionTo(status, t.now()); err != nil {
		return err
	}
	trade.ExitPrice = exitPrice
	trade.ExitReason = reason
	if exitPrice > 0 {
		trade.PNL, trade.PNLPercent = trade.RealizedPNL(exitPrice)
	}
	if err := t.repo.Update(ctx, trade); err != nil {
		*trade = prev
		return fmt.Errorf("close trade %d: %w", trade.ID, err)
	}
	t.logger.Info(ctx, "Trade closed", map[string]interface{}{
		"tradeID": trade.ID, "status": status, "reason": reason, "exitPrice": exitPrice, "pnl": trade.PNL,
	})
	return nil
}
