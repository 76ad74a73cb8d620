package app

import (
	"context"
	"fmt"

	"signalTrader/internal/domain"
)

// ConsumeFills applies updates until ctx is done. A failing update is logged and skipped.
func (s *TradingService) ConsumeFills(ctx context.Context, updates <-chan *domain.OrderUpdate) error {
	s.logger.Info(ctx, "Fill consumer started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Fill consumer stopping")
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := s.HandleFill(ctx, u); err != nil {
				s.logger.Error(ctx, err, "Failed to apply order update", map[string]interface{}{
					"orderID": u.OrderID, "symbol": u.Symbol, "status": u.Status,
				})
			}
		}
	}
}

// HandleFill applies one order update. Entry fills open the trade and place its
// protective orders exactly once; protective fills and liquidations close it.
// Updates for untracked orders and repeated updates are ignored.
func (s *TradingService) HandleFill(ctx context.Context, u *domain.OrderUpdate) error {
	if u == nil {
		return nil
	}
	s.entryMu.Lock()
	defer s.entryMu.Unlock()

	if u.IsLiquidation() {
		return s.handleLiquidation(ctx, u)
	}
	if !u.IsFilled() {
		return nil
	}

	trade, err := s.trades.FindByOrderID(ctx, u.Symbol, u.OrderID)
	if err != nil {
		return fmt.Errorf("lookup trade for order %s/%d: %w", u.Symbol, u.OrderID, err)
	}
	if trade == nil || trade.Pair != u.Symbol {
		s.logger.Debug(ctx, "Fill for untracked order ignored", map[string]interface{}{"orderID": u.OrderID, "symbol": u.Symbol})
		return nil
	}
	if trade.Status.IsTerminal() {
		s.logger.Debug(ctx, "Fill for finished trade ignored", map[string]interface{}{"tradeID": trade.ID, "status": trade.Status})
		return nil
	}

	if u.OrderID == trade.EntryOrderID {
		return s.handleEntryFill(ctx, trade, u)
	}
	if leg, ok := trade.ProtectiveOrderByID(u.OrderID); ok {
		return s.handleLegFill(ctx, trade, leg, u)
	}
	return nil
}

func (s *TradingService) handleEntryFill(ctx context.Context, trade *domain.Trade, u *domain.OrderUpdate) error {
	op := "handleEntryFill"
	fields := map[string]interface{}{"tradeID": trade.ID, "orderID": u.OrderID, "price": u.FillPrice(), "quantity": u.FilledQuantity.String()}

	switch {
	case trade.ProtectiveState == domain.ProtectiveAwaitingFill:
		if err := s.tracker.MarkOpen(ctx, trade, u.FillPrice(), u.FilledQuantity); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		cfg, err := s.GetRiskConfig(ctx, trade.AccountID)
		if err != nil {
			s.logger.Warn(ctx, op+": risk config unavailable, using defaults", map[string]interface{}{"tradeID": trade.ID, "error": err.Error()})
			cfg = s.cfg.DefaultRisk.ForAccount(trade.AccountID)
		}

		placement := s.orchestrator.PlaceProtectiveOrders(ctx, trade, trade.EntryQuantity, cfg)
		if err := s.saveTrade(ctx, trade); err != nil {
			// Unrecorded legs would be duplicated by a redelivered fill.
			s.cancelUnfilledLegs(ctx, trade)
			return fmt.Errorf("%s: save protective orders: %w", op, err)
		}
		if !placement.OK() {
			s.logger.Error(ctx, placement.Err(), op+": protective orders incomplete", fields)
			return nil
		}
		s.logger.Info(ctx, op+": entry filled, protective orders placed", fields)

	case trade.Status == domain.TradeStatusPending:
		// Protective orders went out with the entry; only the status is behind.
		if err := s.tracker.MarkOpen(ctx, trade, u.FillPrice(), u.FilledQuantity); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

	default:
		s.logger.Debug(ctx, op+": duplicate entry fill ignored", fields)
	}
	return nil
}

func (s *TradingService) handleLegFill(ctx context.Context, trade *domain.Trade, leg *domain.ProtectiveOrder, u *domain.OrderUpdate) error {
	op := "handleLegFill"
	if leg.Filled {
		s.logger.Debug(ctx, op+": duplicate fill ignored", map[string]interface{}{"tradeID": trade.ID, "orderID": u.OrderID})
		return nil
	}
	if trade.Status == domain.TradeStatusPending {
		// The entry fill was missed; an exit cannot fill without a position.
		if err := s.tracker.MarkOpen(ctx, trade, 0, trade.EntryQuantity); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	leg.Filled = true
	price := u.FillPrice()
	fields := map[string]interface{}{"tradeID": trade.ID, "kind": leg.Kind, "level": leg.Level, "price": price}

	switch leg.Kind {
	case domain.LegStopLoss:
		s.cancelUnfilledLegs(ctx, trade)
		s.logger.Info(ctx, op+": stop-loss filled", fields)
		return s.tracker.Close(ctx, trade, domain.TradeStatusStoppedOut, price, domain.CloseReasonStopLoss)

	case domain.LegTakeProfit:
		if trade.RemainingTakeProfits() > 0 {
			s.logger.Info(ctx, op+": take-profit filled", fields)
			return s.tracker.Save(ctx, trade)
		}
		s.cancelUnfilledLegs(ctx, trade)
		s.logger.Info(ctx, op+": final take-profit filled", fields)
		reason := domain.CloseReason(fmt.Sprintf("%s%d", domain.CloseReasonTakeProfit, leg.Level))
		return s.tracker.Close(ctx, trade, domain.TradeStatusClosed, price, reason)
	}
	return nil
}

// handleLiquidation closes every OPEN trade on the liquidated symbol and side.
func (s *TradingService) handleLiquidation(ctx context.Context, u *domain.OrderUpdate) error {
	trades, err := s.trades.FindActiveBySymbol(ctx, u.Symbol)
	if err != nil {
		return fmt.Errorf("lookup trades for liquidation of %s: %w", u.Symbol, err)
	}

	closed := 0
	for _, trade := range trades {
		if trade.Status != domain.TradeStatusOpen {
			continue
		}
		if u.Side != "" && trade.ExitSide() != u.Side {
			continue
		}
		if err := s.tracker.Close(ctx, trade, domain.TradeStatusLiquidated, u.FillPrice(), domain.CloseReasonLiquidation); err != nil {
			s.logger.Error(ctx, err, "Failed to record liquidation", map[string]interface{}{"tradeID": trade.ID})
			continue
		}
		closed++
	}
	if closed == 0 {
		s.logger.Warn(ctx, "Liquidation for untracked position", map[string]interface{}{"symbol": u.Symbol, "orderID": u.OrderID})
		return nil
	}

	callCtx, cancel := s.orchestrator.call(ctx)
	defer cancel()
	if err := s.exchange.CancelAllOpenOrders(callCtx, u.Symbol); err != nil {
		s.logger.Warn(ctx, "Failed to cancel orders after liquidation", map[string]interface{}{"symbol": u.Symbol, "error": err.Error()})
	}
	return nil
}

// cancelUnfilledLegs cancels the trade's resting protective orders after the position is gone.
func (s *TradingService) cancelUnfilledLegs(ctx context.Context, trade *domain.Trade) {
	for _, l := range trade.ProtectiveOrders {
		if !l.Filled {
			s.cancelOrderWarn(ctx, trade.Pair, l.OrderID, l.Kind)
		}
	}
}
