package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"signalTrader/internal/domain"
	"signalTrader/internal/ports"
)

// TradeStore implements ports.TradeRepository.
type TradeStore struct {
	db     *sql.DB
	logger ports.Logger
}

var _ ports.TradeRepository = (*TradeStore)(nil)

const tradeColumns = `
	id, account_id, COALESCE(signal_id, 0), pair, side, requested_leverage, leverage, leverage_capped,
	entry_price, entry_quantity, stop_loss, tp1, tp2, tp3, tp4, entry_order_id, entry_client_order_id,
	status, protective_state, protective_placed, protective_attempted, created_at, opened_at, closed_at,
	exit_price, pnl, pnl_percent, exit_reason, message`

// Create saves a new trade with its protective orders and returns its assigned ID.
func (s *TradeStore) Create(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (account_id, signal_id, pair, side, requested_leverage, leverage, leverage_capped,
	                    entry_price, entry_quantity, stop_loss, tp1, tp2, tp3, tp4, entry_order_id,
	                    entry_client_order_id, status, protective_state, protective_placed, protective_attempted,
	                    created_at, opened_at, closed_at, exit_price, pnl, pnl_percent, exit_reason, message)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin trade insert for %s: %w: %w", trade.Pair, ports.ErrQueryFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	result, err := tx.ExecContext(ctx, query,
		trade.AccountID, nullInt64(trade.SignalID), trade.Pair, trade.Side, trade.RequestedLeverage, trade.Leverage,
		trade.LeverageCapped, trade.EntryPrice, trade.EntryQuantity.String(), trade.StopLoss,
		trade.TakeProfits[0], trade.TakeProfits[1], trade.TakeProfits[2], trade.TakeProfits[3],
		trade.EntryOrderID, trade.EntryClientOrderID, trade.Status, trade.ProtectiveState,
		trade.ProtectivePlaced, trade.ProtectiveAttempted, trade.CreatedAt, nullTime(trade.OpenedAt),
		nullTime(trade.ClosedAt), trade.ExitPrice, trade.PNL, trade.PNLPercent, trade.ExitReason, trade.Message)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for symbol %s: %w: %w", trade.Pair, ports.ErrQueryFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.Pair, err)
	}
	if err := insertProtectiveOrders(ctx, tx, id, trade.ProtectiveOrders); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit trade %s: %w: %w", trade.Pair, ports.ErrQueryFailed, err)
	}

	trade.ID = id
	s.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": id, "symbol": trade.Pair})
	return id, nil
}

// Update modifies an existing trade and replaces its protective orders.
func (s *TradeStore) Update(ctx context.Context, trade *domain.Trade) error {
	const query = `
	UPDATE trades
	SET requested_leverage = ?, leverage = ?, leverage_capped = ?, entry_price = ?, entry_quantity = ?,
	    stop_loss = ?, tp1 = ?, tp2 = ?, tp3 = ?, tp4 = ?, entry_order_id = ?, entry_client_order_id = ?,
	    status = ?, protective_state = ?, protective_placed = ?, protective_attempted = ?,
	    opened_at = ?, closed_at = ?, exit_price = ?, pnl = ?, pnl_percent = ?, exit_reason = ?, message = ?
	WHERE id = ?`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin update of trade ID %d: %w: %w", trade.ID, ports.ErrUpdateFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	result, err := tx.ExecContext(ctx, query,
		trade.RequestedLeverage, trade.Leverage, trade.LeverageCapped, trade.EntryPrice, trade.EntryQuantity.String(),
		trade.StopLoss, trade.TakeProfits[0], trade.TakeProfits[1], trade.TakeProfits[2], trade.TakeProfits[3],
		trade.EntryOrderID, trade.EntryClientOrderID, trade.Status, trade.ProtectiveState,
		trade.ProtectivePlaced, trade.ProtectiveAttempted, nullTime(trade.OpenedAt), nullTime(trade.ClosedAt),
		trade.ExitPrice, trade.PNL, trade.PNLPercent, trade.ExitReason, trade.Message,
		trade.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade ID %d: %w: %w", trade.ID, ports.ErrUpdateFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update trade ID %d: %w", trade.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade ID %d not found for update: %w", trade.ID, ports.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM protective_orders WHERE trade_id = ?`, trade.ID); err != nil {
		return fmt.Errorf("failed to clear protective orders of trade ID %d: %w: %w", trade.ID, ports.ErrUpdateFailed, err)
	}
	if err := insertProtectiveOrders(ctx, tx, trade.ID, trade.ProtectiveOrders); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trade ID %d: %w: %w", trade.ID, ports.ErrUpdateFailed, err)
	}

	s.logger.Debug(ctx, "Trade updated", map[string]interface{}{"tradeID": trade.ID, "symbol": trade.Pair, "status": trade.Status})
	return nil
}

// FindByID retrieves a trade by its unique ID.
func (s *TradeStore) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = ?`

	trade, err := scanTrade(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Debug(ctx, "Trade not found by ID", map[string]interface{}{"tradeID": id})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query trade by ID %d: %w: %w", id, ports.ErrQueryFailed, err)
	}
	if err := s.loadProtectiveOrders(ctx, trade); err != nil {
		return nil, err
	}
	return trade, nil
}

// FindByOrderID retrieves the trade on symbol whose entry or protective order has orderID.
// Exchange order ids are only unique within a symbol.
func (s *TradeStore) FindByOrderID(ctx context.Context, symbol string, orderID int64) (*domain.Trade, error) {
	if orderID <= 0 || symbol == "" {
		return nil, nil
	}
	query := `SELECT ` + tradeColumns + `
	FROM trades
	WHERE pair = ? AND (entry_order_id = ? OR id IN (SELECT trade_id FROM protective_orders WHERE order_id = ?))
	ORDER BY id DESC LIMIT 1`

	trade, err := scanTrade(s.db.QueryRowContext(ctx, query, symbol, orderID, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade by order ID %d: %w: %w", orderID, ports.ErrQueryFailed, err)
	}
	if err := s.loadProtectiveOrders(ctx, trade); err != nil {
		return nil, err
	}
	return trade, nil
}

// FindByAccount retrieves the most recent trades for an account, up to a limit.
func (s *TradeStore) FindByAccount(ctx context.Context, accountID string, limit int) ([]*domain.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + tradeColumns + `
	FROM trades
	WHERE account_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	trades, err := s.queryTrades(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for account %s: %w", accountID, err)
	}
	return trades, nil
}

// FindActiveBySymbol returns the PENDING and OPEN trades on symbol, newest first.
func (s *TradeStore) FindActiveBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + `
	FROM trades
	WHERE pair = ? AND status IN (?, ?) ORDER BY id DESC`

	trades, err := s.queryTrades(ctx, query, symbol, domain.TradeStatusPending, domain.TradeStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query active trades for %s: %w", symbol, err)
	}
	return trades, nil
}

// queryTrades runs a multi-row trade query and loads each trade's protective orders.
func (s *TradeStore) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrQueryFailed, err)
	}

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}

	// Legs are loaded after the cursor is closed; the pool has a single connection.
	for _, trade := range trades {
		if err := s.loadProtectiveOrders(ctx, trade); err != nil {
			return nil, err
		}
	}
	return trades, nil
}

func (s *TradeStore) loadProtectiveOrders(ctx context.Context, trade *domain.Trade) error {
	const query = `
	SELECT kind, level, order_id, trigger_price, quantity, filled
	FROM protective_orders WHERE trade_id = ? ORDER BY kind ASC, level ASC`

	rows, err := s.db.QueryContext(ctx, query, trade.ID)
	if err != nil {
		return fmt.Errorf("failed to query protective orders of trade ID %d: %w: %w", trade.ID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trade.ProtectiveOrders = nil
	for rows.Next() {
		var o domain.ProtectiveOrder
		var kind string
		if err := rows.Scan(&kind, &o.Level, &o.OrderID, &o.TriggerPrice, &o.Quantity, &o.Filled); err != nil {
			return fmt.Errorf("failed to scan protective order of trade ID %d: %w", trade.ID, err)
		}
		o.Kind = domain.LegKind(kind)
		trade.ProtectiveOrders = append(trade.ProtectiveOrders, o)
	}
	return rows.Err()
}

func insertProtectiveOrders(ctx context.Context, tx *sql.Tx, tradeID int64, orders []domain.ProtectiveOrder) error {
	const query = `
	INSERT INTO protective_orders (trade_id, kind, level, order_id, trigger_price, quantity, filled)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	for _, o := range orders {
		if _, err := tx.ExecContext(ctx, query,
			tradeID, o.Kind, o.Level, o.OrderID, o.TriggerPrice, o.Quantity.String(), o.Filled); err != nil {
			return fmt.Errorf("failed to insert %s leg for trade ID %d: %w: %w", o.Kind, tradeID, ports.ErrQueryFailed, err)
		}
	}
	return nil
}

// scanTrade scans a row into a domain.Trade struct (without protective orders).
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, status, protectiveState, exitReason string
	var openedAt, closedAt sql.NullTime
	err := s.Scan(
		&t.ID, &t.AccountID, &t.SignalID, &t.Pair, &side, &t.RequestedLeverage, &t.Leverage, &t.LeverageCapped,
		&t.EntryPrice, &t.EntryQuantity, &t.StopLoss,
		&t.TakeProfits[0], &t.TakeProfits[1], &t.TakeProfits[2], &t.TakeProfits[3],
		&t.EntryOrderID, &t.EntryClientOrderID, &status, &protectiveState, &t.ProtectivePlaced, &t.ProtectiveAttempted,
		&t.CreatedAt, &openedAt, &closedAt, &t.ExitPrice, &t.PNL, &t.PNLPercent, &exitReason, &t.Message)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Side = domain.OrderSide(side)
	t.Status = domain.TradeStatus(status)
	t.ProtectiveState = domain.ProtectiveState(protectiveState)
	t.ExitReason = domain.CloseReason(exitReason)
	if openedAt.Valid {
		t.OpenedAt = openedAt.Time
	}
	if closedAt.Valid {
		t.ClosedAt = closedAt.Time
	}
	return t, nil
}
