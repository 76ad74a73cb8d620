package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"signalTrader/internal/domain"
	"signalTrader/internal/ports"
)

// SignalStore implements ports.SignalRepository.
type SignalStore struct {
	db     *sql.DB
	logger ports.Logger
}

var _ ports.SignalRepository = (*SignalStore)(nil)

// Create saves a new signal and returns its assigned ID.
func (s *SignalStore) Create(ctx context.Context, signal *domain.Signal) (int64, error) {
	const query = `
	INSERT INTO signals (pair, direction, entry, leverage, take_profits, stop_loss, quantity, channel, raw_message, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	tps, err := encodeFloats(signal.TakeProfits)
	if err != nil {
		return 0, fmt.Errorf("failed to encode take profits for %s: %w", signal.Pair, err)
	}
	result, err := s.db.ExecContext(ctx, query,
		signal.Pair, signal.Direction, signal.Entry, signal.Leverage, tps, signal.StopLoss,
		signal.Quantity, signal.Channel, signal.RawMessage, signal.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("failed to insert signal for symbol %s: %w: %w", signal.Pair, ports.ErrQueryFailed, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for signal %s: %w", signal.Pair, err)
	}
	signal.ID = id
	s.logger.Debug(ctx, "Signal stored", map[string]interface{}{"signalID": id, "symbol": signal.Pair})
	return id, nil
}

// FindByID retrieves a signal by its unique ID.
func (s *SignalStore) FindByID(ctx context.Context, id int64) (*domain.Signal, error) {
	const query = `
	SELECT id, pair, direction, entry, leverage, take_profits, stop_loss, quantity, channel, raw_message, timestamp
	FROM signals WHERE id = ?`

	signal, err := scanSignal(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query signal by ID %d: %w: %w", id, ports.ErrQueryFailed, err)
	}
	return signal, nil
}

// FindRecent returns the newest signals first.
func (s *SignalStore) FindRecent(ctx context.Context, limit int) ([]*domain.Signal, error) {
	const query = `
	SELECT id, pair, direction, entry, leverage, take_profits, stop_loss, quantity, channel, raw_message, timestamp
	FROM signals ORDER BY timestamp DESC, id DESC LIMIT ?`

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent signals: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	signals := make([]*domain.Signal, 0)
	for rows.Next() {
		signal, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal during FindRecent: %w", err)
		}
		signals = append(signals, signal)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signal rows: %w", err)
	}
	return signals, nil
}

func scanSignal(s scanner) (*domain.Signal, error) {
	sig := &domain.Signal{}
	var direction, tps string
	err := s.Scan(&sig.ID, &sig.Pair, &direction, &sig.Entry, &sig.Leverage, &tps, &sig.StopLoss,
		&sig.Quantity, &sig.Channel, &sig.RawMessage, &sig.Timestamp)
	if err != nil {
		return nil, err
	}
	sig.Direction = domain.Direction(direction)
	if sig.TakeProfits, err = decodeFloats(tps); err != nil {
		return nil, fmt.Errorf("signal %d has malformed take profits: %w", sig.ID, err)
	}
	return sig, nil
}

func encodeFloats(values []float64) (string, error) {
	if values == nil {
		values = []float64{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeFloats(raw string) ([]float64, error) {
	if raw == "" {
		return nil, nil
	}
	var values []float64
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}
