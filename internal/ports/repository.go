package ports

import (
	"context"

	"signalTrader/internal/domain"
)

// TradeRepository defines the interface for storing and retrieving trades.
type TradeRepository interface {
	// Create saves a new trade and returns its assigned ID.
	Create(ctx context.Context, trade *domain.Trade) (int64, error)
	// Update modifies an existing trade, including its protective orders.
	Update(ctx context.Context, trade *domain.Trade) error
	// FindByID retrieves a trade by its unique ID.
	// Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Trade, error)
	// FindByOrderID retrieves the trade owning an entry or protective exchange order on symbol.
	// Exchange order ids are only unique per symbol.
	// Returns nil, nil if no trade tracks the order.
	FindByOrderID(ctx context.Context, symbol string, orderID int64) (*domain.Trade, error)
	// FindByAccount retrieves the most recent trades for an account, newest first.
	FindByAccount(ctx context.Context, accountID string, limit int) ([]*domain.Trade, error)
	// FindActiveBySymbol retrieves the PENDING and OPEN trades on a symbol, newest first.
	FindActiveBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error)
}

// SignalRepository stores inbound signals.
type SignalRepository interface {
	Create(ctx context.Context, signal *domain.Signal) (int64, error)
	// FindByID returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Signal, error)
	FindRecent(ctx context.Context, limit int) ([]*domain.Signal, error)
}

// RiskConfigRepository stores the single active risk config per account.
type RiskConfigRepository interface {
	Save(ctx context.Context, cfg *domain.RiskConfig) error
	// FindByAccount returns nil, nil when the account has no stored config.
	FindByAccount(ctx context.Context, accountID string) (*domain.RiskConfig, error)
	Delete(ctx context.Context, accountID string) error
}
