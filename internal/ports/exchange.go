package ports

import (
	"context"
	"time"

	"signalTrader/internal/domain"
)

// OrderRequest describes a single order submission. Quantity and prices are
// pre-normalized strings so the adapter never reformats them.
type OrderRequest struct {
	Symbol        string
	Side          domain.OrderSide
	Type          domain.OrderType
	Quantity      string
	Price         string // LIMIT only
	StopPrice     string // STOP_MARKET / TAKE_PROFIT_MARKET trigger
	ReduceOnly    bool
	ClientOrderID string
}

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID       int64     // Exchange's order ID
	Symbol        string    // Symbol for the order
	ClientOrderID string    // User-defined order ID
	Price         float64   // Price of the order (might be 0 for market orders initially)
	AvgPrice      float64   // Average filled price
	OrigQuantity  string    // Original quantity requested
	ExecutedQty   string    // Quantity filled
	Status        string    // Order status (e.g., NEW, FILLED, CANCELED)
	TimeInForce   string    // Time in force (e.g., GTC, IOC, FOK)
	Type          string    // Order type (e.g., MARKET, LIMIT, STOP_MARKET)
	Side          string    // Order side (BUY, SELL)
	Timestamp     time.Time // Time the order response was generated
}

// OpenOrder is a resting order as listed by the exchange.
type OpenOrder struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          domain.OrderSide
	Type          domain.OrderType
	Status        string
	Price         float64
	StopPrice     float64
	OrigQuantity  float64
	ReduceOnly    bool
}

// PositionRisk represents the risk details for an open position.
type PositionRisk struct {
	Symbol           string  // Symbol of the position
	PositionAmt      float64 // Current position amount (positive for long, negative for short)
	EntryPrice       float64 // Average entry price of the position
	MarkPrice        float64 // Current mark price
	UnRealizedProfit float64 // Unrealized profit/loss
	LiquidationPrice float64 // Estimated liquidation price
	Leverage         int     // Current leverage for the position
	MarginType       string  // isolated / cross
}

// SymbolFilters are the raw filter strings from the instrument metadata endpoint.
type SymbolFilters struct {
	Symbol      string
	StepSize    string
	TickSize    string
	MinNotional string
}

// ExchangeClient defines the REST operations the trading core needs from a futures venue.
type ExchangeClient interface {
	// SetServerTime synchronizes the client's time with the server's time.
	SetServerTime(ctx context.Context) error

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetMarkPrice retrieves the current mark price for a given symbol.
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// GetAvailableBalance retrieves the available balance for an asset (e.g., "USDT").
	GetAvailableBalance(ctx context.Context, asset string) (float64, error)

	// SetLeverage sets the leverage for a specific symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// SetMarginType sets the margin mode for a symbol. "Already set" is not an error.
	SetMarginType(ctx context.Context, symbol string, mode domain.MarginMode) error

	// PlaceOrder submits any supported order type.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)

	// CancelOrder cancels an existing open order by its ID.
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)

	// CancelOrders cancels a batch of orders for one symbol.
	CancelOrders(ctx context.Context, symbol string, orderIDs []int64) error

	// CancelAllOpenOrders cancels every resting order for a symbol.
	CancelAllOpenOrders(ctx context.Context, symbol string) error

	// ListOpenOrders lists resting orders; an empty symbol lists all symbols.
	ListOpenOrders(ctx context.Context, symbol string) ([]*OpenOrder, error)

	// GetSymbolFilters returns the filters for symbol, or nil if the venue does not list it.
	GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error)

	// ListPositionRisks returns every non-zero position on the account.
	ListPositionRisks(ctx context.Context) ([]*PositionRisk, error)
}

// UserStream is the private order-update subscription of the account.
type UserStream interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error

	// ServeUserData connects the stream. doneCh closes when the connection ends;
	// closing stopCh asks it to end.
	ServeUserData(listenKey string, handler func(update *domain.OrderUpdate), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
