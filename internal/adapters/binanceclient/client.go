package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"signalTrader/internal/domain"
	"signalTrader/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	defaultRecvWindow        = 60 * time.Second
	defaultRequestsPerSecond = 10
	maxBatchCancel           = 10
)

// Client implements ports.ExchangeClient and ports.UserStream using the go-binance futures API.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	limiter       *rate.Limiter
	recvWindow    int64
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey            string
	SecretKey         string
	UseTestnet        bool
	Logger            ports.Logger
	RecvWindow        time.Duration // exchange-side tolerance for request timestamps
	RequestsPerSecond float64       // client-side throttle for REST calls
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		// The websocket endpoints are only switchable through the package flag.
		futures.UseTestnet = true
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	recvWindow := cfg.RecvWindow
	if recvWindow <= 0 {
		recvWindow = defaultRecvWindow
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		limiter:       rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		recvWindow:    recvWindow.Milliseconds(),
	}, nil
}

// wait blocks until the throttle admits another request.
func (c *Client) wait(ctx context.Context, operation string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.handleError(ctx, err, operation)
	}
	return nil
}

func (c *Client) withRecvWindow() futures.RequestOption {
	return futures.WithRecvWindow(c.recvWindow)
}

// handleError translates Binance API and transport errors into ports errors.
// The venue's message is preserved as *ports.ExchangeError in the chain.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		mappedErr := mapAPICode(apiErr.Code)
		venueErr := &ports.ExchangeError{Code: apiErr.Code, Message: apiErr.Message}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, venueErr)
		if errors.Is(mappedErr, ports.ErrNoChangeNeeded) {
			c.logger.Debug(ctx, operation+": setting already applied", fields)
		} else {
			c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		}
		return finalErr
	}

	var finalErr error
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case isConnectionError(err):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

func mapAPICode(code int64) error {
	switch code {
	case -1001, -1006: // Internal disconnect / unexpected response
		return ports.ErrConnectionFailed
	case -1003: // Too many requests
		return ports.ErrRateLimited
	case -1007: // Timeout waiting for response from backend
		return ports.ErrTimeout
	case -1021: // Timestamp outside of recvWindow
		return ports.ErrTimeout
	case -1022, -2014, -2015: // Signature / key / permission problems
		return ports.ErrAuthenticationFailed
	case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130:
		return ports.ErrInvalidRequest
	case -2011: // Cancel order rejected
		return ports.ErrOrderCancelFailed
	case -2013: // Order does not exist
		return ports.ErrOrderNotFound
	case -2019, -3005, -3041: // Margin / balance insufficient
		return ports.ErrInsufficientFunds
	case -4003, -4014, -4164: // Quantity / price / notional outside filters
		return ports.ErrComplianceViolation
	case -4044: // Position not found
		return ports.ErrPositionNotFound
	case -4046, -4059: // No need to change margin type / position side
		return ports.ErrNoChangeNeeded
	default: // -2010, -2022, -4015, -4047 and anything else the venue refuses
		return ports.ErrExchangeRejected
	}
}

func isConnectionError(err error) bool {
	msg := err.Error()
	for _, s := range []string{
		"use of closed network connection",
		"connection refused",
		"connection reset by peer",
		"no such host",
		"i/o timeout",
		"EOF",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	if _, err := c.futuresClient.NewSetServerTimeService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	return nil
}

// GetMarkPrice retrieves the current mark price for a given symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetMarkPrice"
	if err := c.wait(ctx, op); err != nil {
		return 0, err
	}
	tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		return 0, c.handleError(ctx, fmt.Errorf("no price data returned for symbol %s", symbol), op)
	}
	price, err := strconv.ParseFloat(tickers[0].MarkPrice, 64)
	if err != nil {
		return 0, c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", tickers[0].MarkPrice, err), op)
	}
	return price, nil
}

// GetAvailableBalance retrieves the available (not wallet) balance for an asset.
func (c *Client) GetAvailableBalance(ctx context.Context, asset string) (float64, error) {
	op := "GetAvailableBalance"
	if err := c.wait(ctx, op); err != nil {
		return 0, err
	}
	balances, err := c.futuresClient.NewGetBalanceService().Do(ctx, c.withRecvWindow())
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	for _, bal := range balances {
		if bal.Asset != asset {
			continue
		}
		available, err := strconv.ParseFloat(bal.AvailableBalance, 64)
		if err != nil {
			return 0, c.handleError(ctx, fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.AvailableBalance, asset, err), op)
		}
		return available, nil
	}
	c.logger.Warn(ctx, op+": asset not present in account, treating as zero", map[string]interface{}{"asset": asset})
	return 0, nil
}

// SetLeverage sets the leverage for a specific symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx, c.withRecvWindow())
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// SetMarginType sets ISOLATED or CROSSED margin. "No need to change" counts as success.
func (c *Client) SetMarginType(ctx context.Context, symbol string, mode domain.MarginMode) error {
	op := "SetMarginType"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	err := c.futuresClient.NewChangeMarginTypeService().
		Symbol(symbol).
		MarginType(futures.MarginType(mode)).
		Do(ctx, c.withRecvWindow())
	if err != nil {
		mapped := c.handleError(ctx, err, op)
		if errors.Is(mapped, ports.ErrNoChangeNeeded) {
			return nil
		}
		return mapped
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "marginType": mode})
	return nil
}

// PlaceOrder submits a LIMIT, MARKET, STOP_MARKET or TAKE_PROFIT_MARKET order.
func (c *Client) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	op := "PlaceOrder"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		Quantity(req.Quantity)

	switch req.Type {
	case domain.OrderTypeLimit:
		svc = svc.TimeInForce(futures.TimeInForceTypeGTC).Price(req.Price)
	case domain.OrderTypeStopMarket, domain.OrderTypeTakeProfitMarket:
		svc = svc.StopPrice(req.StopPrice).WorkingType(futures.WorkingTypeMarkPrice)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	fields := map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "type": req.Type, "quantity": req.Quantity,
		"price": req.Price, "stopPrice": req.StopPrice, "reduceOnly": req.ReduceOnly, "clientOrderID": req.ClientOrderID,
	}
	c.logger.Debug(ctx, op+": submitting order", fields)

	order, err := svc.Do(ctx, c.withRecvWindow())
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	fields["orderID"] = resp.OrderID
	fields["status"] = resp.Status
	c.logger.Info(ctx, op+" successful", fields)
	return resp, nil
}

// CancelOrder cancels an open order on Binance.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	op := "CancelOrder"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	res, err := c.futuresClient.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx, c.withRecvWindow())
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := &ports.OrderResponse{
		OrderID:       res.OrderID,
		Symbol:        res.Symbol,
		ClientOrderID: res.ClientOrderID,
		OrigQuantity:  res.OrigQuantity,
		ExecutedQty:   res.ExecutedQuantity,
		Status:        string(res.Status),
		TimeInForce:   string(res.TimeInForce),
		Type:          string(res.Type),
		Side:          string(res.Side),
		Timestamp:     time.UnixMilli(res.UpdateTime),
	}
	resp.Price, _ = strconv.ParseFloat(res.Price, 64)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": resp.Status})
	return resp, nil
}

// CancelOrders cancels orderIDs in batches of ten, the venue's batch limit.
func (c *Client) CancelOrders(ctx context.Context, symbol string, orderIDs []int64) error {
	op := "CancelOrders"
	for start := 0; start < len(orderIDs); start += maxBatchCancel {
		end := start + maxBatchCancel
		if end > len(orderIDs) {
			end = len(orderIDs)
		}
		if err := c.wait(ctx, op); err != nil {
			return err
		}
		batch := orderIDs[start:end]
		if _, err := c.futuresClient.NewCancelMultipleOrdersService().
			Symbol(symbol).
			OrderIDList(batch).
			Do(ctx, c.withRecvWindow()); err != nil {
			return c.handleError(ctx, err, op)
		}
		c.logger.Info(ctx, op+" batch cancelled", map[string]interface{}{"symbol": symbol, "orderIDs": batch})
	}
	return nil
}

// CancelAllOpenOrders cancels every resting order for symbol.
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	op := "CancelAllOpenOrders"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	if err := c.futuresClient.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx, c.withRecvWindow()); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol})
	return nil
}

// ListOpenOrders lists resting orders, for all symbols when symbol is empty.
func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]*ports.OpenOrder, error) {
	op := "ListOpenOrders"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	svc := c.futuresClient.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	orders, err := svc.Do(ctx, c.withRecvWindow())
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]*ports.OpenOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, translateOpenOrder(o))
	}
	return out, nil
}

// GetSymbolFilters reads LOT_SIZE, PRICE_FILTER and MIN_NOTIONAL for symbol.
func (c *Client) GetSymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	op := "GetSymbolFilters"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		filters := &ports.SymbolFilters{Symbol: s.Symbol}
		if lot := s.LotSizeFilter(); lot != nil {
			filters.StepSize = lot.StepSize
		}
		if pf := s.PriceFilter(); pf != nil {
			filters.TickSize = pf.TickSize
		}
		if mn := s.MinNotionalFilter(); mn != nil {
			filters.MinNotional = mn.Notional
		}
		return filters, nil
	}
	c.logger.Debug(ctx, op+": symbol not listed", map[string]interface{}{"symbol": symbol})
	return nil, nil
}

// ListPositionRisks returns every position with a non-zero amount.
func (c *Client) ListPositionRisks(ctx context.Context) ([]*ports.PositionRisk, error) {
	op := "ListPositionRisks"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	positions, err := c.futuresClient.NewGetPositionRiskService().Do(ctx, c.withRecvWindow())
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]*ports.PositionRisk, 0)
	for _, p := range positions {
		risk := translatePositionRisk(p)
		if risk == nil || risk.PositionAmt == 0 {
			continue
		}
		out = append(out, risk)
	}
	return out, nil
}

// --- Translation Helpers ---

func translateOrderResponse(order *futures.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)

	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		ClientOrderID: order.ClientOrderID,
		Price:         price,
		AvgPrice:      avgPrice,
		OrigQuantity:  order.OrigQuantity,
		ExecutedQty:   order.ExecutedQuantity,
		Status:        string(order.Status),
		TimeInForce:   string(order.TimeInForce),
		Type:          string(order.Type),
		Side:          string(order.Side),
		Timestamp:     time.UnixMilli(order.UpdateTime),
	}
}

func translateOpenOrder(o *futures.Order) *ports.OpenOrder {
	price, _ := strconv.ParseFloat(o.Price, 64)
	stopPrice, _ := strconv.ParseFloat(o.StopPrice, 64)
	origQty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
	return &ports.OpenOrder{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.OrderSide(o.Side),
		Type:          domain.OrderType(o.Type),
		Status:        string(o.Status),
		Price:         price,
		StopPrice:     stopPrice,
		OrigQuantity:  origQty,
		ReduceOnly:    o.ReduceOnly,
	}
}

func translatePositionRisk(pos *futures.PositionRisk) *ports.PositionRisk {
	if pos == nil {
		return nil
	}
	posAmt, _ := strconv.ParseFloat(pos.PositionAmt, 64)
	entryPrice, _ := strconv.ParseFloat(pos.EntryPrice, 64)
	markPrice, _ := strconv.ParseFloat(pos.MarkPrice, 64)
	unProfit, _ := strconv.ParseFloat(pos.UnRealizedProfit, 64)
	liqPrice, _ := strconv.ParseFloat(pos.LiquidationPrice, 64)
	leverage, _ := strconv.Atoi(pos.Leverage) // Leverage is string in go-binance

	return &ports.PositionRisk{
		Symbol:           pos.Symbol,
		PositionAmt:      posAmt,
		EntryPrice:       entryPrice,
		MarkPrice:        markPrice,
		UnRealizedProfit: unProfit,
		LiquidationPrice: liqPrice,
		Leverage:         leverage,
		MarginType:       pos.MarginType,
	}
}
