package binanceclient

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"signalTrader/internal/domain"
)

// CreateListenKey starts a user data stream session.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	op := "CreateListenKey"
	if err := c.wait(ctx, op); err != nil {
		return "", err
	}
	key, err := c.futuresClient.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return "", c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful")
	return key, nil
}

// KeepAliveListenKey extends the listen key's validity window.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	op := "KeepAliveListenKey"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	if err := c.futuresClient.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// CloseListenKey ends the user data stream session.
func (c *Client) CloseListenKey(ctx context.Context, listenKey string) error {
	op := "CloseListenKey"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	if err := c.futuresClient.NewCloseUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	return nil
}

// ServeUserData connects the websocket and forwards ORDER_TRADE_UPDATE events.
// Other event types (balance, margin call, config) are dropped here.
func (c *Client) ServeUserData(listenKey string, handler func(update *domain.OrderUpdate), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	wsHandler := func(event *futures.WsUserDataEvent) {
		if event == nil || event.Event != futures.UserDataEventTypeOrderTradeUpdate {
			return
		}
		handler(translateOrderUpdate(event))
	}
	doneC, stopC, err := futures.WsUserDataServe(listenKey, wsHandler, errHandler)
	if err != nil {
		return nil, nil, c.handleError(context.Background(), err, "ServeUserData")
	}
	return doneC, stopC, nil
}

func translateOrderUpdate(event *futures.WsUserDataEvent) *domain.OrderUpdate {
	u := event.OrderTradeUpdate
	avg, _ := strconv.ParseFloat(u.AveragePrice, 64)
	last, _ := strconv.ParseFloat(u.LastFilledPrice, 64)
	filled, err := decimal.NewFromString(u.AccumulatedFilledQty)
	if err != nil {
		filled = decimal.Zero
	}

	eventTime := time.UnixMilli(u.TradeTime)
	if u.TradeTime == 0 {
		eventTime = time.UnixMilli(event.Time)
	}

	return &domain.OrderUpdate{
		Symbol:          u.Symbol,
		OrderID:         u.ID,
		ClientOrderID:   u.ClientOrderID,
		Side:            domain.OrderSide(u.Side),
		Type:            domain.OrderType(u.Type),
		Status:          string(u.Status),
		ExecutionType:   string(u.ExecutionType),
		AveragePrice:    avg,
		LastFilledPrice: last,
		FilledQuantity:  filled,
		ReduceOnly:      u.IsReduceOnly,
		EventTime:       eventTime,
	}
}
