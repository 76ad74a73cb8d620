package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signalTrader/internal/domain"
	"signalTrader/internal/lifecycle"
	"signalTrader/internal/ports"
	"signalTrader/internal/risk"
)

// OutcomeStatus summarizes a trade attempt for the caller.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "SUCCESS"
	OutcomeFailed  OutcomeStatus = "FAILED"
	OutcomePartial OutcomeStatus = "PARTIAL" // entry placed, protective orders incomplete
)

// TradeRequest is a request to open a position.
type TradeRequest struct {
	AccountID   string
	SignalID    int64
	Pair        string  // ".P" suffix accepted
	Side        string  // BUY/SELL or LONG/SHORT
	Entry       float64 // limit price
	Leverage    int     // 0 uses the configured default
	Quantity    float64 // 0 derives the size from the balance
	Amount      float64 // optional position value to check against the account maximum
	StopLoss    float64
	TakeProfits []float64
}

// Outcome is returned by every trade-changing entry point.
type Outcome struct {
	Status    OutcomeStatus
	TradeID   int64
	Pair      string
	Message   string
	Err       error
	Placement *PlacementResult
}

func failed(pair, msg string, err error) Outcome {
	return Outcome{Status: OutcomeFailed, Pair: pair, Message: msg, Err: err}
}

// ServiceConfig holds the service-level settings.
type ServiceConfig struct {
	DefaultRisk     domain.RiskConfig
	DefaultLeverage int
	Mode            ProtectiveMode
}

// TradingService is the public entry point for trades, signals and risk configs.
type TradingService struct {
	logger       ports.Logger
	exchange     ports.ExchangeClient
	orchestrator *Orchestrator
	tracker      *lifecycle.Tracker
	trades       ports.TradeRepository
	signals      ports.SignalRepository
	riskConfigs  ports.RiskConfigRepository
	cfg          ServiceConfig

	// entryMu keeps fill handling from racing a trade that is being changed.
	// Trade-changing entry points hold it shared; HandleFill holds it exclusively.
	entryMu sync.RWMutex
}

// NewTradingService creates a new application service instance.
func NewTradingService(
	logger ports.Logger,
	exchange ports.ExchangeClient,
	orchestrator *Orchestrator,
	tracker *lifecycle.Tracker,
	trades ports.TradeRepository,
	signals ports.SignalRepository,
	riskConfigs ports.RiskConfigRepository,
	cfg ServiceConfig,
) (*TradingService, error) {
	if logger == nil || exchange == nil || orchestrator == nil || tracker == nil || trades == nil || signals == nil || riskConfigs == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}
	if err := risk.ValidateConfig(cfg.DefaultRisk); err != nil {
		return nil, fmt.Errorf("default risk profile: %w", err)
	}
	if cfg.DefaultLeverage <= 0 {
		cfg.DefaultLeverage = 1
	}
	if cfg.Mode == "" {
		cfg.Mode = ProtectiveDefer
	}
	return &TradingService{
		logger:       logger,
		exchange:     exchange,
		orchestrator: orchestrator,
		tracker:      tracker,
		trades:       trades,
		signals:      signals,
		riskConfigs:  riskConfigs,
		cfg:          cfg,
	}, nil
}

// ExecuteTrade validates, sizes and places the entry order of a new trade. In immediate
// mode the protective orders are placed right away; otherwise they follow the entry fill.
func (s *TradingService) ExecuteTrade(ctx context.Context, req TradeRequest) Outcome {
	op := "ExecuteTrade"
	pair := domain.NormalizeSymbol(req.Pair)
	side, sideOK := domain.ParseOrderSide(req.Side)

	var missing []string
	if pair == "" {
		missing = append(missing, "pair")
	}
	if !sideOK {
		missing = append(missing, "side")
	}
	if req.Entry <= 0 {
		missing = append(missing, "entry")
	}
	if len(missing) > 0 {
		err := fmt.Errorf("%w: %s", ports.ErrMissingRequiredField, strings.Join(missing, ", "))
		return failed(pair, "Missing required fields: "+strings.Join(missing, ", "), err)
	}
	if len(req.TakeProfits) > domain.MaxTakeProfitLevels {
		err := fmt.Errorf("%w: at most %d take-profit levels", ports.ErrValidation, domain.MaxTakeProfitLevels)
		return failed(pair, err.Error(), err)
	}

	cfg, err := s.GetRiskConfig(ctx, req.AccountID)
	if err != nil {
		return failed(pair, "Failed to load risk config", err)
	}

	requested := req.Leverage
	if requested <= 0 {
		requested = s.cfg.DefaultLeverage
	}
	leverage, capped := risk.CapLeverage(requested, cfg)
	if capped {
		s.logger.Info(ctx, op+": leverage capped", map[string]interface{}{
			"pair": pair, "requested": requested, "applied": leverage, "accountID": req.AccountID,
		})
	}

	if req.Amount > 0 {
		if err := s.checkAmount(ctx, req.Amount, leverage, cfg); err != nil {
			return failed(pair, ports.VenueMessage(err), err)
		}
	}

	trade := &domain.Trade{
		AccountID:         req.AccountID,
		SignalID:          req.SignalID,
		Pair:              pair,
		Side:              side,
		RequestedLeverage: requested,
		Leverage:          leverage,
		LeverageCapped:    capped,
		EntryPrice:        req.Entry,
		StopLoss:          req.StopLoss,
		ProtectiveState:   domain.ProtectiveNone,
	}
	copy(trade.TakeProfits[:], req.TakeProfits)
	if s.cfg.Mode == ProtectiveDefer {
		trade.ProtectiveState = domain.ProtectiveAwaitingFill
	}
	if err := s.tracker.Create(ctx, trade); err != nil {
		s.logger.Error(ctx, err, op+": failed to record trade", map[string]interface{}{"pair": pair})
		return failed(pair, "Failed to record trade", err)
	}

	s.entryMu.RLock()
	defer s.entryMu.RUnlock()

	entry, err := s.orchestrator.PlaceEntry(ctx, trade, req.Quantity, cfg)
	if err != nil {
		msg := ports.VenueMessage(err)
		s.logger.Error(ctx, err, op+": entry failed", map[string]interface{}{"tradeID": trade.ID, "pair": pair})
		if markErr := s.tracker.MarkFailed(ctx, trade, msg); markErr != nil {
			s.logger.Error(ctx, markErr, op+": failed to mark trade failed", map[string]interface{}{"tradeID": trade.ID})
		}
		out := failed(pair, "Failed to place order: "+msg, err)
		out.TradeID = trade.ID
		return out
	}
	if err := s.saveTrade(ctx, trade); err != nil {
		s.logger.Error(ctx, err, op+": failed to save entry order", map[string]interface{}{"tradeID": trade.ID, "orderID": trade.EntryOrderID})
		return s.abandonEntry(ctx, trade, entry.Filled, err)
	}

	out := Outcome{Status: OutcomeSuccess, TradeID: trade.ID, Pair: pair, Message: "Order placed successfully"}
	if s.cfg.Mode != ProtectiveImmediate {
		return out
	}

	if entry.Filled {
		if err := s.tracker.MarkOpen(ctx, trade, entry.Order.AvgPrice, entry.Quantity); err != nil {
			s.logger.Error(ctx, err, op+": failed to mark trade open", map[string]interface{}{"tradeID": trade.ID})
		}
	}
	placement := s.orchestrator.PlaceProtectiveOrders(ctx, trade, entry.Quantity, cfg)
	if err := s.saveTrade(ctx, trade); err != nil {
		s.logger.Error(ctx, err, op+": failed to save protective orders", map[string]interface{}{"tradeID": trade.ID})
	}
	out.Placement = &placement
	if !placement.OK() {
		out.Status = OutcomePartial
		out.Err = placement.Err()
		out.Message = fmt.Sprintf("Order placed, %d/%d protective orders placed", placement.Placed, placement.Attempted)
	}
	return out
}

// saveTrade persists trade, retrying once. Callers use it after exchange calls whose
// order ids exist nowhere else.
func (s *TradingService) saveTrade(ctx context.Context, trade *domain.Trade) error {
	err := s.tracker.Save(ctx, trade)
	if err == nil {
		return nil
	}
	s.logger.Warn(ctx, "saveTrade: retrying", map[string]interface{}{"tradeID": trade.ID, "error": err.Error()})
	return s.tracker.Save(ctx, trade)
}

// abandonEntry handles an entry order the trade record could not be updated with.
// Without the order id its fill can never be matched, so a resting order is cancelled;
// a filled one is reported with its id for manual follow-up.
func (s *TradingService) abandonEntry(ctx context.Context, trade *domain.Trade, filled bool, saveErr error) Outcome {
	op := "abandonEntry"
	out := Outcome{Status: OutcomePartial, TradeID: trade.ID, Pair: trade.Pair, Err: saveErr}
	if filled {
		out.Message = fmt.Sprintf("Entry order %d filled but trade record not updated", trade.EntryOrderID)
		return out
	}

	callCtx, cancel := s.orchestrator.call(ctx)
	_, err := s.exchange.CancelOrder(callCtx, trade.Pair, trade.EntryOrderID)
	cancel()
	if err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
		s.logger.Error(ctx, err, op+": failed to cancel unrecorded entry order", map[string]interface{}{"tradeID": trade.ID, "orderID": trade.EntryOrderID})
		out.Message = fmt.Sprintf("Entry order %d placed but trade record not updated; cancel failed", trade.EntryOrderID)
		return out
	}
	s.logger.Warn(ctx, op+": unrecorded entry order cancelled", map[string]interface{}{"tradeID": trade.ID, "orderID": trade.EntryOrderID})
	out.Message = fmt.Sprintf("Entry order %d cancelled: trade record not updated", trade.EntryOrderID)
	if err := s.tracker.MarkFailed(ctx, trade, out.Message); err != nil {
		s.logger.Error(ctx, err, op+": failed to mark trade failed", map[string]interface{}{"tradeID": trade.ID})
	}
	return out
}

// checkAmount rejects a requested position value above the account's maximum.
func (s *TradingService) checkAmount(ctx context.Context, amount float64, leverage int, cfg domain.RiskConfig) error {
	balance := 0.0
	if cfg.MaxPositionIsPercent && cfg.MaxPositionValue > 0 {
		callCtx, cancel := s.orchestrator.call(ctx)
		b, err := s.exchange.GetAvailableBalance(callCtx, s.orchestrator.cfg.QuoteAsset)
		cancel()
		if err != nil {
			return fmt.Errorf("balance query failed: %w", err)
		}
		balance = b
	}
	limit := risk.MaxPositionValue(balance, leverage, cfg)
	if limit.IsPositive() && limit.LessThan(decimal.NewFromFloat(amount)) {
		return &validationError{msg: fmt.Sprintf("Position size $%.2f exceeds your maximum of $%s", amount, limit.StringFixed(2))}
	}
	return nil
}

// validationError carries a user-facing message that wraps ports.ErrValidation.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
func (e *validationError) Unwrap() error { return ports.ErrValidation }

// ExecuteSignal runs a stored signal for an account.
func (s *TradingService) ExecuteSignal(ctx context.Context, accountID string, signalID int64) Outcome {
	sig, err := s.signals.FindByID(ctx, signalID)
	if err != nil {
		return failed("", "Failed to load signal", err)
	}
	if sig == nil {
		return failed("", "Signal not found", fmt.Errorf("signal %d: %w", signalID, ports.ErrNotFound))
	}
	return s.ExecuteTrade(ctx, TradeRequest{
		AccountID:   accountID,
		SignalID:    sig.ID,
		Pair:        sig.Pair,
		Side:        string(sig.Direction),
		Entry:       sig.Entry,
		Leverage:    sig.Leverage,
		Quantity:    sig.Quantity,
		StopLoss:    sig.StopLoss,
		TakeProfits: sig.TakeProfits,
	})
}

// CreateSignal validates and stores an inbound signal.
func (s *TradingService) CreateSignal(ctx context.Context, sig *domain.Signal) (int64, error) {
	sig.Pair = domain.NormalizeSymbol(sig.Pair)
	if side, ok := domain.ParseOrderSide(string(sig.Direction)); ok {
		sig.Direction = domain.Long
		if side == domain.Sell {
			sig.Direction = domain.Short
		}
	}
	if missing := sig.MissingFields(); len(missing) > 0 {
		return 0, fmt.Errorf("%w: %s", ports.ErrMissingRequiredField, strings.Join(missing, ", "))
	}
	if len(sig.TakeProfits) > domain.MaxTakeProfitLevels {
		return 0, fmt.Errorf("%w: at most %d take-profit levels", ports.ErrValidation, domain.MaxTakeProfitLevels)
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now().UTC()
	}
	id, err := s.signals.Create(ctx, sig)
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "Signal stored", map[string]interface{}{"signalID": id, "pair": sig.Pair, "direction": sig.Direction})
	return id, nil
}

// CloseTrade closes an OPEN trade at market and records it as CLOSED (MANUAL).
func (s *TradingService) CloseTrade(ctx context.Context, tradeID int64) Outcome {
	op := "CloseTrade"
	s.entryMu.RLock()
	defer s.entryMu.RUnlock()

	trade, out, ok := s.openTrade(ctx, tradeID)
	if !ok {
		return out
	}

	resp, err := s.orchestrator.ClosePosition(ctx, trade)
	if err != nil {
		s.logger.Error(ctx, err, op+": failed to close position", map[string]interface{}{"tradeID": trade.ID})
		out := failed(trade.Pair, "Failed to close position: "+ports.VenueMessage(err), err)
		out.TradeID = trade.ID
		return out
	}

	exitPrice := resp.AvgPrice
	if exitPrice == 0 {
		callCtx, cancel := s.orchestrator.call(ctx)
		mark, err := s.exchange.GetMarkPrice(callCtx, trade.Pair)
		cancel()
		if err == nil {
			s.logger.Warn(ctx, op+": close order AvgPrice is 0, using mark price as fallback", map[string]interface{}{"orderID": resp.OrderID, "fallbackPrice": mark})
			exitPrice = mark
		}
	}
	if err := s.tracker.Close(ctx, trade, domain.TradeStatusClosed, exitPrice, domain.CloseReasonManual); err != nil {
		s.logger.Error(ctx, err, op+": failed to record close", map[string]interface{}{"tradeID": trade.ID})
		return Outcome{Status: OutcomePartial, TradeID: trade.ID, Pair: trade.Pair, Message: "Position closed but trade record not updated", Err: err}
	}
	return Outcome{Status: OutcomeSuccess, TradeID: trade.ID, Pair: trade.Pair, Message: "Position closed"}
}

// UpdateStopLoss replaces the stop-loss order of an OPEN trade.
func (s *TradingService) UpdateStopLoss(ctx context.Context, tradeID int64, price float64) Outcome {
	s.entryMu.RLock()
	defer s.entryMu.RUnlock()

	if price <= 0 {
		return failed("", "Stop-loss price must be positive", fmt.Errorf("%w: stop-loss price", ports.ErrMissingRequiredField))
	}
	trade, out, ok := s.openTrade(ctx, tradeID)
	if !ok {
		return out
	}

	leg, err := s.orchestrator.ReplaceStopLoss(ctx, trade, price)
	if saveErr := s.tracker.Save(ctx, trade); saveErr != nil {
		s.logger.Error(ctx, saveErr, "UpdateStopLoss: failed to save trade", map[string]interface{}{"tradeID": trade.ID})
	}
	result := PlacementResult{Attempted: 1, Legs: []LegResult{leg}}
	if err != nil {
		out := failed(trade.Pair, "Failed to update stop-loss: "+ports.VenueMessage(err), err)
		out.TradeID, out.Placement = trade.ID, &result
		return out
	}
	result.Placed = 1
	return Outcome{Status: OutcomeSuccess, TradeID: trade.ID, Pair: trade.Pair, Message: "Stop-loss updated", Placement: &result}
}

// UpdateTakeProfits replaces the unfilled take-profit orders of an OPEN trade.
func (s *TradingService) UpdateTakeProfits(ctx context.Context, tradeID int64, prices []float64) Outcome {
	s.entryMu.RLock()
	defer s.entryMu.RUnlock()

	if len(prices) == 0 {
		return failed("", "At least one take-profit price is required", fmt.Errorf("%w: take-profit prices", ports.ErrMissingRequiredField))
	}
	trade, out, ok := s.openTrade(ctx, tradeID)
	if !ok {
		return out
	}
	cfg, err := s.GetRiskConfig(ctx, trade.AccountID)
	if err != nil {
		return failed(trade.Pair, "Failed to load risk config", err)
	}

	result, err := s.orchestrator.ReplaceTakeProfits(ctx, trade, prices, cfg)
	if saveErr := s.tracker.Save(ctx, trade); saveErr != nil {
		s.logger.Error(ctx, saveErr, "UpdateTakeProfits: failed to save trade", map[string]interface{}{"tradeID": trade.ID})
	}
	out = Outcome{Status: OutcomeSuccess, TradeID: trade.ID, Pair: trade.Pair, Message: "Take-profits updated", Placement: &result}
	switch {
	case err == nil:
	case result.Placed > 0:
		out.Status, out.Err = OutcomePartial, err
		out.Message = fmt.Sprintf("%d/%d take-profit orders placed", result.Placed, result.Attempted)
	default:
		out.Status, out.Err = OutcomeFailed, err
		out.Message = "Failed to update take-profits: " + ports.VenueMessage(err)
	}
	return out
}

// openTrade loads a trade and requires it to be OPEN.
func (s *TradingService) openTrade(ctx context.Context, tradeID int64) (*domain.Trade, Outcome, bool) {
	trade, err := s.trades.FindByID(ctx, tradeID)
	if err != nil {
		return nil, failed("", "Failed to load trade", err), false
	}
	if trade == nil {
		return nil, failed("", "Trade not found", fmt.Errorf("trade %d: %w", tradeID, ports.ErrNotFound)), false
	}
	if trade.Status != domain.TradeStatusOpen {
		out := failed(trade.Pair, "Trade is not open", fmt.Errorf("trade %d is %s: %w", trade.ID, trade.Status, ports.ErrTradeNotOpen))
		out.TradeID = trade.ID
		return nil, out, false
	}
	return trade, Outcome{}, true
}

// GetTrade returns a trade or ErrNotFound.
func (s *TradingService) GetTrade(ctx context.Context, tradeID int64) (*domain.Trade, error) {
	trade, err := s.trades.FindByID(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade == nil {
		return nil, fmt.Errorf("trade %d: %w", tradeID, ports.ErrNotFound)
	}
	return trade, nil
}

// ListTrades returns the account's most recent trades, newest first.
func (s *TradingService) ListTrades(ctx context.Context, accountID string, limit int) ([]*domain.Trade, error) {
	return s.trades.FindByAccount(ctx, accountID, limit)
}

// GetRiskConfig returns the account's stored config, or the default profile bound to the account.
func (s *TradingService) GetRiskConfig(ctx context.Context, accountID string) (domain.RiskConfig, error) {
	if accountID != "" {
		stored, err := s.riskConfigs.FindByAccount(ctx, accountID)
		if err != nil {
			return domain.RiskConfig{}, err
		}
		if stored != nil {
			return *stored, nil
		}
	}
	return s.cfg.DefaultRisk.ForAccount(accountID), nil
}

// SaveRiskConfig validates and stores the account's config.
func (s *TradingService) SaveRiskConfig(ctx context.Context, cfg domain.RiskConfig) (domain.RiskConfig, error) {
	if cfg.AccountID == "" {
		return domain.RiskConfig{}, fmt.Errorf("%w: account", ports.ErrMissingRequiredField)
	}
	if mode, ok := domain.ParseMarginMode(string(cfg.MarginMode)); ok {
		cfg.MarginMode = mode
	}
	if err := risk.ValidateConfig(cfg); err != nil {
		return domain.RiskConfig{}, err
	}
	if err := s.riskConfigs.Save(ctx, &cfg); err != nil {
		return domain.RiskConfig{}, err
	}
	s.logger.Info(ctx, "Risk config saved", map[string]interface{}{"accountID": cfg.AccountID, "maxLeverage": cfg.MaxLeverage})
	return cfg, nil
}

// ResetRiskConfig removes the stored config and returns the default the account now uses.
func (s *TradingService) ResetRiskConfig(ctx context.Context, accountID string) (domain.RiskConfig, error) {
	if accountID == "" {
		return domain.RiskConfig{}, fmt.Errorf("%w: account", ports.ErrMissingRequiredField)
	}
	if err := s.riskConfigs.Delete(ctx, accountID); err != nil {
		return domain.RiskConfig{}, err
	}
	s.logger.Info(ctx, "Risk config reset to defaults", map[string]interface{}{"accountID": accountID})
	return s.cfg.DefaultRisk.ForAccount(accountID), nil
}

// Order labels used by ListOpenPositions.
const (
	LabelEntry      = "ENTRY"
	LabelStopLoss   = "SL"
	LabelTakeProfit = "TP"
	LabelOther      = "OTHER"
)

// LabeledOrder is a resting order tagged with its role.
type LabeledOrder struct {
	Label     string
	OrderID   int64
	Type      domain.OrderType
	Side      domain.OrderSide
	Price     float64
	StopPrice float64
	Quantity  float64
}

// PositionView is an exchange position with its resting orders.
type PositionView struct {
	Symbol           string
	Quantity         float64 // signed: negative for short
	EntryPrice       float64
	MarkPrice        float64
	UnrealizedPNL    float64
	LiquidationPrice float64
	Leverage         int
	MarginType       string
	Orders           []LabeledOrder
}

// ListOpenPositions reads positions and resting orders from the exchange. Symbols with
// only resting orders (an unfilled entry) are listed with zero quantity.
func (s *TradingService) ListOpenPositions(ctx context.Context) ([]PositionView, error) {
	callCtx, cancel := s.orchestrator.call(ctx)
	positions, err := s.exchange.ListPositionRisks(callCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	callCtx, cancel = s.orchestrator.call(ctx)
	orders, err := s.exchange.ListOpenOrders(callCtx, "")
	cancel()
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}

	views := make(map[string]*PositionView, len(positions))
	for _, p := range positions {
		views[p.Symbol] = &PositionView{
			Symbol:           p.Symbol,
			Quantity:         p.PositionAmt,
			EntryPrice:       p.EntryPrice,
			MarkPrice:        p.MarkPrice,
			UnrealizedPNL:    p.UnRealizedProfit,
			LiquidationPrice: p.LiquidationPrice,
			Leverage:         p.Leverage,
			MarginType:       p.MarginType,
		}
	}
	for _, o := range orders {
		v, ok := views[o.Symbol]
		if !ok {
			v = &PositionView{Symbol: o.Symbol}
			views[o.Symbol] = v
		}
		v.Orders = append(v.Orders, LabeledOrder{
			Label:     labelOrder(o),
			OrderID:   o.OrderID,
			Type:      o.Type,
			Side:      o.Side,
			Price:     o.Price,
			StopPrice: o.StopPrice,
			Quantity:  o.OrigQuantity,
		})
	}

	out := make([]PositionView, 0, len(views))
	for _, v := range views {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func labelOrder(o *ports.OpenOrder) string {
	switch {
	case o.Type == domain.OrderTypeLimit && o.Price > 0 && !o.ReduceOnly:
		return LabelEntry
	case o.Type == domain.OrderTypeStopMarket:
		return LabelStopLoss
	case o.Type == domain.OrderTypeTakeProfitMarket:
		return LabelTakeProfit
	default:
		return LabelOther
	}
}

// cancelOrderWarn cancels an order and only logs failures; an order that is already
// gone is not an error.
func (s *TradingService) cancelOrderWarn(ctx context.Context, symbol string, orderID int64, kind domain.LegKind) {
	op := "cancelOrderWarn"
	callCtx, cancel := s.orchestrator.call(ctx)
	_, err := s.exchange.CancelOrder(callCtx, symbol, orderID)
	cancel()
	if err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			s.logger.Debug(ctx, op+": order not found, likely already filled or cancelled", map[string]interface{}{"orderID": orderID, "kind": kind})
			return
		}
		s.logger.Warn(ctx, op+": failed to cancel order", map[string]interface{}{"orderID": orderID, "kind": kind, "error": err.Error()})
		return
	}
	s.logger.Info(ctx, op+": order cancelled", map[string]interface{}{"orderID": orderID, "kind": kind})
}
