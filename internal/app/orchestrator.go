package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signalTrader/internal/compliance"
	"signalTrader/internal/domain"
	"signalTrader/internal/ports"
	"signalTrader/internal/risk"
)

// ProtectiveMode selects when stop-loss and take-profit legs are placed.
type ProtectiveMode string

const (
	// ProtectiveDefer waits for the entry fill event before placing exits.
	ProtectiveDefer ProtectiveMode = "defer"
	// ProtectiveImmediate places exits right after the entry order is accepted.
	ProtectiveImmediate ProtectiveMode = "immediate"
)

// ParseProtectiveMode accepts "defer" and "immediate"; anything else is an error.
func ParseProtectiveMode(raw string) (ProtectiveMode, error) {
	switch ProtectiveMode(raw) {
	case ProtectiveDefer, ProtectiveImmediate:
		return ProtectiveMode(raw), nil
	case "":
		return ProtectiveDefer, nil
	default:
		return "", fmt.Errorf("unknown protective mode %q (want defer or immediate)", raw)
	}
}

// RulesProvider returns trading rules for a symbol. It never fails.
// Invalidate drops cached rules the exchange has just contradicted.
type RulesProvider interface {
	GetSymbolRules(ctx context.Context, symbol string) domain.SymbolRules
	Invalidate(symbol string)
}

// OrchestratorConfig holds the placement settings.
type OrchestratorConfig struct {
	QuoteAsset          string
	MinAvailableBalance float64
	CallTimeout         time.Duration
}

// Orchestrator turns a sized trade into exchange orders.
type Orchestrator struct {
	exchange    ports.ExchangeClient
	rules       RulesProvider
	risk        *risk.Manager
	logger      ports.Logger
	cfg         OrchestratorConfig
	newClientID func() string
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(exchange ports.ExchangeClient, rules RulesProvider, riskMgr *risk.Manager, logger ports.Logger, cfg OrchestratorConfig) (*Orchestrator, error) {
	if exchange == nil || rules == nil || riskMgr == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Orchestrator")
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Orchestrator{
		exchange:    exchange,
		rules:       rules,
		risk:        riskMgr,
		logger:      logger,
		cfg:         cfg,
		newClientID: func() string { return "st-" + uuid.NewString()[:28] },
	}, nil
}

// EntryResult is the outcome of a successfully submitted entry order.
type EntryResult struct {
	Rules    domain.SymbolRules
	Order    *ports.OrderResponse
	Quantity decimal.Decimal // quantity protective legs should cover
	Filled   bool
}

// LegResult is the outcome of one protective order.
type LegResult struct {
	Kind         domain.LegKind
	Level        int
	Quantity     decimal.Decimal
	TriggerPrice decimal.Decimal
	OrderID      int64
	Retried      bool
	Err          error
}

// PlacementResult aggregates the protective legs of one placement pass.
type PlacementResult struct {
	Attempted int
	Placed    int
	Legs      []LegResult
}

// OK reports whether every attempted leg was placed.
func (r PlacementResult) OK() bool {
	return r.Placed == r.Attempted
}

// Err returns ErrPartialExecution when any leg failed.
func (r PlacementResult) Err() error {
	if r.OK() {
		return nil
	}
	var first error
	for _, l := range r.Legs {
		if l.Err != nil {
			first = l.Err
			break
		}
	}
	return fmt.Errorf("%w: %d/%d protective orders placed: %w", ports.ErrPartialExecution, r.Placed, r.Attempted, first)
}

func (o *Orchestrator) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.cfg.CallTimeout)
}

// PlaceEntry checks the balance, configures the symbol, sizes and normalizes the
// entry, then submits it as a resting LIMIT GTC order. It updates the trade's entry
// fields; the caller persists them.
func (o *Orchestrator) PlaceEntry(ctx context.Context, trade *domain.Trade, requestedQty float64, cfg domain.RiskConfig) (*EntryResult, error) {
	op := "PlaceEntry"
	fields := map[string]interface{}{"tradeID": trade.ID, "symbol": trade.Pair}

	// 1. Balance
	callCtx, cancel := o.call(ctx)
	balance, err := o.exchange.GetAvailableBalance(callCtx, o.cfg.QuoteAsset)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%s: balance query failed: %w", op, err)
	}
	if balance < o.cfg.MinAvailableBalance {
		return nil, fmt.Errorf("%w: available %s balance %.2f is below the minimum %.2f",
			ports.ErrInsufficientFunds, o.cfg.QuoteAsset, balance, o.cfg.MinAvailableBalance)
	}

	// 2. Leverage and margin mode must be in place before the entry references them.
	callCtx, cancel = o.call(ctx)
	err = o.exchange.SetLeverage(callCtx, trade.Pair, trade.Leverage)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%s: set leverage %dx failed: %w", op, trade.Leverage, err)
	}
	callCtx, cancel = o.call(ctx)
	err = o.exchange.SetMarginType(callCtx, trade.Pair, cfg.MarginMode)
	cancel()
	if err != nil && !errors.Is(err, ports.ErrNoChangeNeeded) {
		return nil, fmt.Errorf("%s: set margin type %s failed: %w", op, cfg.MarginMode, err)
	}

	// 3. Size and normalize.
	rules := o.rules.GetSymbolRules(ctx, trade.Pair)
	qty := o.risk.ComputeQuantity(ctx, requestedQty, trade.EntryPrice, trade.Leverage, balance, cfg)
	if requestedQty <= 0 {
		qty, _ = o.risk.CapPositionValue(ctx, qty, trade.EntryPrice, trade.Leverage, balance, cfg)
	}
	qty = compliance.NormalizeQuantity(qty, rules)
	price := compliance.NormalizePrice(decimal.NewFromFloat(trade.EntryPrice), rules)
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: quantity rounds to zero at step %s", ports.ErrComplianceViolation, rules.StepSize)
	}
	if err := compliance.ValidateNotional(qty, price, rules, false); err != nil {
		return nil, err
	}

	// 4. Entry order.
	clientID := o.newClientID()
	req := ports.OrderRequest{
		Symbol:        trade.Pair,
		Side:          trade.Side,
		Type:          domain.OrderTypeLimit,
		Quantity:      compliance.FormatQuantity(qty, rules),
		Price:         compliance.FormatPrice(price, rules),
		ClientOrderID: clientID,
	}
	fields["quantity"], fields["price"], fields["leverage"] = req.Quantity, req.Price, trade.Leverage
	o.logger.Info(ctx, op+": placing entry order", fields)

	callCtx, cancel = o.call(ctx)
	resp, err := o.exchange.PlaceOrder(callCtx, req)
	cancel()
	if err != nil {
		o.rejected(ctx, trade.Pair, err)
		return nil, fmt.Errorf("%s: entry order rejected: %w", op, err)
	}

	result := &EntryResult{Rules: rules, Order: resp, Quantity: qty}
	if resp.Status == domain.OrderStatusFilled {
		// Executed quantity is only meaningful once the order has matched.
		if executed, err := decimal.NewFromString(resp.ExecutedQty); err == nil && executed.IsPositive() {
			result.Quantity = executed
		}
		result.Filled = true
	}

	trade.EntryOrderID = resp.OrderID
	trade.EntryClientOrderID = clientID
	trade.EntryPrice = price.InexactFloat64()
	trade.EntryQuantity = result.Quantity

	fields["orderID"], fields["status"] = resp.OrderID, resp.Status
	o.logger.Info(ctx, op+": entry order accepted", fields)
	return result, nil
}

// PlaceProtectiveOrders places the stop-loss for the full quantity and splits the
// same quantity across the take-profit levels. Every leg is reduce-only; a failing
// leg never stops the others. The trade's protective fields are updated in place.
func (o *Orchestrator) PlaceProtectiveOrders(ctx context.Context, trade *domain.Trade, qty decimal.Decimal, cfg domain.RiskConfig) PlacementResult {
	rules := o.rules.GetSymbolRules(ctx, trade.Pair)
	var result PlacementResult

	if trade.StopLoss > 0 {
		leg := o.placeLeg(ctx, trade, domain.LegStopLoss, 0, qty, trade.StopLoss, rules)
		result.add(trade, leg)
	}

	tps := trade.ActiveTakeProfits()
	result.merge(o.placeTakeProfits(ctx, trade, qty, tps, cfg, rules))

	trade.ProtectivePlaced += result.Placed
	trade.ProtectiveAttempted += result.Attempted
	if trade.ProtectivePlaced == trade.ProtectiveAttempted {
		trade.ProtectiveState = domain.ProtectivePlaced
	} else {
		trade.ProtectiveState = domain.ProtectivePartial
	}

	o.logger.Info(ctx, "Protective orders placed", map[string]interface{}{
		"tradeID": trade.ID, "symbol": trade.Pair, "placed": result.Placed, "attempted": result.Attempted,
	})
	return result
}

func (o *Orchestrator) placeTakeProfits(ctx context.Context, trade *domain.Trade, qty decimal.Decimal, prices []float64, cfg domain.RiskConfig, rules domain.SymbolRules) PlacementResult {
	var result PlacementResult
	if len(prices) == 0 || !qty.IsPositive() {
		return result
	}

	split, err := risk.SplitExitQuantity(qty, risk.ExitPercentages(cfg, len(prices)), rules)
	if err != nil {
		result.Attempted = len(prices)
		for i := range prices {
			result.Legs = append(result.Legs, LegResult{Kind: domain.LegTakeProfit, Level: i + 1, Err: err})
		}
		o.logger.Error(ctx, err, "Take-profit split failed", map[string]interface{}{"tradeID": trade.ID})
		return result
	}

	for i, price := range prices {
		if !split[i].IsPositive() {
			o.logger.Debug(ctx, "Skipping empty take-profit leg", map[string]interface{}{"tradeID": trade.ID, "level": i + 1})
			continue
		}
		leg := o.placeLeg(ctx, trade, domain.LegTakeProfit, i+1, split[i], price, rules)
		result.add(trade, leg)
	}
	return result
}

// placeLeg submits one reduce-only conditional order, retrying once on a transient error.
func (o *Orchestrator) placeLeg(ctx context.Context, trade *domain.Trade, kind domain.LegKind, level int, qty decimal.Decimal, trigger float64, rules domain.SymbolRules) LegResult {
	orderType := domain.OrderTypeStopMarket
	if kind == domain.LegTakeProfit {
		orderType = domain.OrderTypeTakeProfitMarket
	}
	stop := compliance.NormalizePrice(decimal.NewFromFloat(trigger), rules)
	qty = compliance.NormalizeQuantity(qty, rules)
	leg := LegResult{Kind: kind, Level: level, Quantity: qty, TriggerPrice: stop}

	if !qty.IsPositive() {
		leg.Err = fmt.Errorf("%w: %s leg quantity rounds to zero", ports.ErrComplianceViolation, kind)
		return leg
	}

	req := ports.OrderRequest{
		Symbol:     trade.Pair,
		Side:       trade.ExitSide(),
		Type:       orderType,
		Quantity:   compliance.FormatQuantity(qty, rules),
		StopPrice:  compliance.FormatPrice(stop, rules),
		ReduceOnly: true,
	}
	fields := map[string]interface{}{
		"tradeID": trade.ID, "symbol": trade.Pair, "kind": kind, "level": level, "quantity": req.Quantity, "stopPrice": req.StopPrice,
	}

	for attempt := 0; attempt < 2; attempt++ {
		req.ClientOrderID = o.newClientID()
		callCtx, cancel := o.call(ctx)
		resp, err := o.exchange.PlaceOrder(callCtx, req)
		cancel()
		if err == nil {
			leg.OrderID = resp.OrderID
			leg.Err = nil
			return leg
		}
		leg.Err = err
		o.rejected(ctx, trade.Pair, err)
		if attempt > 0 || !ports.IsTransient(err) {
			break
		}
		leg.Retried = true
		o.logger.Warn(ctx, "Protective order hit a transient error, retrying once", fields)
	}
	o.logger.Error(ctx, leg.Err, "Protective order failed", fields)
	return leg
}

func (r *PlacementResult) add(trade *domain.Trade, leg LegResult) {
	r.Attempted++
	r.Legs = append(r.Legs, leg)
	if leg.Err != nil {
		return
	}
	r.Placed++
	trade.ProtectiveOrders = append(trade.ProtectiveOrders, domain.ProtectiveOrder{
		Kind:         leg.Kind,
		Level:        leg.Level,
		OrderID:      leg.OrderID,
		TriggerPrice: leg.TriggerPrice.InexactFloat64(),
		Quantity:     leg.Quantity,
	})
}

func (r *PlacementResult) merge(other PlacementResult) {
	r.Attempted += other.Attempted
	r.Placed += other.Placed
	r.Legs = append(r.Legs, other.Legs...)
}

// ReplaceStopLoss cancels the resting stop-loss orders of the trade's symbol and side
// and places a new one for the still-open quantity.
func (o *Orchestrator) ReplaceStopLoss(ctx context.Context, trade *domain.Trade, price float64) (LegResult, error) {
	if err := o.cancelByType(ctx, trade, domain.OrderTypeStopMarket); err != nil {
		return LegResult{}, err
	}
	tpMissing := missingTakeProfits(trade)
	trade.ProtectiveOrders = dropLegs(trade.ProtectiveOrders, func(l domain.ProtectiveOrder) bool { return l.Kind == domain.LegStopLoss })
	trade.StopLoss = price

	rules := o.rules.GetSymbolRules(ctx, trade.Pair)
	var result PlacementResult
	leg := o.placeLeg(ctx, trade, domain.LegStopLoss, 0, OpenQuantity(trade), price, rules)
	result.add(trade, leg)
	refreshCounters(trade, tpMissing)
	return leg, leg.Err
}

// ReplaceTakeProfits cancels the unfilled take-profit orders and splits the still-open
// quantity across the new prices (at most four).
func (o *Orchestrator) ReplaceTakeProfits(ctx context.Context, trade *domain.Trade, prices []float64, cfg domain.RiskConfig) (PlacementResult, error) {
	if len(prices) > domain.MaxTakeProfitLevels {
		return PlacementResult{}, fmt.Errorf("%w: at most %d take-profit levels", ports.ErrValidation, domain.MaxTakeProfitLevels)
	}
	if err := o.cancelByType(ctx, trade, domain.OrderTypeTakeProfitMarket); err != nil {
		return PlacementResult{}, err
	}
	remaining := OpenQuantity(trade)
	trade.ProtectiveOrders = dropLegs(trade.ProtectiveOrders, func(l domain.ProtectiveOrder) bool {
		return l.Kind == domain.LegTakeProfit && !l.Filled
	})
	trade.TakeProfits = [domain.MaxTakeProfitLevels]float64{}
	copy(trade.TakeProfits[:], prices)

	rules := o.rules.GetSymbolRules(ctx, trade.Pair)
	result := o.placeTakeProfits(ctx, trade, remaining, trade.ActiveTakeProfits(), cfg, rules)
	refreshCounters(trade, result.Attempted-result.Placed)
	return result, result.Err()
}

// ClosePosition cancels every resting order for the symbol and closes the open
// quantity with a reduce-only MARKET order.
func (o *Orchestrator) ClosePosition(ctx context.Context, trade *domain.Trade) (*ports.OrderResponse, error) {
	op := "ClosePosition"
	callCtx, cancel := o.call(ctx)
	if err := o.exchange.CancelAllOpenOrders(callCtx, trade.Pair); err != nil {
		o.logger.Warn(ctx, op+": cancel open orders failed, closing anyway", map[string]interface{}{"tradeID": trade.ID, "error": err.Error()})
	}
	cancel()

	rules := o.rules.GetSymbolRules(ctx, trade.Pair)
	qty := compliance.NormalizeQuantity(OpenQuantity(trade), rules)
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%s: %w: no open quantity on trade %d", op, ports.ErrTradeNotOpen, trade.ID)
	}

	req := ports.OrderRequest{
		Symbol:        trade.Pair,
		Side:          trade.ExitSide(),
		Type:          domain.OrderTypeMarket,
		Quantity:      compliance.FormatQuantity(qty, rules),
		ReduceOnly:    true,
		ClientOrderID: o.newClientID(),
	}
	callCtx, cancel = o.call(ctx)
	resp, err := o.exchange.PlaceOrder(callCtx, req)
	cancel()
	if err != nil {
		o.rejected(ctx, trade.Pair, err)
		return nil, fmt.Errorf("%s: close order rejected: %w", op, err)
	}
	o.logger.Info(ctx, op+": close order placed", map[string]interface{}{
		"tradeID": trade.ID, "orderID": resp.OrderID, "quantity": req.Quantity, "avgPrice": resp.AvgPrice,
	})
	return resp, nil
}

// rejected refreshes the symbol's rules on the next lookup when the exchange
// refused an order for filter reasons.
func (o *Orchestrator) rejected(ctx context.Context, symbol string, err error) {
	if !errors.Is(err, ports.ErrComplianceViolation) {
		return
	}
	o.rules.Invalidate(symbol)
	o.logger.Warn(ctx, "Order failed exchange filters, symbol rules invalidated", map[string]interface{}{"symbol": symbol, "error": err.Error()})
}

// cancelByType cancels resting orders on the trade's exit side with the given type.
func (o *Orchestrator) cancelByType(ctx context.Context, trade *domain.Trade, orderType domain.OrderType) error {
	callCtx, cancel := o.call(ctx)
	open, err := o.exchange.ListOpenOrders(callCtx, trade.Pair)
	cancel()
	if err != nil {
		return fmt.Errorf("list open orders for %s: %w", trade.Pair, err)
	}

	exitSide := trade.ExitSide()
	var ids []int64
	for _, order := range open {
		if order.Side == exitSide && order.Type == orderType {
			ids = append(ids, order.OrderID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	callCtx, cancel = o.call(ctx)
	err = o.exchange.CancelOrders(callCtx, trade.Pair, ids)
	cancel()
	if err != nil {
		return fmt.Errorf("cancel %s orders for %s: %w", orderType, trade.Pair, err)
	}
	o.logger.Info(ctx, "Cancelled resting orders", map[string]interface{}{"tradeID": trade.ID, "type": orderType, "orderIDs": ids})
	return nil
}

// refreshCounters recomputes the placement counters after legs were replaced.
// Every tracked leg counts as placed; a configured stop-loss without a leg counts as missing.
func refreshCounters(trade *domain.Trade, tpMissing int) {
	missing := tpMissing
	if trade.StopLoss > 0 && !hasLeg(trade, domain.LegStopLoss) {
		missing++
	}
	trade.ProtectivePlaced = len(trade.ProtectiveOrders)
	trade.ProtectiveAttempted = trade.ProtectivePlaced + missing
	if missing > 0 {
		trade.ProtectiveState = domain.ProtectivePartial
	} else {
		trade.ProtectiveState = domain.ProtectivePlaced
	}
}

// missingTakeProfits is the number of take-profit legs the last placement could not place.
func missingTakeProfits(trade *domain.Trade) int {
	missing := trade.ProtectiveAttempted - trade.ProtectivePlaced
	if trade.StopLoss > 0 && !hasLeg(trade, domain.LegStopLoss) {
		missing--
	}
	if missing < 0 {
		return 0
	}
	return missing
}

func hasLeg(trade *domain.Trade, kind domain.LegKind) bool {
	for _, l := range trade.ProtectiveOrders {
		if l.Kind == kind {
			return true
		}
	}
	return false
}

// OpenQuantity is the entry quantity minus the take-profit legs that already filled.
func OpenQuantity(trade *domain.Trade) decimal.Decimal {
	qty := trade.EntryQuantity
	for _, l := range trade.ProtectiveOrders {
		if l.Kind == domain.LegTakeProfit && l.Filled {
			qty = qty.Sub(l.Quantity)
		}
	}
	if qty.IsNegative() {
		return decimal.Zero
	}
	return qty
}

func dropLegs(legs []domain.ProtectiveOrder, drop func(domain.ProtectiveOrder) bool) []domain.ProtectiveOrder {
	kept := legs[:0:0]
	for _, l := range legs {
		if !drop(l) {
			kept = append(kept, l)
		}
	}
	return kept
}

