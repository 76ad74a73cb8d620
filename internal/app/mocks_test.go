package app

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"signalTrader/internal/domain"
	"signalTrader/internal/lifecycle"
	"signalTrader/internal/ports"
	"signalTrader/internal/risk"
)

// mockLogger records messages by level.
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

// mockExchange implements ports.ExchangeClient. Order errors are queued per order type
// and consumed one per PlaceOrder call.
type mockExchange struct {
	mu sync.Mutex

	balance       float64
	balanceErr    error
	leverageErr   error
	marginErr     error
	markPrice     float64
	entryStatus   string
	entryExecuted string
	closeAvgPrice float64
	orderErrors   map[domain.OrderType][]error
	openOrders    []*ports.OpenOrder
	positions     []*ports.PositionRisk
	cancelAllErr  error
	cancelErrs    map[int64]error

	calls        []string
	placed       []ports.OrderRequest
	leverageSet  []int
	marginSet    []domain.MarginMode
	cancelled    []int64
	cancelAllFor []string
	nextID       int64
}

func newMockExchange() *mockExchange {
	return &mockExchange{
		balance:     100,
		entryStatus: domain.OrderStatusNew,
		orderErrors: make(map[domain.OrderType][]error),
		cancelErrs:  make(map[int64]error),
		nextID:      1000,
	}
}

func (m *mockExchange) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockExchange) SetServerTime(ctx context.Context) error { return nil }
func (m *mockExchange) Ping(ctx context.Context) error          { return nil }

func (m *mockExchange) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetMarkPrice")
	return m.markPrice, nil
}

func (m *mockExchange) GetAvailableBalance(ctx context.Context, asset string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetAvailableBalance")
	return m.balance, m.balanceErr
}

func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SetLeverage")
	m.leverageSet = append(m.leverageSet, leverage)
	return m.leverageErr
}

func (m *mockExchange) SetMarginType(ctx context.Context, symbol string, mode domain.MarginMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SetMarginType")
	m.marginSet = append(m.marginSet, mode)
	return m.marginErr
}

func (m *mockExchange) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("PlaceOrder")
	m.placed = append(m.placed, req)

	if errs := m.orderErrors[req.Type]; len(errs) > 0 {
		m.orderErrors[req.Type] = errs[1:]
		if errs[0] != nil {
			return nil, errs[0]
		}
	}

	m.nextID++
	resp := &ports.OrderResponse{
		OrderID:       m.nextID,
		Symbol:        req.Symbol,
		ClientOrderID: req.ClientOrderID,
		OrigQuantity:  req.Quantity,
		ExecutedQty:   "0",
		Status:        domain.OrderStatusNew,
		Type:          string(req.Type),
		Side:          string(req.Side),
	}
	switch req.Type {
	case domain.OrderTypeLimit:
		resp.Status = m.entryStatus
		if m.entryExecuted != "" {
			resp.ExecutedQty = m.entryExecuted
		}
	case domain.OrderTypeMarket:
		resp.Status = domain.OrderStatusFilled
		resp.ExecutedQty = req.Quantity
		resp.AvgPrice = m.closeAvgPrice
	}
	return resp, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CancelOrder")
	if err := m.cancelErrs[orderID]; err != nil {
		return nil, err
	}
	m.cancelled = append(m.cancelled, orderID)
	return &ports.OrderResponse{OrderID: orderID, Status: domain.OrderStatusCanceled}, nil
}

func (m *mockExchange) CancelOrders(ctx context.Context, symbol string, orderIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CancelOrders")
	m.cancelled = append(m.cancelled, orderIDs...)
	return nil
}

func (m *mockExchange) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CancelAllOpenOrders")
	m.cancelAllFor = append(m.cancelAllFor, symbol)
	return m.cancelAllErr
}

func (m *mockExchange) ListOpenOrders(ctx context.Context, symbol string) ([]*ports.OpenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListOpenOrders")
	var out []*ports.OpenOrder
	for _, o := range m.openOrders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockExchange) GetSymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	return nil, nil
}

func (m *mockExchange) ListPositionRisks(ctx context.Context) ([]*ports.PositionRisk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListPositionRisks")
	return m.positions, nil
}

// ordersOfType returns the submitted orders with type t, in submission order.
func (m *mockExchange) ordersOfType(t domain.OrderType) []ports.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ports.OrderRequest
	for _, o := range m.placed {
		if o.Type == t {
			out = append(out, o)
		}
	}
	return out
}

func (m *mockExchange) placedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.placed)
}

// fixedRules serves the same rules for every symbol and records invalidations.
type fixedRules struct {
	mu          sync.Mutex
	rules       domain.SymbolRules
	invalidated []string
}

func (f *fixedRules) GetSymbolRules(ctx context.Context, symbol string) domain.SymbolRules {
	r := f.rules
	r.Symbol = symbol
	return r
}

func (f *fixedRules) Invalidate(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, symbol)
}

func (f *fixedRules) invalidations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invalidated...)
}

// wholeUnitRules: step 1, tick 0.001, min notional 5.
func wholeUnitRules() *fixedRules {
	return &fixedRules{rules: domain.SymbolRules{
		StepSize:          decimal.NewFromInt(1),
		TickSize:          decimal.RequireFromString("0.001"),
		MinNotional:       decimal.NewFromInt(5),
		QuantityPrecision: 0,
		PricePrecision:    3,
	}}
}

// memTradeRepo is an in-memory ports.TradeRepository that stores copies.
type memTradeRepo struct {
	mu     sync.Mutex
	trades map[int64]domain.Trade
	nextID int64
	// updateErrs is consumed one per Update; a nil entry lets that call through.
	updateErrs []error
}

func newMemTradeRepo() *memTradeRepo {
	return &memTradeRepo{trades: make(map[int64]domain.Trade)}
}

func cloneTrade(t domain.Trade) domain.Trade {
	t.ProtectiveOrders = append([]domain.ProtectiveOrder(nil), t.ProtectiveOrders...)
	return t
}

func (m *memTradeRepo) Create(ctx context.Context, trade *domain.Trade) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	trade.ID = m.nextID
	m.trades[trade.ID] = cloneTrade(*trade)
	return trade.ID, nil
}

func (m *memTradeRepo) Update(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.updateErrs) > 0 {
		err := m.updateErrs[0]
		m.updateErrs = m.updateErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := m.trades[trade.ID]; !ok {
		return ports.ErrNotFound
	}
	m.trades[trade.ID] = cloneTrade(*trade)
	return nil
}

func (m *memTradeRepo) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok {
		return nil, nil
	}
	c := cloneTrade(t)
	return &c, nil
}

func (m *memTradeRepo) FindByOrderID(ctx context.Context, symbol string, orderID int64) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trades {
		if t.Pair != symbol {
			continue
		}
		if t.EntryOrderID == orderID {
			c := cloneTrade(t)
			return &c, nil
		}
		for _, l := range t.ProtectiveOrders {
			if l.OrderID == orderID {
				c := cloneTrade(t)
				return &c, nil
			}
		}
	}
	return nil, nil
}

func (m *memTradeRepo) FindByAccount(ctx context.Context, accountID string, limit int) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.trades {
		if t.AccountID == accountID {
			c := cloneTrade(t)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTradeRepo) FindActiveBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.trades {
		if t.Pair == symbol && (t.Status == domain.TradeStatusPending || t.Status == domain.TradeStatusOpen) {
			c := cloneTrade(t)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memTradeRepo) get(t *testing.T, id int64) domain.Trade {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	trade, ok := m.trades[id]
	require.True(t, ok, "trade %d not stored", id)
	return cloneTrade(trade)
}

type memSignalRepo struct {
	signals map[int64]domain.Signal
	nextID  int64
}

func (m *memSignalRepo) Create(ctx context.Context, s *domain.Signal) (int64, error) {
	m.nextID++
	s.ID = m.nextID
	m.signals[s.ID] = *s
	return s.ID, nil
}

func (m *memSignalRepo) FindByID(ctx context.Context, id int64) (*domain.Signal, error) {
	s, ok := m.signals[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memSignalRepo) FindRecent(ctx context.Context, limit int) ([]*domain.Signal, error) {
	return nil, nil
}

type memRiskRepo struct {
	configs map[string]domain.RiskConfig
}

func (m *memRiskRepo) Save(ctx context.Context, cfg *domain.RiskConfig) error {
	m.configs[cfg.AccountID] = cfg.ForAccount(cfg.AccountID)
	return nil
}

func (m *memRiskRepo) FindByAccount(ctx context.Context, accountID string) (*domain.RiskConfig, error) {
	cfg, ok := m.configs[accountID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (m *memRiskRepo) Delete(ctx context.Context, accountID string) error {
	delete(m.configs, accountID)
	return nil
}

// testEnv wires a TradingService over in-memory fakes.
type testEnv struct {
	svc      *TradingService
	orch     *Orchestrator
	rules    *fixedRules
	exchange *mockExchange
	trades   *memTradeRepo
	signals  *memSignalRepo
	risk     *memRiskRepo
	logger   *mockLogger
}

func newTestEnv(t *testing.T, mode ProtectiveMode) *testEnv {
	t.Helper()
	env := &testEnv{
		exchange: newMockExchange(),
		trades:   newMemTradeRepo(),
		signals:  &memSignalRepo{signals: make(map[int64]domain.Signal)},
		risk:     &memRiskRepo{configs: make(map[string]domain.RiskConfig)},
		logger:   &mockLogger{},
		rules:    wholeUnitRules(),
	}
	orch, err := NewOrchestrator(env.exchange, env.rules, risk.NewManager(env.logger), env.logger, OrchestratorConfig{
		QuoteAsset:          "USDT",
		MinAvailableBalance: 10,
	})
	require.NoError(t, err)
	env.orch = orch

	svc, err := NewTradingService(env.logger, env.exchange, orch, lifecycle.NewTracker(env.trades, env.logger),
		env.trades, env.signals, env.risk, ServiceConfig{
			DefaultRisk:     domain.DefaultRiskConfig(),
			DefaultLeverage: 1,
			Mode:            mode,
		})
	require.NoError(t, err)
	env.svc = svc
	return env
}

// scenarioRequest is a LONG on ABCUSDT at 1.098 with four take-profits and 20x requested leverage.
func scenarioRequest() TradeRequest {
	return TradeRequest{
		AccountID:   "acct-1",
		Pair:        "ABCUSDT.P",
		Side:        "LONG",
		Entry:       1.098,
		Leverage:    20,
		StopLoss:    1.075,
		TakeProfits: []float64{1.112, 1.128, 1.145, 1.165},
	}
}

// withMaxLeverage stores a risk config for acct-1 with the given leverage cap.
func (e *testEnv) withMaxLeverage(maxLev int) {
	cfg := domain.DefaultRiskConfig().ForAccount("acct-1")
	cfg.MaxLeverage = maxLev
	e.risk.configs["acct-1"] = cfg
}

func entryFill(trade domain.Trade, qty string) *domain.OrderUpdate {
	return &domain.OrderUpdate{
		Symbol:         trade.Pair,
		OrderID:        trade.EntryOrderID,
		Side:           trade.Side,
		Type:           domain.OrderTypeLimit,
		Status:         domain.OrderStatusFilled,
		ExecutionType:  domain.ExecutionTypeTrade,
		AveragePrice:   trade.EntryPrice,
		FilledQuantity: decimal.RequireFromString(qty),
	}
}

func legFill(trade domain.Trade, orderID int64, price float64) *domain.OrderUpdate {
	return &domain.OrderUpdate{
		Symbol:        trade.Pair,
		OrderID:       orderID,
		Side:          trade.ExitSide(),
		Status:        domain.OrderStatusFilled,
		ExecutionType: domain.ExecutionTypeTrade,
		AveragePrice:  price,
	}
}
