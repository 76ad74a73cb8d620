package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"signalTrader/internal/app"
	"signalTrader/internal/domain"
)

type tradeRequest struct {
	AccountID   string    `json:"account_id"`
	SignalID    int64     `json:"signal_id"`
	Pair        string    `json:"pair"`
	Side        string    `json:"side"`
	Entry       float64   `json:"entry"`
	Leverage    int       `json:"leverage"`
	Quantity    float64   `json:"quantity"`
	Amount      float64   `json:"amount"`
	StopLoss    float64   `json:"stop_loss"`
	TakeProfits []float64 `json:"take_profits"`
}

type legResponse struct {
	Kind     domain.LegKind `json:"kind"`
	Level    int            `json:"level"`
	Quantity string         `json:"quantity"`
	Price    string         `json:"price"`
	OrderID  int64          `json:"order_id,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type outcomeResponse struct {
	Status    app.OutcomeStatus `json:"status"`
	TradeID   int64             `json:"trade_id,omitempty"`
	Pair      string            `json:"pair,omitempty"`
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Placed    *int              `json:"protective_placed,omitempty"`
	Attempted *int              `json:"protective_attempted,omitempty"`
	Legs      []legResponse     `json:"legs,omitempty"`
}

type protectiveOrderResponse struct {
	Kind         domain.LegKind `json:"kind"`
	Level        int            `json:"level"`
	OrderID      int64          `json:"order_id"`
	TriggerPrice float64        `json:"trigger_price"`
	Quantity     string         `json:"quantity"`
	Filled       bool           `json:"filled"`
}

type tradeResponse struct {
	ID                  int64                     `json:"id"`
	AccountID           string                    `json:"account_id"`
	SignalID            int64                     `json:"signal_id,omitempty"`
	Pair                string                    `json:"pair"`
	Side                domain.OrderSide          `json:"side"`
	RequestedLeverage   int                       `json:"requested_leverage"`
	Leverage            int                       `json:"leverage"`
	LeverageCapped      bool                      `json:"leverage_capped"`
	EntryPrice          float64                   `json:"entry_price"`
	EntryQuantity       string                    `json:"entry_quantity"`
	StopLoss            float64                   `json:"stop_loss"`
	TakeProfits         []float64                 `json:"take_profits"`
	EntryOrderID        int64                     `json:"entry_order_id"`
	Status              domain.TradeStatus        `json:"status"`
	ProtectiveState     domain.ProtectiveState    `json:"protective_state"`
	ProtectivePlaced    int                       `json:"protective_placed"`
	ProtectiveAttempted int                       `json:"protective_attempted"`
	ProtectiveOrders    []protectiveOrderResponse `json:"protective_orders"`
	CreatedAt           time.Time                 `json:"created_at"`
	OpenedAt            *time.Time                `json:"opened_at,omitempty"`
	ClosedAt            *time.Time                `json:"closed_at,omitempty"`
	ExitPrice           float64                   `json:"exit_price,omitempty"`
	PNL                 float64                   `json:"pnl"`
	PNLPercent          float64                   `json:"pnl_percent"`
	ExitReason          domain.CloseReason        `json:"exit_reason,omitempty"`
	Message             string                    `json:"message,omitempty"`
}

type riskConfigBody struct {
	MarginMode             string    `json:"margin_mode"`
	MaxLeverage            int       `json:"max_leverage"`
	MaxPositionValue       float64   `json:"max_position_value"`
	MaxPositionIsPercent   bool      `json:"max_position_is_percent"`
	TPExitPercentages      []float64 `json:"tp_exit_percentages"`
	AllocationFraction     float64   `json:"allocation_fraction"`
	EnableTrailingStop     bool      `json:"enable_trailing_stop"`
	TrailingStopPercent    float64   `json:"trailing_stop_percent"`
	EnableBreakeven        bool      `json:"enable_breakeven"`
	BreakevenProfitPercent float64   `json:"breakeven_profit_percent"`
}

type signalRequest struct {
	Pair        string    `json:"pair"`
	Direction   string    `json:"direction"`
	Entry       float64   `json:"entry"`
	Leverage    int       `json:"leverage"`
	TakeProfits []float64 `json:"take_profits"`
	StopLoss    float64   `json:"stop_loss"`
	Quantity    float64   `json:"quantity"`
	Channel     string    `json:"channel"`
	RawMessage  string    `json:"raw_message"`
}

func (s *Server) executeTrade(c *gin.Context) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	out := s.API.ExecuteTrade(c.Request.Context(), app.TradeRequest(req))
	s.respondOutcome(c, out)
}

func (s *Server) listTrades(c *gin.Context) {
	account := c.Query("account")
	if account == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION", "account is required")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	trades, err := s.API.ListTrades(c.Request.Context(), account, limit)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeResponse(t))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getTrade(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	trade, err := s.API.GetTrade(c.Request.Context(), id)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toTradeResponse(trade))
}

func (s *Server) closeTrade(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	s.respondOutcome(c, s.API.CloseTrade(c.Request.Context(), id))
}

func (s *Server) updateStopLoss(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var body struct {
		Price float64 `json:"price"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	s.respondOutcome(c, s.API.UpdateStopLoss(c.Request.Context(), id, body.Price))
}

func (s *Server) updateTakeProfits(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var body struct {
		Prices []float64 `json:"prices"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	s.respondOutcome(c, s.API.UpdateTakeProfits(c.Request.Context(), id, body.Prices))
}

func (s *Server) createSignal(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	sig := &domain.Signal{
		Pair:        req.Pair,
		Direction:   domain.Direction(req.Direction),
		Entry:       req.Entry,
		Leverage:    req.Leverage,
		TakeProfits: req.TakeProfits,
		StopLoss:    req.StopLoss,
		Quantity:    req.Quantity,
		Channel:     req.Channel,
		RawMessage:  req.RawMessage,
	}
	id, err := s.API.CreateSignal(c.Request.Context(), sig)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "pair": sig.Pair, "direction": sig.Direction})
}

func (s *Server) executeSignal(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var body struct {
		AccountID string `json:"account_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	s.respondOutcome(c, s.API.ExecuteSignal(c.Request.Context(), body.AccountID, id))
}

func (s *Server) getRiskConfig(c *gin.Context) {
	cfg, err := s.API.GetRiskConfig(c.Request.Context(), c.Param("account"))
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toRiskConfigBody(cfg))
}

func (s *Server) saveRiskConfig(c *gin.Context) {
	var body riskConfigBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	cfg := domain.RiskConfig{
		AccountID:              c.Param("account"),
		MarginMode:             domain.MarginMode(body.MarginMode),
		MaxLeverage:            body.MaxLeverage,
		MaxPositionValue:       body.MaxPositionValue,
		MaxPositionIsPercent:   body.MaxPositionIsPercent,
		TPExitPercentages:      body.TPExitPercentages,
		AllocationFraction:     body.AllocationFraction,
		EnableTrailingStop:     body.EnableTrailingStop,
		TrailingStopPercent:    body.TrailingStopPercent,
		EnableBreakeven:        body.EnableBreakeven,
		BreakevenProfitPercent: body.BreakevenProfitPercent,
	}
	saved, err := s.API.SaveRiskConfig(c.Request.Context(), cfg)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toRiskConfigBody(saved))
}

func (s *Server) resetRiskConfig(c *gin.Context) {
	cfg, err := s.API.ResetRiskConfig(c.Request.Context(), c.Param("account"))
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toRiskConfigBody(cfg))
}

func (s *Server) listPositions(c *gin.Context) {
	positions, err := s.API.ListOpenPositions(c.Request.Context())
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) respondErr(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request.Context(), err, "HTTP handler failed", map[string]interface{}{"path": c.FullPath()})
	}
	respondError(c, status, code, err.Error())
}

func (s *Server) respondOutcome(c *gin.Context, out app.Outcome) {
	status, code := statusFor(out.Err)
	if out.Status == app.OutcomePartial {
		// the trade exists; the body says what is missing
		status = http.StatusOK
	}
	resp := outcomeResponse{
		Status:  out.Status,
		TradeID: out.TradeID,
		Pair:    out.Pair,
		Message: out.Message,
		Code:    code,
	}
	if p := out.Placement; p != nil {
		resp.Placed, resp.Attempted = &p.Placed, &p.Attempted
		for _, l := range p.Legs {
			leg := legResponse{
				Kind:     l.Kind,
				Level:    l.Level,
				Quantity: l.Quantity.String(),
				Price:    l.TriggerPrice.String(),
				OrderID:  l.OrderID,
			}
			if l.Err != nil {
				leg.Error = l.Err.Error()
			}
			resp.Legs = append(resp.Legs, leg)
		}
	}
	c.JSON(status, resp)
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "VALIDATION", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func toTradeResponse(t *domain.Trade) tradeResponse {
	resp := tradeResponse{
		ID:                  t.ID,
		AccountID:           t.AccountID,
		SignalID:            t.SignalID,
		Pair:                t.Pair,
		Side:                t.Side,
		RequestedLeverage:   t.RequestedLeverage,
		Leverage:            t.Leverage,
		LeverageCapped:      t.LeverageCapped,
		EntryPrice:          t.EntryPrice,
		EntryQuantity:       t.EntryQuantity.String(),
		StopLoss:            t.StopLoss,
		TakeProfits:         t.ActiveTakeProfits(),
		EntryOrderID:        t.EntryOrderID,
		Status:              t.Status,
		ProtectiveState:     t.ProtectiveState,
		ProtectivePlaced:    t.ProtectivePlaced,
		ProtectiveAttempted: t.ProtectiveAttempted,
		ProtectiveOrders:    make([]protectiveOrderResponse, 0, len(t.ProtectiveOrders)),
		CreatedAt:           t.CreatedAt,
		ExitPrice:           t.ExitPrice,
		PNL:                 t.PNL,
		PNLPercent:          t.PNLPercent,
		ExitReason:          t.ExitReason,
		Message:             t.Message,
	}
	if !t.OpenedAt.IsZero() {
		opened := t.OpenedAt
		resp.OpenedAt = &opened
	}
	if !t.ClosedAt.IsZero() {
		closed := t.ClosedAt
		resp.ClosedAt = &closed
	}
	for _, o := range t.ProtectiveOrders {
		resp.ProtectiveOrders = append(resp.ProtectiveOrders, protectiveOrderResponse{
			Kind: o.Kind, Level: o.Level, OrderID: o.OrderID,
			TriggerPrice: o.TriggerPrice, Quantity: o.Quantity.String(), Filled: o.Filled,
		})
	}
	return resp
}

func toRiskConfigBody(cfg domain.RiskConfig) riskConfigBody {
	return riskConfigBody{
		MarginMode:             string(cfg.MarginMode),
		MaxLeverage:            cfg.MaxLeverage,
		MaxPositionValue:       cfg.MaxPositionValue,
		MaxPositionIsPercent:   cfg.MaxPositionIsPercent,
		TPExitPercentages:      cfg.TPExitPercentages,
		AllocationFraction:     cfg.AllocationFraction,
		EnableTrailingStop:     cfg.EnableTrailingStop,
		TrailingStopPercent:    cfg.TrailingStopPercent,
		EnableBreakeven:        cfg.EnableBreakeven,
		BreakevenProfitPercent: cfg.BreakevenProfitPercent,
	}
}
