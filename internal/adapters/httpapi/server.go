// Package httpapi exposes the trading service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"signalTrader/internal/app"
	"signalTrader/internal/domain"
	"signalTrader/internal/ports"
)

// TradeAPI is the part of app.TradingService served over HTTP.
type TradeAPI interface {
	ExecuteTrade(ctx context.Context, req app.TradeRequest) app.Outcome
	ExecuteSignal(ctx context.Context, accountID string, signalID int64) app.Outcome
	CreateSignal(ctx context.Context, sig *domain.Signal) (int64, error)
	CloseTrade(ctx context.Context, tradeID int64) app.Outcome
	UpdateStopLoss(ctx context.Context, tradeID int64, price float64) app.Outcome
	UpdateTakeProfits(ctx context.Context, tradeID int64, prices []float64) app.Outcome
	GetTrade(ctx context.Context, tradeID int64) (*domain.Trade, error)
	ListTrades(ctx context.Context, accountID string, limit int) ([]*domain.Trade, error)
	GetRiskConfig(ctx context.Context, accountID string) (domain.RiskConfig, error)
	SaveRiskConfig(ctx context.Context, cfg domain.RiskConfig) (domain.RiskConfig, error)
	ResetRiskConfig(ctx context.Context, accountID string) (domain.RiskConfig, error)
	ListOpenPositions(ctx context.Context) ([]app.PositionView, error)
}

// StreamStatus reports whether the fill stream is attached.
type StreamStatus interface {
	Connected() bool
}

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

const healthTimeout = 2 * time.Second

// Server wires HTTP endpoints around the trading service.
type Server struct {
	Router *gin.Engine
	API    TradeAPI
	Stream   StreamStatus
	DB       Pinger
	Exchange Pinger
	logger   ports.Logger
}

// NewServer builds the router. stream, db and exchange may be nil; health then skips them.
func NewServer(api TradeAPI, stream StreamStatus, db, exchange Pinger, logger ports.Logger) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(requestLogger(logger))

	s := &Server{Router: r, API: api, Stream: stream, DB: db, Exchange: exchange, logger: logger}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		api.POST("/trades", s.executeTrade)
		api.GET("/trades", s.listTrades)
		api.GET("/trades/:id", s.getTrade)
		api.POST("/trades/:id/close", s.closeTrade)
		api.PUT("/trades/:id/stop-loss", s.updateStopLoss)
		api.PUT("/trades/:id/take-profits", s.updateTakeProfits)

		api.POST("/signals", s.createSignal)
		api.POST("/signals/:id/execute", s.executeSignal)

		api.GET("/accounts/:account/risk-config", s.getRiskConfig)
		api.PUT("/accounts/:account/risk-config", s.saveRiskConfig)
		api.DELETE("/accounts/:account/risk-config", s.resetRiskConfig)

		api.GET("/positions", s.listPositions)
	}
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}

	if s.Stream != nil {
		body["stream_connected"] = s.Stream.Connected()
	}
	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body[name] = err.Error()
		}
	}
	check("database", s.DB)
	check("exchange", s.Exchange)
	c.JSON(status, body)
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.Router
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, ports.ErrValidation), errors.Is(err, ports.ErrInvalidRequest):
		return http.StatusBadRequest, "VALIDATION"
	case errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ports.ErrTradeNotOpen):
		return http.StatusConflict, "TRADE_NOT_OPEN"
	case errors.Is(err, ports.ErrPartialExecution):
		return http.StatusOK, "PARTIAL_EXECUTION"
	case errors.Is(err, ports.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"
	case errors.Is(err, ports.ErrComplianceViolation):
		return http.StatusUnprocessableEntity, "COMPLIANCE"
	case ports.IsTransient(err), errors.Is(err, ports.ErrRateLimited):
		return http.StatusServiceUnavailable, "EXCHANGE_UNAVAILABLE"
	case errors.Is(err, ports.ErrExchangeRejected), errors.Is(err, ports.ErrAuthenticationFailed):
		return http.StatusBadGateway, "EXCHANGE_REJECTED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func requestLogger(logger ports.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug(c.Request.Context(), "HTTP request", map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"request_id": c.GetString("request_id"),
		})
	}
}
