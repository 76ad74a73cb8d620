package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"signalTrader/config"
	"signalTrader/internal/adapters/binanceclient"
	"signalTrader/internal/adapters/httpapi"
	"signalTrader/internal/adapters/logger"
	"signalTrader/internal/adapters/sqlite"
	"signalTrader/internal/app"
	"signalTrader/internal/compliance"
	"signalTrader/internal/lifecycle"
	"signalTrader/internal/listener"
	"signalTrader/internal/risk"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:            cfg.APIKey,
		SecretKey:         cfg.SecretKey,
		UseTestnet:        cfg.IsTestnet,
		Logger:            appLogger,
		RecvWindow:        cfg.RecvWindow,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	if err := binanceClient.SetServerTime(ctx); err != nil {
		appLogger.Warn(ctx, "Could not sync server time; relying on recvWindow", map[string]interface{}{"error": err.Error()})
	}

	// 5. Initialize trading components
	rules := compliance.NewNormalizer(binanceClient, appLogger, cfg.SymbolRulesTTL)
	orchestrator, err := app.NewOrchestrator(binanceClient, rules, risk.NewManager(appLogger), appLogger, app.OrchestratorConfig{
		QuoteAsset:          cfg.QuoteAsset,
		MinAvailableBalance: cfg.MinAvailableBalance,
		CallTimeout:         cfg.CallTimeout,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize order orchestrator: %v", err)
	}

	tradingService, err := app.NewTradingService(
		appLogger,
		binanceClient,
		orchestrator,
		lifecycle.NewTracker(repo.Trades(), appLogger),
		repo.Trades(),
		repo.Signals(),
		repo.RiskConfigs(),
		app.ServiceConfig{
			DefaultRisk:     cfg.DefaultRisk,
			DefaultLeverage: cfg.DefaultLeverage,
			Mode:            cfg.ProtectiveMode,
		},
	)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}

	fills, err := listener.New(listener.Config{
		Stream:            binanceClient,
		Logger:            appLogger,
		KeepaliveInterval: cfg.KeepaliveInterval,
		ReconnectDelay:    cfg.ReconnectDelay,
		CallTimeout:       cfg.CallTimeout,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize fill listener: %v", err)
	}

	// 6. HTTP API
	gin.SetMode(gin.ReleaseMode)
	api := httpapi.NewServer(tradingService, fills, repo, binanceClient, appLogger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 7. Run until a signal arrives or a component fails
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fills.Run(gctx) })
	g.Go(func() error { return tradingService.ConsumeFills(gctx, fills.Updates()) })
	g.Go(func() error {
		appLogger.Info(gctx, "HTTP API listening", map[string]interface{}{"addr": cfg.HTTPAddr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error(context.Background(), err, "Application exited with error")
		os.Exit(1)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
