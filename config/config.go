package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"signalTrader/internal/adapters/logger"
	"signalTrader/internal/app"
	"signalTrader/internal/domain"
	"signalTrader/internal/risk"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Exchange client
	RecvWindow        time.Duration
	CallTimeout       time.Duration
	RequestsPerSecond float64
	SymbolRulesTTL    time.Duration

	// User data stream
	KeepaliveInterval time.Duration
	ReconnectDelay    time.Duration

	// Trading
	QuoteAsset          string
	MinAvailableBalance float64 // Minimum available balance required for trading
	DefaultLeverage     int     // Used when a request carries no leverage
	ProtectiveMode      app.ProtectiveMode
	DefaultRisk         domain.RiskConfig

	// Database
	DBPath string

	// HTTP API
	HTTPAddr string

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Exchange client
	recvWindowMs := getEnvAsInt("RECV_WINDOW_MS", 60000)
	if recvWindowMs <= 0 || recvWindowMs > 60000 {
		errs = append(errs, "RECV_WINDOW_MS must be between 1 and 60000")
	}
	cfg.RecvWindow = time.Duration(recvWindowMs) * time.Millisecond

	callTimeoutSeconds := getEnvAsInt("EXCHANGE_CALL_TIMEOUT_SECONDS", 10)
	if callTimeoutSeconds <= 0 {
		errs = append(errs, "EXCHANGE_CALL_TIMEOUT_SECONDS must be positive")
	}
	cfg.CallTimeout = time.Duration(callTimeoutSeconds) * time.Second

	cfg.RequestsPerSecond, err = getEnvAsFloatRequired("EXCHANGE_RATE_LIMIT_PER_SECOND", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid EXCHANGE_RATE_LIMIT_PER_SECOND: %v", err))
	} else if cfg.RequestsPerSecond <= 0 {
		errs = append(errs, "EXCHANGE_RATE_LIMIT_PER_SECOND must be positive")
	}

	rulesTTLMinutes := getEnvAsInt("SYMBOL_RULES_TTL_MINUTES", 15)
	if rulesTTLMinutes <= 0 {
		errs = append(errs, "SYMBOL_RULES_TTL_MINUTES must be positive")
	}
	cfg.SymbolRulesTTL = time.Duration(rulesTTLMinutes) * time.Minute

	// User data stream
	keepaliveMinutes := getEnvAsInt("LISTEN_KEY_KEEPALIVE_MINUTES", 30)
	if keepaliveMinutes <= 0 || keepaliveMinutes >= 60 {
		errs = append(errs, "LISTEN_KEY_KEEPALIVE_MINUTES must be between 1 and 59")
	}
	cfg.KeepaliveInterval = time.Duration(keepaliveMinutes) * time.Minute

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	// Trading
	cfg.QuoteAsset = strings.ToUpper(getEnv("QUOTE_ASSET", "USDT"))

	cfg.MinAvailableBalance, err = getEnvAsFloatRequired("MIN_AVAILABLE_BALANCE", 10.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_AVAILABLE_BALANCE: %v", err))
	} else if cfg.MinAvailableBalance < 0 {
		errs = append(errs, "MIN_AVAILABLE_BALANCE cannot be negative")
	}

	cfg.DefaultLeverage, err = getEnvAsIntRequired("DEFAULT_LEVERAGE", 1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_LEVERAGE: %v", err))
	} else if cfg.DefaultLeverage <= 0 {
		errs = append(errs, "DEFAULT_LEVERAGE must be positive")
	}

	cfg.ProtectiveMode, err = app.ParseProtectiveMode(getEnv("PROTECTIVE_MODE", ""))
	if err != nil {
		errs = append(errs, err.Error())
	}

	cfg.DefaultRisk, err = loadDefaultRisk(getEnv("RISK_DEFAULTS_FILE", ""))
	if err != nil {
		errs = append(errs, err.Error())
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/signal_trader.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// HTTP API
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "json"))
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		errs = append(errs, "LOG_FORMAT must be json or console")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// loadDefaultRisk builds the fallback risk profile: built-in values, then the
// optional YAML file, then DEFAULT_* environment overrides.
func loadDefaultRisk(path string) (domain.RiskConfig, error) {
	cfg := domain.DefaultRiskConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read RISK_DEFAULTS_FILE: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse RISK_DEFAULTS_FILE %s: %w", path, err)
		}
	}

	var errs []string
	if v := getEnv("DEFAULT_MARGIN_MODE", ""); v != "" {
		cfg.MarginMode = domain.MarginMode(v)
	}
	if v, err := getEnvAsIntRequired("DEFAULT_MAX_LEVERAGE", cfg.MaxLeverage); err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_MAX_LEVERAGE: %v", err))
	} else {
		cfg.MaxLeverage = v
	}
	if v, err := getEnvAsFloatRequired("DEFAULT_MAX_POSITION_VALUE", cfg.MaxPositionValue); err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_MAX_POSITION_VALUE: %v", err))
	} else {
		cfg.MaxPositionValue = v
	}
	cfg.MaxPositionIsPercent = getEnvAsBool("DEFAULT_MAX_POSITION_IS_PERCENT", cfg.MaxPositionIsPercent)
	if v, err := getEnvAsFloatRequired("DEFAULT_ALLOCATION_FRACTION", cfg.AllocationFraction); err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_ALLOCATION_FRACTION: %v", err))
	} else {
		cfg.AllocationFraction = v
	}
	if v := getEnv("DEFAULT_TP_EXIT_PERCENTAGES", ""); v != "" {
		pcts, err := parseFloatList(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid DEFAULT_TP_EXIT_PERCENTAGES: %v", err))
		} else {
			cfg.TPExitPercentages = pcts
		}
	}
	if len(errs) > 0 {
		return cfg, fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	if mode, ok := domain.ParseMarginMode(string(cfg.MarginMode)); ok {
		cfg.MarginMode = mode
	}
	if err := risk.ValidateConfig(cfg); err != nil {
		return cfg, fmt.Errorf("default risk profile: %w", err)
	}
	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func parseFloatList(raw string) ([]float64, error) {
	parts := strings.Split(raw, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
