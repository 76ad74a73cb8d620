package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"signalTrader/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository owns the SQLite connection and hands out the per-entity stores.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/signal_trader.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection serializes writers; callers must not hold rows open while issuing another query.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pair TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry REAL NOT NULL,
		leverage INTEGER NOT NULL DEFAULT 0,
		take_profits TEXT NOT NULL DEFAULT '[]',
		stop_loss REAL NOT NULL DEFAULT 0,
		quantity REAL NOT NULL DEFAULT 0,
		channel TEXT NOT NULL DEFAULT '',
		raw_message TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL,
		signal_id INTEGER NULL,
		pair TEXT NOT NULL,
		side TEXT NOT NULL,
		requested_leverage INTEGER NOT NULL,
		leverage INTEGER NOT NULL,
		leverage_capped INTEGER NOT NULL DEFAULT 0,
		entry_price REAL NOT NULL,
		entry_quantity TEXT NOT NULL,
		stop_loss REAL NOT NULL DEFAULT 0,
		tp1 REAL NOT NULL DEFAULT 0,
		tp2 REAL NOT NULL DEFAULT 0,
		tp3 REAL NOT NULL DEFAULT 0,
		tp4 REAL NOT NULL DEFAULT 0,
		entry_order_id INTEGER NOT NULL DEFAULT 0,
		entry_client_order_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		protective_state TEXT NOT NULL,
		protective_placed INTEGER NOT NULL DEFAULT 0,
		protective_attempted INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		opened_at TIMESTAMP NULL,
		closed_at TIMESTAMP NULL,
		exit_price REAL NOT NULL DEFAULT 0,
		pnl REAL NOT NULL DEFAULT 0,
		pnl_percent REAL NOT NULL DEFAULT 0,
		exit_reason TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS protective_orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id INTEGER NOT NULL REFERENCES trades(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		level INTEGER NOT NULL,
		order_id INTEGER NOT NULL,
		trigger_price REAL NOT NULL,
		quantity TEXT NOT NULL,
		filled INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS risk_configs (
		account_id TEXT PRIMARY KEY,
		margin_mode TEXT NOT NULL,
		max_leverage INTEGER NOT NULL,
		max_position_value REAL NOT NULL,
		max_position_is_percent INTEGER NOT NULL,
		tp_exit_percentages TEXT NOT NULL,
		allocation_fraction REAL NOT NULL,
		enable_trailing_stop INTEGER NOT NULL DEFAULT 0,
		trailing_stop_percent REAL NOT NULL DEFAULT 0,
		enable_breakeven INTEGER NOT NULL DEFAULT 0,
		breakeven_profit_percent REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Add indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_trades_account_created ON trades (account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_trades_entry_order ON trades (entry_order_id);
	CREATE INDEX IF NOT EXISTS idx_protective_orders_order ON protective_orders (order_id);
	CREATE INDEX IF NOT EXISTS idx_protective_orders_trade ON protective_orders (trade_id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Trades returns the ports.TradeRepository backed by this database.
func (r *Repository) Trades() *TradeStore {
	return &TradeStore{db: r.db, logger: r.logger}
}

// Signals returns the ports.SignalRepository backed by this database.
func (r *Repository) Signals() *SignalStore {
	return &SignalStore{db: r.db, logger: r.logger}
}

// RiskConfigs returns the ports.RiskConfigRepository backed by this database.
func (r *Repository) RiskConfigs() *RiskConfigStore {
	return &RiskConfigStore{db: r.db, logger: r.logger}
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrDBConnection, err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}
