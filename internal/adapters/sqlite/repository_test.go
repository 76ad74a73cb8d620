package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalTrader/internal/domain"
	"signalTrader/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "signal-trader-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

func newPendingTrade(account, pair string) *domain.Trade {
	return &domain.Trade{
		AccountID:          account,
		SignalID:           3,
		Pair:               pair,
		Side:               domain.Buy,
		RequestedLeverage:  20,
		Leverage:           10,
		LeverageCapped:     true,
		EntryPrice:         1.098,
		EntryQuantity:      decimal.RequireFromString("100.5"),
		StopLoss:           0.95,
		TakeProfits:        [domain.MaxTakeProfitLevels]float64{1.15, 1.2, 1.3, 0},
		EntryOrderID:       1001,
		EntryClientOrderID: "entry-abc",
		Status:             domain.TradeStatusPending,
		ProtectiveState:    domain.ProtectiveAwaitingFill,
		CreatedAt:          time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTradeStore_CreateAndFind(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	store := repo.Trades()
	ctx := context.Background()

	trade := newPendingTrade("acct-1", "ABCUSDT")
	id, err := store.Create(ctx, trade)
	require.NoError(t, err)
	assert.Equal(t, id, trade.ID)

	found, err := store.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, found)

	assert.Equal(t, "acct-1", found.AccountID)
	assert.Equal(t, int64(3), found.SignalID)
	assert.Equal(t, domain.Buy, found.Side)
	assert.Equal(t, 20, found.RequestedLeverage)
	assert.Equal(t, 10, found.Leverage)
	assert.True(t, found.LeverageCapped)
	assert.Equal(t, "100.5", found.EntryQuantity.String())
	assert.Equal(t, trade.TakeProfits, found.TakeProfits)
	assert.Equal(t, domain.TradeStatusPending, found.Status)
	assert.Equal(t, domain.ProtectiveAwaitingFill, found.ProtectiveState)
	assert.True(t, found.CreatedAt.Equal(trade.CreatedAt))
	assert.True(t, found.OpenedAt.IsZero())
	assert.Empty(t, found.ProtectiveOrders)

	missing, err := store.FindByID(ctx, 999)
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTradeStore_UpdateReplacesProtectiveOrders(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	store := repo.Trades()
	ctx := context.Background()

	trade := newPendingTrade("acct-1", "ABCUSDT")
	_, err := store.Create(ctx, trade)
	require.NoError(t, err)

	trade.Status = domain.TradeStatusOpen
	trade.OpenedAt = time.Date(2026, 5, 1, 12, 5, 0, 0, time.UTC)
	trade.ProtectiveState = domain.ProtectivePlaced
	trade.ProtectivePlaced, trade.ProtectiveAttempted = 3, 3
	trade.ProtectiveOrders = []domain.ProtectiveOrder{
		{Kind: domain.LegTakeProfit, Level: 2, OrderID: 2003, TriggerPrice: 1.2, Quantity: decimal.RequireFromString("50.5")},
		{Kind: domain.LegStopLoss, OrderID: 2001, TriggerPrice: 0.95, Quantity: decimal.RequireFromString("100.5")},
		{Kind: domain.LegTakeProfit, Level: 1, OrderID: 2002, TriggerPrice: 1.15, Quantity: decimal.RequireFromString("50")},
	}
	require.NoError(t, store.Update(ctx, trade))

	found, err := store.FindByID(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusOpen, found.Status)
	assert.True(t, found.OpenedAt.Equal(trade.OpenedAt))
	require.Len(t, found.ProtectiveOrders, 3)
	assert.Equal(t, domain.LegStopLoss, found.ProtectiveOrders[0].Kind)
	assert.Equal(t, 1, found.ProtectiveOrders[1].Level)
	assert.Equal(t, "50.5", found.ProtectiveOrders[2].Quantity.String())

	// Replacing legs must not leave the old ones behind.
	trade.ProtectiveOrders = trade.ProtectiveOrders[:1]
	trade.ProtectiveOrders[0].Filled = true
	require.NoError(t, store.Update(ctx, trade))
	found, err = store.FindByID(ctx, trade.ID)
	require.NoError(t, err)
	require.Len(t, found.ProtectiveOrders, 1)
	assert.True(t, found.ProtectiveOrders[0].Filled)
}

func TestTradeStore_UpdateMissing(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	trade := newPendingTrade("acct-1", "ABCUSDT")
	trade.ID = 404
	err := repo.Trades().Update(context.Background(), trade)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestTradeStore_FindByOrderID(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	store := repo.Trades()
	ctx := context.Background()

	trade := newPendingTrade("acct-1", "ABCUSDT")
	trade.ProtectiveOrders = []domain.ProtectiveOrder{
		{Kind: domain.LegStopLoss, OrderID: 5001, TriggerPrice: 0.95, Quantity: decimal.NewFromInt(1)},
	}
	_, err := store.Create(ctx, trade)
	require.NoError(t, err)

	tests := []struct {
		name    string
		symbol  string
		orderID int64
		wantHit bool
	}{
		{name: "entry order", symbol: "ABCUSDT", orderID: 1001, wantHit: true},
		{name: "protective order", symbol: "ABCUSDT", orderID: 5001, wantHit: true},
		{name: "same id on another symbol", symbol: "OTHERUSDT", orderID: 1001, wantHit: false},
		{name: "same leg id on another symbol", symbol: "OTHERUSDT", orderID: 5001, wantHit: false},
		{name: "unknown order", symbol: "ABCUSDT", orderID: 7777, wantHit: false},
		{name: "zero id", symbol: "ABCUSDT", orderID: 0, wantHit: false},
		{name: "empty symbol", symbol: "", orderID: 1001, wantHit: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := store.FindByOrderID(ctx, tt.symbol, tt.orderID)
			require.NoError(t, err)
			if !tt.wantHit {
				assert.Nil(t, found)
				return
			}
			require.NotNil(t, found)
			assert.Equal(t, trade.ID, found.ID)
			require.Len(t, found.ProtectiveOrders, 1)
		})
	}
}

func TestTradeStore_FindByAccount(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	store := repo.Trades()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		trade := newPendingTrade("acct-1", "ABCUSDT")
		trade.EntryOrderID = int64(100 + i)
		trade.CreatedAt = trade.CreatedAt.Add(time.Duration(i) * time.Minute)
		trade.ProtectiveOrders = []domain.ProtectiveOrder{
			{Kind: domain.LegStopLoss, OrderID: int64(900 + i), Quantity: decimal.NewFromInt(1)},
		}
		_, err := store.Create(ctx, trade)
		require.NoError(t, err)
	}
	_, err := store.Create(ctx, newPendingTrade("acct-2", "XYZUSDT"))
	require.NoError(t, err)

	trades, err := store.FindByAccount(ctx, "acct-1", 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, int64(102), trades[0].EntryOrderID, "newest first")
	assert.Equal(t, int64(101), trades[1].EntryOrderID)
	for _, tr := range trades {
		assert.Len(t, tr.ProtectiveOrders, 1)
	}

	none, err := store.FindByAccount(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTradeStore_FindActiveBySymbol(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	store := repo.Trades()
	ctx := context.Background()

	pending := newPendingTrade("acct-1", "ABCUSDT")
	_, err := store.Create(ctx, pending)
	require.NoError(t, err)

	open := newPendingTrade("acct-2", "ABCUSDT")
	open.Status = domain.TradeStatusOpen
	_, err = store.Create(ctx, open)
	require.NoError(t, err)

	closed := newPendingTrade("acct-1", "ABCUSDT")
	closed.Status = domain.TradeStatusClosed
	_, err = store.Create(ctx, closed)
	require.NoError(t, err)

	_, err = store.Create(ctx, newPendingTrade("acct-1", "XYZUSDT"))
	require.NoError(t, err)

	active, err := store.FindActiveBySymbol(ctx, "ABCUSDT")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, open.ID, active[0].ID)
	assert.Equal(t, pending.ID, active[1].ID)
}

func TestSignalStore(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	store := repo.Signals()
	ctx := context.Background()

	older := &domain.Signal{
		Pair: "ABCUSDT", Direction: domain.Long, Entry: 1.098, Leverage: 20,
		TakeProfits: []float64{1.15, 1.2}, StopLoss: 0.95, Channel: "alpha",
		RawMessage: "ABCUSDT.P LONG 1.098", Timestamp: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	newer := &domain.Signal{
		Pair: "XYZUSDT", Direction: domain.Short, Entry: 3.2,
		Timestamp: time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
	}
	_, err := store.Create(ctx, older)
	require.NoError(t, err)
	_, err = store.Create(ctx, newer)
	require.NoError(t, err)

	found, err := store.FindByID(ctx, older.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.Long, found.Direction)
	assert.Equal(t, []float64{1.15, 1.2}, found.TakeProfits)
	assert.Equal(t, "alpha", found.Channel)

	recent, err := store.FindRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "XYZUSDT", recent[0].Pair)
	assert.Nil(t, recent[0].TakeProfits)

	missing, err := store.FindByID(ctx, 42)
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRiskConfigStore(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	store := repo.RiskConfigs()
	ctx := context.Background()

	missing, err := store.FindByAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	cfg := domain.DefaultRiskConfig().ForAccount("acct-1")
	cfg.MarginMode = domain.MarginCrossed
	cfg.TPExitPercentages = []float64{50, 30, 20}
	require.NoError(t, store.Save(ctx, &cfg))
	created := cfg.CreatedAt

	found, err := store.FindByAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.MarginCrossed, found.MarginMode)
	assert.Equal(t, []float64{50, 30, 20}, found.TPExitPercentages)
	assert.True(t, found.MaxPositionIsPercent)

	// Saving again overwrites in place and keeps created_at.
	found.MaxLeverage = 5
	require.NoError(t, store.Save(ctx, found))
	again, err := store.FindByAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 5, again.MaxLeverage)
	assert.True(t, again.CreatedAt.Equal(created))

	require.NoError(t, store.Delete(ctx, "acct-1"))
	gone, err := store.FindByAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.NoError(t, store.Delete(ctx, "acct-1"))

	noAccount := domain.DefaultRiskConfig()
	assert.ErrorIs(t, store.Save(ctx, &noAccount), ports.ErrInvalidRequest)
}
