package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/terravia/biome-engine/internal/biome"
	"github.com/terravia/biome-engine/internal/model"
	"github.com/terravia/biome-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedAll(t *testing.T, s *store.MemoryStore) {
	t.Helper()
	var markets []model.Market
	for _, b := range biome.All() {
		markets = append(markets, model.Market{
			Biome:       b,
			CashPool:    d(100000),
			ShareSupply: d(1000),
			Price:       d(100),
		})
	}
	if err := s.SeedMarkets(context.Background(), markets); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func tradeApp(userID string, b biome.Biome, at time.Time) *store.TradeApplication {
	return &store.TradeApplication{
		Market: model.Market{
			Biome:       b,
			CashPool:    d(100500),
			ShareSupply: d(1005),
			Price:       d(100),
		},
		Balance: d(9500),
		Holding: model.Holding{
			UserID:         userID,
			Biome:          b,
			Shares:         d(5),
			AverageCost:    d(100),
			InvestedAmount: d(500),
		},
		Transaction: model.Transaction{
			ID:        uuid.NewString(),
			UserID:    userID,
			Biome:     b,
			Side:      model.SideBuy,
			Shares:    d(5),
			Price:     d(100),
			Amount:    d(500),
			CreatedAt: at,
		},
		PricePoint: model.PricePoint{Biome: b, Price: d(100), Timestamp: at},
	}
}

func TestSeedMarkets_DoesNotOverwrite(t *testing.T) {
	s := store.NewMemoryStore()
	seedAll(t, s)

	// Re-seeding with different numbers must leave existing markets alone.
	err := s.SeedMarkets(context.Background(), []model.Market{
		{Biome: biome.Forest, CashPool: d(1), ShareSupply: d(1), Price: d(1)},
	})
	if err != nil {
		t.Fatalf("re-seed failed: %v", err)
	}

	m, err := s.GetMarket(context.Background(), biome.Forest)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !m.CashPool.Equal(d(100000)) {
		t.Errorf("re-seed overwrote existing market: cash %s", m.CashPool)
	}
}

func TestGetMarket_ReturnsCopy(t *testing.T) {
	s := store.NewMemoryStore()
	seedAll(t, s)

	m, _ := s.GetMarket(context.Background(), biome.Plains)
	m.CashPool = d(-1)

	again, _ := s.GetMarket(context.Background(), biome.Plains)
	if !again.CashPool.Equal(d(100000)) {
		t.Error("mutating a returned market leaked into the store")
	}
}

func TestGetMarket_NotFound(t *testing.T) {
	s := store.NewMemoryStore()

	_, err := s.GetMarket(context.Background(), biome.Tundra)
	if err == nil {
		t.Fatal("expected error for unseeded market")
	}
}

func TestListMarkets_CanonicalOrder(t *testing.T) {
	s := store.NewMemoryStore()
	seedAll(t, s)

	markets, err := s.ListMarkets(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(markets) != len(biome.All()) {
		t.Fatalf("expected %d markets, got %d", len(biome.All()), len(markets))
	}
	for i, b := range biome.All() {
		if markets[i].Biome != b {
			t.Errorf("position %d: expected %s, got %s", i, b, markets[i].Biome)
		}
	}
}

func TestApplyTrade_PersistsAllParts(t *testing.T) {
	s := store.NewMemoryStore()
	seedAll(t, s)
	ctx := context.Background()

	app := tradeApp("user1", biome.Forest, time.Now().UTC())
	if err := s.ApplyTrade(ctx, app); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	m, _ := s.GetMarket(ctx, biome.Forest)
	if !m.CashPool.Equal(d(100500)) {
		t.Errorf("market not updated, cash %s", m.CashPool)
	}

	balance, _ := s.EnsureAccount(ctx, "user1", d(10000))
	if !balance.Equal(d(9500)) {
		t.Errorf("balance not updated, got %s", balance)
	}

	h, _ := s.GetHolding(ctx, "user1", biome.Forest)
	if h == nil || !h.Shares.Equal(d(5)) {
		t.Errorf("holding not persisted: %+v", h)
	}

	txs, _ := s.ListTransactions(ctx, "user1", 0, 10)
	if len(txs) != 1 {
		t.Errorf("expected 1 transaction, got %d", len(txs))
	}

	points, _ := s.GetPriceHistory(ctx, biome.Forest, time.Hour)
	if len(points) != 1 {
		t.Errorf("expected 1 price point, got %d", len(points))
	}
}

func TestApplyTrade_DeleteHolding(t *testing.T) {
	s := store.NewMemoryStore()
	seedAll(t, s)
	ctx := context.Background()

	app := tradeApp("user1", biome.Desert, time.Now().UTC())
	if err := s.ApplyTrade(ctx, app); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	closeOut := tradeApp("user1", biome.Desert, time.Now().UTC())
	closeOut.DeleteHolding = true
	if err := s.ApplyTrade(ctx, closeOut); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	h, _ := s.GetHolding(ctx, "user1", biome.Desert)
	if h != nil {
		t.Errorf("holding should be gone after close-out, got %+v", h)
	}
}

func TestListTransactions_NewestFirstPaged(t *testing.T) {
	s := store.NewMemoryStore()
	seedAll(t, s)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		app := tradeApp("user1", biome.Swamp, base.Add(time.Duration(i)*time.Second))
		if err := s.ApplyTrade(ctx, app); err != nil {
			t.Fatalf("apply %d failed: %v", i, err)
		}
	}
	// Another user's trades must not show up.
	if err := s.ApplyTrade(ctx, tradeApp("user2", biome.Swamp, base)); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	txs, err := s.ListTransactions(ctx, "user1", 0, 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	if !txs[0].CreatedAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("expected newest first, got %s", txs[0].CreatedAt)
	}

	txs, _ = s.ListTransactions(ctx, "user1", 2, 2)
	if len(txs) != 1 {
		t.Errorf("expected 1 transaction at offset 2, got %d", len(txs))
	}

	txs, _ = s.ListTransactions(ctx, "user1", 10, 2)
	if len(txs) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(txs))
	}
}

func TestGetPriceHistory_WindowFilter(t *testing.T) {
	s := store.NewMemoryStore()
	seedAll(t, s)
	ctx := context.Background()

	now := time.Now().UTC()
	old := tradeApp("user1", biome.Mountain, now.Add(-2*time.Hour))
	recent := tradeApp("user1", biome.Mountain, now)
	if err := s.ApplyTrade(ctx, old); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if err := s.ApplyTrade(ctx, recent); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	points, err := s.GetPriceHistory(ctx, biome.Mountain, time.Hour)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected only the in-window point, got %d", len(points))
	}
	if !points[0].Timestamp.Equal(now) {
		t.Errorf("wrong point survived the window filter: %s", points[0].Timestamp)
	}
}

func TestEnsureAccount_CreatesOnce(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	first, err := s.EnsureAccount(ctx, "user1", d(10000))
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if !first.Equal(d(10000)) {
		t.Errorf("expected starting balance, got %s", first)
	}

	// A second call with a different starting balance returns the existing one.
	again, _ := s.EnsureAccount(ctx, "user1", d(999))
	if !again.Equal(d(10000)) {
		t.Errorf("expected existing balance, got %s", again)
	}
}
