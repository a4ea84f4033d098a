package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/terravia/biome-engine/internal/attention"
	"github.com/terravia/biome-engine/internal/biome"
	"github.com/terravia/biome-engine/internal/ledger"
	"github.com/terravia/biome-engine/internal/model"
	"github.com/terravia/biome-engine/internal/store"
	"github.com/terravia/biome-engine/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a test Service over an in-memory store with all seven
// markets seeded at price 100 and a 10000 starting balance.
func newTestEnv(t *testing.T) (*store.MemoryStore, *attention.Aggregator, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	ldg := ledger.New(ms, time.Second, d(10000), nil)
	if err := ldg.SeedMarkets(context.Background(), d(100000), d(1000)); err != nil {
		t.Fatalf("failed to seed markets: %v", err)
	}
	agg := attention.New(d(10))
	svc := trade.NewService(ldg, agg, nil)

	r := chi.NewRouter()
	r.Get("/api/v1/markets", svc.ListMarkets)
	r.Get("/api/v1/markets/{biome}", svc.GetMarket)
	r.Get("/api/v1/markets/{biome}/history", svc.GetPriceHistory)
	r.Post("/api/v1/trade/buy", svc.Buy)
	r.Post("/api/v1/trade/sell", svc.Sell)
	r.Get("/api/v1/portfolio/{userID}", svc.GetPortfolio)
	r.Get("/api/v1/transactions/{userID}", svc.GetTransactions)
	r.Post("/api/v1/attention", svc.RecordAttention)

	return ms, agg, r
}

func doPost(t *testing.T, router chi.Router, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doGet(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Market queries ---

func TestListMarkets_SevenIdenticalAtStart(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doGet(t, router, "/api/v1/markets")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var markets []model.Market
	json.Unmarshal(w.Body.Bytes(), &markets)

	if len(markets) != 7 {
		t.Fatalf("expected 7 markets, got %d", len(markets))
	}
	for _, m := range markets {
		if !m.Price.Equal(d(100)) {
			t.Errorf("%s should start at price 100, got %s", m.Biome, m.Price)
		}
		if !m.ShareSupply.Equal(d(1000)) {
			t.Errorf("%s should have supply 1000, got %s", m.Biome, m.ShareSupply)
		}
	}
}

func TestGetMarket_IdempotentReads(t *testing.T) {
	_, _, router := newTestEnv(t)

	w1 := doGet(t, router, "/api/v1/markets/forest")
	w2 := doGet(t, router, "/api/v1/markets/forest")

	if w1.Code != http.StatusOK || w2.Code != http.StatusOK {
		t.Fatalf("expected 200s, got %d/%d", w1.Code, w2.Code)
	}
	if w1.Body.String() != w2.Body.String() {
		t.Errorf("reads with no intervening mutation differ:\n%s\n%s", w1.Body, w2.Body)
	}
}

func TestGetMarket_UnknownBiome(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doGet(t, router, "/api/v1/markets/volcano")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown biome, got %d", w.Code)
	}
}

// --- Trade execution ---

func TestBuy_Success(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/trade/buy", trade.BuyRequest{
		UserID: "user1", Biome: "forest", Amount: d(500),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp trade.BuyResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.TransactionID == "" {
		t.Error("expected non-empty transaction_id")
	}
	if !resp.SharesAcquired.Equal(d(5)) {
		t.Errorf("expected 5 shares, got %s", resp.SharesAcquired)
	}
	if !resp.Price.Equal(d(100)) {
		t.Errorf("expected price 100, got %s", resp.Price)
	}
	if !resp.NewBalance.Equal(d(9500)) {
		t.Errorf("expected balance 9500, got %s", resp.NewBalance)
	}
}

func TestBuy_InsufficientBalance(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/trade/buy", trade.BuyRequest{
		UserID: "user1", Biome: "forest", Amount: d(50000),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBuy_ZeroAmount(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/trade/buy", trade.BuyRequest{
		UserID: "user1", Biome: "forest", Amount: decimal.Zero,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero amount, got %d", w.Code)
	}
}

func TestBuy_InvalidBiome(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/trade/buy", trade.BuyRequest{
		UserID: "user1", Biome: "volcano", Amount: d(100),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid biome, got %d", w.Code)
	}
}

func TestBuy_MissingUser(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/trade/buy", trade.BuyRequest{
		Biome: "forest", Amount: d(100),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing user_id, got %d", w.Code)
	}
}

func TestSell_RoundTrip(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/trade/buy", trade.BuyRequest{
		UserID: "user1", Biome: "desert", Amount: d(500),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("buy failed: %d %s", w.Code, w.Body.String())
	}

	// The buy moved the price to 100.5; selling all 5 shares realizes the
	// difference against the 500 cost basis.
	w = doPost(t, router, "/api/v1/trade/sell", trade.SellRequest{
		UserID: "user1", Biome: "desert", Shares: d(5),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("sell failed: %d %s", w.Code, w.Body.String())
	}

	var resp trade.SellResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.Proceeds.Equal(d(502.5)) {
		t.Errorf("expected proceeds 502.5, got %s", resp.Proceeds)
	}
	if !resp.RealizedGain.Equal(d(2.5)) {
		t.Errorf("expected realized gain 2.5, got %s", resp.RealizedGain)
	}
	if !resp.NewBalance.Equal(d(10002.5)) {
		t.Errorf("expected balance 10002.5, got %s", resp.NewBalance)
	}
}

func TestSell_InsufficientShares(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/trade/sell", trade.SellRequest{
		UserID: "user1", Biome: "forest", Shares: d(1),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Portfolio and audit trail ---

func TestGetPortfolio_WithPosition(t *testing.T) {
	_, _, router := newTestEnv(t)

	doPost(t, router, "/api/v1/trade/buy", trade.BuyRequest{
		UserID: "user1", Biome: "ocean", Amount: d(500),
	})

	w := doGet(t, router, "/api/v1/portfolio/user1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var portfolio model.Portfolio
	json.Unmarshal(w.Body.Bytes(), &portfolio)

	if portfolio.UserID != "user1" {
		t.Errorf("expected user_id=user1, got %s", portfolio.UserID)
	}
	if len(portfolio.Holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(portfolio.Holdings))
	}
	entry := portfolio.Holdings[0]
	if entry.Biome != biome.Ocean {
		t.Errorf("expected ocean holding, got %s", entry.Biome)
	}
	if !entry.Shares.Equal(d(5)) {
		t.Errorf("expected 5 shares, got %s", entry.Shares)
	}
}

func TestGetPortfolio_Empty(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doGet(t, router, "/api/v1/portfolio/nobody")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var portfolio model.Portfolio
	json.Unmarshal(w.Body.Bytes(), &portfolio)

	if len(portfolio.Holdings) != 0 {
		t.Errorf("expected 0 holdings, got %d", len(portfolio.Holdings))
	}
	if !portfolio.Balance.Equal(d(10000)) {
		t.Errorf("expected starting balance 10000, got %s", portfolio.Balance)
	}
}

func TestGetTransactions_NewestFirstPaged(t *testing.T) {
	_, _, router := newTestEnv(t)

	for i := 0; i < 3; i++ {
		w := doPost(t, router, "/api/v1/trade/buy", trade.BuyRequest{
			UserID: "user1", Biome: "swamp", Amount: d(100),
		})
		if w.Code != http.StatusOK {
			t.Fatalf("buy %d failed: %d %s", i, w.Code, w.Body.String())
		}
		time.Sleep(2 * time.Millisecond) // distinct created_at for ordering
	}

	w := doGet(t, router, "/api/v1/transactions/user1?limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var entries []model.Transaction
	json.Unmarshal(w.Body.Bytes(), &entries)

	if len(entries) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(entries))
	}
	if entries[0].CreatedAt.Before(entries[1].CreatedAt) {
		t.Error("transactions should be newest first")
	}

	w = doGet(t, router, "/api/v1/transactions/user1?offset=2&limit=2")
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 1 {
		t.Errorf("expected 1 transaction at offset 2, got %d", len(entries))
	}
}

// --- Price history ---

func TestGetPriceHistory_AscendingAfterTrades(t *testing.T) {
	_, _, router := newTestEnv(t)

	doPost(t, router, "/api/v1/trade/buy", trade.BuyRequest{
		UserID: "user1", Biome: "plains", Amount: d(100),
	})
	doPost(t, router, "/api/v1/trade/buy", trade.BuyRequest{
		UserID: "user1", Biome: "plains", Amount: d(100),
	})

	w := doGet(t, router, "/api/v1/markets/plains/history?window=1h")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var points []model.PricePoint
	json.Unmarshal(w.Body.Bytes(), &points)

	if len(points) != 2 {
		t.Fatalf("expected 2 price points, got %d", len(points))
	}
	if points[1].Timestamp.Before(points[0].Timestamp) {
		t.Error("history should be time ascending")
	}
	if !points[1].Price.GreaterThan(points[0].Price) {
		t.Errorf("price should rise across two buys: %s then %s", points[0].Price, points[1].Price)
	}
}

func TestGetPriceHistory_BadWindow(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doGet(t, router, "/api/v1/markets/plains/history?window=tomorrow")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad window, got %d", w.Code)
	}
}

// --- Attention ---

func TestRecordAttention_Accepted(t *testing.T) {
	_, agg, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/attention", trade.AttentionRequest{
		UserID: "user1", Biome: "forest", Score: d(3),
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	totals := agg.SnapshotAndReset()
	if !totals[biome.Forest].Equal(d(3)) {
		t.Errorf("attention not recorded: %v", totals)
	}
}

func TestRecordAttention_InvalidBiome(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/attention", trade.AttentionRequest{
		UserID: "user1", Biome: "volcano", Score: d(3),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
