// Package trade provides the HTTP handlers for market queries, buy/sell
// execution, portfolios, transaction history, and attention reporting.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/terravia/biome-engine/internal/attention"
	"github.com/terravia/biome-engine/internal/biome"
	"github.com/terravia/biome-engine/internal/ledger"
	"github.com/terravia/biome-engine/internal/metrics"
	"github.com/terravia/biome-engine/internal/model"
)

// Transaction paging bounds.
const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 200
)

// Service handles the engine's request/response surface. Trade execution is
// serialized per market inside the ledger; handlers stay lock-free.
type Service struct {
	ledger    *ledger.Ledger
	attention *attention.Aggregator
	hub       *Hub // optional hub for real-time broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(l *ledger.Ledger, agg *attention.Aggregator, hub *Hub) *Service {
	return &Service{
		ledger:    l,
		attention: agg,
		hub:       hub,
	}
}

// --- Request/Response types ---

// BuyRequest is the JSON body for POST /trade/buy.
type BuyRequest struct {
	UserID string          `json:"user_id"`
	Biome  string          `json:"biome"`
	Amount decimal.Decimal `json:"amount"` // balance to spend
}

// SellRequest is the JSON body for POST /trade/sell.
type SellRequest struct {
	UserID string          `json:"user_id"`
	Biome  string          `json:"biome"`
	Shares decimal.Decimal `json:"shares"`
}

// BuyResponse is returned from POST /trade/buy.
type BuyResponse struct {
	TransactionID  string          `json:"transaction_id"`
	Biome          biome.Biome     `json:"biome"`
	SharesAcquired decimal.Decimal `json:"shares_acquired"`
	Price          decimal.Decimal `json:"price"`
	AmountSpent    decimal.Decimal `json:"amount_spent"`
	NewBalance     decimal.Decimal `json:"new_balance"`
}

// SellResponse is returned from POST /trade/sell.
type SellResponse struct {
	TransactionID string          `json:"transaction_id"`
	Biome         biome.Biome     `json:"biome"`
	SharesSold    decimal.Decimal `json:"shares_sold"`
	Price         decimal.Decimal `json:"price"`
	Proceeds      decimal.Decimal `json:"proceeds"`
	RealizedGain  decimal.Decimal `json:"realized_gain"`
	NewBalance    decimal.Decimal `json:"new_balance"`
}

// AttentionRequest is the JSON body for POST /attention.
type AttentionRequest struct {
	UserID string          `json:"user_id"`
	Biome  string          `json:"biome"`
	Score  decimal.Decimal `json:"score"`
}

// --- HTTP Handlers ---

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.ledger.Markets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markets)
}

// GetMarket handles GET /api/v1/markets/{biome}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	b, err := biome.Parse(chi.URLParam(r, "biome"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	market, err := s.ledger.Market(r.Context(), b)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(market)
}

// GetPriceHistory handles GET /api/v1/markets/{biome}/history?window=1h
// Returns price samples within the trailing window, time ascending.
func (s *Service) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	b, err := biome.Parse(chi.URLParam(r, "biome"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	window := time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(w, "invalid window duration", http.StatusBadRequest)
			return
		}
		window = parsed
	}

	points, err := s.ledger.PriceHistory(r.Context(), b, window)
	if err != nil {
		writeError(w, "failed to get price history", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []model.PricePoint{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(points)
}

// Buy handles POST /api/v1/trade/buy
// Spends part of the user's balance on shares at the market's current price.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	b, err := biome.Parse(req.Biome)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	result, err := s.ledger.Buy(r.Context(), req.UserID, b, req.Amount)
	if err != nil {
		writeTradeError(w, err)
		return
	}
	metrics.TradesTotal.WithLabelValues(model.SideBuy).Inc()
	metrics.TradeLatency.WithLabelValues(model.SideBuy).Observe(time.Since(start).Seconds())

	slog.Info("buy executed",
		"transaction_id", result.Transaction.ID,
		"user", req.UserID,
		"biome", b,
		"amount", req.Amount.String(),
		"shares", result.Transaction.Shares.String(),
		"price", result.Transaction.Price.String(),
	)

	// Broadcast after the market lock is released.
	if s.hub != nil {
		s.hub.PublishTrade(result.Market)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(BuyResponse{
		TransactionID:  result.Transaction.ID,
		Biome:          b,
		SharesAcquired: result.Transaction.Shares,
		Price:          result.Transaction.Price,
		AmountSpent:    result.Transaction.Amount,
		NewBalance:     result.NewBalance,
	})
}

// Sell handles POST /api/v1/trade/sell
// Converts shares back to balance at the market's current price.
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	b, err := biome.Parse(req.Biome)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	result, err := s.ledger.Sell(r.Context(), req.UserID, b, req.Shares)
	if err != nil {
		writeTradeError(w, err)
		return
	}
	metrics.TradesTotal.WithLabelValues(model.SideSell).Inc()
	metrics.TradeLatency.WithLabelValues(model.SideSell).Observe(time.Since(start).Seconds())

	slog.Info("sell executed",
		"transaction_id", result.Transaction.ID,
		"user", req.UserID,
		"biome", b,
		"shares", req.Shares.String(),
		"proceeds", result.Transaction.Amount.String(),
		"realized_gain", result.Transaction.RealizedGain.String(),
	)

	if s.hub != nil {
		s.hub.PublishTrade(result.Market)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SellResponse{
		TransactionID: result.Transaction.ID,
		Biome:         b,
		SharesSold:    result.Transaction.Shares,
		Price:         result.Transaction.Price,
		Proceeds:      result.Transaction.Amount,
		RealizedGain:  result.Transaction.RealizedGain,
		NewBalance:    result.NewBalance,
	})
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Returns the user's balance and holdings marked to current prices.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	portfolio, err := s.ledger.Portfolio(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(portfolio)
}

// GetTransactions handles GET /api/v1/transactions/{userID}?offset=&limit=
// Returns the user's audit trail, newest first.
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	limit := queryInt(r, "limit", defaultTransactionLimit)
	if limit <= 0 || limit > maxTransactionLimit {
		limit = defaultTransactionLimit
	}

	entries, err := s.ledger.Transactions(r.Context(), userID, offset, limit)
	if err != nil {
		writeError(w, "failed to get transactions", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// RecordAttention handles POST /api/v1/attention
// Fire-and-forget: accumulates the score for the next redistribution cycle.
func (s *Service) RecordAttention(w http.ResponseWriter, r *http.Request) {
	var req AttentionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	b, err := biome.Parse(req.Biome)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.attention.Record(req.UserID, b, req.Score)
	metrics.AttentionEvents.WithLabelValues(b.String()).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// --- Helpers ---

// writeTradeError maps ledger errors to HTTP statuses. Validation failures
// are expected business outcomes; liquidity breaches are not.
func writeTradeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidShares):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientShares):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrBusy):
		metrics.BusyRejections.Inc()
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, ledger.ErrMarketNotInitialized):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrInsufficientLiquidity):
		writeError(w, err.Error(), http.StatusInternalServerError)
	default:
		writeError(w, "trade failed", http.StatusInternalServerError)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
