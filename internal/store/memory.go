package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/terravia/biome-engine/internal/biome"
	"github.com/terravia/biome-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	markets      map[biome.Biome]*model.Market
	accounts     map[string]decimal.Decimal
	holdings     map[string]map[biome.Biome]*model.Holding
	transactions []model.Transaction
	history      []model.PricePoint
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:  make(map[biome.Biome]*model.Market),
		accounts: make(map[string]decimal.Decimal),
		holdings: make(map[string]map[biome.Biome]*model.Holding),
	}
}

func (s *MemoryStore) SeedMarkets(_ context.Context, markets []model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range markets {
		if _, exists := s.markets[m.Biome]; exists {
			continue
		}
		copy := m
		s.markets[m.Biome] = &copy
	}
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, b biome.Biome) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[b]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, b)
	}
	copy := *m
	return &copy, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, b := range biome.All() {
		if m, ok := s.markets[b]; ok {
			markets = append(markets, *m)
		}
	}
	return markets, nil
}

func (s *MemoryStore) ApplyTrade(_ context.Context, app *TradeApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[app.Market.Biome]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, app.Market.Biome)
	}
	*m = app.Market

	s.accounts[app.Transaction.UserID] = app.Balance

	userHoldings, ok := s.holdings[app.Transaction.UserID]
	if !ok {
		userHoldings = make(map[biome.Biome]*model.Holding)
		s.holdings[app.Transaction.UserID] = userHoldings
	}
	if app.DeleteHolding {
		delete(userHoldings, app.Holding.Biome)
	} else {
		h := app.Holding
		userHoldings[h.Biome] = &h
	}

	s.transactions = append(s.transactions, app.Transaction)
	s.history = append(s.history, app.PricePoint)
	return nil
}

func (s *MemoryStore) ApplyRedistribution(_ context.Context, app *RedistributionApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, updated := range app.Markets {
		m, ok := s.markets[updated.Biome]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMarketNotFound, updated.Biome)
		}
		*m = updated
	}
	s.history = append(s.history, app.PricePoints...)
	return nil
}

func (s *MemoryStore) EnsureAccount(_ context.Context, userID string, starting decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if balance, ok := s.accounts[userID]; ok {
		return balance, nil
	}
	s.accounts[userID] = starting
	return starting, nil
}

func (s *MemoryStore) GetHolding(_ context.Context, userID string, b biome.Biome) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[userID][b]
	if !ok {
		return nil, nil
	}
	copy := *h
	return &copy, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, userID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var holdings []model.Holding
	for _, b := range biome.All() {
		if h, ok := s.holdings[userID][b]; ok {
			holdings = append(holdings, *h)
		}
	}
	return holdings, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, offset, limit int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mine []model.Transaction
	for _, t := range s.transactions {
		if t.UserID == userID {
			mine = append(mine, t)
		}
	}
	// Newest first.
	sort.SliceStable(mine, func(i, j int) bool {
		return mine[i].CreatedAt.After(mine[j].CreatedAt)
	})

	if offset >= len(mine) {
		return []model.Transaction{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(mine) {
		end = len(mine)
	}
	return mine[offset:end], nil
}

func (s *MemoryStore) GetPriceHistory(_ context.Context, b biome.Biome, window time.Duration) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-window)
	var points []model.PricePoint
	for _, p := range s.history {
		if p.Biome == b && !p.Timestamp.Before(cutoff) {
			points = append(points, p)
		}
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points, nil
}

// SeedHolding inserts a position directly, bypassing trade execution.
// Test helper for constructing ledger states.
func (s *MemoryStore) SeedHolding(h model.Holding) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userHoldings, ok := s.holdings[h.UserID]
	if !ok {
		userHoldings = make(map[biome.Biome]*model.Holding)
		s.holdings[h.UserID] = userHoldings
	}
	copy := h
	userHoldings[h.Biome] = &copy
}
