package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/terravia/biome-engine/internal/biome"
	"github.com/terravia/biome-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Serves the unlocked query surface only. A read racing a write-side
// invalidation can re-cache pre-write state for up to the TTL, so reads
// that feed trade or redistribution mutations must use the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SeedMarkets(ctx context.Context, markets []model.Market) error {
	if err := s.primary.SeedMarkets(ctx, markets); err != nil {
		return err
	}
	for _, m := range markets {
		s.rdb.Del(ctx, marketKey(m.Biome))
	}
	return nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, app *TradeApplication) error {
	if err := s.primary.ApplyTrade(ctx, app); err != nil {
		return err
	}
	// Invalidate the changed market and the user's holdings; next read
	// re-populates.
	s.rdb.Del(ctx, marketKey(app.Market.Biome), holdingsKey(app.Transaction.UserID))
	return nil
}

func (s *CachedStore) ApplyRedistribution(ctx context.Context, app *RedistributionApplication) error {
	if err := s.primary.ApplyRedistribution(ctx, app); err != nil {
		return err
	}
	keys := make([]string, 0, len(app.Markets))
	for _, m := range app.Markets {
		keys = append(keys, marketKey(m.Biome))
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, b biome.Biome) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(b)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.primary.GetMarket(ctx, b)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(b), data, s.ttl)
	}
	return m, nil
}

func (s *CachedStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	data, err := s.rdb.Get(ctx, holdingsKey(userID)).Bytes()
	if err == nil {
		var holdings []model.Holding
		if json.Unmarshal(data, &holdings) == nil {
			return holdings, nil
		}
	}

	holdings, err := s.primary.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(holdings); err == nil {
		s.rdb.Set(ctx, holdingsKey(userID), data, s.ttl)
	}
	return holdings, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) EnsureAccount(ctx context.Context, userID string, starting decimal.Decimal) (decimal.Decimal, error) {
	return s.primary.EnsureAccount(ctx, userID, starting)
}

func (s *CachedStore) GetHolding(ctx context.Context, userID string, b biome.Biome) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, userID, b)
}

func (s *CachedStore) ListTransactions(ctx context.Context, userID string, offset, limit int) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, userID, offset, limit)
}

func (s *CachedStore) GetPriceHistory(ctx context.Context, b biome.Biome, window time.Duration) ([]model.PricePoint, error) {
	return s.primary.GetPriceHistory(ctx, b, window)
}

// --- Cache keys ---

func marketKey(b biome.Biome) string { return fmt.Sprintf("market:%s", b) }
func holdingsKey(uid string) string  { return fmt.Sprintf("holdings:%s", uid) }
