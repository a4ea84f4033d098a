// Package store defines the persistence interface for the biome engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Expected PostgreSQL schema:
//
//	markets       (biome TEXT PK, cash_pool NUMERIC, share_supply NUMERIC,
//	               price NUMERIC, last_redistribution_at TIMESTAMPTZ)
//	accounts      (user_id TEXT PK, balance NUMERIC)
//	holdings      (user_id TEXT, biome TEXT, shares NUMERIC,
//	               average_cost NUMERIC, invested_amount NUMERIC,
//	               PRIMARY KEY (user_id, biome))
//	transactions  (id UUID PK, user_id TEXT, biome TEXT, side TEXT,
//	               shares NUMERIC, price NUMERIC, amount NUMERIC,
//	               realized_gain NUMERIC, created_at TIMESTAMPTZ)
//	price_history (biome TEXT, price NUMERIC, ts TIMESTAMPTZ)
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/terravia/biome-engine/internal/biome"
	"github.com/terravia/biome-engine/internal/model"
)

// ErrMarketNotFound is returned when a biome has no seeded market row.
var ErrMarketNotFound = errors.New("store: market not found")

// TradeApplication is the fully-computed result of a buy or sell, persisted
// as a single atomic write. The ledger computes the new state under the
// market lock; the store only records it.
type TradeApplication struct {
	Market        model.Market      // post-trade cash/price
	Balance       decimal.Decimal   // post-trade user balance
	Holding       model.Holding     // post-trade position
	DeleteHolding bool              // position closed: delete instead of upsert
	Transaction   model.Transaction // immutable audit record
	PricePoint    model.PricePoint  // history sample at execution
}

// RedistributionApplication is one scheduler cycle's worth of market updates,
// persisted atomically.
type RedistributionApplication struct {
	Markets     []model.Market // post-allocation state of changed markets
	PricePoints []model.PricePoint
	At          time.Time
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market operations ---

	// SeedMarkets creates any missing market rows. Existing rows are left
	// untouched, so restarts never reset market state.
	SeedMarkets(ctx context.Context, markets []model.Market) error

	// GetMarket retrieves one market by biome.
	GetMarket(ctx context.Context, b biome.Biome) (*model.Market, error)

	// ListMarkets returns all markets in canonical biome order.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// --- Atomic mutations ---

	// ApplyTrade persists a trade's market, balance, holding, transaction
	// and history changes as one atomic write.
	ApplyTrade(ctx context.Context, app *TradeApplication) error

	// ApplyRedistribution persists a cycle's market and history changes as
	// one atomic write.
	ApplyRedistribution(ctx context.Context, app *RedistributionApplication) error

	// --- Accounts ---

	// EnsureAccount creates the account with the starting balance if it does
	// not exist, and returns the current balance either way.
	EnsureAccount(ctx context.Context, userID string, starting decimal.Decimal) (decimal.Decimal, error)

	// --- Holdings ---

	// GetHolding returns the user's position in one biome, or nil if none.
	GetHolding(ctx context.Context, userID string, b biome.Biome) (*model.Holding, error)

	// ListHoldings returns all of the user's open positions.
	ListHoldings(ctx context.Context, userID string) ([]model.Holding, error)

	// --- Audit trail ---

	// ListTransactions returns the user's transactions, newest first.
	ListTransactions(ctx context.Context, userID string, offset, limit int) ([]model.Transaction, error)

	// GetPriceHistory returns price samples for a biome within the trailing
	// window, ordered by time ascending.
	GetPriceHistory(ctx context.Context, b biome.Biome, window time.Duration) ([]model.PricePoint, error)
}
