// Package model defines the core domain types shared across the biome engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/terravia/biome-engine/internal/biome"
)

// Trade sides recorded on transactions.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Market is the state of one biome's market. Exactly seven exist, created at
// initialization and never deleted. ShareSupply is fixed for the market's
// lifetime; Price is always CashPool / ShareSupply.
type Market struct {
	Biome                biome.Biome     `json:"biome" db:"biome"`
	CashPool             decimal.Decimal `json:"cash_pool" db:"cash_pool"`
	ShareSupply          decimal.Decimal `json:"share_supply" db:"share_supply"`
	Price                decimal.Decimal `json:"price" db:"price"`
	LastRedistributionAt time.Time       `json:"last_redistribution_at" db:"last_redistribution_at"`
}

// Holding is a user's position in one biome. Created on first buy, deleted
// when Shares reaches zero. AverageCost is the volume-weighted entry price;
// InvestedAmount is the running cost basis used for realized gains.
type Holding struct {
	UserID         string          `json:"user_id" db:"user_id"`
	Biome          biome.Biome     `json:"biome" db:"biome"`
	Shares         decimal.Decimal `json:"shares" db:"shares"`
	AverageCost    decimal.Decimal `json:"average_cost" db:"average_cost"`
	InvestedAmount decimal.Decimal `json:"invested_amount" db:"invested_amount"`
}

// Transaction is an immutable record of a trade execution.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Biome        biome.Biome     `json:"biome" db:"biome"`
	Side         string          `json:"side" db:"side"` // "BUY" or "SELL"
	Shares       decimal.Decimal `json:"shares" db:"shares"`
	Price        decimal.Decimal `json:"price" db:"price"` // price at execution
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	RealizedGain decimal.Decimal `json:"realized_gain" db:"realized_gain"` // sells only
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// PricePoint is one sample of a market's price history.
type PricePoint struct {
	Biome     biome.Biome     `json:"biome" db:"biome"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Redistribution describes one biome's share of a scheduler cycle's pool.
type Redistribution struct {
	Biome       biome.Biome     `json:"biome"`
	AmountAdded decimal.Decimal `json:"amount_added"`
	NewPrice    decimal.Decimal `json:"new_price"`
}

// PortfolioEntry is one holding marked to the market's current price.
type PortfolioEntry struct {
	Biome          biome.Biome     `json:"biome"`
	Shares         decimal.Decimal `json:"shares"`
	AverageCost    decimal.Decimal `json:"average_cost"`
	CurrentValue   decimal.Decimal `json:"current_value"`
	UnrealizedGain decimal.Decimal `json:"unrealized_gain"`
}

// Portfolio aggregates a user's balance and marked positions.
type Portfolio struct {
	UserID   string           `json:"user_id"`
	Balance  decimal.Decimal  `json:"balance"`
	Holdings []PortfolioEntry `json:"holdings"`
}
