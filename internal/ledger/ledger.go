// Package ledger is the system of record for the seven biome markets. It
// owns per-market locking, trade execution (buy/sell at the current price),
// and the redistribution allocation applied by the scheduler.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/terravia/biome-engine/internal/biome"
	"github.com/terravia/biome-engine/internal/model"
	"github.com/terravia/biome-engine/internal/store"
)

// Rounding scales. A buy credits the pool by exactly the amount debited from
// the balance and a sell debits it by exactly the proceeds credited back, so
// cash is conserved; carrying all cash at CashScale keeps the follow-up
// price = cash_pool / share_supply division exact for power-of-ten supplies.
const (
	// PriceScale is the number of decimal places for average-cost rounding.
	PriceScale int32 = 8

	// ShareScale is the number of decimal places for acquired-share rounding.
	ShareScale int32 = 8

	// CashScale is the number of decimal places carried by cash pools,
	// balances, and redistribution allocations.
	CashScale int32 = 8
)

// Ledger serializes mutations per market. Operations on the same biome are
// mutually exclusive; operations on different biomes run in parallel.
type Ledger struct {
	store store.Store // authoritative; every read feeding a mutation uses it
	reads store.Store // unlocked query surface, may be cache-backed
	log   *slog.Logger

	// Per-biome semaphores. A 1-buffered channel rather than sync.Mutex so
	// acquisition can time out with ErrBusy instead of queuing indefinitely.
	locks map[biome.Biome]chan struct{}

	// Per-user locks ordered strictly after market locks, so concurrent
	// trades in different biomes cannot lose balance updates.
	userLocks sync.Map // userID → *sync.Mutex

	lockTimeout     time.Duration
	startingBalance decimal.Decimal
}

// TradeResult is the outcome of a successful buy or sell.
type TradeResult struct {
	Transaction model.Transaction
	Market      model.Market    // post-trade snapshot
	NewBalance  decimal.Decimal
}

// CycleResult is the outcome of one redistribution cycle.
type CycleResult struct {
	Markets         []model.Market         // changed markets, post-allocation
	Redistributions []model.Redistribution // per-biome allocation detail
	TotalMarketCash decimal.Decimal        // TMC after allocation
}

// New creates a ledger over the given store.
func New(st store.Store, lockTimeout time.Duration, startingBalance decimal.Decimal, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	locks := make(map[biome.Biome]chan struct{}, len(biome.All()))
	for _, b := range biome.All() {
		locks[b] = make(chan struct{}, 1)
	}
	return &Ledger{
		store:           st,
		reads:           st,
		log:             log,
		locks:           locks,
		lockTimeout:     lockTimeout,
		startingBalance: startingBalance,
	}
}

// UseReadStore routes the unlocked query surface (market, history, portfolio
// and transaction reads) through rs, typically a cache layer. Buy, Sell and
// Redistribute keep reading the authoritative store: a cached snapshot can
// lose the race with a write-side invalidation and re-cache pre-trade state,
// which must never feed a mutation.
func (l *Ledger) UseReadStore(rs store.Store) {
	l.reads = rs
}

// SeedMarkets creates any missing market rows, all seven starting with the
// same cash pool and share supply, so prices start identical.
func (l *Ledger) SeedMarkets(ctx context.Context, initialCash, shareSupply decimal.Decimal) error {
	now := time.Now().UTC()
	price := initialCash.Div(shareSupply)

	markets := make([]model.Market, 0, len(biome.All()))
	for _, b := range biome.All() {
		markets = append(markets, model.Market{
			Biome:                b,
			CashPool:             initialCash,
			ShareSupply:          shareSupply,
			Price:                price,
			LastRedistributionAt: now,
		})
	}
	return l.store.SeedMarkets(ctx, markets)
}

// --- Locking ---

// acquire takes the market lock for one biome, failing with ErrBusy after
// the configured timeout. The returned func releases the lock.
func (l *Ledger) acquire(ctx context.Context, b biome.Biome) (func(), error) {
	lock, ok := l.locks[b]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotInitialized, b)
	}

	timer := time.NewTimer(l.lockTimeout)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-timer.C:
		return nil, ErrBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// acquireAll takes every market lock in canonical biome order, which is the
// global lock order preventing deadlock against single-biome acquisitions.
func (l *Ledger) acquireAll(ctx context.Context) (func(), error) {
	var held []func()
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}

	for _, b := range biome.All() {
		r, err := l.acquire(ctx, b)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, r)
	}
	return release, nil
}

func (l *Ledger) lockUser(userID string) func() {
	v, _ := l.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// --- Trade execution ---

// Buy spends amount of the user's balance on shares at the market's current
// price. The market's cash pool increases by exactly amount.
func (l *Ledger) Buy(ctx context.Context, userID string, b biome.Biome, amount decimal.Decimal) (*TradeResult, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	// Sub-scale precision would leave the pool with residues the price
	// division cannot absorb exactly.
	amount = amount.Round(CashScale)
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	release, err := l.acquire(ctx, b)
	if err != nil {
		return nil, err
	}
	defer release()

	unlockUser := l.lockUser(userID)
	defer unlockUser()

	market, err := l.marketFrom(ctx, l.store, b)
	if err != nil {
		return nil, err
	}
	if market.Price.LessThanOrEqual(decimal.Zero) {
		l.log.Error("market has non-positive price", "biome", b, "price", market.Price.String())
		return nil, ErrInsufficientLiquidity
	}

	balance, err := l.store.EnsureAccount(ctx, userID, l.startingBalance)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: balance %s, need %s", ErrInsufficientBalance, balance, amount)
	}

	price := market.Price
	shares := amount.Div(price).Round(ShareScale)
	newBalance := balance.Sub(amount)
	market.CashPool = market.CashPool.Add(amount)
	market.Price = market.CashPool.Div(market.ShareSupply)

	holding, err := l.store.GetHolding(ctx, userID, b)
	if err != nil {
		return nil, err
	}
	if holding == nil {
		holding = &model.Holding{UserID: userID, Biome: b}
	}
	holding.Shares = holding.Shares.Add(shares)
	holding.InvestedAmount = holding.InvestedAmount.Add(amount)
	holding.AverageCost = holding.InvestedAmount.Div(holding.Shares).Round(PriceScale)

	now := time.Now().UTC()
	tx := model.Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Biome:     b,
		Side:      model.SideBuy,
		Shares:    shares,
		Price:     price, // pre-trade price the shares were computed at
		Amount:    amount,
		CreatedAt: now,
	}

	app := &store.TradeApplication{
		Market:      *market,
		Balance:     newBalance,
		Holding:     *holding,
		Transaction: tx,
		PricePoint:  model.PricePoint{Biome: b, Price: market.Price, Timestamp: now},
	}
	if err := l.store.ApplyTrade(ctx, app); err != nil {
		return nil, fmt.Errorf("apply buy: %w", err)
	}

	return &TradeResult{Transaction: tx, Market: *market, NewBalance: newBalance}, nil
}

// Sell converts shares of the user's holding back to cash at the market's
// current price. The market's cash pool decreases by exactly the proceeds.
func (l *Ledger) Sell(ctx context.Context, userID string, b biome.Biome, shares decimal.Decimal) (*TradeResult, error) {
	if shares.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidShares
	}
	shares = shares.Round(ShareScale)
	if shares.IsZero() {
		return nil, ErrInvalidShares
	}

	release, err := l.acquire(ctx, b)
	if err != nil {
		return nil, err
	}
	defer release()

	unlockUser := l.lockUser(userID)
	defer unlockUser()

	market, err := l.marketFrom(ctx, l.store, b)
	if err != nil {
		return nil, err
	}

	holding, err := l.store.GetHolding(ctx, userID, b)
	if err != nil {
		return nil, err
	}
	if holding == nil || holding.Shares.LessThan(shares) {
		return nil, fmt.Errorf("%w: want to sell %s", ErrInsufficientShares, shares)
	}

	price := market.Price
	proceeds := shares.Mul(price).Round(CashScale)

	if proceeds.GreaterThan(market.CashPool) {
		// Share accounting has diverged from the cash pool. Never clamp;
		// surface it.
		l.log.Error("sell would drain market below zero",
			"biome", b,
			"cash_pool", market.CashPool.String(),
			"proceeds", proceeds.String(),
			"user", userID,
		)
		return nil, fmt.Errorf("%w: %s", ErrInsufficientLiquidity, b)
	}

	// Realized gain against the proportional share of the cost basis.
	ratio := shares.Div(holding.Shares)
	costOut := holding.InvestedAmount.Mul(ratio).Round(CashScale)
	realized := proceeds.Sub(costOut)

	balance, err := l.store.EnsureAccount(ctx, userID, l.startingBalance)
	if err != nil {
		return nil, err
	}
	newBalance := balance.Add(proceeds)

	market.CashPool = market.CashPool.Sub(proceeds)
	market.Price = market.CashPool.Div(market.ShareSupply)

	holding.Shares = holding.Shares.Sub(shares)
	holding.InvestedAmount = holding.InvestedAmount.Sub(costOut)
	deleteHolding := holding.Shares.IsZero()

	now := time.Now().UTC()
	tx := model.Transaction{
		ID:           uuid.New().String(),
		UserID:       userID,
		Biome:        b,
		Side:         model.SideSell,
		Shares:       shares,
		Price:        price,
		Amount:       proceeds,
		RealizedGain: realized,
		CreatedAt:    now,
	}

	app := &store.TradeApplication{
		Market:        *market,
		Balance:       newBalance,
		Holding:       *holding,
		DeleteHolding: deleteHolding,
		Transaction:   tx,
		PricePoint:    model.PricePoint{Biome: b, Price: market.Price, Timestamp: now},
	}
	if err := l.store.ApplyTrade(ctx, app); err != nil {
		return nil, fmt.Errorf("apply sell: %w", err)
	}

	return &TradeResult{Transaction: tx, Market: *market, NewBalance: newBalance}, nil
}

// --- Redistribution ---

// Redistribute pools fraction of total market cash and allocates it across
// biomes proportionally to their attention scores. Biomes are not debited:
// the pool is minted, inflating TMC each cycle (deliberate economy design).
// Allocations are rounded to CashScale, so the minted total can differ from
// the pool by rounding dust. Holds every market lock for the duration, so
// the TMC read is consistent.
func (l *Ledger) Redistribute(ctx context.Context, scores map[biome.Biome]decimal.Decimal, fraction decimal.Decimal, now time.Time) (*CycleResult, error) {
	totalScore := decimal.Zero
	for _, s := range scores {
		totalScore = totalScore.Add(s)
	}
	if totalScore.LessThanOrEqual(decimal.Zero) {
		return &CycleResult{}, nil
	}

	release, err := l.acquireAll(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	markets, err := l.store.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}

	tmc := decimal.Zero
	for _, m := range markets {
		tmc = tmc.Add(m.CashPool)
	}
	pool := tmc.Mul(fraction)

	result := &CycleResult{TotalMarketCash: tmc}
	var points []model.PricePoint

	for i := range markets {
		m := &markets[i]
		score, ok := scores[m.Biome]
		if !ok || score.LessThanOrEqual(decimal.Zero) {
			continue
		}

		// Round into the pool: an unrounded 1/3-style ratio would leave the
		// pool with more places than the price division can carry exactly.
		allocation := pool.Mul(score).Div(totalScore).Round(CashScale)
		if allocation.IsZero() {
			continue
		}
		m.CashPool = m.CashPool.Add(allocation)
		m.Price = m.CashPool.Div(m.ShareSupply)
		m.LastRedistributionAt = now

		result.Markets = append(result.Markets, *m)
		result.Redistributions = append(result.Redistributions, model.Redistribution{
			Biome:       m.Biome,
			AmountAdded: allocation,
			NewPrice:    m.Price,
		})
		result.TotalMarketCash = result.TotalMarketCash.Add(allocation)
		points = append(points, model.PricePoint{Biome: m.Biome, Price: m.Price, Timestamp: now})
	}

	if len(result.Markets) == 0 {
		return result, nil
	}

	app := &store.RedistributionApplication{
		Markets:     result.Markets,
		PricePoints: points,
		At:          now,
	}
	if err := l.store.ApplyRedistribution(ctx, app); err != nil {
		return nil, fmt.Errorf("apply redistribution: %w", err)
	}
	return result, nil
}

// --- Reads ---

// Markets returns all markets in canonical order.
func (l *Ledger) Markets(ctx context.Context) ([]model.Market, error) {
	return l.reads.ListMarkets(ctx)
}

// Market returns one market.
func (l *Ledger) Market(ctx context.Context, b biome.Biome) (*model.Market, error) {
	return l.marketFrom(ctx, l.reads, b)
}

// PriceHistory returns a biome's price samples within the trailing window,
// time ascending.
func (l *Ledger) PriceHistory(ctx context.Context, b biome.Biome, window time.Duration) ([]model.PricePoint, error) {
	return l.reads.GetPriceHistory(ctx, b, window)
}

// Transactions returns a page of the user's transactions, newest first.
func (l *Ledger) Transactions(ctx context.Context, userID string, offset, limit int) ([]model.Transaction, error) {
	return l.reads.ListTransactions(ctx, userID, offset, limit)
}

// Portfolio marks the user's holdings to current prices.
func (l *Ledger) Portfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	balance, err := l.store.EnsureAccount(ctx, userID, l.startingBalance)
	if err != nil {
		return nil, err
	}

	holdings, err := l.reads.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	portfolio := &model.Portfolio{
		UserID:   userID,
		Balance:  balance,
		Holdings: []model.PortfolioEntry{},
	}

	for _, h := range holdings {
		market, err := l.marketFrom(ctx, l.reads, h.Biome)
		if err != nil {
			return nil, err
		}
		value := h.Shares.Mul(market.Price)
		portfolio.Holdings = append(portfolio.Holdings, model.PortfolioEntry{
			Biome:          h.Biome,
			Shares:         h.Shares,
			AverageCost:    h.AverageCost,
			CurrentValue:   value,
			UnrealizedGain: value.Sub(h.InvestedAmount),
		})
	}
	return portfolio, nil
}

func (l *Ledger) marketFrom(ctx context.Context, st store.Store, b biome.Biome) (*model.Market, error) {
	m, err := st.GetMarket(ctx, b)
	if err != nil {
		if errors.Is(err, store.ErrMarketNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMarketNotInitialized, b)
		}
		return nil, err
	}
	return m, nil
}
