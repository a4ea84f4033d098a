package ledger

import "errors"

var (
	// ErrInvalidAmount is returned when a buy's spend amount is not positive.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrInvalidShares is returned when a sell's share quantity is not positive.
	ErrInvalidShares = errors.New("ledger: shares must be positive")

	// ErrInsufficientBalance is returned when a buy exceeds the user's balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrInsufficientShares is returned when a sell exceeds the user's holding.
	ErrInsufficientShares = errors.New("ledger: insufficient shares")

	// ErrInsufficientLiquidity indicates a sell would drive a market's cash
	// pool negative. Share and cash accounting have diverged; this is an
	// invariant breach, not a user error.
	ErrInsufficientLiquidity = errors.New("ledger: market liquidity exhausted")

	// ErrBusy is returned when the market lock cannot be acquired within the
	// configured timeout. Safe to retry.
	ErrBusy = errors.New("ledger: market busy, try again")

	// ErrMarketNotInitialized indicates a known biome has no market row.
	// Startup ordering bug: markets are seeded before the engine serves.
	ErrMarketNotInitialized = errors.New("ledger: market not initialized")
)
