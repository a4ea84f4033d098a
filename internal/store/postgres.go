package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/terravia/biome-engine/internal/biome"
	"github.com/terravia/biome-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect opens a tuned pgx pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

func (s *PostgresStore) SeedMarkets(ctx context.Context, markets []model.Market) error {
	for _, m := range markets {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO markets (biome, cash_pool, share_supply, price, last_redistribution_at)
			 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5)
			 ON CONFLICT (biome) DO NOTHING`,
			m.Biome.String(), m.CashPool.String(), m.ShareSupply.String(),
			m.Price.String(), m.LastRedistributionAt,
		)
		if err != nil {
			return fmt.Errorf("seed market %s: %w", m.Biome, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, b biome.Biome) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT biome, cash_pool::TEXT, share_supply::TEXT, price::TEXT, last_redistribution_at
		 FROM markets WHERE biome = $1`, b.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, b)
		}
		return nil, fmt.Errorf("get market %s: %w", b, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	// Canonical biome order is application-defined, so order in Go.
	byBiome := make(map[biome.Biome]model.Market, 7)

	rows, err := s.pool.Query(ctx,
		`SELECT biome, cash_pool::TEXT, share_supply::TEXT, price::TEXT, last_redistribution_at
		 FROM markets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		byBiome[m.Biome] = *m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	markets := make([]model.Market, 0, len(byBiome))
	for _, b := range biome.All() {
		if m, ok := byBiome[b]; ok {
			markets = append(markets, m)
		}
	}
	return markets, nil
}

func (s *PostgresStore) ApplyTrade(ctx context.Context, app *TradeApplication) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	m := app.Market
	if _, err := tx.Exec(ctx,
		`UPDATE markets SET cash_pool = $2::NUMERIC, price = $3::NUMERIC WHERE biome = $1`,
		m.Biome.String(), m.CashPool.String(), m.Price.String(),
	); err != nil {
		return fmt.Errorf("update market: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC WHERE user_id = $1`,
		app.Transaction.UserID, app.Balance.String(),
	); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	h := app.Holding
	if app.DeleteHolding {
		if _, err := tx.Exec(ctx,
			`DELETE FROM holdings WHERE user_id = $1 AND biome = $2`,
			h.UserID, h.Biome.String(),
		); err != nil {
			return fmt.Errorf("delete holding: %w", err)
		}
	} else {
		if _, err := tx.Exec(ctx,
			`INSERT INTO holdings (user_id, biome, shares, average_cost, invested_amount)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)
			 ON CONFLICT (user_id, biome) DO UPDATE
			 SET shares = EXCLUDED.shares,
			     average_cost = EXCLUDED.average_cost,
			     invested_amount = EXCLUDED.invested_amount`,
			h.UserID, h.Biome.String(), h.Shares.String(),
			h.AverageCost.String(), h.InvestedAmount.String(),
		); err != nil {
			return fmt.Errorf("upsert holding: %w", err)
		}
	}

	t := app.Transaction
	if _, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, biome, side, shares, price, amount, realized_gain, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		t.ID, t.UserID, t.Biome.String(), t.Side,
		t.Shares.String(), t.Price.String(), t.Amount.String(), t.RealizedGain.String(),
		t.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	p := app.PricePoint
	if _, err := tx.Exec(ctx,
		`INSERT INTO price_history (biome, price, ts) VALUES ($1, $2::NUMERIC, $3)`,
		p.Biome.String(), p.Price.String(), p.Timestamp,
	); err != nil {
		return fmt.Errorf("insert price point: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ApplyRedistribution(ctx context.Context, app *RedistributionApplication) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, m := range app.Markets {
		if _, err := tx.Exec(ctx,
			`UPDATE markets
			 SET cash_pool = $2::NUMERIC, price = $3::NUMERIC, last_redistribution_at = $4
			 WHERE biome = $1`,
			m.Biome.String(), m.CashPool.String(), m.Price.String(), app.At,
		); err != nil {
			return fmt.Errorf("update market %s: %w", m.Biome, err)
		}
	}
	for _, p := range app.PricePoints {
		if _, err := tx.Exec(ctx,
			`INSERT INTO price_history (biome, price, ts) VALUES ($1, $2::NUMERIC, $3)`,
			p.Biome.String(), p.Price.String(), p.Timestamp,
		); err != nil {
			return fmt.Errorf("insert price point: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, userID string, starting decimal.Decimal) (decimal.Decimal, error) {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, starting.String(),
	); err != nil {
		return decimal.Zero, fmt.Errorf("ensure account: %w", err)
	}

	var balanceS string
	if err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM accounts WHERE user_id = $1`, userID,
	).Scan(&balanceS); err != nil {
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	balance, _ := decimal.NewFromString(balanceS)
	return balance, nil
}

func (s *PostgresStore) GetHolding(ctx context.Context, userID string, b biome.Biome) (*model.Holding, error) {
	var h model.Holding
	var biomeS, sharesS, avgS, investedS string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, biome, shares::TEXT, average_cost::TEXT, invested_amount::TEXT
		 FROM holdings WHERE user_id = $1 AND biome = $2`,
		userID, b.String(),
	).Scan(&h.UserID, &biomeS, &sharesS, &avgS, &investedS)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get holding: %w", err)
	}

	h.Biome = biome.Biome(biomeS)
	h.Shares, _ = decimal.NewFromString(sharesS)
	h.AverageCost, _ = decimal.NewFromString(avgS)
	h.InvestedAmount, _ = decimal.NewFromString(investedS)
	return &h, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, biome, shares::TEXT, average_cost::TEXT, invested_amount::TEXT
		 FROM holdings WHERE user_id = $1 ORDER BY biome`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var biomeS, sharesS, avgS, investedS string
		if err := rows.Scan(&h.UserID, &biomeS, &sharesS, &avgS, &investedS); err != nil {
			return nil, err
		}
		h.Biome = biome.Biome(biomeS)
		h.Shares, _ = decimal.NewFromString(sharesS)
		h.AverageCost, _ = decimal.NewFromString(avgS)
		h.InvestedAmount, _ = decimal.NewFromString(investedS)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, offset, limit int) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, biome, side, shares::TEXT, price::TEXT, amount::TEXT, realized_gain::TEXT, created_at
		 FROM transactions WHERE user_id = $1
		 ORDER BY created_at DESC
		 OFFSET $2 LIMIT $3`, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var biomeS, sharesS, priceS, amountS, gainS string
		if err := rows.Scan(&t.ID, &t.UserID, &biomeS, &t.Side,
			&sharesS, &priceS, &amountS, &gainS, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Biome = biome.Biome(biomeS)
		t.Shares, _ = decimal.NewFromString(sharesS)
		t.Price, _ = decimal.NewFromString(priceS)
		t.Amount, _ = decimal.NewFromString(amountS)
		t.RealizedGain, _ = decimal.NewFromString(gainS)
		entries = append(entries, t)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) GetPriceHistory(ctx context.Context, b biome.Biome, window time.Duration) ([]model.PricePoint, error) {
	cutoff := time.Now().UTC().Add(-window)

	rows, err := s.pool.Query(ctx,
		`SELECT biome, price::TEXT, ts FROM price_history
		 WHERE biome = $1 AND ts >= $2 ORDER BY ts`, b.String(), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		var biomeS, priceS string
		if err := rows.Scan(&biomeS, &priceS, &p.Timestamp); err != nil {
			return nil, err
		}
		p.Biome = biome.Biome(biomeS)
		p.Price, _ = decimal.NewFromString(priceS)
		points = append(points, p)
	}
	return points, rows.Err()
}

type pgxRow interface {
	Scan(dest ...interface{}) error
}

// scanMarket reads one market row.
func scanMarket(row pgxRow) (*model.Market, error) {
	var m model.Market
	var biomeS, cashS, supplyS, priceS string

	if err := row.Scan(&biomeS, &cashS, &supplyS, &priceS, &m.LastRedistributionAt); err != nil {
		return nil, err
	}

	m.Biome = biome.Biome(biomeS)
	m.CashPool, _ = decimal.NewFromString(cashS)
	m.ShareSupply, _ = decimal.NewFromString(supplyS)
	m.Price, _ = decimal.NewFromString(priceS)
	return &m, nil
}
