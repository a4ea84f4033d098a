// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all tunables for the biome engine.
type Config struct {
	Addr        string
	DatabaseURL string // empty → in-memory store
	RedisURL    string // empty → no cache layer

	// Redistribution cycle.
	CycleEvery   time.Duration   // scheduler interval
	PoolFraction decimal.Decimal // fraction of TMC pooled each cycle

	// Market initialization. All seven markets start identical.
	InitialCashPool decimal.Decimal
	ShareSupply     decimal.Decimal

	// Trading.
	StartingBalance decimal.Decimal // seeded on first account touch
	LockTimeout     time.Duration   // per-market lock wait before Busy

	// Attention.
	MaxAttentionScore decimal.Decimal // per-event clamp
}

// Load reads configuration from the environment, applying defaults.
func Load() (Config, error) {
	addr := strings.TrimSpace(os.Getenv("PORT"))
	if addr != "" && !strings.HasPrefix(addr, ":") {
		addr = ":" + addr
	}
	if addr == "" {
		addr = envDefault("BIOME_ADDR", ":8080")
	}

	cfg := Config{
		Addr:              addr,
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:          strings.TrimSpace(os.Getenv("REDIS_URL")),
		CycleEvery:        envDurationDefault("BIOME_CYCLE_EVERY", 500*time.Millisecond),
		PoolFraction:      envDecimalDefault("BIOME_POOL_FRACTION", decimal.NewFromFloat(0.25)),
		InitialCashPool:   envDecimalDefault("BIOME_INITIAL_CASH", decimal.NewFromInt(100000)),
		ShareSupply:       envDecimalDefault("BIOME_SHARE_SUPPLY", decimal.NewFromInt(1000)),
		StartingBalance:   envDecimalDefault("BIOME_STARTING_BALANCE", decimal.NewFromInt(10000)),
		LockTimeout:       envDurationDefault("BIOME_LOCK_TIMEOUT", 2*time.Second),
		MaxAttentionScore: envDecimalDefault("BIOME_MAX_ATTENTION", decimal.NewFromInt(10)),
	}

	if cfg.CycleEvery <= 0 {
		return cfg, fmt.Errorf("BIOME_CYCLE_EVERY must be positive")
	}
	if cfg.PoolFraction.LessThanOrEqual(decimal.Zero) || cfg.PoolFraction.GreaterThan(decimal.NewFromInt(1)) {
		return cfg, fmt.Errorf("BIOME_POOL_FRACTION must be in (0, 1]")
	}
	if cfg.InitialCashPool.LessThanOrEqual(decimal.Zero) {
		return cfg, fmt.Errorf("BIOME_INITIAL_CASH must be positive")
	}
	if cfg.ShareSupply.LessThanOrEqual(decimal.Zero) {
		return cfg, fmt.Errorf("BIOME_SHARE_SUPPLY must be positive")
	}
	if cfg.MaxAttentionScore.LessThanOrEqual(decimal.Zero) {
		return cfg, fmt.Errorf("BIOME_MAX_ATTENTION must be positive")
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envDecimalDefault(key string, fallback decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fallback
	}
	return d
}
