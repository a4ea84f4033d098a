// Package attention accumulates per-user, per-biome attention scores between
// redistribution cycles. State is process-local and volatile: losing it on a
// crash costs at most one cycle's weighting.
package attention

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/terravia/biome-engine/internal/biome"
)

type key struct {
	UserID string
	Biome  biome.Biome
}

// Aggregator is a concurrency-safe attention accumulator. Record and
// SnapshotAndReset are mutually exclusive, so an event is counted in exactly
// one snapshot.
type Aggregator struct {
	mu          sync.Mutex
	scores      map[key]decimal.Decimal
	maxPerEvent decimal.Decimal
}

// New creates an aggregator. maxPerEvent clamps a single Record call's score
// to bound the influence of any one event.
func New(maxPerEvent decimal.Decimal) *Aggregator {
	return &Aggregator{
		scores:      make(map[key]decimal.Decimal),
		maxPerEvent: maxPerEvent,
	}
}

// Record adds score to the (user, biome) accumulator. Non-positive scores are
// ignored; scores above the per-event maximum are clamped to it.
func (a *Aggregator) Record(userID string, b biome.Biome, score decimal.Decimal) {
	if score.LessThanOrEqual(decimal.Zero) {
		return
	}
	if score.GreaterThan(a.maxPerEvent) {
		score = a.maxPerEvent
	}

	k := key{UserID: userID, Biome: b}

	a.mu.Lock()
	a.scores[k] = a.scores[k].Add(score)
	a.mu.Unlock()
}

// SnapshotAndReset atomically returns the per-biome totals accumulated since
// the previous snapshot and clears the state for the next cycle. Biomes with
// no recorded attention are absent from the result.
func (a *Aggregator) SnapshotAndReset() map[biome.Biome]decimal.Decimal {
	a.mu.Lock()
	snapshot := a.scores
	a.scores = make(map[key]decimal.Decimal)
	a.mu.Unlock()

	totals := make(map[biome.Biome]decimal.Decimal)
	for k, score := range snapshot {
		totals[k.Biome] = totals[k.Biome].Add(score)
	}
	return totals
}
