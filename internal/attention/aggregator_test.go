package attention_test

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/terravia/biome-engine/internal/attention"
	"github.com/terravia/biome-engine/internal/biome"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestRecord_SumsPerBiome(t *testing.T) {
	agg := attention.New(d(10))

	agg.Record("user1", biome.Forest, d(3))
	agg.Record("user2", biome.Forest, d(2))
	agg.Record("user1", biome.Desert, d(1))

	totals := agg.SnapshotAndReset()

	if !totals[biome.Forest].Equal(d(5)) {
		t.Errorf("forest total should be 5, got %s", totals[biome.Forest])
	}
	if !totals[biome.Desert].Equal(d(1)) {
		t.Errorf("desert total should be 1, got %s", totals[biome.Desert])
	}
	if _, ok := totals[biome.Ocean]; ok {
		t.Error("unattended biome should be absent from snapshot")
	}
}

func TestRecord_ClampsPerEvent(t *testing.T) {
	agg := attention.New(d(10))

	agg.Record("user1", biome.Forest, d(500))
	agg.Record("user1", biome.Forest, d(500))

	totals := agg.SnapshotAndReset()
	if !totals[biome.Forest].Equal(d(20)) {
		t.Errorf("clamped total should be 20, got %s", totals[biome.Forest])
	}
}

func TestRecord_IgnoresNonPositive(t *testing.T) {
	agg := attention.New(d(10))

	agg.Record("user1", biome.Forest, decimal.Zero)
	agg.Record("user1", biome.Forest, d(-3))

	totals := agg.SnapshotAndReset()
	if len(totals) != 0 {
		t.Errorf("expected empty snapshot, got %v", totals)
	}
}

func TestSnapshotAndReset_Clears(t *testing.T) {
	agg := attention.New(d(10))

	agg.Record("user1", biome.Forest, d(3))
	first := agg.SnapshotAndReset()
	second := agg.SnapshotAndReset()

	if !first[biome.Forest].Equal(d(3)) {
		t.Errorf("first snapshot should hold 3, got %s", first[biome.Forest])
	}
	if len(second) != 0 {
		t.Errorf("second snapshot should be empty, got %v", second)
	}
}

// Every event recorded around concurrent snapshots must land in exactly one
// snapshot: totals across all snapshots equal the recorded sum.
func TestConcurrentRecordAndSnapshot_ExactlyOnce(t *testing.T) {
	agg := attention.New(d(10))

	const (
		writers          = 8
		eventsPerWriter  = 500
		scorePerEvent    = 1
		snapshotsInFlight = 4
	)

	var wg sync.WaitGroup
	var mu sync.Mutex
	collected := decimal.Zero

	drain := func() {
		for b, score := range agg.SnapshotAndReset() {
			if b != biome.Swamp {
				t.Errorf("unexpected biome %q in snapshot", b)
			}
			mu.Lock()
			collected = collected.Add(score)
			mu.Unlock()
		}
	}

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < eventsPerWriter; i++ {
				agg.Record("user", biome.Swamp, d(scorePerEvent))
			}
		}(w)
	}
	for s := 0; s < snapshotsInFlight; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			drain()
		}()
	}
	wg.Wait()

	// Final snapshot picks up whatever the concurrent drains missed.
	drain()

	want := d(writers * eventsPerWriter * scorePerEvent)
	if !collected.Equal(want) {
		t.Errorf("events double-counted or lost: collected %s, want %s", collected, want)
	}
}
