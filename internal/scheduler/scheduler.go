// Package scheduler runs the fixed-interval redistribution cycle: pool a
// fraction of total market cash, allocate it across biomes by aggregated
// attention, and publish the resulting market states.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/terravia/biome-engine/internal/attention"
	"github.com/terravia/biome-engine/internal/ledger"
	"github.com/terravia/biome-engine/internal/metrics"
	"github.com/terravia/biome-engine/internal/model"
)

// Publisher receives the outcome of a completed cycle for real-time fan-out.
type Publisher interface {
	PublishCycle(markets []model.Market, redistributions []model.Redistribution)
}

// Scheduler owns the redistribution loop. Started and stopped explicitly;
// a cycle either completes or is skipped, never interrupted midway.
type Scheduler struct {
	ledger    *ledger.Ledger
	attention *attention.Aggregator
	publisher Publisher
	interval  time.Duration
	fraction  decimal.Decimal
	log       *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// New creates a scheduler. publisher may be nil if no fan-out is wanted.
func New(l *ledger.Ledger, agg *attention.Aggregator, pub Publisher, interval time.Duration, fraction decimal.Decimal, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		ledger:    l,
		attention: agg,
		publisher: pub,
		interval:  interval,
		fraction:  fraction,
		log:       log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the cycle loop in a goroutine.
func (s *Scheduler) Start() {
	go s.run()
	s.log.Info("redistribution scheduler started",
		"interval", s.interval.String(),
		"fraction", s.fraction.String(),
	)
}

// Stop halts the loop and waits for any in-flight cycle to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
	s.log.Info("redistribution scheduler stopped")
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.runCycle(context.Background())
			// A cycle that overran the interval leaves a tick queued in
			// the ticker; drop it rather than running back-to-back.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// runCycle executes one redistribution cycle. Failures are logged and the
// cycle skipped; the loop itself never dies.
func (s *Scheduler) runCycle(ctx context.Context) {
	start := time.Now()

	scores := s.attention.SnapshotAndReset()
	total := decimal.Zero
	for _, score := range scores {
		total = total.Add(score)
	}
	if total.LessThanOrEqual(decimal.Zero) {
		// Nobody attended to anything: no allocation, prices unchanged.
		metrics.RedistributionSkipped.WithLabelValues("no_attention").Inc()
		return
	}

	result, err := s.ledger.Redistribute(ctx, scores, s.fraction, time.Now().UTC())
	if err != nil {
		if errors.Is(err, ledger.ErrBusy) {
			metrics.RedistributionSkipped.WithLabelValues("busy").Inc()
			s.log.Warn("cycle skipped, markets busy")
			return
		}
		metrics.RedistributionSkipped.WithLabelValues("error").Inc()
		s.log.Error("redistribution cycle failed", "err", err)
		return
	}

	metrics.RedistributionCycles.Inc()
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	metrics.TotalMarketCash.Set(result.TotalMarketCash.InexactFloat64())

	if len(result.Markets) == 0 {
		return
	}

	s.log.Debug("redistribution cycle complete",
		"changed_markets", len(result.Markets),
		"tmc", result.TotalMarketCash.String(),
	)

	if s.publisher != nil {
		s.publisher.PublishCycle(result.Markets, result.Redistributions)
	}
}
