package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const sweepBatch = 100

// Sweeper periodically releases holds whose TTL has elapsed, reclaiming
// units from abandoned checkouts.
type Sweeper struct {
	ledger     Ledger
	settlement *Settlement
	clock      clock.Clock
	interval   time.Duration
	log        *zap.Logger
}

// NewSweeper constructs a Sweeper running every interval.
func NewSweeper(ledger Ledger, settlement *Settlement, clk clock.Clock, interval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{ledger: ledger, settlement: settlement, clock: clk, interval: interval, log: log}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				s.log.Error("expiry sweep", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("expiry sweep released holds", zap.Int("count", n))
			}
		}
	}
}

// SweepOnce releases every hold expired at the current time and returns
// how many it processed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "sweeper.SweepOnce")
	defer span.End()

	total := 0
	for {
		holds, err := s.ledger.ExpiredHolds(ctx, s.clock.Now(), sweepBatch)
		if err != nil {
			return total, fmt.Errorf("list expired holds: %w", err)
		}
		for _, h := range holds {
			if err := s.settlement.ExpireHold(ctx, h); err != nil {
				span.RecordError(err)
				return total, fmt.Errorf("expire hold %s: %w", h.ID, err)
			}
			total++
		}
		if len(holds) < sweepBatch {
			span.SetAttributes(attribute.Int("holds.released", total))
			return total, nil
		}
	}
}
