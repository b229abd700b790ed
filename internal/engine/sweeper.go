package engine

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Sweeper periodically re-evaluates every active deviation record, so a trip
// that stops transmitting while off-route still escalates on schedule.
type Sweeper struct {
	tracker  *Tracker
	interval time.Duration
}

// NewSweeper builds a sweeper over the tracker's records.
func NewSweeper(tracker *Tracker, interval time.Duration) *Sweeper {
	return &Sweeper{tracker: tracker, interval: interval}
}

// Run executes Sweep on the fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.tracker.Sweep(ctx); err != nil {
				log.Printf("sweep failed err=%v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep re-runs the time-based transitions for all active records. An error
// on one record is logged and counted; the rest of the pass continues.
func (t *Tracker) Sweep(ctx context.Context) error {
	t.counters.SweepRuns.Add(1)

	active, err := t.records.ListActive(ctx)
	if err != nil {
		t.counters.SweepErrors.Add(1)
		return fmt.Errorf("list active records: %w", err)
	}

	for _, rec := range active {
		if err := t.sweepOne(ctx, rec.ID, rec.TripID); err != nil {
			t.counters.SweepErrors.Add(1)
			log.Printf("sweep record failed record=%s trip=%s err=%v", rec.ID, rec.TripID, err)
		}
	}
	return nil
}

func (t *Tracker) sweepOne(ctx context.Context, recordID, tripID string) error {
	unlock := t.locks.Lock(tripID)
	defer unlock()

	// Reload under the lock; the listing snapshot may be stale.
	rec, err := t.records.ByID(ctx, recordID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	if rec.State.Terminal() {
		return nil
	}

	trip := t.tripContext(ctx, tripID)
	events := t.machine.evaluateTime(rec, trip, t.clock())
	if len(events) == 0 {
		return nil
	}

	if err := t.records.Save(ctx, rec); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	t.countTransitions(events)
	t.emit(ctx, events...)
	return nil
}
