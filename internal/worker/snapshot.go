// Package worker runs background jobs that keep the durable record store in
// step with the live occupancy store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/occupancy"
	"github.com/iliyamo/temple-admission/internal/repository"
)

// Snapshotter mirrors live counts into the record store and seeds the live
// store from that mirror after a cold start.  The live store stays the
// authority: Restore never overwrites an existing count.
type Snapshotter struct {
	venues    repository.VenueReader
	snapshots repository.SnapshotStore
	store     occupancy.Store
	interval  time.Duration
	timeout   time.Duration
	log       *zap.Logger
}

// NewSnapshotter returns a Snapshotter writing every interval.
func NewSnapshotter(venues repository.VenueReader, snapshots repository.SnapshotStore, store occupancy.Store, interval, timeout time.Duration, log *zap.Logger) *Snapshotter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Snapshotter{venues: venues, snapshots: snapshots, store: store, interval: interval, timeout: timeout, log: log}
}

// Restore seeds every venue missing from the live store with its last
// snapshot.  It returns the number of venues seeded.
func (s *Snapshotter) Restore(ctx context.Context) (int, error) {
	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	counts, err := s.snapshots.LiveCounts(lctx)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("load snapshots: %w", err)
	}
	seeded := 0
	for venueID, n := range counts {
		sctx, cancel := context.WithTimeout(ctx, s.timeout)
		ok, err := s.store.Seed(sctx, venueID, n)
		cancel()
		if err != nil {
			return seeded, fmt.Errorf("seed %s: %w", venueID, err)
		}
		if ok {
			seeded++
			s.log.Info("live count restored from snapshot", zap.String("venue_id", venueID), zap.Int64("count", n))
		}
	}
	return seeded, nil
}

// SnapshotOnce writes the current live count of every venue.  Failures for
// one venue do not stop the others; the joined error is returned.
func (s *Snapshotter) SnapshotOnce(ctx context.Context) error {
	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	venues, err := s.venues.List(lctx)
	cancel()
	if err != nil {
		return fmt.Errorf("list venues: %w", err)
	}
	var errs []error
	for _, v := range venues {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		n, err := s.store.Count(cctx, v.ID)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("count %s: %w", v.ID, err))
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, s.timeout)
		err = s.snapshots.SaveLiveCount(wctx, v.ID, n)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", v.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Run snapshots every interval until ctx is done, then writes a final
// snapshot.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), s.timeout)
			if err := s.SnapshotOnce(final); err != nil {
				s.log.Warn("final snapshot failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.SnapshotOnce(ctx); err != nil {
				s.log.Warn("snapshot failed", zap.Error(err))
			}
		}
	}
}
