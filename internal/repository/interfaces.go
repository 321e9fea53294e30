package repository

import (
	"context"
	"time"

	"github.com/iliyamo/temple-admission/internal/model"
)

// PassRegistry maps pass tokens to booking metadata.  Transition is the only
// mutation path after creation and must be atomic: it succeeds only when the
// stored state equals from, otherwise it returns ErrConflict and leaves the
// pass untouched.  Transition does not enforce lifecycle rules; callers
// check model.CanTransition.
type PassRegistry interface {
	Create(ctx context.Context, p *model.Pass) (string, error)
	Get(ctx context.Context, token string) (*model.Pass, error)
	Transition(ctx context.Context, token string, from, to model.PassState) error
	// BookedVisitors sums the party sizes of CONFIRMED and USED passes for
	// one venue slot.
	BookedVisitors(ctx context.Context, venueID string, date time.Time, window string) (int64, error)
}

// VenueReader exposes the venue fields the admission core depends on.
type VenueReader interface {
	Get(ctx context.Context, id string) (*model.Venue, error)
	List(ctx context.Context) ([]model.Venue, error)
}

// SnapshotStore is the durable mirror of live counts.  It is never read for
// admission decisions, only to seed the occupancy store after a restart.
type SnapshotStore interface {
	SaveLiveCount(ctx context.Context, venueID string, count int64) error
	LiveCounts(ctx context.Context) (map[string]int64, error)
}
