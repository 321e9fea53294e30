package tracker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/model"
	"github.com/iliyamo/temple-admission/internal/repository"
)

// VenueStatus is the live occupancy of one venue.
type VenueStatus struct {
	VenueID  string     `json:"venue_id"`
	Name     string     `json:"name"`
	Count    int64      `json:"count"`
	Capacity int64      `json:"capacity"`
	Ratio    float64    `json:"ratio"`
	Tier     model.Tier `json:"tier"`
}

// Overview is the live occupancy of every venue.
type Overview struct {
	Venues     []VenueStatus `json:"venues"`
	TotalCount int64         `json:"total_count"`
}

func (t *Tracker) loadVenue(ctx context.Context, venueID string) (*model.Venue, error) {
	vctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	defer cancel()
	v, err := t.venues.Get(vctx, venueID)
	if errors.Is(err, repository.ErrVenueNotFound) {
		return nil, model.Reject(model.ReasonVenueNotFound, fmt.Sprintf("venue %q does not exist", venueID))
	}
	if err != nil {
		return nil, fmt.Errorf("load venue %s: %w", venueID, err)
	}
	return v, nil
}

func (t *Tracker) status(ctx context.Context, v *model.Venue) (VenueStatus, error) {
	sctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	n, err := t.store.Count(sctx, v.ID)
	cancel()
	if err != nil {
		return VenueStatus{}, fmt.Errorf("count %s: %w", v.ID, err)
	}
	return VenueStatus{
		VenueID:  v.ID,
		Name:     v.Name,
		Count:    n,
		Capacity: v.CapacityTotal,
		Ratio:    v.Ratio(n),
		Tier:     v.TierFor(n),
	}, nil
}

// Status returns the live occupancy of venueID.
func (t *Tracker) Status(ctx context.Context, venueID string) (*VenueStatus, error) {
	v, err := t.loadVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	s, err := t.status(ctx, v)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Overview returns the live occupancy of every venue and their total.
func (t *Tracker) Overview(ctx context.Context) (*Overview, error) {
	lctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	venues, err := t.venues.List(lctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("list venues: %w", err)
	}
	out := &Overview{Venues: make([]VenueStatus, 0, len(venues))}
	for i := range venues {
		s, err := t.status(ctx, &venues[i])
		if err != nil {
			return nil, err
		}
		out.Venues = append(out.Venues, s)
		out.TotalCount += s.Count
	}
	return out, nil
}

// Inside returns the tokens of passes currently inside venueID.
func (t *Tracker) Inside(ctx context.Context, venueID string) ([]string, error) {
	if _, err := t.loadVenue(ctx, venueID); err != nil {
		return nil, err
	}
	sctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	defer cancel()
	tokens, err := t.store.Inside(sctx, venueID)
	if err != nil {
		return nil, fmt.Errorf("list inside %s: %w", venueID, err)
	}
	return tokens, nil
}

// Reset zeroes the live count of venueID and forgets its last tier.  Pass
// states are not touched.
func (t *Tracker) Reset(ctx context.Context, venueID string) error {
	v, err := t.loadVenue(ctx, venueID)
	if err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	err = t.store.Reset(sctx, venueID)
	cancel()
	if err != nil {
		return fmt.Errorf("reset %s: %w", venueID, err)
	}

	t.log.Info("live count reset", zap.String("venue_id", venueID))
	t.publish(model.Event{
		Type:      model.EventOccupancyReset,
		VenueID:   v.ID,
		VenueName: v.Name,
		Capacity:  v.CapacityTotal,
		Tier:      model.TierSafe,
		Timestamp: t.now(),
	})
	return nil
}
