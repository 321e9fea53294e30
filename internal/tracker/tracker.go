// Package tracker records physical entries and exits.
//
// An entry (or exit) is two writes: a compare-and-swap on the pass state in
// the registry and a counter mutation in the occupancy store.  Both happen
// under a per-token lock held in the occupancy store, so no other scan of
// the same pass can observe the state change before the counter has moved.
// The pass transition goes first and is the ordering authority.  If the
// counter write then fails, the transition is reversed and the caller gets
// a hard error, so the two stores never disagree about a successful scan.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/broadcast"
	"github.com/iliyamo/temple-admission/internal/model"
	"github.com/iliyamo/temple-admission/internal/occupancy"
	"github.com/iliyamo/temple-admission/internal/repository"
)

// Options tunes the tracker's dependency deadlines.  LockTTL bounds how
// long a crashed scan can hold its pass lock; it defaults to the sum of the
// deadlines a scan can spend while holding it.
type Options struct {
	StoreTimeout      time.Duration
	CompensateTimeout time.Duration
	LockTTL           time.Duration
}

// EntryResult is returned for a successful entry.
type EntryResult struct {
	Count int64      `json:"count"`
	Ratio float64    `json:"ratio"`
	Tier  model.Tier `json:"tier"`
}

// ExitResult is returned for a successful exit.  Clamped reports that the
// counter was already zero.
type ExitResult struct {
	Count   int64      `json:"count"`
	Ratio   float64    `json:"ratio"`
	Tier    model.Tier `json:"tier"`
	Clamped bool       `json:"clamped,omitempty"`
}

// Tracker is the occupancy tracker.
type Tracker struct {
	passes repository.PassRegistry
	venues repository.VenueReader
	store  occupancy.Store
	events broadcast.Publisher
	log    *zap.Logger

	storeTimeout      time.Duration
	compensateTimeout time.Duration
	lockTTL           time.Duration

	now func() time.Time
}

// New wires a Tracker.  events may be nil.
func New(passes repository.PassRegistry, venues repository.VenueReader, store occupancy.Store, events broadcast.Publisher, log *zap.Logger, opts Options) *Tracker {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	if opts.CompensateTimeout <= 0 {
		opts.CompensateTimeout = opts.StoreTimeout
	}
	if opts.LockTTL <= 0 {
		// registry reads, CAS, conflict read and mutation, plus slack
		opts.LockTTL = 6*opts.StoreTimeout + opts.CompensateTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		passes:            passes,
		venues:            venues,
		store:             store,
		events:            events,
		log:               log,
		storeTimeout:      opts.StoreTimeout,
		compensateTimeout: opts.CompensateTimeout,
		lockTTL:           opts.LockTTL,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// RecordEntry admits the holder of token into venueID.  The pass must be
// CONFIRMED and issued for that venue.
func (t *Tracker) RecordEntry(ctx context.Context, venueID, token string) (*EntryResult, error) {
	unlock, err := t.lock(ctx, token)
	if err != nil {
		return nil, err
	}
	defer unlock()

	venue, err := t.validate(ctx, venueID, token, model.PassConfirmed)
	if err != nil {
		return nil, err
	}
	if err := t.transition(ctx, token, model.PassConfirmed, model.PassUsed); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	ch, err := t.store.Increment(sctx, venueID, token, thresholds(venue))
	cancel()
	if err != nil {
		t.compensate(token, model.PassUsed, model.PassConfirmed, err)
		return nil, fmt.Errorf("record entry: %w", err)
	}

	count := ch.Count
	tier := t.observe(venue, ch, +1)
	t.log.Debug("entry recorded",
		zap.String("venue_id", venueID),
		zap.String("token", token),
		zap.Int64("count", count),
		zap.String("tier", string(tier)))
	return &EntryResult{Count: count, Ratio: venue.Ratio(count), Tier: tier}, nil
}

// RecordExit records that the holder of token left venueID.  The pass must
// be USED.  An exit with no tracked presence still succeeds; the counter is
// clamped at zero and the anomaly is logged.
func (t *Tracker) RecordExit(ctx context.Context, venueID, token string) (*ExitResult, error) {
	unlock, err := t.lock(ctx, token)
	if err != nil {
		return nil, err
	}
	defer unlock()

	venue, err := t.validate(ctx, venueID, token, model.PassUsed)
	if err != nil {
		return nil, err
	}
	if err := t.transition(ctx, token, model.PassUsed, model.PassCompleted); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	ch, err := t.store.Decrement(sctx, venueID, token, thresholds(venue))
	cancel()
	if err != nil {
		t.compensate(token, model.PassCompleted, model.PassUsed, err)
		return nil, fmt.Errorf("record exit: %w", err)
	}
	count, clamped := ch.Count, ch.Clamped
	if clamped {
		t.log.Warn("exit without tracked presence, counter clamped at zero",
			zap.String("anomaly", "counter_clamped"),
			zap.String("venue_id", venueID),
			zap.String("token", token))
	}

	tier := t.observe(venue, ch, -1)
	t.log.Debug("exit recorded",
		zap.String("venue_id", venueID),
		zap.String("token", token),
		zap.Int64("count", count),
		zap.String("tier", string(tier)))
	return &ExitResult{Count: count, Ratio: venue.Ratio(count), Tier: tier, Clamped: clamped}, nil
}

// validate loads the pass and venue and checks the pass is in want.
func (t *Tracker) validate(ctx context.Context, venueID, token string, want model.PassState) (*model.Venue, error) {
	gctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	p, err := t.passes.Get(gctx, token)
	cancel()
	if errors.Is(err, repository.ErrPassNotFound) {
		return nil, model.Reject(model.ReasonPassNotFound, "no pass with this token")
	}
	if err != nil {
		return nil, fmt.Errorf("get pass: %w", err)
	}
	if p.VenueID != venueID {
		return nil, model.Reject(model.ReasonVenueMismatch, "pass was issued for another venue")
	}
	if p.State != want {
		return nil, model.RejectState(p.State, fmt.Sprintf("pass must be %s", want))
	}

	vctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	v, err := t.venues.Get(vctx, venueID)
	cancel()
	if errors.Is(err, repository.ErrVenueNotFound) {
		return nil, model.Reject(model.ReasonVenueNotFound, fmt.Sprintf("venue %q does not exist", venueID))
	}
	if err != nil {
		return nil, fmt.Errorf("load venue %s: %w", venueID, err)
	}
	return v, nil
}

// transition applies the pass CAS.  A lost race is reported as INVALID_STATE
// carrying whatever state won.
func (t *Tracker) transition(ctx context.Context, token string, from, to model.PassState) error {
	tctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	err := t.passes.Transition(tctx, token, from, to)
	cancel()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrConflict):
		state := to
		gctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
		if p, gerr := t.passes.Get(gctx, token); gerr == nil {
			state = p.State
		}
		cancel()
		return model.RejectState(state, fmt.Sprintf("pass must be %s", from))
	case errors.Is(err, repository.ErrPassNotFound):
		return model.Reject(model.ReasonPassNotFound, "no pass with this token")
	default:
		return fmt.Errorf("transition pass %s->%s: %w", from, to, err)
	}
}

// compensate reverses a committed pass transition after the counter write
// failed.  It runs on a detached context so a cancelled request still rolls
// back.
func (t *Tracker) compensate(token string, from, to model.PassState, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.compensateTimeout)
	defer cancel()
	if err := t.passes.Transition(ctx, token, from, to); err != nil {
		t.log.Error("failed to roll back pass after counter error",
			zap.String("anomaly", "compensation_failed"),
			zap.String("token", token),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	t.log.Warn("pass transition rolled back after counter error",
		zap.String("token", token),
		zap.String("restored", string(to)),
		zap.Error(cause))
}

// lock takes the scan lock of token, waiting at most the store timeout.
func (t *Tracker) lock(ctx context.Context, token string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	defer cancel()
	release, err := t.store.Lock(lctx, token, t.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire scan lock: %w", err)
	}
	return release, nil
}

func thresholds(v *model.Venue) occupancy.Thresholds {
	return occupancy.Thresholds{Capacity: v.CapacityTotal, Warning: v.WarningRatio, Critical: v.CriticalRatio}
}

// observe publishes the update and, when the store saw an upward tier
// change, a threshold alert.
func (t *Tracker) observe(v *model.Venue, ch occupancy.Change, delta int) model.Tier {
	count := ch.Count
	tier := model.TierFromRank(ch.Rank)
	ratio := v.Ratio(count)
	now := t.now()
	t.publish(model.Event{
		Type:      model.EventOccupancyUpdate,
		VenueID:   v.ID,
		VenueName: v.Name,
		Delta:     delta,
		Count:     count,
		Capacity:  v.CapacityTotal,
		Ratio:     ratio,
		Tier:      tier,
		Timestamp: now,
	})
	if !ch.Escalated {
		return tier
	}

	severity, action := "warning", model.ActionNotifyAdmins
	if tier == model.TierCritical {
		severity, action = "critical", model.ActionBlockNewEntries
	}
	msg := fmt.Sprintf("%s: %s at %.1f%% capacity (%d/%d)", tier, displayName(v), ratio*100, count, v.CapacityTotal)
	t.log.Warn("occupancy threshold crossed",
		zap.String("venue_id", v.ID),
		zap.String("tier", string(tier)),
		zap.Int64("count", count),
		zap.Float64("ratio", ratio))
	t.publish(model.Event{
		Type:      model.EventThresholdAlert,
		VenueID:   v.ID,
		VenueName: v.Name,
		Count:     count,
		Capacity:  v.CapacityTotal,
		Ratio:     ratio,
		Tier:      tier,
		Severity:  severity,
		Action:    action,
		Message:   msg,
		Timestamp: now,
	})
	return tier
}

func (t *Tracker) publish(ev model.Event) {
	if t.events != nil {
		t.events.Publish(ev)
	}
}

func displayName(v *model.Venue) string {
	if v.Name != "" {
		return v.Name
	}
	return v.ID
}
