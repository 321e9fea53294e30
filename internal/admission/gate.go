// Package admission decides whether a booking request becomes a pass.
//
// The gate consults the crowd-prediction service but never blocks on it:
// any prediction failure is treated as a NORMAL forecast and logged as a
// degraded-mode anomaly.  Booking never touches the live occupancy count.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/broadcast"
	"github.com/iliyamo/temple-admission/internal/model"
	"github.com/iliyamo/temple-admission/internal/prediction"
	"github.com/iliyamo/temple-admission/internal/repository"
)

const maxTokenAttempts = 3

// Request is a booking attempt.
type Request struct {
	VenueID     string                  `json:"venue_id"`
	VisitDate   time.Time               `json:"visit_date"`
	TimeWindow  string                  `json:"time_window"`
	PartySize   int                     `json:"party_size"`
	Context     model.PredictionContext `json:"context"`
	HolderName  string                  `json:"holder_name"`
	HolderEmail string                  `json:"holder_email"`
}

// Admission is the result of an accepted booking.
type Admission struct {
	Pass    *model.Pass   `json:"pass"`
	Verdict model.Verdict `json:"verdict"`
}

// Options tunes the gate's dependency deadlines.
type Options struct {
	PredictionTimeout time.Duration
	StoreTimeout      time.Duration
}

// Gate is the booking admission gate.
type Gate struct {
	passes    repository.PassRegistry
	venues    repository.VenueReader
	predictor prediction.Predictor
	events    broadcast.Publisher
	log       *zap.Logger

	predictionTimeout time.Duration
	storeTimeout      time.Duration

	newToken func() string
	now      func() time.Time
}

// NewGate wires a Gate.  events may be nil.
func NewGate(passes repository.PassRegistry, venues repository.VenueReader, predictor prediction.Predictor, events broadcast.Publisher, log *zap.Logger, opts Options) *Gate {
	if opts.PredictionTimeout <= 0 {
		opts.PredictionTimeout = 2 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		passes:            passes,
		venues:            venues,
		predictor:         predictor,
		events:            events,
		log:               log,
		predictionTimeout: opts.PredictionTimeout,
		storeTimeout:      opts.StoreTimeout,
		newToken:          uuid.NewString,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// TryAdmit validates a booking, consults the forecast and issues a CONFIRMED
// pass.  Validation outcomes are returned as *model.Rejection; any other
// error is an infrastructure failure.  Every accepted call creates a new pass.
func (g *Gate) TryAdmit(ctx context.Context, req Request) (*Admission, error) {
	if req.PartySize < model.MinPartySize || req.PartySize > model.MaxPartySize {
		return nil, model.Reject(model.ReasonInvalidPartySize,
			fmt.Sprintf("party size must be between %d and %d", model.MinPartySize, model.MaxPartySize))
	}
	visit := dateOnly(req.VisitDate)

	venue, err := g.venue(ctx, req.VenueID)
	if err != nil {
		return nil, err
	}

	if venue.SlotCapacity > 0 {
		sctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
		booked, err := g.passes.BookedVisitors(sctx, venue.ID, visit, req.TimeWindow)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("count booked visitors: %w", err)
		}
		if booked+int64(req.PartySize) > venue.SlotCapacity {
			return nil, model.Reject(model.ReasonSlotFull,
				fmt.Sprintf("only %d places left in this slot", max(venue.SlotCapacity-booked, 0)))
		}
	}

	verdict := g.predict(ctx, model.PredictionQuery{
		VenueID:   venue.ID,
		VenueName: venue.Name,
		Date:      visit,
		Context:   req.Context,
	})
	if verdict.Status == model.CrowdCritical {
		g.log.Info("booking rejected on critical forecast",
			zap.String("venue_id", venue.ID),
			zap.Time("visit_date", visit),
			zap.Int64("predicted_visitors", verdict.PredictedVisitors))
		return nil, model.Reject(model.ReasonCapacityCritical, "expected crowd is critical for this date")
	}

	pass := &model.Pass{
		VenueID:     venue.ID,
		VisitDate:   visit,
		TimeWindow:  req.TimeWindow,
		PartySize:   req.PartySize,
		State:       model.PassConfirmed,
		HolderName:  req.HolderName,
		HolderEmail: req.HolderEmail,
	}
	if err := g.create(ctx, pass); err != nil {
		return nil, err
	}

	g.log.Info("pass issued",
		zap.String("venue_id", venue.ID),
		zap.String("token", pass.Token),
		zap.Int("party_size", pass.PartySize),
		zap.String("forecast", string(verdict.Status)),
		zap.Bool("degraded", verdict.Degraded))
	g.publish(model.Event{
		Type:      model.EventBookingCreated,
		VenueID:   venue.ID,
		VenueName: venue.Name,
		PassToken: pass.Token,
		Message:   fmt.Sprintf("%d visitor(s) booked for %s %s", pass.PartySize, visit.Format("2006-01-02"), pass.TimeWindow),
		Timestamp: g.now(),
	})
	return &Admission{Pass: pass, Verdict: verdict}, nil
}

func (g *Gate) venue(ctx context.Context, id string) (*model.Venue, error) {
	vctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()
	v, err := g.venues.Get(vctx, id)
	if errors.Is(err, repository.ErrVenueNotFound) {
		return nil, model.Reject(model.ReasonVenueNotFound, fmt.Sprintf("venue %q does not exist", id))
	}
	if err != nil {
		return nil, fmt.Errorf("load venue %s: %w", id, err)
	}
	return v, nil
}

// predict never fails: every error becomes a degraded NORMAL verdict.
func (g *Gate) predict(ctx context.Context, q model.PredictionQuery) model.Verdict {
	degraded := func(err error) model.Verdict {
		g.log.Warn("prediction unavailable, admitting in degraded mode",
			zap.String("anomaly", "prediction_degraded"),
			zap.String("venue_id", q.VenueID),
			zap.Time("visit_date", q.Date),
			zap.Error(err))
		return model.Verdict{Status: model.CrowdNormal, Degraded: true}
	}
	if g.predictor == nil {
		return degraded(errors.New("no prediction service configured"))
	}
	pctx, cancel := context.WithTimeout(ctx, g.predictionTimeout)
	defer cancel()
	v, err := g.predictor.Predict(pctx, q)
	if err != nil {
		return degraded(err)
	}
	return v
}

func (g *Gate) create(ctx context.Context, p *model.Pass) error {
	var err error
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		p.Token = g.newToken()
		cctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
		_, err = g.passes.Create(cctx, p)
		cancel()
		if !errors.Is(err, repository.ErrDuplicateToken) {
			break
		}
		g.log.Warn("pass token collision, regenerating", zap.Int("attempt", attempt+1))
	}
	if err != nil {
		return fmt.Errorf("create pass: %w", err)
	}
	return nil
}

// Lookup returns the pass for token and whether it is currently valid for
// entry.
func (g *Gate) Lookup(ctx context.Context, token string) (*model.Pass, bool, error) {
	lctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()
	p, err := g.passes.Get(lctx, token)
	if errors.Is(err, repository.ErrPassNotFound) {
		return nil, false, model.Reject(model.ReasonPassNotFound, "no pass with this token")
	}
	if err != nil {
		return nil, false, fmt.Errorf("get pass: %w", err)
	}
	return p, p.Usable(), nil
}

// Cancel moves a PENDING or CONFIRMED pass to CANCELLED.  A pass that has
// already been used can never be cancelled.
func (g *Gate) Cancel(ctx context.Context, token string) (*model.Pass, error) {
	p, _, err := g.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(p.State, model.PassCancelled) {
		return nil, model.RejectState(p.State, "pass cannot be cancelled")
	}

	tctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	err = g.passes.Transition(tctx, token, p.State, model.PassCancelled)
	cancel()
	switch {
	case errors.Is(err, repository.ErrConflict):
		// Lost a race with an entry scan or another cancel.
		cur, _, lerr := g.Lookup(ctx, token)
		if lerr != nil {
			return nil, lerr
		}
		return nil, model.RejectState(cur.State, "pass changed state during cancellation")
	case errors.Is(err, repository.ErrPassNotFound):
		return nil, model.Reject(model.ReasonPassNotFound, "no pass with this token")
	case err != nil:
		return nil, fmt.Errorf("cancel pass: %w", err)
	}

	p.State = model.PassCancelled
	g.log.Info("pass cancelled", zap.String("venue_id", p.VenueID), zap.String("token", token))
	g.publish(model.Event{
		Type:      model.EventBookingCancelled,
		VenueID:   p.VenueID,
		PassToken: token,
		Timestamp: g.now(),
	})
	return p, nil
}

func (g *Gate) publish(ev model.Event) {
	if g.events != nil {
		g.events.Publish(ev)
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Availability is the booking headroom of one venue slot.  Capacity is zero
// when the venue does not limit slots, in which case Full is never set.
type Availability struct {
	VenueID     string    `json:"venue_id"`
	VenueName   string    `json:"venue_name"`
	VisitDate   time.Time `json:"visit_date"`
	TimeWindow  string    `json:"time_window"`
	Capacity    int64     `json:"capacity"`
	Booked      int64     `json:"booked"`
	Available   int64     `json:"available"`
	Full        bool      `json:"full"`
	PercentFull float64   `json:"percent_full"`
}

// SlotAvailability reports how many visitors can still book the given slot.
func (g *Gate) SlotAvailability(ctx context.Context, venueID string, visitDate time.Time, window string) (*Availability, error) {
	venue, err := g.venue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	visit := dateOnly(visitDate)
	sctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	booked, err := g.passes.BookedVisitors(sctx, venue.ID, visit, window)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("count booked visitors: %w", err)
	}
	a := &Availability{
		VenueID:    venue.ID,
		VenueName:  venue.Name,
		VisitDate:  visit,
		TimeWindow: window,
		Capacity:   venue.SlotCapacity,
		Booked:     booked,
	}
	if venue.SlotCapacity > 0 {
		a.Available = max(venue.SlotCapacity-booked, 0)
		a.Full = a.Available == 0
		a.PercentFull = float64(booked) / float64(venue.SlotCapacity) * 100
	}
	return a, nil
}
