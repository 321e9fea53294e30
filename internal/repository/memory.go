package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/temple-admission/internal/model"
)

// passEntry guards a single pass.  Transitions lock only their own entry, so
// no operation ever holds locks on two passes.
type passEntry struct {
	mu   sync.Mutex
	pass model.Pass
}

// MemoryPassRegistry is an in-process PassRegistry used by tests and by the
// server when no database is configured.
type MemoryPassRegistry struct {
	passes sync.Map // token -> *passEntry
	now    func() time.Time
}

// NewMemoryPassRegistry returns an empty registry.
func NewMemoryPassRegistry() *MemoryPassRegistry {
	return &MemoryPassRegistry{now: func() time.Time { return time.Now().UTC() }}
}

// Len returns the number of passes held.
func (r *MemoryPassRegistry) Len() int {
	n := 0
	r.passes.Range(func(_, _ any) bool { n++; return true })
	return n
}

func (r *MemoryPassRegistry) Create(ctx context.Context, p *model.Pass) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := r.now()
	p.CreatedAt, p.UpdatedAt = now, now
	if _, loaded := r.passes.LoadOrStore(p.Token, &passEntry{pass: *p}); loaded {
		return "", ErrDuplicateToken
	}
	return p.Token, nil
}

func (r *MemoryPassRegistry) Get(ctx context.Context, token string) (*model.Pass, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := r.passes.Load(token)
	if !ok {
		return nil, ErrPassNotFound
	}
	e := v.(*passEntry)
	e.mu.Lock()
	p := e.pass
	e.mu.Unlock()
	return &p, nil
}

func (r *MemoryPassRegistry) Transition(ctx context.Context, token string, from, to model.PassState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, ok := r.passes.Load(token)
	if !ok {
		return ErrPassNotFound
	}
	e := v.(*passEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pass.State != from {
		return ErrConflict
	}
	now := r.now()
	e.pass.State = to
	e.pass.UpdatedAt = now
	switch {
	case from == model.PassConfirmed && to == model.PassUsed:
		e.pass.EntryAt = &now
	case to == model.PassCompleted:
		e.pass.ExitAt = &now
	case from == model.PassUsed && to == model.PassConfirmed:
		e.pass.EntryAt = nil
	case from == model.PassCompleted && to == model.PassUsed:
		e.pass.ExitAt = nil
	}
	return nil
}

func (r *MemoryPassRegistry) BookedVisitors(ctx context.Context, venueID string, date time.Time, window string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	day := date.UTC().Format("2006-01-02")
	var total int64
	r.passes.Range(func(_, v any) bool {
		e := v.(*passEntry)
		e.mu.Lock()
		p := e.pass
		e.mu.Unlock()
		if p.VenueID == venueID && p.TimeWindow == window && p.VisitDate.UTC().Format("2006-01-02") == day &&
			(p.State == model.PassConfirmed || p.State == model.PassUsed) {
			total += int64(p.PartySize)
		}
		return true
	})
	return total, nil
}

// MemoryVenueRepo is an in-process VenueReader and SnapshotStore.
type MemoryVenueRepo struct {
	mu     sync.RWMutex
	venues map[string]model.Venue
	counts map[string]int64
}

// NewMemoryVenueRepo returns a repo seeded with the given venues.
func NewMemoryVenueRepo(venues ...model.Venue) *MemoryVenueRepo {
	r := &MemoryVenueRepo{venues: make(map[string]model.Venue), counts: make(map[string]int64)}
	for _, v := range venues {
		r.Put(v)
	}
	return r
}

// Put adds or replaces a venue.
func (r *MemoryVenueRepo) Put(v model.Venue) {
	r.mu.Lock()
	r.venues[v.ID] = v.WithDefaults()
	r.mu.Unlock()
}

func (r *MemoryVenueRepo) Get(ctx context.Context, id string) (*model.Venue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[id]
	if !ok {
		return nil, ErrVenueNotFound
	}
	return &v, nil
}

func (r *MemoryVenueRepo) List(ctx context.Context) ([]model.Venue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]model.Venue, 0, len(r.venues))
	for _, v := range r.venues {
		out = append(out, v)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryVenueRepo) SaveLiveCount(ctx context.Context, venueID string, count int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.venues[venueID]; !ok {
		return ErrVenueNotFound
	}
	r.counts[venueID] = count
	return nil
}

func (r *MemoryVenueRepo) LiveCounts(ctx context.Context) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int64, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out, nil
}

var (
	_ PassRegistry  = (*MemoryPassRegistry)(nil)
	_ VenueReader   = (*MemoryVenueRepo)(nil)
	_ SnapshotStore = (*MemoryVenueRepo)(nil)
)
