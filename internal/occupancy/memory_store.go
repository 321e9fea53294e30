package occupancy

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const lockStripes = 64

type venueCounter struct {
	// n is written under mu and read without it.
	n      atomic.Int64
	seeded atomic.Bool

	mu     sync.Mutex
	rank   int
	inside map[string]struct{}
}

// MemoryStore implements Store in process.  Each venue has its own mutex;
// counts are readable without it.  Pass locks are striped by token hash.
type MemoryStore struct {
	venues sync.Map // venueID -> *venueCounter
	locks  [lockStripes]chan struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.locks {
		s.locks[i] = make(chan struct{}, 1)
	}
	return s
}

func (s *MemoryStore) counter(venueID string) *venueCounter {
	if v, ok := s.venues.Load(venueID); ok {
		return v.(*venueCounter)
	}
	v, _ := s.venues.LoadOrStore(venueID, &venueCounter{inside: make(map[string]struct{})})
	return v.(*venueCounter)
}

// observe records the rank of n and reports the change.  c.mu must be held.
func (c *venueCounter) observe(n int64, th Thresholds) Change {
	rank := th.Rank(n)
	ch := Change{Count: n, Rank: rank, Escalated: rank > c.rank}
	c.rank = rank
	return ch
}

func (s *MemoryStore) Increment(ctx context.Context, venueID, token string, th Thresholds) (Change, error) {
	if err := ctx.Err(); err != nil {
		return Change{}, err
	}
	c := s.counter(venueID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seeded.Store(true)
	n := c.n.Add(1)
	if token != "" {
		c.inside[token] = struct{}{}
	}
	return c.observe(n, th), nil
}

func (s *MemoryStore) Decrement(ctx context.Context, venueID, token string, th Thresholds) (Change, error) {
	if err := ctx.Err(); err != nil {
		return Change{}, err
	}
	c := s.counter(venueID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seeded.Store(true)
	if token != "" {
		delete(c.inside, token)
	}
	n, clamped := c.n.Load(), false
	if n <= 0 {
		n, clamped = 0, true
	} else {
		n--
	}
	c.n.Store(n)
	ch := c.observe(n, th)
	ch.Clamped = clamped
	return ch, nil
}

func (s *MemoryStore) Count(ctx context.Context, venueID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if v, ok := s.venues.Load(venueID); ok {
		return v.(*venueCounter).n.Load(), nil
	}
	return 0, nil
}

func (s *MemoryStore) Inside(ctx context.Context, venueID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.venues.Load(venueID)
	if !ok {
		return []string{}, nil
	}
	c := v.(*venueCounter)
	c.mu.Lock()
	out := make([]string, 0, len(c.inside))
	for tok := range c.inside {
		out = append(out, tok)
	}
	c.mu.Unlock()
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Seed(ctx context.Context, venueID string, count int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if count < 0 {
		count = 0
	}
	c := s.counter(venueID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seeded.CompareAndSwap(false, true) {
		return false, nil
	}
	c.n.Store(count)
	return true, nil
}

func (s *MemoryStore) Reset(ctx context.Context, venueID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := s.counter(venueID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seeded.Store(true)
	c.inside = make(map[string]struct{})
	c.rank = 0
	c.n.Store(0)
	return nil
}

// Lock takes the stripe of token.  ttl is ignored: the holder lives in
// this process and always releases.
func (s *MemoryStore) Lock(ctx context.Context, token string, _ time.Duration) (func(), error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	sem := s.locks[h.Sum32()%lockStripes]
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("lock pass %s: %w", token, ctx.Err())
	}
	var once sync.Once
	return func() { once.Do(func() { <-sem }) }, nil
}

var _ Store = (*MemoryStore)(nil)
