// Package occupancy holds the live head count of every venue.  The store is
// the single source of truth for how many people are inside right now; the
// database only ever receives snapshots of it.
//
// Each venue's counter is an independent unit of concurrency.  No operation
// takes a lock that spans venues.
package occupancy

import (
	"context"
	"time"
)

// Thresholds lets the store classify a count into a tier rank in the same
// atomic step that changes it.  Rank 0 is safe, 1 warning and 2 critical.
// A zero Thresholds classifies everything as rank 0.
type Thresholds struct {
	Capacity int64
	Warning  float64
	Critical float64
}

// Rank classifies count.  It must agree with the Lua classifier in
// scripts/increment.lua and scripts/decrement.lua.
func (th Thresholds) Rank(count int64) int {
	if th.Capacity <= 0 {
		return 0
	}
	r := float64(count) / float64(th.Capacity)
	switch {
	case th.Critical > 0 && r >= th.Critical:
		return 2
	case th.Warning > 0 && r >= th.Warning:
		return 1
	default:
		return 0
	}
}

// Change is the outcome of one counter mutation.
type Change struct {
	Count int64
	// Rank is the tier rank of Count.
	Rank int
	// Escalated reports that Rank is higher than the rank recorded by the
	// previous mutation of this venue.  Exactly one mutation observes each
	// upward move, however many trackers share the store.
	Escalated bool
	// Clamped reports that a decrement found the count already at zero.
	Clamped bool
}

// Store is an atomically mutable per-venue counter.  Alongside the count it
// tracks which pass tokens are currently inside so operators can list them,
// and the last tier rank so upward crossings are seen once.
type Store interface {
	// Increment adds one to the venue count and records token as inside.
	Increment(ctx context.Context, venueID, token string, th Thresholds) (Change, error)
	// Decrement subtracts one from the venue count, never going below zero.
	// A clamp means an exit arrived without a tracked entry.
	Decrement(ctx context.Context, venueID, token string, th Thresholds) (Change, error)
	// Count returns the current count (zero for unknown venues).
	Count(ctx context.Context, venueID string) (int64, error)
	// Inside returns the tokens currently recorded as inside.
	Inside(ctx context.Context, venueID string) ([]string, error)
	// Seed sets the count only if the venue has no count yet.  It reports
	// whether the value was applied.
	Seed(ctx context.Context, venueID string, count int64) (bool, error)
	// Reset zeroes the count, clears the inside set and the recorded tier.
	Reset(ctx context.Context, venueID string) error
	// Lock serializes scans of one pass token across every tracker that
	// shares the store.  It waits until the lock is free or ctx is done.
	// The lock lapses after ttl if release is never called.
	Lock(ctx context.Context, token string, ttl time.Duration) (release func(), err error)
}
