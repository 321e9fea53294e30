// Package repository defines the record-store contracts consumed by the
// admission core together with their MySQL and in-memory implementations.
// The sentinel errors below let higher layers distinguish a missing record
// from a lost compare-and-swap race without inspecting driver errors.
package repository

import "errors"

// ErrPassNotFound is returned when no pass exists for a token.
var ErrPassNotFound = errors.New("pass not found")

// ErrVenueNotFound is returned when no venue exists for an ID.
var ErrVenueNotFound = errors.New("venue not found")

// ErrConflict is returned by Transition when the pass was not in the
// expected state at the moment of the update.  Nothing was mutated.
var ErrConflict = errors.New("conflict")

// ErrDuplicateToken is returned by Create when the token is already taken.
var ErrDuplicateToken = errors.New("duplicate pass token")
