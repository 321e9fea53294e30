package model

import "time"

// PassState is the lifecycle state of a Pass.
type PassState string

const (
	PassPending   PassState = "PENDING"
	PassConfirmed PassState = "CONFIRMED"
	PassUsed      PassState = "USED"
	PassExpired   PassState = "EXPIRED"
	PassCancelled PassState = "CANCELLED"
	PassCompleted PassState = "COMPLETED"
)

// MinPartySize and MaxPartySize bound the number of visitors a single pass
// may admit.
const (
	MinPartySize = 1
	MaxPartySize = 10
)

// transitions lists every edge of the pass lifecycle.  USED can only be
// reached from CONFIRMED and a USED pass can never be cancelled.
var transitions = map[PassState][]PassState{
	PassPending:   {PassConfirmed, PassCancelled},
	PassConfirmed: {PassUsed, PassExpired, PassCancelled},
	PassUsed:      {PassCompleted},
}

// CanTransition reports whether the lifecycle allows moving from one state
// to another.
func CanTransition(from, to PassState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the known pass states.
func (s PassState) Valid() bool {
	switch s {
	case PassPending, PassConfirmed, PassUsed, PassExpired, PassCancelled, PassCompleted:
		return true
	}
	return false
}

// Pass is the admission capability issued for a booking.  The Token is the
// opaque value encoded in the visitor's QR code.
//
// Fields:
//  Token       – unguessable, globally unique identifier.
//  VenueID     – venue the pass admits to.
//  VisitDate   – calendar day of the visit (UTC midnight).
//  TimeWindow  – booked slot label, e.g. "06:00-08:00".
//  PartySize   – number of visitors covered (1..10).
//  State       – lifecycle state.
//  EntryAt     – set when the pass moves to USED.
//  ExitAt      – set when the pass moves to COMPLETED.
type Pass struct {
	Token       string     `json:"token"`
	VenueID     string     `json:"venue_id"`
	VisitDate   time.Time  `json:"visit_date"`
	TimeWindow  string     `json:"time_window"`
	PartySize   int        `json:"party_size"`
	State       PassState  `json:"state"`
	HolderName  string     `json:"holder_name,omitempty"`
	HolderEmail string     `json:"holder_email,omitempty"`
	EntryAt     *time.Time `json:"entry_at,omitempty"`
	ExitAt      *time.Time `json:"exit_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Usable reports whether the pass can currently be scanned for entry.
func (p *Pass) Usable() bool { return p.State == PassConfirmed }
