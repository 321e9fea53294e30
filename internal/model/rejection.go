package model

import "fmt"

// ReasonCode is a stable, machine-readable rejection reason returned to
// booking clients and gatekeeper devices.
type ReasonCode string

const (
	ReasonPassNotFound     ReasonCode = "PASS_NOT_FOUND"
	ReasonVenueMismatch    ReasonCode = "VENUE_MISMATCH"
	ReasonInvalidState     ReasonCode = "INVALID_STATE"
	ReasonCapacityCritical ReasonCode = "CAPACITY_CRITICAL"
	ReasonVenueNotFound    ReasonCode = "VENUE_NOT_FOUND"
	ReasonInvalidPartySize ReasonCode = "INVALID_PARTY_SIZE"
	ReasonSlotFull         ReasonCode = "SLOT_FULL"
)

// Rejection is a validation outcome, as opposed to an infrastructure
// failure.  State is set for INVALID_STATE rejections.
type Rejection struct {
	Code    ReasonCode `json:"code"`
	State   PassState  `json:"state,omitempty"`
	Message string     `json:"message"`
}

func (r *Rejection) Error() string {
	if r.State != "" {
		return fmt.Sprintf("%s (state %s): %s", r.Code, r.State, r.Message)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// Reject builds a Rejection.
func Reject(code ReasonCode, msg string) *Rejection {
	return &Rejection{Code: code, Message: msg}
}

// RejectState builds an INVALID_STATE rejection for a pass in state s.
func RejectState(s PassState, msg string) *Rejection {
	return &Rejection{Code: ReasonInvalidState, State: s, Message: msg}
}
