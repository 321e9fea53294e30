package model

import "time"

// Tier is the occupancy safety classification of a venue.
type Tier string

const (
	TierSafe     Tier = "SAFE"
	TierWarning  Tier = "WARNING"
	TierCritical Tier = "CRITICAL"
)

// Rank orders tiers so that escalation can be detected with a comparison.
func (t Tier) Rank() int {
	switch t {
	case TierWarning:
		return 1
	case TierCritical:
		return 2
	default:
		return 0
	}
}

// TierFromRank is the inverse of Rank.
func TierFromRank(r int) Tier {
	switch r {
	case 1:
		return TierWarning
	case 2:
		return TierCritical
	default:
		return TierSafe
	}
}

// EventType identifies the kind of message carried on the broadcast hub.
type EventType string

const (
	EventOccupancyUpdate  EventType = "occupancy.update"
	EventThresholdAlert   EventType = "threshold.alert"
	EventOccupancyReset   EventType = "occupancy.reset"
	EventBookingCreated   EventType = "booking.created"
	EventBookingCancelled EventType = "booking.cancelled"
)

// Event is an ephemeral notification produced by the admission core and
// delivered best-effort to subscribers.  Occupancy updates carry Delta,
// Count and Tier; threshold alerts additionally carry Severity, Action and
// Message.  Origin identifies the process that produced the event so
// relayed copies are not re-relayed.
type Event struct {
	Type      EventType `json:"type"`
	VenueID   string    `json:"venue_id"`
	VenueName string    `json:"venue_name,omitempty"`
	Delta     int       `json:"delta,omitempty"`
	Count     int64     `json:"count"`
	Capacity  int64     `json:"capacity,omitempty"`
	Ratio     float64   `json:"ratio"`
	Tier      Tier      `json:"tier,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	Action    string    `json:"action,omitempty"`
	Message   string    `json:"message,omitempty"`
	PassToken string    `json:"pass_token,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Operator actions attached to threshold alerts.
const (
	ActionNotifyAdmins    = "NOTIFY_ADMINS"
	ActionBlockNewEntries = "BLOCK_NEW_ENTRIES"
)
