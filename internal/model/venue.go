package model

import (
	"errors"
	"fmt"
)

// Default safety thresholds applied when a venue record carries none.
const (
	DefaultWarningRatio  = 0.85
	DefaultCriticalRatio = 0.95
)

// Venue is a temple that admits visitors.  The live head count is not part
// of this record: it is owned by the occupancy store and only mirrored to
// the database as a periodic snapshot.
//
// Fields:
//  ID            – stable identifier.
//  Name          – display name, also sent to the prediction service.
//  CapacityTotal – maximum number of people inside at once.
//  SlotCapacity  – maximum visitors booked per (date, time window); 0 disables the check.
//  WarningRatio  – occupancy ratio at which the venue enters WARNING.
//  CriticalRatio – occupancy ratio at which the venue enters CRITICAL.
type Venue struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	CapacityTotal int64   `json:"capacity_total"`
	SlotCapacity  int64   `json:"slot_capacity"`
	WarningRatio  float64 `json:"warning_ratio"`
	CriticalRatio float64 `json:"critical_ratio"`
}

// Validate checks the capacity and threshold invariants.
func (v *Venue) Validate() error {
	if v.ID == "" {
		return errors.New("venue id is required")
	}
	if v.CapacityTotal <= 0 {
		return fmt.Errorf("venue %s: capacity must be positive", v.ID)
	}
	if v.SlotCapacity < 0 {
		return fmt.Errorf("venue %s: slot capacity must not be negative", v.ID)
	}
	if v.WarningRatio <= 0 || v.CriticalRatio > 1 || v.WarningRatio >= v.CriticalRatio {
		return fmt.Errorf("venue %s: thresholds must satisfy 0 < warning < critical <= 1", v.ID)
	}
	return nil
}

// WithDefaults fills in missing thresholds.
func (v Venue) WithDefaults() Venue {
	if v.WarningRatio == 0 {
		v.WarningRatio = DefaultWarningRatio
	}
	if v.CriticalRatio == 0 {
		v.CriticalRatio = DefaultCriticalRatio
	}
	return v
}

// Ratio returns count / CapacityTotal.
func (v *Venue) Ratio(count int64) float64 {
	if v.CapacityTotal <= 0 {
		return 0
	}
	return float64(count) / float64(v.CapacityTotal)
}

// TierFor classifies a head count against the venue thresholds.
func (v *Venue) TierFor(count int64) Tier {
	r := v.Ratio(count)
	switch {
	case r >= v.CriticalRatio:
		return TierCritical
	case r >= v.WarningRatio:
		return TierWarning
	default:
		return TierSafe
	}
}
