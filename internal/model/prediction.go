package model

import "time"

// CrowdStatus is the crowd classification returned by the prediction service.
type CrowdStatus string

const (
	CrowdNormal   CrowdStatus = "NORMAL"
	CrowdWarning  CrowdStatus = "WARNING"
	CrowdCritical CrowdStatus = "CRITICAL"
)

// Verdict is the outcome of a prediction request.  Degraded is set when the
// service could not be consulted and NORMAL was assumed.
type Verdict struct {
	Status            CrowdStatus `json:"status"`
	PredictedVisitors int64       `json:"predicted_visitors"`
	Degraded          bool        `json:"degraded,omitempty"`
}

// PredictionContext carries the optional weather features a booking may
// supply for the prediction service.
type PredictionContext struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	Precipitation bool     `json:"precipitation"`
	MoonPhase     string   `json:"moon_phase,omitempty"`
}

// PredictionQuery is the full input to a prediction.
type PredictionQuery struct {
	VenueID   string
	VenueName string
	Date      time.Time
	Context   PredictionContext
}
