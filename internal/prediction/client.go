// Package prediction talks to the external crowd-prediction service.
//
// Callers must treat every error from a Predictor as "no forecast available";
// the admission gate turns such errors into a degraded NORMAL verdict.
package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iliyamo/temple-admission/internal/model"
)

const (
	// DefaultTemperature is sent when the booking carries no temperature.
	DefaultTemperature = 30.0
	// DefaultMoonPhase is sent when the booking carries no moon phase.
	DefaultMoonPhase = "Normal"
)

// ErrMalformedResponse is returned when the service answers with a body
// that cannot be mapped to a verdict.
var ErrMalformedResponse = errors.New("prediction: malformed response")

// Predictor returns a crowd verdict for a venue and date.
type Predictor interface {
	Predict(ctx context.Context, q model.PredictionQuery) (model.Verdict, error)
}

type predictRequest struct {
	TempleName  string  `json:"temple_name"`
	DateStr     string  `json:"date_str"`
	Temperature float64 `json:"temperature"`
	RainFlag    int     `json:"rain_flag"`
	MoonPhase   string  `json:"moon_phase"`
	IsWeekend   int     `json:"is_weekend"`
}

type predictResponse struct {
	CrowdStatus       string  `json:"crowd_status"`
	PredictedVisitors float64 `json:"predicted_visitors"`
}

// HTTPClient calls POST {baseURL}/predict.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient returns a client for the service at baseURL.  timeout bounds
// each request in addition to any deadline on the caller's context.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func newRequest(q model.PredictionQuery) predictRequest {
	r := predictRequest{
		TempleName:  q.VenueName,
		DateStr:     q.Date.Format("2006-01-02"),
		Temperature: DefaultTemperature,
		MoonPhase:   DefaultMoonPhase,
	}
	if r.TempleName == "" {
		r.TempleName = q.VenueID
	}
	if q.Context.Temperature != nil {
		r.Temperature = *q.Context.Temperature
	}
	if q.Context.Precipitation {
		r.RainFlag = 1
	}
	if q.Context.MoonPhase != "" {
		r.MoonPhase = q.Context.MoonPhase
	}
	if wd := q.Date.Weekday(); wd == time.Saturday || wd == time.Sunday {
		r.IsWeekend = 1
	}
	return r
}

// ParseStatus maps the service's status strings onto CrowdStatus.  Matching
// is case-insensitive and HIGH is treated as WARNING.
func ParseStatus(s string) (model.CrowdStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NORMAL", "LOW":
		return model.CrowdNormal, true
	case "WARNING", "HIGH":
		return model.CrowdWarning, true
	case "CRITICAL":
		return model.CrowdCritical, true
	}
	return "", false
}

func (c *HTTPClient) Predict(ctx context.Context, q model.PredictionQuery) (model.Verdict, error) {
	body, err := json.Marshal(newRequest(q))
	if err != nil {
		return model.Verdict{}, fmt.Errorf("encode prediction request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return model.Verdict{}, fmt.Errorf("build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("call prediction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return model.Verdict{}, fmt.Errorf("prediction service returned status %d", resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return model.Verdict{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	status, ok := ParseStatus(out.CrowdStatus)
	if !ok {
		return model.Verdict{}, fmt.Errorf("%w: unknown crowd_status %q", ErrMalformedResponse, out.CrowdStatus)
	}
	return model.Verdict{Status: status, PredictedVisitors: int64(out.PredictedVisitors)}, nil
}

var _ Predictor = (*HTTPClient)(nil)
