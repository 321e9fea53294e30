package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/admission"
	"github.com/iliyamo/temple-admission/internal/model"
)

// BookingHandler serves the public booking endpoints.
type BookingHandler struct {
	Gate *admission.Gate
	Log  *zap.Logger
}

// NewBookingHandler constructs a BookingHandler and panics if gate is nil.
func NewBookingHandler(gate *admission.Gate, log *zap.Logger) *BookingHandler {
	if gate == nil {
		panic("nil gate passed to NewBookingHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BookingHandler{Gate: gate, Log: log}
}

type bookingRequest struct {
	VenueID       string   `json:"venue_id"`
	VisitDate     string   `json:"visit_date"` // YYYY-MM-DD
	TimeWindow    string   `json:"time_window"`
	PartySize     int      `json:"party_size"`
	HolderName    string   `json:"holder_name"`
	HolderEmail   string   `json:"holder_email"`
	Temperature   *float64 `json:"temperature"`
	Precipitation bool     `json:"precipitation"`
	MoonPhase     string   `json:"moon_phase"`
}

// Create handles POST /v1/bookings.  On success it returns 201 with the
// issued pass and the forecast it was admitted under.
func (h *BookingHandler) Create(c echo.Context) error {
	var body bookingRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	body.VenueID = strings.TrimSpace(body.VenueID)
	if body.VenueID == "" {
		return badRequest(c, "venue_id is required")
	}
	visit, err := time.Parse(time.DateOnly, body.VisitDate)
	if err != nil {
		return badRequest(c, "visit_date must be YYYY-MM-DD")
	}

	res, err := h.Gate.TryAdmit(c.Request().Context(), admission.Request{
		VenueID:    body.VenueID,
		VisitDate:  visit,
		TimeWindow: strings.TrimSpace(body.TimeWindow),
		PartySize:  body.PartySize,
		Context: model.PredictionContext{
			Temperature:   body.Temperature,
			Precipitation: body.Precipitation,
			MoonPhase:     body.MoonPhase,
		},
		HolderName:  body.HolderName,
		HolderEmail: body.HolderEmail,
	})
	if err != nil {
		return writeError(c, h.Log, "booking", err)
	}
	return c.JSON(http.StatusCreated, res)
}

// Get handles GET /v1/passes/:token.  valid is true when the pass can be
// scanned for entry right now.
func (h *BookingHandler) Get(c echo.Context) error {
	p, valid, err := h.Gate.Lookup(c.Request().Context(), c.Param("token"))
	if err != nil {
		return writeError(c, h.Log, "pass lookup", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"pass": p, "valid": valid})
}

// Cancel handles DELETE /v1/passes/:token.
func (h *BookingHandler) Cancel(c echo.Context) error {
	p, err := h.Gate.Cancel(c.Request().Context(), c.Param("token"))
	if err != nil {
		return writeError(c, h.Log, "cancel", err)
	}
	return c.JSON(http.StatusOK, p)
}

// Availability handles GET /v1/venues/:id/slots?date=YYYY-MM-DD&window=...
func (h *BookingHandler) Availability(c echo.Context) error {
	date, err := time.Parse(time.DateOnly, c.QueryParam("date"))
	if err != nil {
		return badRequest(c, "date must be YYYY-MM-DD")
	}
	a, err := h.Gate.SlotAvailability(c.Request().Context(), c.Param("id"), date, strings.TrimSpace(c.QueryParam("window")))
	if err != nil {
		return writeError(c, h.Log, "availability", err)
	}
	return c.JSON(http.StatusOK, a)
}
