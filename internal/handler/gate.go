package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/tracker"
)

// GateHandler serves the gatekeeper scan endpoints.  Routes are expected
// to sit behind JWTAuth and RequireRole.
type GateHandler struct {
	Tracker *tracker.Tracker
	Log     *zap.Logger
}

// NewGateHandler constructs a GateHandler and panics if t is nil.
func NewGateHandler(t *tracker.Tracker, log *zap.Logger) *GateHandler {
	if t == nil {
		panic("nil tracker passed to NewGateHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GateHandler{Tracker: t, Log: log}
}

type scanRequest struct {
	Token string `json:"token"`
}

func scannedToken(c echo.Context) (string, bool) {
	var body scanRequest
	if err := c.Bind(&body); err != nil {
		return "", false
	}
	tok := strings.TrimSpace(body.Token)
	return tok, tok != ""
}

// Entry handles POST /v1/venues/:id/entry.
func (h *GateHandler) Entry(c echo.Context) error {
	tok, ok := scannedToken(c)
	if !ok {
		return badRequest(c, "token is required")
	}
	res, err := h.Tracker.RecordEntry(c.Request().Context(), c.Param("id"), tok)
	if err != nil {
		return writeError(c, h.Log, "entry", err)
	}
	return c.JSON(http.StatusOK, res)
}

// Exit handles POST /v1/venues/:id/exit.
func (h *GateHandler) Exit(c echo.Context) error {
	tok, ok := scannedToken(c)
	if !ok {
		return badRequest(c, "token is required")
	}
	res, err := h.Tracker.RecordExit(c.Request().Context(), c.Param("id"), tok)
	if err != nil {
		return writeError(c, h.Log, "exit", err)
	}
	return c.JSON(http.StatusOK, res)
}
