package handler // handler holds the HTTP handlers of the admission API

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/model"
)

// statusFor maps a rejection code to the HTTP status returned with it.
func statusFor(code model.ReasonCode) int {
	switch code {
	case model.ReasonPassNotFound, model.ReasonVenueNotFound:
		return http.StatusNotFound
	case model.ReasonInvalidPartySize:
		return http.StatusUnprocessableEntity
	case model.ReasonVenueMismatch, model.ReasonInvalidState, model.ReasonSlotFull, model.ReasonCapacityCritical:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// writeError renders err.  Rejections are returned as {code, state, message};
// anything else is an infrastructure failure, logged and answered with 503
// so the caller knows the outcome was not recorded.
func writeError(c echo.Context, log *zap.Logger, op string, err error) error {
	var rej *model.Rejection
	if errors.As(err, &rej) {
		return c.JSON(statusFor(rej.Code), rej)
	}
	log.Error(op+" failed",
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
		zap.Error(err))
	return c.JSON(http.StatusServiceUnavailable, echo.Map{
		"code":    "UNAVAILABLE",
		"message": "service temporarily unavailable, the operation was not recorded",
	})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
