package middleware

// identity.go holds helpers shared by middleware and handlers for reading
// the caller identity that JWTAuth and RequestID leave in the Echo context.

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// StaffID returns the authenticated staff subject, or "anon" on public
// routes.
func StaffID(c echo.Context) string {
	if s, ok := c.Get(CtxStaffID).(string); ok && s != "" {
		return s
	}
	return "anon"
}

// RequestID returns a middleware that propagates X-Request-ID or assigns
// a fresh UUID, echoing it on the response.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			c.Set(echo.HeaderXRequestID, id)
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			return next(c)
		}
	}
}

// GetRequestID returns the id assigned by RequestID.
func GetRequestID(c echo.Context) string {
	if s, ok := c.Get(echo.HeaderXRequestID).(string); ok {
		return s
	}
	return ""
}
