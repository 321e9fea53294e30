package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Staff roles carried in the JWT "role" claim.
const (
	RoleGatekeeper = "GATEKEEPER"
	RoleAdmin      = "ADMIN"
)

// RequireRole returns a middleware that enforces that the authenticated
// staff member has one of the given roles.  It assumes JWTAuth has already
// stored the role in the context.  Anything else is answered with 403.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := c.Get(CtxRole).(string)
			if !ok || !allowed[role] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
