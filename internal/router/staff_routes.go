package router

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/handler"
	"github.com/iliyamo/temple-admission/internal/middleware"
)

// RegisterGatekeeper registers the scan endpoints.  Routes require a valid
// JWT with the GATEKEEPER or ADMIN role and are rate limited per device.
func RegisterGatekeeper(e *echo.Echo, h *handler.GateHandler, jwtSecret string, lim Limits, log *zap.Logger) {
	g := e.Group(
		"/v1/venues",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleGatekeeper, middleware.RoleAdmin),
		middleware.NewTokenBucket(lim.Gate, lim.Redis, log),
	)
	g.POST("/:id/entry", h.Entry)
	g.POST("/:id/exit", h.Exit)
}

// RegisterAdmin registers operator endpoints.  All routes require the
// ADMIN role.
func RegisterAdmin(e *echo.Echo, l *handler.LiveHandler, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleAdmin),
	)
	g.GET("/venues/:id/inside", l.Inside)
	g.POST("/venues/:id/reset", l.Reset)

	// ---- Ops ----
	g.GET("/ops/stream", l.OpsStream)
	g.GET("/ops/hub", l.HubStats)
}
