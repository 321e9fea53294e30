package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/temple-admission/internal/config"
	"github.com/iliyamo/temple-admission/internal/handler"
)

// Limits bundles the per-group Redis guards.  A nil Redis client disables
// both rate limiting and idempotency replay.
type Limits struct {
	Redis       *redis.Client
	Booking     config.RateLimitConfig
	Gate        config.RateLimitConfig
	Idempotency config.IdempotencyConfig
}

// RegisterRoutes registers the unauthenticated health endpoints.  /healthz
// only says the process is up; /readyz pings every dependency in ready.
func RegisterRoutes(e *echo.Echo, ready map[string]handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(ready))
}
