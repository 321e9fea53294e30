package router

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/handler"
	"github.com/iliyamo/temple-admission/internal/middleware"
)

// RegisterPublic registers the visitor-facing endpoints under /v1.  No
// token is required.  Booking is rate limited per client address and
// accepts an Idempotency-Key so a retried submit does not issue a second
// pass.
func RegisterPublic(e *echo.Echo, b *handler.BookingHandler, l *handler.LiveHandler, lim Limits, log *zap.Logger) {
	g := e.Group("/v1")

	g.POST("/bookings", b.Create,
		middleware.NewTokenBucket(lim.Booking, lim.Redis, log),
		middleware.NewIdempotency(lim.Idempotency, lim.Redis, log),
	)
	g.GET("/passes/:token", b.Get)
	g.DELETE("/passes/:token", b.Cancel)

	g.GET("/live", l.Overview)
	g.GET("/venues/:id/live", l.Venue)
	g.GET("/venues/:id/stream", l.VenueStream)
	g.GET("/venues/:id/slots", b.Availability)
}
