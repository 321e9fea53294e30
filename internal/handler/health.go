package handler // declare the package name; contains HTTP handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is anything whose reachability can be checked; *sql.DB satisfies
// it directly and a Redis client through PingFunc.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Health is a simple liveness endpoint used by load balancers.  It returns
// "ok" with a 200 status as long as the process is serving.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Ready reports whether each named dependency answers a ping.  Any failing
// dependency turns the response into a 503.
func Ready(deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		out := make(map[string]string, len(deps))
		for name, p := range deps {
			if err := p.PingContext(ctx); err != nil {
				out[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			out[name] = "ok"
		}
		return c.JSON(status, out)
	}
}
