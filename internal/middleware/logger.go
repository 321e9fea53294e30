package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Logger logs one line per request.  Server errors are logged at ERROR,
// client errors at WARN and everything else at INFO.  Long-lived stream
// requests are logged when they end.
func Logger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let echo render the error so the status below is final
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			fields := []zap.Field{
				zap.String("request_id", GetRequestID(c)),
				zap.Int("status", status),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.String("route", c.Path()),
				zap.String("ip", c.RealIP()),
				zap.String("staff_id", StaffID(c)),
				zap.Duration("latency", time.Since(start)),
				zap.Int64("body_size", c.Response().Size),
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
			switch {
			case status >= 500:
				log.Error("server error", fields...)
			case status >= 400:
				log.Warn("client error", fields...)
			default:
				log.Info("request completed", fields...)
			}
			return nil
		}
	}
}
