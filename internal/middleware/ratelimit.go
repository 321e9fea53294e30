package middleware

import (
	_ "embed"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/config"
)

//go:embed scripts/token_bucket.lua
var tokenBucketSrc string

var tokenBucket = redis.NewScript(tokenBucketSrc)

// bucketVerdict is the decoded reply of the token bucket script.
type bucketVerdict struct {
	allowed   bool
	remaining int64
	retry     time.Duration
}

func takeToken(c echo.Context, rdb *redis.Client, cfg config.RateLimitConfig, key string, ttl int64) (bucketVerdict, error) {
	vals, err := tokenBucket.Run(c.Request().Context(), rdb, []string{key},
		time.Now().UnixMilli(), cfg.Capacity, cfg.RefillTokens, cfg.RefillInterval.Milliseconds(), ttl,
	).Int64Slice()
	if err != nil {
		return bucketVerdict{}, err
	}
	if len(vals) != 3 {
		return bucketVerdict{}, redis.Nil
	}
	return bucketVerdict{allowed: vals[0] == 1, remaining: vals[1], retry: time.Duration(vals[2]) * time.Millisecond}, nil
}

// NewTokenBucket limits requests per key with a Redis token bucket.  If
// Redis cannot be reached the request goes through: a gate must keep
// scanning while the limiter is down.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if log == nil {
		log = zap.NewNop()
	}
	ttl := max(int64(cfg.TTL/time.Second), 1)
	limit := strconv.Itoa(cfg.Capacity)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			v, err := takeToken(c, rdb, cfg, key, ttl)
			if err != nil {
				log.Warn("rate limiter unavailable, allowing request", zap.String("key", key), zap.Error(err))
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(v.remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if v.allowed {
				return next(c)
			}

			secs := int(math.Ceil(v.retry.Seconds()))
			h.Set("Retry-After", strconv.Itoa(secs))
			log.Debug("rate limited", zap.String("key", key), zap.Duration("retry_after", v.retry))
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       "too_many_requests",
				"message":     "rate limit exceeded",
				"retry_after": secs,
			})
		}
	}
}

// buildRateKey composes prefix:dimension:value... for cfg.KeyStrategy.
// Unknown strategies key on ip, staff and route together.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	dims := map[string]string{
		"ip":    ip,
		"user":  StaffID(c),
		"route": c.Request().Method + " " + c.Path(),
	}
	var order []string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip", "user", "route":
		order = []string{strings.ToLower(cfg.KeyStrategy)}
	case "ip_user":
		order = []string{"ip", "user"}
	case "ip_route":
		order = []string{"ip", "route"}
	case "user_route":
		order = []string{"user", "route"}
	default:
		order = []string{"ip", "user", "route"}
	}
	parts := []string{cfg.Prefix}
	for _, d := range order {
		parts = append(parts, d, dims[d])
	}
	return strings.Join(parts, ":")
}
