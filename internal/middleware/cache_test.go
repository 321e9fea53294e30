package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/temple-admission/internal/config"
)

func idemConfig() config.IdempotencyConfig {
	return config.IdempotencyConfig{
		Enabled:       true,
		Methods:       map[string]bool{http.MethodPost: true},
		TTL:           time.Hour,
		ProcessingTTL: time.Minute,
		Prefix:        "idem",
		MaxBodyBytes:  1 << 10,
	}
}

func post(e *echo.Echo, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/bookings", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_ReplaysCompletedResponse(t *testing.T) {
	_, rdb := newRedis(t)
	var calls atomic.Int32
	e := echo.New()
	e.POST("/v1/bookings", func(c echo.Context) error {
		n := calls.Add(1)
		return c.JSON(http.StatusCreated, echo.Map{"token": "pass-", "n": n})
	}, NewIdempotency(idemConfig(), rdb, nil))

	first := post(e, "k1", `{"venue_id":"somnath"}`)
	require.Equal(t, http.StatusCreated, first.Code)

	again := post(e, "k1", `{"venue_id":"somnath"}`)
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, first.Body.String(), again.Body.String())
	assert.Equal(t, "true", again.Header().Get("Idempotent-Replayed"))
	assert.Contains(t, again.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
	assert.Equal(t, int32(1), calls.Load())

	// same key, different body
	assert.Equal(t, http.StatusUnprocessableEntity, post(e, "k1", `{"venue_id":"dwarka"}`).Code)
	assert.Equal(t, int32(1), calls.Load())

	// no key means no dedup
	post(e, "", `{"venue_id":"somnath"}`)
	post(e, "", `{"venue_id":"somnath"}`)
	assert.Equal(t, int32(3), calls.Load())
}

func TestIdempotency_ServerErrorFreesKey(t *testing.T) {
	mr, rdb := newRedis(t)
	var calls atomic.Int32
	e := echo.New()
	e.POST("/v1/bookings", func(c echo.Context) error {
		if calls.Add(1) == 1 {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"code": "UNAVAILABLE"})
		}
		return c.JSON(http.StatusCreated, echo.Map{"ok": true})
	}, NewIdempotency(idemConfig(), rdb, nil))

	assert.Equal(t, http.StatusServiceUnavailable, post(e, "k2", `{}`).Code)
	assert.False(t, mr.Exists("idem:k2"))
	assert.Equal(t, http.StatusCreated, post(e, "k2", `{}`).Code)
	assert.True(t, mr.Exists("idem:k2"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotency_InFlightConflict(t *testing.T) {
	_, rdb := newRedis(t)
	started := make(chan struct{})
	release := make(chan struct{})
	e := echo.New()
	e.POST("/v1/bookings", func(c echo.Context) error {
		close(started)
		<-release
		return c.JSON(http.StatusCreated, echo.Map{"ok": true})
	}, NewIdempotency(idemConfig(), rdb, nil))

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- post(e, "k3", `{}`) }()
	<-started

	assert.Equal(t, http.StatusConflict, post(e, "k3", `{}`).Code)
	close(release)
	assert.Equal(t, http.StatusCreated, (<-done).Code)
}

func TestIdempotency_DisabledWithoutRedis(t *testing.T) {
	var calls atomic.Int32
	e := echo.New()
	e.POST("/v1/bookings", func(c echo.Context) error {
		calls.Add(1)
		return c.NoContent(http.StatusCreated)
	}, NewIdempotency(idemConfig(), nil, nil))

	post(e, "k4", `{}`)
	post(e, "k4", `{}`)
	assert.Equal(t, int32(2), calls.Load())
}
