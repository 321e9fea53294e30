package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/temple-admission/internal/model"
)

func newContext() (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	return echo.New().NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec), rec
}

func TestWriteError_Rejection(t *testing.T) {
	c, rec := newContext()
	err := fmt.Errorf("wrapped: %w", model.RejectState(model.PassUsed, "already inside"))

	require.NoError(t, writeError(c, zap.NewNop(), "entry", err))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"code":"INVALID_STATE","state":"USED","message":"already inside"}`, rec.Body.String())
}

func TestWriteError_InfrastructureIs503(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c, rec := newContext()

	err := fmt.Errorf("record entry: %w", context.DeadlineExceeded)
	require.NoError(t, writeError(c, zap.New(core), "entry", err))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"UNAVAILABLE"`)

	entries := logs.FilterMessage("entry failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0].ContextMap()["timeout"])
}

func TestStatusFor(t *testing.T) {
	cases := map[model.ReasonCode]int{
		model.ReasonPassNotFound:     http.StatusNotFound,
		model.ReasonVenueNotFound:    http.StatusNotFound,
		model.ReasonVenueMismatch:    http.StatusConflict,
		model.ReasonInvalidState:     http.StatusConflict,
		model.ReasonCapacityCritical: http.StatusConflict,
		model.ReasonSlotFull:         http.StatusConflict,
		model.ReasonInvalidPartySize: http.StatusUnprocessableEntity,
	}
	for code, want := range cases {
		assert.Equal(t, want, statusFor(code), code)
	}
}

func TestReady(t *testing.T) {
	c, rec := newContext()
	h := Ready(map[string]Pinger{
		"redis": PingFunc(func(context.Context) error { return nil }),
		"mysql": PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	require.NoError(t, h(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"redis":"ok","mysql":"connection refused"}`, rec.Body.String())
}
