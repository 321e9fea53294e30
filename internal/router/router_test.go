package router

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/admission"
	"github.com/iliyamo/temple-admission/internal/broadcast"
	"github.com/iliyamo/temple-admission/internal/config"
	"github.com/iliyamo/temple-admission/internal/handler"
	"github.com/iliyamo/temple-admission/internal/middleware"
	"github.com/iliyamo/temple-admission/internal/model"
	"github.com/iliyamo/temple-admission/internal/occupancy"
	"github.com/iliyamo/temple-admission/internal/repository"
	"github.com/iliyamo/temple-admission/internal/tracker"
	"github.com/iliyamo/temple-admission/internal/utils"
)

const secret = "router-test-secret"

type fixedForecast model.CrowdStatus

func (f fixedForecast) Predict(context.Context, model.PredictionQuery) (model.Verdict, error) {
	return model.Verdict{Status: model.CrowdStatus(f), PredictedVisitors: 1200}, nil
}

type testEnv struct {
	e      *echo.Echo
	hub    *broadcast.Hub
	passes *repository.MemoryPassRegistry
}

func newEnv(t *testing.T, forecast model.CrowdStatus, lim Limits) *testEnv {
	t.Helper()
	log := zap.NewNop()
	venues := repository.NewMemoryVenueRepo(
		model.Venue{ID: "somnath", Name: "Somnath", CapacityTotal: 100}.WithDefaults(),
		model.Venue{ID: "dwarka", Name: "Dwarka", CapacityTotal: 10}.WithDefaults(),
	)
	passes := repository.NewMemoryPassRegistry()
	hub := broadcast.NewHub(16, log)
	gate := admission.NewGate(passes, venues, fixedForecast(forecast), hub, log, admission.Options{})
	tr := tracker.New(passes, venues, occupancy.NewMemoryStore(), hub, log, tracker.Options{})

	e := echo.New()
	e.Use(middleware.RequestID())
	RegisterRoutes(e, map[string]handler.Pinger{})
	live := handler.NewLiveHandler(tr, hub, log)
	RegisterPublic(e, handler.NewBookingHandler(gate, log), live, lim, log)
	RegisterGatekeeper(e, handler.NewGateHandler(tr, log), secret, lim, log)
	RegisterAdmin(e, live, secret)
	return &testEnv{e: e, hub: hub, passes: passes}
}

func (env *testEnv) do(t *testing.T, method, path, body, role string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if role != "" {
		tok, err := utils.NewAccessToken(secret, "staff-"+strings.ToLower(role), role, time.Hour)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

const booking = `{"venue_id":"somnath","visit_date":"2026-11-02","time_window":"06:00-08:00","party_size":2}`

func book(t *testing.T, env *testEnv, body string) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/v1/bookings", body, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pass := decode(t, rec)["pass"].(map[string]any)
	return pass["token"].(string)
}

func TestRoutes_VisitLifecycle(t *testing.T) {
	env := newEnv(t, model.CrowdWarning, Limits{})
	token := book(t, env, booking)
	scan := `{"token":"` + token + `"}`

	rec := env.do(t, http.MethodGet, "/v1/passes/"+token, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["valid"])

	// scans need a staff token
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/v1/venues/somnath/entry", scan, "").Code)

	rec = env.do(t, http.MethodPost, "/v1/venues/somnath/entry", scan, middleware.RoleGatekeeper)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	rec = env.do(t, http.MethodPost, "/v1/venues/somnath/entry", scan, middleware.RoleGatekeeper)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "INVALID_STATE", body["code"])
	assert.Equal(t, "USED", body["state"])

	rec = env.do(t, http.MethodGet, "/v1/venues/somnath/live", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	// inside list is admin only
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/v1/venues/somnath/inside", "", middleware.RoleGatekeeper).Code)
	rec = env.do(t, http.MethodGet, "/v1/venues/somnath/inside", "", middleware.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), token)

	rec = env.do(t, http.MethodPost, "/v1/venues/somnath/exit", scan, middleware.RoleGatekeeper)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["count"])

	// a completed pass can no longer be cancelled
	rec = env.do(t, http.MethodDelete, "/v1/passes/"+token, "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "COMPLETED", decode(t, rec)["state"])

	rec = env.do(t, http.MethodGet, "/v1/live", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["total_count"])
}

func TestRoutes_CancelAndMismatch(t *testing.T) {
	env := newEnv(t, model.CrowdNormal, Limits{})
	token := book(t, env, booking)

	rec := env.do(t, http.MethodPost, "/v1/venues/dwarka/entry", `{"token":"`+token+`"}`, middleware.RoleAdmin)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "VENUE_MISMATCH", decode(t, rec)["code"])

	rec = env.do(t, http.MethodDelete, "/v1/passes/"+token, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decode(t, rec)["state"])

	rec = env.do(t, http.MethodGet, "/v1/passes/"+token, "", "")
	assert.Equal(t, false, decode(t, rec)["valid"])

	rec = env.do(t, http.MethodGet, "/v1/passes/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PASS_NOT_FOUND", decode(t, rec)["code"])
}

func TestRoutes_BookingRejections(t *testing.T) {
	env := newEnv(t, model.CrowdCritical, Limits{})

	rec := env.do(t, http.MethodPost, "/v1/bookings", booking, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CAPACITY_CRITICAL", decode(t, rec)["code"])

	cases := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"bad date", `{"venue_id":"somnath","visit_date":"02/11/2026","party_size":1}`, http.StatusBadRequest},
		{"no venue", `{"visit_date":"2026-11-02","party_size":1}`, http.StatusBadRequest},
		{"party too big", `{"venue_id":"somnath","visit_date":"2026-11-02","party_size":11}`, http.StatusUnprocessableEntity},
		{"unknown venue", `{"venue_id":"kedarnath","visit_date":"2026-11-02","party_size":1}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, env.do(t, http.MethodPost, "/v1/bookings", tc.body, "").Code)
		})
	}
	assert.Equal(t, 0, env.passes.Len())
}

func TestRoutes_IdempotentBooking(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	idem := config.IdempotencyConfig{
		Enabled: true, Methods: map[string]bool{http.MethodPost: true},
		TTL: time.Hour, ProcessingTTL: time.Minute, Prefix: "idem", MaxBodyBytes: 1 << 16,
	}
	env := newEnv(t, model.CrowdNormal, Limits{Redis: rdb, Booking: config.BookingRateDefaults, Gate: config.GateRateDefaults, Idempotency: idem})

	first := env.do(t, http.MethodPost, "/v1/bookings", booking, "", middleware.IdempotencyKeyHeader, "order-1")
	require.Equal(t, http.StatusCreated, first.Code)
	again := env.do(t, http.MethodPost, "/v1/bookings", booking, "", middleware.IdempotencyKeyHeader, "order-1")
	require.Equal(t, http.StatusCreated, again.Code)

	assert.JSONEq(t, first.Body.String(), again.Body.String())
	assert.Equal(t, 1, env.passes.Len())
	assert.NotEmpty(t, first.Header().Get("X-RateLimit-Remaining"))
}

func TestRoutes_AdminResetAndHubStats(t *testing.T) {
	env := newEnv(t, model.CrowdNormal, Limits{})
	token := book(t, env, booking)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/venues/somnath/entry", `{"token":"`+token+`"}`, middleware.RoleGatekeeper).Code)

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/v1/venues/somnath/reset", "", middleware.RoleGatekeeper).Code)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/v1/venues/somnath/reset", "", middleware.RoleAdmin).Code)

	rec := env.do(t, http.MethodGet, "/v1/venues/somnath/live", "", "")
	assert.Equal(t, float64(0), decode(t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/v1/ops/hub", "", middleware.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Greater(t, decode(t, rec)["published"], float64(0))
}

func TestRoutes_Health(t *testing.T) {
	env := newEnv(t, model.CrowdNormal, Limits{})
	rec := env.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/readyz", "", "").Code)
}

// readEvent reads one SSE frame and returns its event name and data.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" && name != "":
			return name, data
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestRoutes_VenueStream(t *testing.T) {
	env := newEnv(t, model.CrowdNormal, Limits{})
	token := book(t, env, booking)
	srv := httptest.NewServer(env.e)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/venues/somnath/stream", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	r := bufio.NewReader(resp.Body)
	name, data := readEvent(t, r)
	assert.Equal(t, "snapshot", name)
	assert.Contains(t, data, `"venue_id":"somnath"`)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/venues/somnath/entry", `{"token":"`+token+`"}`, middleware.RoleGatekeeper).Code)

	name, data = readEvent(t, r)
	assert.Equal(t, string(model.EventOccupancyUpdate), name)
	var ev model.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, int64(1), ev.Count)
	assert.Equal(t, 1, ev.Delta)
}
