package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/broadcast"
	"github.com/iliyamo/temple-admission/internal/middleware"
	"github.com/iliyamo/temple-admission/internal/tracker"
)

// DefaultHeartbeat is how often an idle stream sends a keep-alive comment.
const DefaultHeartbeat = 15 * time.Second

// LiveHandler serves live occupancy reads and event streams.
type LiveHandler struct {
	Tracker   *tracker.Tracker
	Hub       *broadcast.Hub
	Log       *zap.Logger
	Heartbeat time.Duration
}

// NewLiveHandler constructs a LiveHandler and panics if a dependency is nil.
func NewLiveHandler(t *tracker.Tracker, hub *broadcast.Hub, log *zap.Logger) *LiveHandler {
	if t == nil || hub == nil {
		panic("nil dependency passed to NewLiveHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LiveHandler{Tracker: t, Hub: hub, Log: log, Heartbeat: DefaultHeartbeat}
}

// Overview handles GET /v1/live.
func (h *LiveHandler) Overview(c echo.Context) error {
	ov, err := h.Tracker.Overview(c.Request().Context())
	if err != nil {
		return writeError(c, h.Log, "overview", err)
	}
	return c.JSON(http.StatusOK, ov)
}

// Venue handles GET /v1/venues/:id/live.
func (h *LiveHandler) Venue(c echo.Context) error {
	st, err := h.Tracker.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.Log, "venue status", err)
	}
	return c.JSON(http.StatusOK, st)
}

// Inside handles GET /v1/venues/:id/inside.
func (h *LiveHandler) Inside(c echo.Context) error {
	tokens, err := h.Tracker.Inside(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.Log, "inside", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"venue_id": c.Param("id"), "count": len(tokens), "tokens": tokens})
}

// Reset handles POST /v1/venues/:id/reset.
func (h *LiveHandler) Reset(c echo.Context) error {
	id := c.Param("id")
	if err := h.Tracker.Reset(c.Request().Context(), id); err != nil {
		return writeError(c, h.Log, "reset", err)
	}
	h.Log.Info("venue reset by staff", zap.String("venue_id", id), zap.String("staff_id", middleware.StaffID(c)))
	return c.NoContent(http.StatusNoContent)
}

// VenueStream handles GET /v1/venues/:id/stream.  The first event is a
// "snapshot" with the current status; hub events follow as they happen.
func (h *LiveHandler) VenueStream(c echo.Context) error {
	id := c.Param("id")
	return h.stream(c, "venue stream", broadcast.TopicVenue(id), "snapshot", func(ctx context.Context) (any, error) {
		return h.Tracker.Status(ctx, id)
	})
}

// OpsStream handles GET /v1/ops/stream: every event of every venue, opened
// with an "overview" event.
func (h *LiveHandler) OpsStream(c echo.Context) error {
	return h.stream(c, "ops stream", broadcast.TopicOps, "overview", func(ctx context.Context) (any, error) {
		return h.Tracker.Overview(ctx)
	})
}

// stream subscribes before reading the initial state, so an event published
// while the snapshot is built is queued and delivered right after it.
func (h *LiveHandler) stream(c echo.Context, op, topic, firstName string, snapshot func(context.Context) (any, error)) error {
	sub, err := h.Hub.Subscribe(topic)
	if err != nil {
		return badRequest(c, err.Error())
	}
	defer sub.Close()

	first, err := snapshot(c.Request().Context())
	if err != nil {
		return writeError(c, h.Log, op, err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, firstName, first); err != nil {
		return nil
	}
	w.Flush()

	beat := h.Heartbeat
	if beat <= 0 {
		beat = DefaultHeartbeat
	}
	ticker := time.NewTicker(beat)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := writeSSE(w, string(ev.Type), ev); err != nil {
				return nil
			}
			w.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

// HubStats handles GET /v1/ops/hub.
func (h *LiveHandler) HubStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Hub.Stats())
}
