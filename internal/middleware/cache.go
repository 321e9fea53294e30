package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/config"
)

// IdempotencyKeyHeader carries the client-chosen key for a retried request.
const IdempotencyKeyHeader = "Idempotency-Key"

const (
	idemProcessing = "processing"
	idemCompleted  = "completed"
)

// idemRecord is what is stored under a key: the request fingerprint and,
// once the handler has run, the response to replay.
type idemRecord struct {
	Status      string      `json:"status"`
	RequestHash string      `json:"request_hash"`
	Code        int         `json:"code,omitempty"`
	Header      http.Header `json:"header,omitempty"`
	Body        []byte      `json:"body,omitempty"`
}

// captureWriter captures response body/status while forwarding to the client.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	size   int64
	limit  int64
}

func (cw *captureWriter) WriteHeader(code int) { cw.status = code; cw.ResponseWriter.WriteHeader(code) }
func (cw *captureWriter) Write(b []byte) (int, error) {
	if remain := cw.limit - cw.size; remain > 0 {
		if int64(len(b)) <= remain {
			cw.buf.Write(b)
		} else {
			cw.buf.Write(b[:remain])
		}
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

func requestHash(c echo.Context, body []byte) string {
	h := sha256.New()
	h.Write([]byte(c.Request().Method))
	h.Write([]byte(c.Request().URL.Path))
	h.Write([]byte(StaffID(c)))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// NewIdempotency makes retried requests safe.  A request carrying an
// Idempotency-Key header runs at most once per key; retries with the same
// key and body get the stored response, a different body is refused with
// 422 and a retry while the first attempt is still running gets 409.
// Requests without the header, and all requests when Redis is missing,
// pass through unchanged.
func NewIdempotency(cfg config.IdempotencyConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if log == nil {
		log = zap.NewNop()
	}
	maxBody := int64(cfg.MaxBodyBytes)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			idemKey := strings.TrimSpace(req.Header.Get(IdempotencyKeyHeader))
			if idemKey == "" || !cfg.Methods[strings.ToUpper(req.Method)] {
				return next(c)
			}
			if len(idemKey) > 128 {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "idempotency key too long"})
			}

			body, err := io.ReadAll(io.LimitReader(req.Body, maxBody+1))
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable request body"})
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
			hash := requestHash(c, body)
			key := cfg.Prefix + ":" + idemKey
			ctx := req.Context()

			marker, _ := json.Marshal(idemRecord{Status: idemProcessing, RequestHash: hash})
			claimed, err := rdb.SetNX(ctx, key, marker, cfg.ProcessingTTL).Result()
			if err != nil {
				log.Warn("idempotency store unavailable, running request", zap.Error(err))
				return next(c)
			}
			if !claimed {
				return replay(c, rdb, key, hash)
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
			c.Response().Writer = cw
			if err := next(c); err != nil {
				// nothing reliable to replay; free the key for a retry
				_ = rdb.Del(context.WithoutCancel(ctx), key).Err()
				return err
			}

			if cw.status >= 500 || cw.size > maxBody {
				_ = rdb.Del(context.WithoutCancel(ctx), key).Err()
				return nil
			}
			rec := idemRecord{Status: idemCompleted, RequestHash: hash, Code: cw.status, Body: cw.buf.Bytes(), Header: http.Header{}}
			if ct := c.Response().Header().Get(echo.HeaderContentType); ct != "" {
				rec.Header.Set(echo.HeaderContentType, ct)
			}
			if payload, err := json.Marshal(rec); err == nil {
				if err := rdb.Set(context.WithoutCancel(ctx), key, payload, cfg.TTL).Err(); err != nil {
					log.Warn("failed to store idempotent response", zap.String("key", key), zap.Error(err))
				}
			}
			return nil
		}
	}
}

func replay(c echo.Context, rdb *redis.Client, key, hash string) error {
	raw, err := rdb.Get(c.Request().Context(), key).Bytes()
	if errors.Is(err, redis.Nil) {
		// the first attempt expired or failed between SETNX and GET
		return c.JSON(http.StatusConflict, echo.Map{"error": "request in progress, retry"})
	}
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "idempotency store unavailable"})
	}
	var rec idemRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "corrupt idempotency record"})
	}
	if rec.RequestHash != hash {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "idempotency key reused with a different request"})
	}
	if rec.Status != idemCompleted {
		return c.JSON(http.StatusConflict, echo.Map{"error": "request in progress, retry"})
	}
	for k, vals := range rec.Header {
		for _, v := range vals {
			c.Response().Header().Add(k, v)
		}
	}
	c.Response().Header().Set("Idempotent-Replayed", "true")
	c.Response().WriteHeader(rec.Code)
	if len(rec.Body) > 0 {
		_, _ = c.Response().Write(rec.Body)
	}
	return nil
}
