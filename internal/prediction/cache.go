package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/temple-admission/internal/model"
)

// CachedPredictor memoises verdicts in Redis.  Concurrent misses for the
// same key share one upstream call.  Only real verdicts are stored; errors
// pass straight through so a degraded answer is never served from cache.
type CachedPredictor struct {
	next   Predictor
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    *zap.Logger
	group  singleflight.Group
}

// NewCachedPredictor wraps next.  A nil rdb disables caching.
func NewCachedPredictor(next Predictor, rdb *redis.Client, ttl time.Duration, prefix string, log *zap.Logger) *CachedPredictor {
	if prefix == "" {
		prefix = "predict"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedPredictor{next: next, rdb: rdb, ttl: ttl, prefix: prefix, log: log}
}

func ctxKey(q model.PredictionQuery) string {
	c := q.Context
	temp := "-"
	if c.Temperature != nil {
		temp = fmt.Sprintf("%.1f", *c.Temperature)
	}
	return fmt.Sprintf("%s|%t|%s", temp, c.Precipitation, strings.ToLower(c.MoonPhase))
}

func (p *CachedPredictor) key(q model.PredictionQuery) string {
	return fmt.Sprintf("%s:%s:%s:%s", p.prefix, q.VenueID, q.Date.Format("2006-01-02"), ctxKey(q))
}

func (p *CachedPredictor) Predict(ctx context.Context, q model.PredictionQuery) (model.Verdict, error) {
	if p.rdb == nil || p.ttl <= 0 {
		return p.next.Predict(ctx, q)
	}
	key := p.key(q)

	if raw, err := p.rdb.Get(ctx, key).Bytes(); err == nil {
		var v model.Verdict
		if jerr := json.Unmarshal(raw, &v); jerr == nil {
			return v, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		p.log.Debug("prediction cache read failed", zap.String("key", key), zap.Error(err))
	}

	res, err, _ := p.group.Do(key, func() (interface{}, error) {
		v, err := p.next.Predict(ctx, q)
		if err != nil {
			return model.Verdict{}, err
		}
		if raw, jerr := json.Marshal(v); jerr == nil {
			if serr := p.rdb.Set(ctx, key, raw, p.ttl).Err(); serr != nil {
				p.log.Debug("prediction cache write failed", zap.String("key", key), zap.Error(serr))
			}
		}
		return v, nil
	})
	if err != nil {
		return model.Verdict{}, err
	}
	return res.(model.Verdict), nil
}

var _ Predictor = (*CachedPredictor)(nil)
