package config

import (
	"strings"
	"time"
)

// IdempotencyConfig defines settings for the Idempotency-Key replay
// middleware.  When Enabled is false or no Redis client is configured,
// requests pass straight through.  Methods lists the HTTP methods the
// middleware applies to.  TTL bounds how long a completed response can be
// replayed and ProcessingTTL how long an in-flight marker blocks a retry.
type IdempotencyConfig struct {
	Enabled       bool
	Methods       map[string]bool
	TTL           time.Duration
	ProcessingTTL time.Duration
	Prefix        string
	MaxBodyBytes  int
}

// LoadIdempotencyConfig reads environment variables to build an
// IdempotencyConfig.  Defaults are used when variables are not set.
func LoadIdempotencyConfig() IdempotencyConfig {
	cfg := IdempotencyConfig{
		Enabled:       envBool("IDEMPOTENCY_ENABLED", true),
		Methods:       parseMethods(envStr("IDEMPOTENCY_METHODS", "POST")),
		TTL:           envDur("IDEMPOTENCY_TTL", 24*time.Hour),
		ProcessingTTL: envDur("IDEMPOTENCY_PROCESSING_TTL", 30*time.Second),
		Prefix:        envStr("IDEMPOTENCY_PREFIX", "idem"),
		MaxBodyBytes:  envInt("IDEMPOTENCY_MAX_BODY_BYTES", 64<<10),
	}
	if cfg.ProcessingTTL <= 0 { cfg.ProcessingTTL = 30 * time.Second }
	return cfg
}

// PredictionConfig locates the crowd-prediction service.  CacheTTL of zero
// disables the Redis verdict cache.
type PredictionConfig struct {
	URL         string
	Timeout     time.Duration
	CacheTTL    time.Duration
	CachePrefix string
}

// LoadPredictionConfig reads the PREDICTION_* variables.
func LoadPredictionConfig() PredictionConfig {
	return PredictionConfig{
		URL:         strings.TrimRight(envStr("PREDICTION_URL", "http://localhost:5001"), "/"),
		Timeout:     envDur("PREDICTION_TIMEOUT", 2*time.Second),
		CacheTTL:    envDur("PREDICTION_CACHE_TTL", 10*time.Minute),
		CachePrefix: envStr("PREDICTION_CACHE_PREFIX", "predict"),
	}
}

func parseMethods(s string) map[string]bool {
	m := map[string]bool{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(strings.ToUpper(p))
		if p != "" {
			m[p] = true
		}
	}
	return m
}
