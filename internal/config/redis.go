package config

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisDisabled is returned by NewRedisClient when REDIS_ENABLED is false.
var ErrRedisDisabled = errors.New("redis disabled by configuration")

// RedisConfig locates the Redis server holding live counts, the prediction
// cache, idempotency records and rate limit buckets.
type RedisConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	TLS          bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingTimeout  time.Duration
}

// LoadRedisConfig reads the REDIS_* variables.  REDIS_HOST and REDIS_PORT
// take precedence over the REDIS_ADDR shorthand.
func LoadRedisConfig() RedisConfig {
	addr := envStr("REDIS_ADDR", "localhost:6379")
	if host, port := envStr("REDIS_HOST", ""), envStr("REDIS_PORT", ""); host != "" && port != "" {
		addr = net.JoinHostPort(host, port)
	}
	return RedisConfig{
		Enabled:      envBool("REDIS_ENABLED", true),
		Addr:         addr,
		Password:     envStr("REDIS_PASSWORD", ""),
		DB:           envInt("REDIS_DB", 0),
		TLS:          envBool("REDIS_TLS", false),
		ReadTimeout:  envDur("REDIS_READ_TIMEOUT", time.Second),
		WriteTimeout: envDur("REDIS_WRITE_TIMEOUT", time.Second),
		PingTimeout:  2 * time.Second,
	}
}

// NewRedisClient connects and pings once.  An unreachable server is
// reported as an error so the caller can fall back to in-memory state.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, ErrRedisDisabled
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
