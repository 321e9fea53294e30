package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig configures one Redis token bucket.  Bookings and gate
// scans get separate buckets: a kiosk scanning a queue of visitors needs a
// far larger burst than a single client booking passes.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
	Debug          bool
}

// Defaults for the two buckets.
var (
	BookingRateDefaults = RateLimitConfig{Enabled: true, Capacity: 20, RefillTokens: 1, RefillInterval: 3 * time.Second, TTL: 10 * time.Minute, KeyStrategy: "ip_route", Prefix: "rl:booking"}
	GateRateDefaults    = RateLimitConfig{Enabled: true, Capacity: 120, RefillTokens: 2, RefillInterval: time.Second, TTL: 10 * time.Minute, KeyStrategy: "user_route", Prefix: "rl:gate"}
)

// LoadRateLimitConfig reads RATE_LIMIT_<SCOPE>_* variables, falling back
// to the unscoped RATE_LIMIT_* variables and then to def.
func LoadRateLimitConfig(scope string, def RateLimitConfig) RateLimitConfig {
	k := func(name string) string { return "RATE_LIMIT_" + strings.ToUpper(scope) + "_" + name }
	get := func(name string) string {
		if v := os.Getenv(k(name)); v != "" { return v }
		return os.Getenv("RATE_LIMIT_" + name)
	}
	cfg := def
	if v := get("ENABLED"); v != "" { cfg.Enabled = parseBool(v, def.Enabled) }
	if v := get("CAPACITY"); v != "" { cfg.Capacity = atoiOr(v, def.Capacity) }
	if v := get("REFILL_TOKENS"); v != "" { cfg.RefillTokens = atoiOr(v, def.RefillTokens) }
	if v := get("REFILL_INTERVAL"); v != "" { cfg.RefillInterval = durOr(v, def.RefillInterval) }
	if v := get("TTL"); v != "" { cfg.TTL = durOr(v, def.TTL) }
	if v := get("KEY_STRATEGY"); v != "" { cfg.KeyStrategy = v }
	if v := get("DEBUG"); v != "" { cfg.Debug = parseBool(v, false) }
	if cfg.Capacity < 1 { cfg.Capacity = 1 }
	if cfg.RefillTokens < 1 { cfg.RefillTokens = 1 }
	if cfg.RefillInterval <= 0 { cfg.RefillInterval = time.Second }
	minTTL := 5 * cfg.RefillInterval
	if cfg.TTL < minTTL { cfg.TTL = minTTL }
	return cfg
}

func envStr(k, d string) string { if v := os.Getenv(k); v != "" { return v }; return d }
func envBool(k string, d bool) bool { return parseBool(os.Getenv(k), d) }
func envInt(k string, d int) int { return atoiOr(os.Getenv(k), d) }
func envDur(k string, d time.Duration) time.Duration { return durOr(os.Getenv(k), d) }

func parseBool(v string, d bool) bool {
	switch v {
	case "1","true","TRUE","True","yes","YES","on","ON": return true
	case "0","false","FALSE","False","no","NO","off","OFF": return false
	}
	return d
}
func atoiOr(v string, d int) int {
	if n, err := strconv.Atoi(v); err == nil { return n }
	return d
}
func durOr(v string, d time.Duration) time.Duration {
	if dur, err := time.ParseDuration(v); err == nil { return dur }
	return d
}
