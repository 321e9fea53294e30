package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strings"
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Database and broker settings are optional: an
// empty DB_HOST runs the registry in memory and an empty AMQP URL disables
// the cross-instance relay.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	DBUser    string // database username
	DBPass    string // database password (optional)
	DBHost    string // database host address; empty selects the in-memory registry
	DBPort    string // database port number
	DBName    string // database name
	JWTSecret string // secret used to verify staff JWTs

	StoreTimeout     time.Duration // deadline for every registry / occupancy store call
	SnapshotInterval time.Duration // how often live counts are mirrored to MySQL
	HubBuffer        int           // per-subscriber broadcast buffer
	OccupancyPrefix  string        // Redis key namespace for live counts
	SeedVenues       string        // venues for the in-memory venue repo, "id:name:capacity[:slot];..."

	AMQPURL      string // RabbitMQ URL for the event relay; empty disables it
	AMQPExchange string // fanout exchange carrying relayed events
	InstanceID   string // origin stamped on relayed events; random when empty
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	cfg := Config{
		Env:       envStr("APP_ENV", "dev"),
		Port:      must("APP_PORT"),
		DBUser:    os.Getenv("DB_USER"),
		DBPass:    os.Getenv("DB_PASS"),
		DBHost:    os.Getenv("DB_HOST"),
		DBPort:    envStr("DB_PORT", "3306"),
		DBName:    os.Getenv("DB_NAME"),
		JWTSecret: must("JWT_SECRET"),

		StoreTimeout:     envDur("STORE_TIMEOUT", 2*time.Second),
		SnapshotInterval: envDur("SNAPSHOT_INTERVAL", 30*time.Second),
		HubBuffer:        envInt("HUB_BUFFER", 64),
		OccupancyPrefix:  envStr("OCCUPANCY_KEY_PREFIX", "temple"),
		SeedVenues:       os.Getenv("SEED_VENUES"),

		AMQPURL:      firstEnv("RABBITMQ_URL", "AMQP_URL"),
		AMQPExchange: envStr("AMQP_EXCHANGE", "occupancy.events"),
		InstanceID:   os.Getenv("INSTANCE_ID"),
	}
	if cfg.DBHost != "" {
		// once a database is selected its credentials become mandatory
		cfg.DBUser = must("DB_USER")
		cfg.DBName = must("DB_NAME")
	}
	return cfg
}

// UseDatabase reports whether a MySQL record store is configured.
func (c Config) UseDatabase() bool { return c.DBHost != "" }

// Production reports whether the service runs with production settings.
func (c Config) Production() bool { return strings.EqualFold(c.Env, "prod") || strings.EqualFold(c.Env, "production") }

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
