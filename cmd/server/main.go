package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/admission"
	"github.com/iliyamo/temple-admission/internal/broadcast"
	"github.com/iliyamo/temple-admission/internal/config"
	"github.com/iliyamo/temple-admission/internal/database"
	"github.com/iliyamo/temple-admission/internal/handler"
	"github.com/iliyamo/temple-admission/internal/middleware"
	"github.com/iliyamo/temple-admission/internal/occupancy"
	"github.com/iliyamo/temple-admission/internal/prediction"
	"github.com/iliyamo/temple-admission/internal/queue"
	"github.com/iliyamo/temple-admission/internal/repository"
	"github.com/iliyamo/temple-admission/internal/router"
	"github.com/iliyamo/temple-admission/internal/tracker"
	"github.com/iliyamo/temple-admission/internal/worker"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env vars win
	cfg := config.Load()

	log, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Production() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	ctx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	var bg sync.WaitGroup
	ready := map[string]handler.Pinger{}

	// ---- Redis: live counts, prediction cache, rate limits, idempotency ----
	rdb, err := config.NewRedisClient(ctx, config.LoadRedisConfig())
	switch {
	case errors.Is(err, config.ErrRedisDisabled):
		log.Info("redis disabled, live counts kept in memory")
	case err != nil:
		log.Warn("redis unavailable, live counts kept in memory", zap.Error(err))
		rdb = nil
	default:
		defer func() { _ = rdb.Close() }()
		ready["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	var store occupancy.Store = occupancy.NewMemoryStore()
	if rdb != nil {
		rs := occupancy.NewRedisStore(rdb, cfg.OccupancyPrefix)
		if err := rs.LoadScripts(ctx); err != nil {
			return err
		}
		store = rs
	}

	// ---- Record store: MySQL when configured, otherwise seeded memory ----
	var (
		passes    repository.PassRegistry
		venues    repository.VenueReader
		snapshots repository.SnapshotStore
		db        *sql.DB
	)
	if cfg.UseDatabase() {
		db, err = database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		ready["mysql"] = db
		vr := repository.NewVenueRepo(db)
		passes, venues, snapshots = repository.NewPassRepo(db), vr, vr
	} else {
		seeds, err := config.ParseVenues(cfg.SeedVenues)
		if err != nil {
			return err
		}
		log.Info("no database configured, using in-memory registry", zap.Int("venues", len(seeds)))
		passes, venues = repository.NewMemoryPassRegistry(), repository.NewMemoryVenueRepo(seeds...)
	}

	// ---- Events: local hub, optionally relayed through RabbitMQ ----
	hub := broadcast.NewHub(cfg.HubBuffer, log.Named("hub"))
	var events broadcast.Publisher = hub
	if cfg.AMQPURL != "" {
		origin := cfg.InstanceID
		if origin == "" {
			origin = uuid.NewString()
		}
		relay := queue.NewRelay(cfg.AMQPURL, cfg.AMQPExchange, origin, 0, log.Named("relay"))
		consumer := queue.NewConsumer(cfg.AMQPURL, cfg.AMQPExchange, origin, hub, log.Named("relay"))
		bg.Add(2)
		go func() { defer bg.Done(); relay.Run(ctx) }()
		go func() { defer bg.Done(); consumer.Run(ctx) }()
		events = broadcast.Tee(hub, relay)
		log.Info("event relay enabled", zap.String("exchange", cfg.AMQPExchange), zap.String("origin", origin))
	}

	// ---- Core ----
	pc := config.LoadPredictionConfig()
	var predictor prediction.Predictor = prediction.NewHTTPClient(pc.URL, pc.Timeout)
	if rdb != nil && pc.CacheTTL > 0 {
		predictor = prediction.NewCachedPredictor(predictor, rdb, pc.CacheTTL, pc.CachePrefix, log.Named("prediction"))
	}
	gate := admission.NewGate(passes, venues, predictor, events, log.Named("admission"),
		admission.Options{PredictionTimeout: pc.Timeout, StoreTimeout: cfg.StoreTimeout})
	tr := tracker.New(passes, venues, store, events, log.Named("tracker"),
		tracker.Options{StoreTimeout: cfg.StoreTimeout})

	if snapshots != nil {
		snap := worker.NewSnapshotter(venues, snapshots, store, cfg.SnapshotInterval, cfg.StoreTimeout, log.Named("snapshot"))
		if n, err := snap.Restore(ctx); err != nil {
			log.Warn("restoring live counts failed", zap.Error(err))
		} else {
			log.Info("live counts restored", zap.Int("venues", n))
		}
		bg.Add(1)
		go func() { defer bg.Done(); snap.Run(ctx) }()
	}

	// ---- HTTP ----
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover(), middleware.RequestID(), middleware.Logger(log.Named("http")))

	lim := router.Limits{
		Redis:       rdb,
		Booking:     config.LoadRateLimitConfig("booking", config.BookingRateDefaults),
		Gate:        config.LoadRateLimitConfig("gate", config.GateRateDefaults),
		Idempotency: config.LoadIdempotencyConfig(),
	}
	live := handler.NewLiveHandler(tr, hub, log.Named("http"))
	router.RegisterRoutes(e, ready)
	router.RegisterPublic(e, handler.NewBookingHandler(gate, log.Named("http")), live, lim, log)
	router.RegisterGatekeeper(e, handler.NewGateHandler(tr, log.Named("http")), cfg.JWTSecret, lim, log)
	router.RegisterAdmin(e, live, cfg.JWTSecret)

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	// the snapshotter writes its last snapshot before the database is closed
	stopWorkers()
	bg.Wait()
	return serveErr
}
