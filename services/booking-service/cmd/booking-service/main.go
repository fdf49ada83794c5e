package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/reluam/pokrok.app-sub006/libs/auth"
	"github.com/reluam/pokrok.app-sub006/libs/config"
	"github.com/reluam/pokrok.app-sub006/libs/db"
	"github.com/reluam/pokrok.app-sub006/libs/httpx"
	"github.com/reluam/pokrok.app-sub006/libs/kafkax"
	"github.com/reluam/pokrok.app-sub006/libs/metrics"
	otelx "github.com/reluam/pokrok.app-sub006/libs/otel"
	"github.com/reluam/pokrok.app-sub006/libs/runtime"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/availability"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/calendar"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/handlers"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/outbox"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/storage"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/migrations"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env failed", "err", err)
		os.Exit(1)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	logger := runtime.NewLogger(service)
	if err := run(service, logger); err != nil {
		logger.Error("booking-service exited", "err", err)
		os.Exit(1)
	}
}

func run(service string, logger *slog.Logger) error {
	port, err := config.Port("PORT", "8083")
	if err != nil {
		return err
	}
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	loc, err := config.Location("BUSINESS_TIMEZONE", "Europe/Prague")
	if err != nil {
		return err
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	// A booking or session claim holds exactly one connection for its
	// transaction; its availability re-check runs on that transaction.
	pool, err := db.Open(ctx, dbURL, db.PoolOptions{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10, 1)),
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	if config.Bool("DB_MIGRATE", false) {
		if err := db.Migrate(ctx, pool, migrations.FS, ".", logger); err != nil {
			return err
		}
	}

	caps, err := storage.DetectCapabilities(ctx, pool, config.String("SESSIONS_OWNER_COLUMN", "auto"))
	if err != nil {
		return err
	}
	logger.Info("schema capabilities", "sessions_have_owner", caps.SessionsHaveOwner, "timezone", loc.String())

	m := metrics.New()
	bookings := storage.NewBookingRepository(pool)
	sessions := storage.NewSessionRepository(pool, caps)
	windows := storage.NewWindowRepository(pool)
	contacts := storage.NewContactRepository()
	outboxRepo := outbox.NewRepository()

	var busy availability.BusySource
	if clientID := config.String("GOOGLE_CLIENT_ID", ""); clientID != "" {
		busy = calendar.NewSource(storage.NewCalendarRepository(pool), calendar.Config{
			ClientID:     clientID,
			ClientSecret: config.String("GOOGLE_CLIENT_SECRET", ""),
			Location:     loc,
			Parallel:     config.Int("CALENDAR_PARALLEL", 4, 1),
		}, logger)
	} else {
		logger.Warn("external calendar disabled (GOOGLE_CLIENT_ID not set)")
	}

	resolver := availability.New(availability.Config{
		Location:    loc,
		Windows:     windows,
		Bookings:    bookings,
		Sessions:    sessions,
		Busy:        busy,
		ExternalPad: config.Duration("EXTERNAL_CALENDAR_PAD", availability.DefaultExternalPad),
		Logger:      logger,
		Metrics:     m,
	})

	brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, m, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50, 1),
	})
	go publisher.Run(ctx)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Optional: true, Check: kafkax.ReadyCheck(brokers)},
	}

	limit := config.Int("RATE_LIMIT_PER_MINUTE", 60, 1)
	publicLimit := httpx.NewRateLimiter(limit, time.Minute).Middleware()
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
		})
		defer rdb.Close()
		publicLimit = httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "booking:ratelimit").Middleware(logger, true)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Optional: true, Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	verifier := &auth.Verifier{
		DevSecret:         config.String("JWT_SECRET", ""),
		AuthorizedParties: config.List("AUTHORIZED_PARTIES", ""),
	}
	if jwksURL := config.String("JWKS_URL", ""); jwksURL != "" {
		verifier.JWKS = auth.NewJWKSClient(jwksURL, config.Duration("JWKS_CACHE_TTL", time.Hour))
	}
	requireUser := auth.RequireUser(verifier)

	slotsHandler := handlers.NewSlotsHandler(resolver, config.Int("MAX_RANGE_DAYS", 62, 1), logger)
	bookingHandler := handlers.NewBookingHandler(bookings, windows, contacts, outboxRepo, resolver, m, logger)
	sessionHandler := handlers.NewSessionHandler(bookings, sessions, contacts, outboxRepo, resolver, m, logger)
	availabilityHandler := handlers.NewAvailabilityHandler(windows, logger)

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", m.Handler())

	mux.Handle("/api/v1/public/slots", publicLimit(http.HandlerFunc(slotsHandler.Slots)))
	mux.Handle("/api/v1/public/events/slots", publicLimit(http.HandlerFunc(slotsHandler.EventSlots)))
	mux.Handle("/api/v1/public/bookings", publicLimit(http.HandlerFunc(bookingHandler.Create)))

	mux.Handle("/api/v1/bookings", requireUser(http.HandlerFunc(bookingHandler.List)))
	mux.Handle("/api/v1/bookings/status", requireUser(http.HandlerFunc(bookingHandler.UpdateStatus)))
	mux.Handle("/api/v1/sessions", requireUser(http.HandlerFunc(sessionHandler.Create)))
	mux.Handle("/api/v1/sessions/reschedule", requireUser(http.HandlerFunc(sessionHandler.Reschedule)))
	mux.Handle("/api/v1/availability", requireUser(http.HandlerFunc(availabilityHandler.Windows)))
	mux.Handle("/api/v1/events/availability", requireUser(http.HandlerFunc(availabilityHandler.EventWindows)))

	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Duration("HTTP_HANDLER_TIMEOUT", 15*time.Second)),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(httpHandler, "booking"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return runtime.Serve(ctx, srv, logger, 10*time.Second)
}
