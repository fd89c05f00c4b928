package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/md-rashed-zaman/agenda/libs/config"
	"github.com/md-rashed-zaman/agenda/libs/db"
	"github.com/md-rashed-zaman/agenda/libs/httpx"
	"github.com/md-rashed-zaman/agenda/libs/kafkax"
	otelx "github.com/md-rashed-zaman/agenda/libs/otel"
	"github.com/md-rashed-zaman/agenda/libs/runtime"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/booking"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/consumer"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/handlers"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/inbox"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/metrics"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/outbox"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/storage"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/subscriptions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// store is what the service and the subscription ingestion need from persistence.
type store interface {
	booking.Store
	subscriptions.Store
}

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "agenda-service")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	loc, err := config.Location("AGENDA_TIMEZONE")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

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

	agendaMetrics := metrics.New(nil)
	brokers := config.String("KAFKA_BROKERS", "")

	var (
		st          store
		recorder    inbox.Recorder
		readyChecks []runtime.ReadyCheck
	)
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err := db.Open(ctx, dbURL)
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()

		outboxRepo := outbox.NewRepository()
		st = storage.NewPostgres(pool, outboxRepo)
		recorder = inbox.NewRepository(pool)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		pollEvery, err := config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second)
		if err != nil {
			panic(err)
		}
		outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: pollEvery,
			BatchSize: 50,
			OnPublish: agendaMetrics.ObserveOutboxPublished,
		})
		go outboxPublisher.Run(ctx)
		logger.Info("storage ready", "driver", "postgres")
	} else {
		st = storage.NewMemory(nil)
		recorder = inbox.NewMemory()
		logger.Warn("DATABASE_URL not set; using in-memory storage")
	}

	bookingSvc := booking.New(st, booking.Options{
		Location: loc,
		Logger:   logger,
		Metrics:  agendaMetrics,
	})
	subsSvc := subscriptions.New(st, logger, agendaMetrics.ObserveSubscriptionExtended)

	if brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
		if topic := config.String("KAFKA_PAYMENT_TOPIC", consumer.PaymentApprovedTopic); topic != "" {
			paymentConsumer := consumer.New(logger, recorder, consumer.Config{
				Brokers: brokers,
				GroupID: config.String("KAFKA_GROUP_ID", service),
				Topic:   topic,
			}, consumer.PaymentApprovedHandler(subsSvc, logger))
			go paymentConsumer.Run(ctx)
		}
	}

	tolerance, err := config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300)
	if err != nil {
		panic(err)
	}
	agendaHandler := handlers.New(bookingSvc, subsSvc, logger, handlers.Config{
		StripeWebhookSecret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookToleranceSeconds: tolerance,
		LocalWebhookEnabled:           config.Bool("BILLING_LOCAL_WEBHOOK_ENABLED", false),
	})
	authn := handlers.NewAuthenticator(config.String("JWT_SECRET", ""), nil)
	if config.String("JWT_SECRET", "") == "" {
		logger.Warn("JWT_SECRET not set; trusting X-Professional-Id header")
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("GET /metrics", promhttp.Handler())
	agendaHandler.Register(mux, authn.RequireProfessional)

	rateLimitMW, closeLimiter, err := rateLimiter(logger)
	if err != nil {
		panic(err)
	}
	defer closeLimiter()

	requestTimeout, err := config.Duration("REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		panic(err)
	}
	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   httpx.ParseOrigins(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   httpx.ParseOrigins(config.String("CORS_ALLOWED_METHODS", "GET,POST,PUT,PATCH,DELETE,OPTIONS")),
			AllowedHeaders:   httpx.ParseOrigins(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id,X-Professional-Id,Accept-Language")),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(requestTimeout),
		rateLimitMW,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "agenda")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := startGrpcServer(ctx, logger); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "timezone", loc.String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// rateLimiter uses Redis when REDIS_ADDR is set so limits hold across replicas.
func rateLimiter(logger *slog.Logger) (httpx.Middleware, func(), error) {
	limitPerMinute, err := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		return nil, nil, err
	}

	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute, nil)
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
		return rl.Middleware(), func() {}, nil
	}

	redisDB, err := config.Int("REDIS_DB", 0)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       redisDB,
	})
	rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "agenda:rl"), nil)
	logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	return rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)), func() { _ = rdb.Close() }, nil
}
