package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"

	"github.com/hangarshare/backend-hangar/internal/app"
	"github.com/hangarshare/backend-hangar/internal/auth"
	"github.com/hangarshare/backend-hangar/internal/common"
	"github.com/hangarshare/backend-hangar/internal/config"
	"github.com/hangarshare/backend-hangar/internal/db"
	"github.com/hangarshare/backend-hangar/internal/events"
	"github.com/hangarshare/backend-hangar/internal/health"
	"github.com/hangarshare/backend-hangar/internal/listing"
	"github.com/hangarshare/backend-hangar/internal/lock"
	"github.com/hangarshare/backend-hangar/internal/obs"
	"github.com/hangarshare/backend-hangar/internal/payment"
	"github.com/hangarshare/backend-hangar/internal/pricing"
	"github.com/hangarshare/backend-hangar/internal/queue"
	"github.com/hangarshare/backend-hangar/internal/ratelimit"
	"github.com/hangarshare/backend-hangar/internal/reconcile"
	"github.com/hangarshare/backend-hangar/internal/rental"
	"github.com/hangarshare/backend-hangar/internal/repo"
	"github.com/hangarshare/backend-hangar/internal/resilience"
	"github.com/hangarshare/backend-hangar/internal/security"
	"github.com/hangarshare/backend-hangar/internal/settlement"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "hangarshare")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "hangarshare-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	pool, err := app.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisClient, err := app.NewRedis(ctx, cfg.RedisURL)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	engine := pricing.Engine{Schedule: cfg.FeeSchedule()}

	listingSvc := &listing.Service{
		Store:  repo.Listings{Pool: pool},
		Engine: engine,
		Logger: &logger,
	}
	rentalSvc := &rental.Service{
		Store:    repo.Rentals{Pool: pool},
		Listings: listingSvc,
		Engine:   engine,
		Logger:   &logger,
	}

	bus := &events.Bus{Store: repo.Events{Pool: pool}}

	settlementSvc := &settlement.Service{
		Store:  repo.Settlements{Pool: pool},
		Logger: &logger,
	}

	gateway := &payment.Stripe{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		BaseURL:       cfg.StripeBaseURL,
		Sandbox:       cfg.StripeSandbox,
		HTTP: &resilience.HTTPClient{
			Client:      &http.Client{Timeout: cfg.GatewayTimeout},
			Breaker:     resilience.NewBreaker(10, 0.5, 30*time.Second),
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: 3,
			Jitter:      0.2,
			Timeout:     cfg.GatewayTimeout,
		},
	}

	reconEnq := reconcile.Enqueuer{
		Q: queue.Enqueuer{
			R:           redisClient,
			Prefix:      "recon",
			DedupTTL:    time.Hour,
			MaxAttempts: cfg.ReconcileMaxAttempts,
		},
		MaxAttempts: cfg.ReconcileMaxAttempts,
		Delay:       cfg.ReconcileDelay,
	}

	marker := subjectRouter{listings: listingSvc, rentals: rentalSvc}

	paymentSvc := &payment.Service{
		Store:          repo.Intents{Pool: pool},
		Gateway:        gateway,
		Settlements:    settlementSvc,
		Marker:         marker,
		Recon:          reconEnq,
		Events:         bus,
		Locks:          lock.Locker{R: redisClient, RetryBackoff: 50 * time.Millisecond},
		CommissionBps:  cfg.CommissionBps,
		GatewayTimeout: cfg.GatewayTimeout,
		Logger:         &logger,
	}

	listingHandler := &listing.Handler{Svc: listingSvc}
	rentalHandler := &rental.Handler{Svc: rentalSvc}
	paymentHandler := &payment.Handler{Svc: paymentSvc, Quoter: marker}
	webhookHandler := payment.Webhook{
		Svc:       paymentSvc,
		Gateway:   gateway,
		Replay:    redisClient,
		ReplayTTL: cfg.WebhookReplayTTL,
	}

	queueAdmin := &queue.AdminHandler{
		Store:  queue.NewStore(pool),
		Queue:  reconEnq.Q,
		Logger: logger,
	}

	authMiddleware := auth.Middleware{Verifier: auth.Verifier{
		Secret: []byte(cfg.JWTSecret),
		Validator: auth.TokenValidator{
			Issuer:    cfg.JWTIssuer,
			Audience:  cfg.JWTAudience,
			ClockSkew: 30 * time.Second,
			Algorithm: jwa.HS256,
		},
	}}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	paymentLimiter, err := ratelimit.NewRedisLimiter(redisClient, "rl:payments", limiter.Rate{
		Period: time.Minute,
		Limit:  cfg.RateLimitPerMin,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true}.Middleware)
	r.Use(security.BodyLimit{Max: 1 << 20}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	pprofEnabled := envBool("OBS_ENABLE_PPROF", false)
	if pprofEnabled {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/listings", func(l chi.Router) {
			l.Get("/{listingId}", listingHandler.Get)
			l.Group(func(g chi.Router) {
				g.Use(authMiddleware.RequireAuth)
				g.Get("/mine", listingHandler.Mine)
				g.With(idem.Middleware).Post("/", listingHandler.Create)
			})
		})

		v.Route("/rentals", func(rr chi.Router) {
			rr.Post("/quote", rentalHandler.Quote)
			rr.Group(func(g chi.Router) {
				g.Use(authMiddleware.RequireAuth)
				g.Get("/mine", rentalHandler.Mine)
				g.Get("/{rentalId}", rentalHandler.Get)
				g.With(idem.Middleware).Post("/", rentalHandler.Create)
			})
		})

		v.Route("/payments", func(p chi.Router) {
			p.Use(authMiddleware.RequireAuth)
			p.Use(ratelimit.Middleware(paymentLimiter))
			p.Get("/{intentId}", paymentHandler.Get)
			p.Group(func(g chi.Router) {
				g.Use(idem.Middleware)
				g.Post("/", paymentHandler.Create)
				g.Post("/{intentId}/confirm", paymentHandler.Confirm)
				g.Post("/{intentId}/cancel", paymentHandler.Cancel)
			})
		})

		v.Route("/admin/queue", func(a chi.Router) {
			a.Use(authMiddleware.RequireAuth)
			a.Get("/dlq", queueAdmin.ListDLQ)
			a.Post("/dlq/{id}/replay", queueAdmin.ReplayDLQ)
			a.Get("/stats", queueAdmin.Stats)
		})

		v.Post("/webhooks/payment", webhookHandler.Handle)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	health.SetReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}

// subjectRouter dispatches quote and paid-mark operations to the service that
// owns the intent's subject.
type subjectRouter struct {
	listings *listing.Service
	rentals  *rental.Service
}

func (s subjectRouter) QuoteSubject(ctx context.Context, kind payment.SubjectKind, subjectID uuid.UUID) (pricing.Quote, uuid.UUID, error) {
	switch kind {
	case payment.SubjectListing:
		return s.listings.Quote(ctx, subjectID)
	case payment.SubjectRental:
		return s.rentals.Quote(ctx, subjectID)
	default:
		return pricing.Quote{}, uuid.Nil, fmt.Errorf("unknown payment subject %q", kind)
	}
}

func (s subjectRouter) MarkPaid(ctx context.Context, kind payment.SubjectKind, subjectID uuid.UUID, chargeRef string) error {
	switch kind {
	case payment.SubjectListing:
		return s.listings.MarkPaid(ctx, subjectID, chargeRef)
	case payment.SubjectRental:
		return s.rentals.MarkPaid(ctx, subjectID, chargeRef)
	default:
		return fmt.Errorf("unknown payment subject %q", kind)
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
