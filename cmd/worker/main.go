package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hangarshare/backend-hangar/internal/app"
	"github.com/hangarshare/backend-hangar/internal/config"
	"github.com/hangarshare/backend-hangar/internal/events"
	"github.com/hangarshare/backend-hangar/internal/listing"
	"github.com/hangarshare/backend-hangar/internal/lock"
	"github.com/hangarshare/backend-hangar/internal/obs"
	"github.com/hangarshare/backend-hangar/internal/payment"
	"github.com/hangarshare/backend-hangar/internal/pricing"
	"github.com/hangarshare/backend-hangar/internal/queue"
	"github.com/hangarshare/backend-hangar/internal/reconcile"
	"github.com/hangarshare/backend-hangar/internal/rental"
	"github.com/hangarshare/backend-hangar/internal/repo"
	"github.com/hangarshare/backend-hangar/internal/resilience"
	"github.com/hangarshare/backend-hangar/internal/settlement"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "hangarshare"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	pool, err := app.NewPool(initCtx, cfg.DatabaseURL)
	if err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisClient, err := app.NewRedis(initCtx, cfg.RedisURL)
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
	listingSvc := &listing.Service{Store: repo.Listings{Pool: pool}, Engine: engine, Logger: &logger}
	rentalSvc := &rental.Service{Store: repo.Rentals{Pool: pool}, Listings: listingSvc, Engine: engine, Logger: &logger}

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

	taskQueue := queue.Enqueuer{
		R:           redisClient,
		Prefix:      "recon",
		DedupTTL:    time.Hour,
		MaxAttempts: cfg.ReconcileMaxAttempts,
	}

	paymentSvc := &payment.Service{
		Store:          repo.Intents{Pool: pool},
		Gateway:        gateway,
		Settlements:    &settlement.Service{Store: repo.Settlements{Pool: pool}, Logger: &logger},
		Marker:         subjectRouter{listings: listingSvc, rentals: rentalSvc},
		Recon:          reconcile.Enqueuer{Q: taskQueue, MaxAttempts: cfg.ReconcileMaxAttempts, Delay: cfg.ReconcileDelay},
		Events:         &events.Bus{Store: repo.Events{Pool: pool}},
		Locks:          lock.Locker{R: redisClient, RetryBackoff: 50 * time.Millisecond},
		CommissionBps:  cfg.CommissionBps,
		GatewayTimeout: cfg.GatewayTimeout,
		Logger:         &logger,
	}

	handler := reconcile.Handler{Payments: paymentSvc, Logger: &logger}

	reconcileWorker := queue.Worker{
		R:                 redisClient,
		Prefix:            "recon",
		Kind:              reconcile.TaskKind,
		Concurrency:       envInt("WORKER_CONCURRENCY", 4),
		VisibilityTimeout: 2 * time.Minute,
		SoftDeadline:      30 * time.Second,
		RetryBase:         cfg.ReconcileDelay,
		RetryJitter:       0.2,
		Store:             queue.NewStore(pool),
		Logger:            &logger,
		Handler:           handler.Handle,
	}

	logger.Info().Msg("worker starting")
	if err := reconcileWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

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

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
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
