package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/hangarshare/backend-hangar/internal/pricing"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	CORSAllowedOrigins []string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeBaseURL       string
	StripeSandbox       bool
	GatewayTimeout      time.Duration

	Currency          string
	TaxBps            int64
	BookingFeeBps     int64
	ProcessingFeeBps  int64
	CommissionBps     int64
	TierBasicPrice    int64
	TierFeaturedPrice int64
	TierEnhancedPrice int64

	WebhookReplayTTL time.Duration
	IdempotencyTTL   time.Duration
	RateLimitPerMin  int64

	ReconcileMaxAttempts int
	ReconcileDelay       time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          valueOrDefault(k.String("JWT_ISSUER"), "hangarshare"),
		JWTAudience:        valueOrDefault(k.String("JWT_AUDIENCE"), "api"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		StripeSecretKey:     k.String("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: k.String("STRIPE_WEBHOOK_SECRET"),
		StripeBaseURL:       valueOrDefault(k.String("STRIPE_BASE_URL"), "https://api.stripe.com"),
		StripeSandbox:       parseBool(valueOrDefault(k.String("STRIPE_SANDBOX"), "true")),
		GatewayTimeout:      parseDuration(k.String("GATEWAY_TIMEOUT"), "10s"),

		Currency:          valueOrDefault(k.String("CURRENCY"), "USD"),
		TaxBps:            parseInt(k.String("TAX_BPS"), 825),
		BookingFeeBps:     parseInt(k.String("BOOKING_FEE_BPS"), 600),
		ProcessingFeeBps:  parseInt(k.String("PROCESSING_FEE_BPS"), 300),
		CommissionBps:     parseInt(k.String("COMMISSION_BPS"), 1500),
		TierBasicPrice:    parseInt(k.String("TIER_BASIC_PRICE"), 2500),
		TierFeaturedPrice: parseInt(k.String("TIER_FEATURED_PRICE"), 7500),
		TierEnhancedPrice: parseInt(k.String("TIER_ENHANCED_PRICE"), 14900),

		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimitPerMin:  parseInt(k.String("RATE_LIMIT_PER_MIN"), 60),

		ReconcileMaxAttempts: int(parseInt(k.String("RECONCILE_MAX_ATTEMPTS"), 10)),
		ReconcileDelay:       parseDuration(k.String("RECONCILE_DELAY"), "30s"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	if err := cfg.FeeSchedule().Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FeeSchedule materialises the pricing configuration into the immutable
// schedule shared by the quote engine.
func (c *Config) FeeSchedule() pricing.FeeSchedule {
	return pricing.FeeSchedule{
		Currency:         c.Currency,
		TaxBps:           c.TaxBps,
		BookingFeeBps:    c.BookingFeeBps,
		ProcessingFeeBps: c.ProcessingFeeBps,
		CommissionBps:    c.CommissionBps,
		TierPrices: map[pricing.Tier]int64{
			pricing.TierBasic:    c.TierBasicPrice,
			pricing.TierFeatured: c.TierFeaturedPrice,
			pricing.TierEnhanced: c.TierEnhancedPrice,
		},
	}
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int64) int64 {
	base := strings.TrimSpace(value)
	if base == "" {
		return fallback
	}
	n, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
