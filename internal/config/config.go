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
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	LogLevel           string
	LogFormat          string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	// PublicBaseURL is where gateways send callbacks; StoreBaseURL is where
	// shoppers return after paying.
	PublicBaseURL string
	StoreBaseURL  string
	// WorkerAddr is where the worker serves its ops/metrics endpoints.
	WorkerAddr string

	Auth      AuthConfig
	Pricing    PricingConfig
	Checkout   CheckoutConfig
	Reconcile  ReconcileConfig
	Gateway    GatewayConfig
	PhonePe    PhonePeConfig
	Cashfree   CashfreeConfig
	Razorpay   RazorpayConfig
	SMTP       SMTPConfig
	Kafka      KafkaConfig
	Queue      QueueConfig
	Obs        ObsConfig
	CouponSync time.Duration
}

type AuthConfig struct {
	JWTSecret  string
	Issuer     string
	Audience   string
	CookieName string
	ClockSkew  time.Duration
}

type PricingConfig struct {
	RedeemCap decimal.Decimal
	EarnRule  string
}

type CheckoutConfig struct {
	PendingTTL     time.Duration
	LockTTL        time.Duration
	LockWait       time.Duration
	IdempotencyTTL time.Duration
	RateLimit      string
	WebhookLimit   string
	ReplayTTL      time.Duration
	StatusRefresh  bool
}

type ReconcileConfig struct {
	Interval time.Duration
	Batch    int
	MaxAge   time.Duration
}

// GatewayConfig tunes the outbound HTTP client shared by gateways.
type GatewayConfig struct {
	Timeout          time.Duration
	RetryMax         int
	RetryBase        time.Duration
	BreakerMinReq    int
	BreakerFailRatio float64
	BreakerOpenFor   time.Duration
}

type PhonePeConfig struct {
	BaseURL    string
	MerchantID string
	SaltKey    string
	SaltIndex  string
}

// Enabled reports whether the credentials are complete.
func (c PhonePeConfig) Enabled() bool {
	return c.MerchantID != "" && c.SaltKey != ""
}

type CashfreeConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	APIVersion   string
	DiscountRate decimal.Decimal
}

func (c CashfreeConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

func (c RazorpayConfig) Enabled() bool {
	return c.KeyID != "" && c.KeySecret != ""
}

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	RequireTLS bool
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type QueueConfig struct {
	Prefix      string
	Concurrency int
	Visibility  time.Duration
	MaxAttempts int
	RetryBase   time.Duration
}

type ObsConfig struct {
	OTLPEndpoint  string
	ServiceName   string
	SampleRatio   float64
	PprofEnabled  bool
	PprofToken    string
	MetricsPublic bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	get := func(key string) string { return strings.TrimSpace(k.String(key)) }

	cfg := &Config{
		AppEnv:             valueOrDefault(get("APP_ENV"), "development"),
		Port:               valueOrDefault(get("PORT"), "8080"),
		LogLevel:           valueOrDefault(get("LOG_LEVEL"), "info"),
		LogFormat:          valueOrDefault(get("LOG_FORMAT"), "json"),
		DatabaseURL:        get("DATABASE_URL"),
		RedisURL:           get("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(get("CORS_ALLOWED_ORIGINS")),
		PublicBaseURL:      valueOrDefault(get("PUBLIC_BASE_URL"), "http://localhost:8080"),
		StoreBaseURL:       valueOrDefault(get("STORE_BASE_URL"), "http://localhost:3000"),
		WorkerAddr:         valueOrDefault(get("WORKER_METRICS_ADDR"), ":9091"),
		CouponSync:         parseDuration(get("COUPON_INDEX_REFRESH"), "5m"),
		Auth: AuthConfig{
			JWTSecret:  get("JWT_SECRET"),
			Issuer:     get("JWT_ISSUER"),
			Audience:   get("JWT_AUDIENCE"),
			CookieName: valueOrDefault(get("AUTH_COOKIE_NAME"), "authToken"),
			ClockSkew:  parseDuration(get("JWT_CLOCK_SKEW"), "30s"),
		},
		Pricing: PricingConfig{
			RedeemCap: parseDecimal(get("PRICING_REDEEM_CAP"), "0.5"),
			EarnRule:  valueOrDefault(get("PRICING_EARN_RULE"), "per100x2"),
		},
		Checkout: CheckoutConfig{
			PendingTTL:     parseDuration(get("PENDING_ORDER_TTL"), "15m"),
			LockTTL:        parseDuration(get("CHECKOUT_LOCK_TTL"), "30s"),
			LockWait:       parseDuration(get("CHECKOUT_LOCK_WAIT"), "5s"),
			IdempotencyTTL: parseDuration(get("IDEMPOTENCY_TTL"), "24h"),
			RateLimit:      valueOrDefault(get("RATE_LIMIT_CHECKOUT"), "20-M"),
			WebhookLimit:   valueOrDefault(get("RATE_LIMIT_WEBHOOK"), "600-M"),
			ReplayTTL:      parseDuration(get("WEBHOOK_REPLAY_TTL"), "72h"),
			StatusRefresh:  parseBoolDefault(get("PAYMENT_STATUS_REFRESH"), true),
		},
		Reconcile: ReconcileConfig{
			Interval: parseDuration(get("RECONCILE_INTERVAL"), "1m"),
			Batch:    parseInt(get("RECONCILE_BATCH"), 50),
			MaxAge:   parseDuration(get("PENDING_ORDER_MAX_AGE"), "1h"),
		},
		Gateway: GatewayConfig{
			Timeout:          time.Duration(parseInt(get("GATEWAY_TIMEOUT_MS"), 8000)) * time.Millisecond,
			RetryMax:         parseInt(get("GATEWAY_RETRY_MAX"), 3),
			RetryBase:        parseDuration(get("GATEWAY_RETRY_BASE"), "200ms"),
			BreakerMinReq:    parseInt(get("CB_MIN_REQUESTS"), 10),
			BreakerFailRatio: parseFloat(get("CB_FAILURE_RATE"), 0.5),
			BreakerOpenFor:   parseDuration(get("CB_OPEN_FOR"), "30s"),
		},
		PhonePe: PhonePeConfig{
			BaseURL:    valueOrDefault(get("PHONEPE_BASE_URL"), "https://api-preprod.phonepe.com/apis/pg-sandbox"),
			MerchantID: get("PHONEPE_MERCHANT_ID"),
			SaltKey:    get("PHONEPE_SALT_KEY"),
			SaltIndex:  valueOrDefault(get("PHONEPE_SALT_INDEX"), "1"),
		},
		Cashfree: CashfreeConfig{
			BaseURL:      valueOrDefault(get("CASHFREE_BASE_URL"), "https://sandbox.cashfree.com/pg"),
			ClientID:     get("CASHFREE_CLIENT_ID"),
			ClientSecret: get("CASHFREE_CLIENT_SECRET"),
			APIVersion:   valueOrDefault(get("CASHFREE_API_VERSION"), "2023-08-01"),
			DiscountRate: parseDecimal(get("CASHFREE_DISCOUNT_RATE"), "0.03"),
		},
		Razorpay: RazorpayConfig{
			KeyID:         get("RAZORPAY_KEY_ID"),
			KeySecret:     get("RAZORPAY_KEY_SECRET"),
			WebhookSecret: get("RAZORPAY_WEBHOOK_SECRET"),
		},
		SMTP: SMTPConfig{
			Host:       get("SMTP_HOST"),
			Port:       parseInt(get("SMTP_PORT"), 587),
			Username:   get("SMTP_USERNAME"),
			Password:   get("SMTP_PASSWORD"),
			From:       get("SMTP_FROM"),
			RequireTLS: parseBool(get("SMTP_REQUIRE_TLS")),
		},
		Kafka: KafkaConfig{
			Brokers: splitAndTrim(get("KAFKA_BROKERS")),
			Topic:   valueOrDefault(get("KAFKA_TOPIC"), "supplementhub.domain-events"),
		},
		Queue: QueueConfig{
			Prefix:      valueOrDefault(get("QUEUE_REDIS_PREFIX"), "shub"),
			Concurrency: parseInt(get("QUEUE_CONCURRENCY"), 4),
			Visibility:  parseDuration(get("QUEUE_VISIBILITY_TIMEOUT"), "60s"),
			MaxAttempts: parseInt(get("QUEUE_MAX_ATTEMPTS"), 8),
			RetryBase:   parseDuration(get("QUEUE_RETRY_BASE"), "2s"),
		},
		Obs: ObsConfig{
			OTLPEndpoint:  get("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName:   valueOrDefault(get("OTEL_SERVICE_NAME"), "supplement-hub"),
			SampleRatio:   parseFloat(get("OTEL_TRACES_SAMPLER_RATIO"), 0.1),
			PprofEnabled:  parseBool(get("PPROF_ENABLED")),
			PprofToken:    get("PPROF_TOKEN"),
			MetricsPublic: parseBoolDefault(get("METRICS_PUBLIC"), true),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if !cfg.Pricing.RedeemCap.IsPositive() || cfg.Pricing.RedeemCap.GreaterThan(decimal.NewFromInt(1)) {
		return nil, errors.New("PRICING_REDEEM_CAP must be in (0, 1]")
	}
	if rate := cfg.Cashfree.DiscountRate; rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errors.New("CASHFREE_DISCOUNT_RATE must be in [0, 1)")
	}
	if cfg.Reconcile.MaxAge < cfg.Checkout.PendingTTL {
		return nil, errors.New("PENDING_ORDER_MAX_AGE must not be shorter than PENDING_ORDER_TTL")
	}
	return cfg, nil
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

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
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

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseDecimal(value, fallback string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.RequireFromString(fallback)
	}
	return d
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests sets env for the duration of Load and restores it afterwards.
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
