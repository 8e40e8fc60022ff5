package infra

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv             string // development | production
	Port               string
	PaymentEnvironment string // sandbox | live, selects provider configs

	PostgresURL string
	JWTSecret   string
	JWTTTL      time.Duration

	WebhookTimeout    time.Duration
	WebhookInboxLease time.Duration
	WebhookRPS        float64
	WebhookBurst      int
	ProviderTimeout   time.Duration
	ResolverCacheTTL  time.Duration

	PollingTickInterval    time.Duration
	PollingBatchSize       int
	PollingConcurrency     int
	PollingInitialInterval time.Duration
	PollingMaxInterval     time.Duration
	PollingDefaultExpiry   time.Duration
	PollingClaimLease      time.Duration
	ProviderPollRPS        float64
	ProviderPollBurst      int

	IdempotencyTTL          time.Duration
	IdempotencyClaimLease   time.Duration
	IdempotencyPollInterval time.Duration
	IdempotencyWaitTimeout  time.Duration

	EventRetention time.Duration
	SweepInterval  time.Duration

	RedisURL           string
	OrderPaidChannel   string
	MongoURI           string
	MongoDatabase      string
	MongoEventsArchive string

	CheckoutReturnURL string
	CheckoutCancelURL string
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("PAYMENT_ENVIRONMENT", "sandbox")
	v.SetDefault("JWT_TTL", time.Hour)

	v.SetDefault("WEBHOOK_TIMEOUT", 5*time.Second)
	v.SetDefault("WEBHOOK_INBOX_LEASE", time.Minute)
	v.SetDefault("WEBHOOK_RPS", 50.0)
	v.SetDefault("WEBHOOK_BURST", 100)
	v.SetDefault("PROVIDER_TIMEOUT", 10*time.Second)
	v.SetDefault("RESOLVER_CACHE_TTL", time.Minute)

	v.SetDefault("POLLING_TICK_INTERVAL", 5*time.Second)
	v.SetDefault("POLLING_BATCH_SIZE", 50)
	v.SetDefault("POLLING_CONCURRENCY", 8)
	v.SetDefault("POLLING_INITIAL_INTERVAL", 5*time.Second)
	v.SetDefault("POLLING_MAX_INTERVAL", time.Minute)
	v.SetDefault("POLLING_DEFAULT_EXPIRY", 15*time.Minute)
	v.SetDefault("POLLING_CLAIM_LEASE", 30*time.Second)
	v.SetDefault("PROVIDER_POLL_RPS", 10.0)
	v.SetDefault("PROVIDER_POLL_BURST", 5)

	v.SetDefault("IDEMPOTENCY_TTL", 24*time.Hour)
	v.SetDefault("IDEMPOTENCY_CLAIM_LEASE", time.Minute)
	v.SetDefault("IDEMPOTENCY_POLL_INTERVAL", 100*time.Millisecond)
	v.SetDefault("IDEMPOTENCY_WAIT_TIMEOUT", 30*time.Second)

	v.SetDefault("EVENT_RETENTION", 90*24*time.Hour)
	v.SetDefault("SWEEP_INTERVAL", time.Hour)

	v.SetDefault("ORDER_PAID_CHANNEL", "payments.order_paid")
	v.SetDefault("MONGO_DATABASE", "payorch")
	v.SetDefault("MONGO_EVENTS_ARCHIVE", "payment_events_archive")
}

// LoadConfig reads .env (when present) and then the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	return &Config{
		AppEnv:             v.GetString("APP_ENV"),
		Port:               v.GetString("PORT"),
		PaymentEnvironment: v.GetString("PAYMENT_ENVIRONMENT"),

		PostgresURL: v.GetString("POSTGRES_URL"),
		JWTSecret:   v.GetString("JWT_SECRET"),
		JWTTTL:      v.GetDuration("JWT_TTL"),

		WebhookTimeout:    v.GetDuration("WEBHOOK_TIMEOUT"),
		WebhookInboxLease: v.GetDuration("WEBHOOK_INBOX_LEASE"),
		WebhookRPS:        v.GetFloat64("WEBHOOK_RPS"),
		WebhookBurst:      v.GetInt("WEBHOOK_BURST"),
		ProviderTimeout:   v.GetDuration("PROVIDER_TIMEOUT"),
		ResolverCacheTTL:  v.GetDuration("RESOLVER_CACHE_TTL"),

		PollingTickInterval:    v.GetDuration("POLLING_TICK_INTERVAL"),
		PollingBatchSize:       v.GetInt("POLLING_BATCH_SIZE"),
		PollingConcurrency:     v.GetInt("POLLING_CONCURRENCY"),
		PollingInitialInterval: v.GetDuration("POLLING_INITIAL_INTERVAL"),
		PollingMaxInterval:     v.GetDuration("POLLING_MAX_INTERVAL"),
		PollingDefaultExpiry:   v.GetDuration("POLLING_DEFAULT_EXPIRY"),
		PollingClaimLease:      v.GetDuration("POLLING_CLAIM_LEASE"),
		ProviderPollRPS:        v.GetFloat64("PROVIDER_POLL_RPS"),
		ProviderPollBurst:      v.GetInt("PROVIDER_POLL_BURST"),

		IdempotencyTTL:          v.GetDuration("IDEMPOTENCY_TTL"),
		IdempotencyClaimLease:   v.GetDuration("IDEMPOTENCY_CLAIM_LEASE"),
		IdempotencyPollInterval: v.GetDuration("IDEMPOTENCY_POLL_INTERVAL"),
		IdempotencyWaitTimeout:  v.GetDuration("IDEMPOTENCY_WAIT_TIMEOUT"),

		EventRetention: v.GetDuration("EVENT_RETENTION"),
		SweepInterval:  v.GetDuration("SWEEP_INTERVAL"),

		RedisURL:           v.GetString("REDIS_URL"),
		OrderPaidChannel:   v.GetString("ORDER_PAID_CHANNEL"),
		MongoURI:           v.GetString("MONGO_URI"),
		MongoDatabase:      v.GetString("MONGO_DATABASE"),
		MongoEventsArchive: v.GetString("MONGO_EVENTS_ARCHIVE"),

		CheckoutReturnURL: v.GetString("CHECKOUT_RETURN_URL"),
		CheckoutCancelURL: v.GetString("CHECKOUT_CANCEL_URL"),
	}, nil
}
