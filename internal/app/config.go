package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (LEARNHUB_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (LEARNHUB_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string `default:"redis://localhost:6379/0" usage:"Redis URL for checkout sessions (LEARNHUB_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	KeyPrefix   string `default:"learnhub" usage:"Namespace for Redis keys" flag:"key-prefix"`
	Auth        AuthConfig
	Payment     PaymentConfig
	Mail        MailConfig
	Jobs        JobsConfig
	Coupons     CouponsConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	JWTSecret string `usage:"HMAC secret for HS256 bearer tokens" flag:"jwt-secret"`
	Issuer    string `default:"learnhub" usage:"Expected token issuer, empty to accept any"`
}

// PaymentConfig configures the hosted payment processor.
type PaymentConfig struct {
	BaseURL       string        `default:"https://api.payments.example.com" usage:"Processor API base URL" flag:"payment-base-url"`
	APIKey        string        `usage:"Processor API key" flag:"payment-api-key"`
	WebhookSecret string        `usage:"Secret for X-Signature webhook verification" flag:"payment-webhook-secret"`
	Currency      string        `default:"USD" usage:"Currency for quotes and payments"`
	SuccessURL    string        `default:"http://localhost:3000/checkout/success" usage:"Redirect after successful payment"`
	CancelURL     string        `default:"http://localhost:3000/checkout/cancel" usage:"Redirect after cancelled payment"`
	Timeout       time.Duration `default:"10s" usage:"Processor request timeout"`
	Retries       int           `default:"2" usage:"Extra attempts for transient processor failures"`
	SessionTTL    time.Duration `default:"30m" usage:"Lifetime of a checkout session" flag:"session-ttl"`
	RevenueShare  string        `default:"0.90" usage:"Instructor share of each sale" flag:"revenue-share"`
}

// MailConfig configures outbound e-mail. Without an API key notifications are
// only logged.
type MailConfig struct {
	SendGridAPIKey string `usage:"SendGrid API key" flag:"sendgrid-api-key"`
	FromEmail      string `default:"no-reply@learnhub.local" usage:"Sender address"`
	FromName       string `default:"LearnHub" usage:"Sender name"`
}

// JobsConfig holds cron specs of background jobs. An empty spec disables the
// job.
type JobsConfig struct {
	ExpireCheckouts     string        `default:"@every 1m" usage:"Expire stale pending payments" flag:"job-expire-checkouts"`
	ReconcileCerts      string        `default:"@every 5m" usage:"Issue missing certificates" flag:"job-reconcile-certs"`
	ReconcileBatch      int           `default:"500" usage:"Certificates issued per reconcile run"`
	RefreshCouponFilter string        `default:"@every 10m" usage:"Reload coupon codes into the bloom filter" flag:"job-refresh-coupons"`
	Timeout             time.Duration `default:"1m" usage:"Per-run job timeout"`
	StaleAfter          time.Duration `default:"30m" usage:"Fail liveness when a job has not succeeded for this long, 0 disables"`
}

// CouponsConfig sizes the coupon code bloom filter.
type CouponsConfig struct {
	FilterCapacity uint          `default:"100000" usage:"Expected number of coupon codes"`
	FilterFPRate   float64       `default:"0.001" usage:"Bloom filter false positive rate"`
	FeedRetry      time.Duration `default:"5s" usage:"Delay before resubscribing to coupon inserts"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max     int           `default:"100" usage:"Max requests per window"`
	Window  time.Duration `default:"1m"  usage:"Rate limit window duration"`
	Backend string        `default:"memory" usage:"Counter store: memory (per instance) or redis (shared)" flag:"ratelimit-backend"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "LEARNHUB",
		Files:     []string{"config.yaml", "/etc/learnhub/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports missing or malformed settings.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set LEARNHUB_DATABASE_URL or DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT secret is required: set LEARNHUB_AUTH_JWTSECRET")
	}
	if c.Payment.WebhookSecret == "" {
		return errors.New("webhook secret is required: set LEARNHUB_PAYMENT_WEBHOOKSECRET")
	}
	share, err := c.revenueShare()
	if err != nil {
		return err
	}
	if share.IsNegative() || share.GreaterThan(decimal.NewFromInt(1)) {
		return errors.Errorf("revenue share %s outside [0, 1]", share)
	}
	if c.Payment.SessionTTL <= 0 {
		return errors.New("session TTL must be positive")
	}
	switch c.RateLimit.Backend {
	case "", "memory", "redis":
	default:
		return errors.Errorf("unknown rate limit backend %q", c.RateLimit.Backend)
	}
	return nil
}

func (c *Config) revenueShare() (decimal.Decimal, error) {
	share, err := decimal.NewFromString(c.Payment.RevenueShare)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "parse revenue share")
	}
	return share, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's LEARNHUB_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" && os.Getenv("LEARNHUB_REDIS_URL") == "" {
		c.RedisURL = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
