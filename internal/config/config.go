package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the API process reads from the environment.
// Every field is parsed from its env tag by Load; Validate applies the
// rules that depend on more than one field or on APP_ENV.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Twilio     TwilioConfig
	Billing    BillingConfig
	PhoneIntel PhoneIntelConfig
	Dispatch   DispatchConfig
	Compliance ComplianceConfig
}

type AppConfig struct {
	Env  string `env:"APP_ENV"`
	Port int    `env:"APP_PORT"`
}

type DBConfig struct {
	Host     string `env:"DB_HOST"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`
	// disable, require, verify-ca or verify-full. Required in production.
	SSLMode string `env:"DB_SSLMODE"`

	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
}

type RedisConfig struct {
	Host     string `env:"REDIS_HOST"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

type AuthConfig struct {
	JWTSecret       string        `env:"JWT_SECRET"`
	JWTIssuer       string        `env:"JWT_ISSUER"`
	JWTAudience     string        `env:"JWT_AUDIENCE"`
	AccessTokenTTL  time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"JWT_REFRESH_TTL" envDefault:"720h"`
}

type TwilioConfig struct {
	AccountSID string `env:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	// BaseURL overrides the REST endpoint (tests, regional edges).
	BaseURL string `env:"TWILIO_BASE_URL"`
	// PublicURL is the externally visible base URL used to validate webhook signatures.
	PublicURL string `env:"TWILIO_PUBLIC_URL"`
}

type BillingConfig struct {
	Provider      string `env:"BILLING_PROVIDER" envDefault:"paypal"`
	WebhookSecret string `env:"BILLING_WEBHOOK_SECRET"`
	// SQSQueueURL enables the queue consumer when set.
	SQSQueueURL string `env:"BILLING_SQS_QUEUE_URL"`
	AWSRegion   string `env:"AWS_REGION"`
}

type PhoneIntelConfig struct {
	Endpoint      string `env:"PHONEINTEL_ENDPOINT"`
	APIKey        string `env:"PHONEINTEL_API_KEY"`
	DefaultRegion string `env:"PHONEINTEL_DEFAULT_REGION" envDefault:"US"`
}

// DispatchConfig tunes the number-pool scheduler.
type DispatchConfig struct {
	DailyCap        int           `env:"DISPATCH_DAILY_CAP" envDefault:"100"`
	CooldownMin     time.Duration `env:"DISPATCH_COOLDOWN_MIN" envDefault:"60s"`
	CooldownMax     time.Duration `env:"DISPATCH_COOLDOWN_MAX" envDefault:"180s"`
	RampInitial     int           `env:"DISPATCH_RAMP_INITIAL" envDefault:"1"`
	RampStep        int           `env:"DISPATCH_RAMP_STEP" envDefault:"1"`
	RampInterval    time.Duration `env:"DISPATCH_RAMP_INTERVAL" envDefault:"30m"`
	RampCeiling     int           `env:"DISPATCH_RAMP_CEILING" envDefault:"10"`
	RampWindow      time.Duration `env:"DISPATCH_RAMP_WINDOW" envDefault:"1m"`
	MaxSendAttempts int           `env:"DISPATCH_MAX_SEND_ATTEMPTS" envDefault:"3"`
	RetryBackoff    time.Duration `env:"DISPATCH_RETRY_BACKOFF" envDefault:"2s"`
	MaxJobsPerOrg   int           `env:"DISPATCH_MAX_JOBS_PER_ORG" envDefault:"5"`
	JobSlotTTL      time.Duration `env:"DISPATCH_JOB_SLOT_TTL" envDefault:"12h"`
}

// ComplianceConfig tunes suppression, quiet hours and phone lookups.
type ComplianceConfig struct {
	SuppressionWindow time.Duration `env:"COMPLIANCE_SUPPRESSION_WINDOW" envDefault:"8760h"`
	QuietHoursStart   int           `env:"COMPLIANCE_QUIET_HOURS_START" envDefault:"21"`
	QuietHoursEnd     int           `env:"COMPLIANCE_QUIET_HOURS_END" envDefault:"8"`
	PhoneBatchSize    int           `env:"COMPLIANCE_PHONE_BATCH_SIZE" envDefault:"100"`
	PhoneCacheSize    int           `env:"COMPLIANCE_PHONE_CACHE_SIZE" envDefault:"10000"`
	PhoneCacheMaxAge  time.Duration `env:"COMPLIANCE_PHONE_CACHE_MAX_AGE" envDefault:"0s"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	return load(env.Options{})
}

func load(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	trim(&c.App.Env, &c.DB.Host, &c.DB.User, &c.DB.Name, &c.DB.SSLMode, &c.Redis.Host,
		&c.Auth.JWTIssuer, &c.Auth.JWTAudience, &c.Twilio.AccountSID, &c.Billing.SQSQueueURL,
		&c.Billing.AWSRegion, &c.PhoneIntel.Endpoint, &c.PhoneIntel.DefaultRegion)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func trim(fields ...*string) {
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
}

// Validate checks required values and fills env-dependent defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required in production"))
		}
		if c.Billing.WebhookSecret == "" {
			errs = append(errs, errors.New("BILLING_WEBHOOK_SECRET is required in production"))
		}
		if c.PhoneIntel.Endpoint == "" {
			errs = append(errs, errors.New("PHONEINTEL_ENDPOINT is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Billing.Provider == "" {
		c.Billing.Provider = "paypal"
	}
	if c.Billing.SQSQueueURL != "" && c.Billing.AWSRegion == "" {
		errs = append(errs, errors.New("AWS_REGION is required when BILLING_SQS_QUEUE_URL is set"))
	}
	if c.PhoneIntel.DefaultRegion == "" {
		c.PhoneIntel.DefaultRegion = "US"
	}

	if c.Dispatch.CooldownMax < c.Dispatch.CooldownMin {
		errs = append(errs, errors.New("DISPATCH_COOLDOWN_MAX must be >= DISPATCH_COOLDOWN_MIN"))
	}
	if c.Dispatch.RampCeiling < c.Dispatch.RampInitial {
		errs = append(errs, errors.New("DISPATCH_RAMP_CEILING must be >= DISPATCH_RAMP_INITIAL"))
	}
	if c.Compliance.QuietHoursStart < 0 || c.Compliance.QuietHoursStart > 23 ||
		c.Compliance.QuietHoursEnd < 0 || c.Compliance.QuietHoursEnd > 23 {
		errs = append(errs, errors.New("COMPLIANCE_QUIET_HOURS_START/END must be hours in 0..23"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
