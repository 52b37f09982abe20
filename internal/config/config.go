package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App         AppConfig
	DB          DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Twilio      TwilioConfig
	Guard       GuardConfig
	Breaker     BreakerConfig
	Routing     RoutingConfig
	ConfigCache CacheConfig
	Upstream    UpstreamConfig

	// PublicBaseURL is where the upstream platform reaches our webhooks.
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL"`
}

type AppConfig struct {
	Env  string `envconfig:"APP_ENV"`
	Port int    `envconfig:"APP_PORT"`
}

type DBConfig struct {
	Host     string `envconfig:"DB_HOST"`
	Port     int    `envconfig:"DB_PORT"`
	User     string `envconfig:"DB_USER"`
	Password string `envconfig:"DB_PASSWORD"`
	Name     string `envconfig:"DB_NAME"`

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `envconfig:"DB_SSLMODE"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST"`
	Port     int    `envconfig:"REDIS_PORT"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB"`
}

type AuthConfig struct {
	JWTSecret      string        `envconfig:"JWT_SECRET"`
	JWTIssuer      string        `envconfig:"JWT_ISSUER"`
	JWTAudience    string        `envconfig:"JWT_AUDIENCE"`
	AccessTokenTTL time.Duration `envconfig:"JWT_ACCESS_TTL"`
}

type TwilioConfig struct {
	AccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
}

type GuardConfig struct {
	LockTTL        time.Duration `envconfig:"GUARD_LOCK_TTL" default:"30s"`
	LockWait       time.Duration `envconfig:"GUARD_LOCK_WAIT" default:"250ms"`
	IdempotencyTTL time.Duration `envconfig:"GUARD_IDEMPOTENCY_TTL" default:"6h"`
}

type BreakerConfig struct {
	FailureThreshold int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	RetryAfter       time.Duration `envconfig:"BREAKER_RETRY_AFTER" default:"30s"`
}

type RoutingConfig struct {
	MaxHops            int    `envconfig:"ROUTING_MAX_HOPS" default:"8"`
	RingTimeoutSeconds int    `envconfig:"ROUTING_RING_TIMEOUT_SECONDS" default:"30"`
	ErrorMessage       string `envconfig:"ROUTING_ERROR_MESSAGE"`
	// CallRecordTTL is zero (no expiry) unless retention is handled here.
	CallRecordTTL time.Duration `envconfig:"CALL_RECORD_TTL"`
}

type CacheConfig struct {
	TTL       time.Duration `envconfig:"CONFIG_CACHE_TTL" default:"30s"`
	LocalSize int           `envconfig:"CONFIG_CACHE_LOCAL_SIZE" default:"0"`
	LocalTTL  time.Duration `envconfig:"CONFIG_CACHE_LOCAL_TTL" default:"1s"`
}

type UpstreamConfig struct {
	RatePerSecond float64 `envconfig:"UPSTREAM_RATE_PER_SECOND" default:"10"`
	Burst         int     `envconfig:"UPSTREAM_BURST" default:"5"`
}

func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	c.trim()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) trim() {
	c.App.Env = strings.TrimSpace(c.App.Env)
	c.DB.Host = strings.TrimSpace(c.DB.Host)
	c.DB.User = strings.TrimSpace(c.DB.User)
	c.DB.Name = strings.TrimSpace(c.DB.Name)
	c.DB.SSLMode = strings.TrimSpace(c.DB.SSLMode)
	c.Redis.Host = strings.TrimSpace(c.Redis.Host)
	c.Auth.JWTIssuer = strings.TrimSpace(c.Auth.JWTIssuer)
	c.Auth.JWTAudience = strings.TrimSpace(c.Auth.JWTAudience)
	c.Twilio.AccountSID = strings.TrimSpace(c.Twilio.AccountSID)
	c.PublicBaseURL = strings.TrimSpace(c.PublicBaseURL)
}

// Validate checks required values and fills environment-aware defaults.
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
	if c.DB.SSLMode == "" {
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
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	if c.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	} else if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute http(s) URL, got %q", c.PublicBaseURL))
	} else if c.IsProduction() && u.Scheme != "https" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL must use https in production"))
	}

	if c.Guard.LockWait >= c.Guard.LockTTL && c.Guard.LockTTL > 0 {
		errs = append(errs, errors.New("GUARD_LOCK_WAIT must be shorter than GUARD_LOCK_TTL"))
	}
	if c.Breaker.FailureThreshold < 0 {
		errs = append(errs, fmt.Errorf("BREAKER_FAILURE_THRESHOLD must not be negative, got %d", c.Breaker.FailureThreshold))
	}
	if c.Routing.MaxHops < 0 {
		errs = append(errs, fmt.Errorf("ROUTING_MAX_HOPS must not be negative, got %d", c.Routing.MaxHops))
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
