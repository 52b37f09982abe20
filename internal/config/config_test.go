package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:           AppConfig{Env: "local", Port: 8080},
		DB:            DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "pbx"},
		Redis:         RedisConfig{Host: "localhost", Port: 6379},
		Auth:          AuthConfig{JWTSecret: "secret"},
		Guard:         GuardConfig{LockTTL: 30 * time.Second, LockWait: 250 * time.Millisecond},
		PublicBaseURL: "http://localhost:8080",
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "DB_HOST", "REDIS_HOST", "JWT_SECRET", "PUBLIC_BASE_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "pbx"
	c.Auth.JWTAudience = "ops"
	c.Twilio = TwilioConfig{AccountSID: "AC1", AuthToken: "tok"}
	c.PublicBaseURL = "https://pbx.example.com"
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected error for production without DB_SSLMODE, got %v", err)
	}
}

func TestValidate_ProductionRequiresUpstreamCredentials(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.DB.SSLMode = "require"
	c.Auth.JWTIssuer = "pbx"
	c.Auth.JWTAudience = "ops"
	c.PublicBaseURL = "https://pbx.example.com"
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "TWILIO_ACCOUNT_SID") {
		t.Fatalf("expected twilio credential error, got %v", err)
	}
}

func TestValidate_LocalDefaultsStick(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected default access ttl, got %s", c.Auth.AccessTokenTTL)
	}
}

func TestValidate_PublicBaseURL(t *testing.T) {
	for _, raw := range []string{"localhost:8080", "ftp://pbx.example.com", "/webhooks"} {
		c := validLocal()
		c.PublicBaseURL = raw
		if err := c.Validate(); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestValidate_LockWaitShorterThanTTL(t *testing.T) {
	c := validLocal()
	c.Guard.LockWait = time.Minute
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when lock wait exceeds ttl")
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "pbx")
	t.Setenv("DB_NAME", "pbx")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PUBLIC_BASE_URL", "https://pbx.example.com")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "3")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTPAddr() != ":9090" {
		t.Fatalf("unexpected addr %q", c.HTTPAddr())
	}
	if c.RedisAddr() != "redis:6379" {
		t.Fatalf("unexpected redis addr %q", c.RedisAddr())
	}
	if c.Breaker.FailureThreshold != 3 {
		t.Fatalf("expected threshold 3, got %d", c.Breaker.FailureThreshold)
	}
	if c.Guard.LockTTL != 30*time.Second || c.Guard.IdempotencyTTL != 6*time.Hour {
		t.Fatalf("expected guard defaults, got %+v", c.Guard)
	}
	if c.Routing.MaxHops != 8 || c.Routing.RingTimeoutSeconds != 30 {
		t.Fatalf("expected routing defaults, got %+v", c.Routing)
	}
	if !strings.Contains(c.PostgresDSN(), "sslmode=disable") {
		t.Fatalf("expected local sslmode default in dsn")
	}
}
