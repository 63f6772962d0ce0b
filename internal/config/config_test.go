package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "outreach"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Dispatch: DispatchConfig{
			CooldownMin: time.Minute, CooldownMax: 3 * time.Minute,
			RampInitial: 1, RampCeiling: 10,
		},
		Compliance: ComplianceConfig{QuietHoursStart: 21, QuietHoursEnd: 8},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "iss", "aud"
	c.Twilio = TwilioConfig{AccountSID: "AC1", AuthToken: "t"}
	c.Billing.WebhookSecret = "whsec"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Billing.Provider != "paypal" {
		t.Fatalf("expected paypal billing provider default, got %q", c.Billing.Provider)
	}
	if c.PhoneIntel.DefaultRegion != "US" {
		t.Fatalf("expected US default region, got %q", c.PhoneIntel.DefaultRegion)
	}
}

func TestValidate_RejectsInvertedCooldown(t *testing.T) {
	c := validLocal()
	c.Dispatch.CooldownMin = 5 * time.Minute
	c.Dispatch.CooldownMax = time.Minute
	if err := c.Validate(); err == nil {
		t.Fatalf("expected cooldown range error")
	}
}

func TestValidate_SQSRequiresRegion(t *testing.T) {
	c := validLocal()
	c.Billing.SQSQueueURL = "https://sqs.us-east-1.amazonaws.com/1/billing"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected AWS_REGION error")
	}
}

func TestLoad_ParsesTuningDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_NAME", "outreach")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DISPATCH_DAILY_CAP", "50")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Dispatch.DailyCap != 50 {
		t.Fatalf("expected daily cap 50, got %d", c.Dispatch.DailyCap)
	}
	if c.Dispatch.CooldownMin != 60*time.Second || c.Dispatch.CooldownMax != 180*time.Second {
		t.Fatalf("unexpected cooldown defaults: %v..%v", c.Dispatch.CooldownMin, c.Dispatch.CooldownMax)
	}
	if c.Dispatch.RampCeiling != 10 {
		t.Fatalf("expected ramp ceiling 10, got %d", c.Dispatch.RampCeiling)
	}
	if c.Compliance.SuppressionWindow != 365*24*time.Hour {
		t.Fatalf("expected 365 day suppression, got %v", c.Compliance.SuppressionWindow)
	}
}

func baseEnv() map[string]string {
	return map[string]string{
		"APP_ENV":    "dev",
		"APP_PORT":   "8080",
		"DB_HOST":    " db.internal ",
		"DB_USER":    "postgres",
		"DB_NAME":    "outreach",
		"REDIS_HOST": "redis",
		"JWT_SECRET": "secret",
	}
}

func TestLoad_SectionDefaults(t *testing.T) {
	c, err := load(env.Options{Environment: baseEnv()})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.DB.Host != "db.internal" || c.DB.Port != 5432 || c.DB.MaxOpenConns != 25 {
		t.Fatalf("unexpected db section: %+v", c.DB)
	}
	if c.RedisAddr() != "redis:6379" || c.Redis.PoolSize != 20 {
		t.Fatalf("unexpected redis section: %+v", c.Redis)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute || c.Auth.RefreshTokenTTL != 720*time.Hour {
		t.Fatalf("unexpected token ttls: %v %v", c.Auth.AccessTokenTTL, c.Auth.RefreshTokenTTL)
	}
	if c.Billing.Provider != "paypal" || c.PhoneIntel.DefaultRegion != "US" {
		t.Fatalf("unexpected provider defaults: %q %q", c.Billing.Provider, c.PhoneIntel.DefaultRegion)
	}
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	for key, val := range map[string]string{
		"JWT_ACCESS_TTL":     "fifteen",
		"APP_PORT":           "http",
		"DISPATCH_DAILY_CAP": "1.5",
	} {
		vars := baseEnv()
		vars[key] = val
		if _, err := load(env.Options{Environment: vars}); err == nil {
			t.Fatalf("expected error for %s=%q", key, val)
		}
	}
}

func TestLoad_RefreshMustOutliveAccess(t *testing.T) {
	vars := baseEnv()
	vars["JWT_ACCESS_TTL"] = "2h"
	vars["JWT_REFRESH_TTL"] = "1h"
	if _, err := load(env.Options{Environment: vars}); err == nil {
		t.Fatalf("expected refresh ttl error")
	}
}
