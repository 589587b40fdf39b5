package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "consult", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_SchedulingDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	s := c.Scheduling
	if s.TxMaxWait != 2*time.Second || s.TxTimeout != 5*time.Second || s.LockTimeout != 2*time.Second {
		t.Fatalf("unexpected tx defaults: %+v", s)
	}
	if s.TxMaxRetries != 3 || s.BillableUnitMinutes != 15 || s.DefaultRegion != "US" {
		t.Fatalf("unexpected scheduling defaults: %+v", s)
	}
	if s.ProviderLockTTL != 28*time.Second || s.ProviderLockTTL != s.TxBudget() {
		t.Fatalf("expected lock ttl to default to the tx budget, got %s", s.ProviderLockTTL)
	}
	if c.Notify.Queue != "calls" || c.Notify.ReminderLead != 15*time.Minute {
		t.Fatalf("unexpected notify defaults: %+v", c.Notify)
	}
}

func TestValidate_LockTimeoutWithinTxTimeout(t *testing.T) {
	c := validLocal()
	c.Scheduling.TxTimeout = time.Second
	c.Scheduling.LockTimeout = 3 * time.Second
	if err := c.Validate(); err == nil {
		t.Fatalf("expected lock timeout above tx timeout to be rejected")
	}
}

func TestValidate_ProviderLockOutlivesTransaction(t *testing.T) {
	c := validLocal()
	c.Scheduling.ProviderLockTTL = 10 * time.Second
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "SCHED_PROVIDER_LOCK_TTL") {
		t.Fatalf("expected short lock ttl to be rejected, got %v", err)
	}

	c = validLocal()
	c.Scheduling.TxMaxWait = time.Second
	c.Scheduling.TxTimeout = 2 * time.Second
	c.Scheduling.LockTimeout = time.Second
	c.Scheduling.TxMaxRetries = 1
	c.Scheduling.ProviderLockTTL = 6 * time.Second
	if err := c.Validate(); err != nil {
		t.Fatalf("expected ttl equal to the budget to pass, got %v", err)
	}
}

func TestLoad_ReadsEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_NAME", "consult")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("SCHED_TX_MAX_RETRIES", "5")
	t.Setenv("SCHED_DEFAULT_REGION", "gb")
	t.Setenv("NOTIFY_ENABLED", "true")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Redis.DB != 2 || c.Scheduling.TxMaxRetries != 5 || c.Scheduling.DefaultRegion != "GB" || !c.Notify.Enabled {
		t.Fatalf("env not applied: %+v", c)
	}
	if c.RedisAddr() != "redis:6379" || c.HTTPAddr() != ":9090" {
		t.Fatalf("unexpected addrs %s %s", c.RedisAddr(), c.HTTPAddr())
	}

	t.Setenv("SCHED_TX_MAX_RETRIES", "many")
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}
