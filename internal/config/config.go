package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Scheduling SchedulingConfig
	Notify     NotifyConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// SchedulingConfig bounds the transactions that book provider time.
type SchedulingConfig struct {
	TxMaxWait           time.Duration
	TxTimeout           time.Duration
	LockTimeout         time.Duration
	TxMaxRetries        int
	BillableUnitMinutes int
	ProviderLockTTL     time.Duration
	ProviderLockWait    time.Duration
	DefaultRegion       string
}

type NotifyConfig struct {
	Enabled      bool
	Queue        string
	MaxRetry     int
	Concurrency  int
	ReminderLead time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_DB")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	// Scheduling and notify settings are optional; defaults applied in Validate().
	c.Scheduling.TxMaxWait = mustDuration("SCHED_TX_MAX_WAIT")
	c.Scheduling.TxTimeout = mustDuration("SCHED_TX_TIMEOUT")
	c.Scheduling.LockTimeout = mustDuration("SCHED_LOCK_TIMEOUT")
	c.Scheduling.ProviderLockTTL = mustDuration("SCHED_PROVIDER_LOCK_TTL")
	c.Scheduling.ProviderLockWait = mustDuration("SCHED_PROVIDER_LOCK_WAIT")
	c.Scheduling.DefaultRegion = strings.ToUpper(strings.TrimSpace(os.Getenv("SCHED_DEFAULT_REGION")))
	{
		n, err := optionalInt("SCHED_TX_MAX_RETRIES")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Scheduling.TxMaxRetries = n
	}
	{
		n, err := optionalInt("SCHED_BILLABLE_UNIT_MINUTES")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Scheduling.BillableUnitMinutes = n
	}

	c.Notify.Enabled = strings.EqualFold(strings.TrimSpace(os.Getenv("NOTIFY_ENABLED")), "true")
	c.Notify.Queue = strings.TrimSpace(os.Getenv("NOTIFY_QUEUE"))
	c.Notify.ReminderLead = mustDuration("NOTIFY_REMINDER_LEAD")
	{
		n, err := optionalInt("NOTIFY_MAX_RETRY")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Notify.MaxRetry = n
	}
	{
		n, err := optionalInt("NOTIFY_CONCURRENCY")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Notify.Concurrency = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

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
			// Allowed values are enforced below.
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
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, fmt.Errorf("REDIS_DB must not be negative, got %d", c.Redis.DB))
	}

	errs = append(errs, c.Scheduling.applyDefaults()...)
	errs = append(errs, c.Notify.applyDefaults()...)

	return joinErrors(errs)
}

func (s *SchedulingConfig) applyDefaults() []error {
	var errs []error
	if s.TxMaxWait <= 0 {
		s.TxMaxWait = 2 * time.Second
	}
	if s.TxTimeout <= 0 {
		s.TxTimeout = 5 * time.Second
	}
	if s.LockTimeout <= 0 {
		s.LockTimeout = 2 * time.Second
	}
	if s.LockTimeout > s.TxTimeout {
		errs = append(errs, errors.New("SCHED_LOCK_TIMEOUT must not exceed SCHED_TX_TIMEOUT"))
	}
	if s.TxMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("SCHED_TX_MAX_RETRIES must not be negative, got %d", s.TxMaxRetries))
	} else if s.TxMaxRetries == 0 {
		s.TxMaxRetries = 3
	}
	if s.BillableUnitMinutes < 0 {
		errs = append(errs, fmt.Errorf("SCHED_BILLABLE_UNIT_MINUTES must be positive, got %d", s.BillableUnitMinutes))
	} else if s.BillableUnitMinutes == 0 {
		s.BillableUnitMinutes = 15
	}
	if budget := s.TxBudget(); s.ProviderLockTTL <= 0 {
		s.ProviderLockTTL = budget
	} else if s.TxMaxRetries >= 0 && s.ProviderLockTTL < budget {
		errs = append(errs, fmt.Errorf("SCHED_PROVIDER_LOCK_TTL must cover a full scheduling transaction with retries (%s), got %s", budget, s.ProviderLockTTL))
	}
	if s.ProviderLockWait <= 0 {
		s.ProviderLockWait = time.Second
	}
	if s.DefaultRegion == "" {
		s.DefaultRegion = "US"
	} else if len(s.DefaultRegion) != 2 {
		errs = append(errs, fmt.Errorf("SCHED_DEFAULT_REGION must be a two-letter region code, got %q", s.DefaultRegion))
	}
	return errs
}

// TxBudget is the longest a scheduling transaction can run: every attempt may
// wait for a connection and then run to its timeout.
func (s SchedulingConfig) TxBudget() time.Duration {
	attempts := s.TxMaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(attempts) * (s.TxMaxWait + s.TxTimeout)
}

func (n *NotifyConfig) applyDefaults() []error {
	if n.Queue == "" {
		n.Queue = "calls"
	}
	if n.MaxRetry <= 0 {
		n.MaxRetry = 5
	}
	if n.Concurrency <= 0 {
		n.Concurrency = 10
	}
	if n.ReminderLead <= 0 {
		n.ReminderLead = 15 * time.Minute
	}
	return nil
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

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
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
