package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration required by the API process and tools.
// Values come from an optional YAML file (CONFIG_FILE) overlaid by env vars.
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Reconcile ReconcileConfig
	Audit     AuditConfig
	Listing   ListingConfig
	Archive   ArchiveConfig
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

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional; without a host the session-changed bus is disabled.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type ReconcileConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

type AuditConfig struct {
	QueueSize   int
	MaxPageSize int
	// SpoolPath is a local sqlite file for failed appends. Empty disables it.
	SpoolPath string
}

type ListingConfig struct {
	// StrictWrites surfaces boundary write failures to callers after the local fallback.
	StrictWrites bool
}

// ArchiveConfig configures S3 uploads of CSV audit exports. Empty bucket disables it.
type ArchiveConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// envSections are the env var prefixes we read. APP_PORT becomes app.port, and so on.
var envSections = []string{"APP", "DB", "REDIS", "JWT", "RECONCILE", "AUDIT", "LISTING", "ARCHIVE"}

func envKey(s string) string {
	for _, p := range envSections {
		if strings.HasPrefix(s, p+"_") {
			return strings.ToLower(p) + "." + strings.ToLower(strings.TrimPrefix(s, p+"_"))
		}
	}
	return ""
}

// Load reads CONFIG_FILE (when set) and the environment, then validates.
func Load() (Config, error) {
	return LoadFile(strings.TrimSpace(os.Getenv("CONFIG_FILE")))
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file.
func LoadFile(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("loading env: %w", err)
	}

	c := Config{}
	var parseErrs []error
	intOf := func(key, name string, required bool) int {
		n, err := parseInt(k, key, name, required)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		return n
	}
	durOf := func(key, name string) time.Duration {
		d, err := parseDuration(k, key, name)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		return d
	}

	c.App.Env = strings.TrimSpace(k.String("app.env"))
	c.App.Port = intOf("app.port", "APP_PORT", true)

	c.DB.Host = strings.TrimSpace(k.String("db.host"))
	c.DB.Port = intOf("db.port", "DB_PORT", true)
	c.DB.User = strings.TrimSpace(k.String("db.user"))
	c.DB.Password = k.String("db.password")
	c.DB.Name = strings.TrimSpace(k.String("db.name"))
	c.DB.SSLMode = strings.TrimSpace(k.String("db.sslmode"))

	c.Redis.Host = strings.TrimSpace(k.String("redis.host"))
	c.Redis.Port = intOf("redis.port", "REDIS_PORT", false)
	c.Redis.Password = k.String("redis.password")

	c.Auth.JWTSecret = k.String("jwt.secret")
	c.Auth.JWTIssuer = strings.TrimSpace(k.String("jwt.issuer"))
	c.Auth.JWTAudience = strings.TrimSpace(k.String("jwt.audience"))
	c.Auth.AccessTokenTTL = durOf("jwt.access_ttl", "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = durOf("jwt.refresh_ttl", "JWT_REFRESH_TTL")

	c.Reconcile.Interval = durOf("reconcile.interval", "RECONCILE_INTERVAL")
	c.Reconcile.Timeout = durOf("reconcile.timeout", "RECONCILE_TIMEOUT")

	c.Audit.QueueSize = intOf("audit.queue_size", "AUDIT_QUEUE_SIZE", false)
	c.Audit.MaxPageSize = intOf("audit.max_page_size", "AUDIT_MAX_PAGE_SIZE", false)
	c.Audit.SpoolPath = strings.TrimSpace(k.String("audit.spool_path"))

	c.Listing.StrictWrites = k.Bool("listing.strict_writes")

	c.Archive.Bucket = strings.TrimSpace(k.String("archive.s3_bucket"))
	c.Archive.Region = strings.TrimSpace(k.String("archive.s3_region"))
	c.Archive.Endpoint = strings.TrimSpace(k.String("archive.s3_endpoint"))
	c.Archive.PathStyle = k.Bool("archive.s3_path_style")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
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
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host != "" {
		if c.Redis.Port == 0 {
			c.Redis.Port = 6379
		}
		if c.Redis.Port < 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
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
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Reconcile.Interval <= 0 {
		c.Reconcile.Interval = 30 * time.Second
	}
	if c.Reconcile.Timeout <= 0 {
		c.Reconcile.Timeout = 10 * time.Second
	}
	if c.Reconcile.Timeout > c.Reconcile.Interval {
		errs = append(errs, errors.New("RECONCILE_TIMEOUT must not exceed RECONCILE_INTERVAL"))
	}

	if c.Audit.QueueSize < 0 || c.Audit.MaxPageSize < 0 {
		errs = append(errs, errors.New("AUDIT_QUEUE_SIZE and AUDIT_MAX_PAGE_SIZE must be non-negative"))
	}
	if c.Audit.QueueSize == 0 {
		c.Audit.QueueSize = 1024
	}
	if c.Audit.MaxPageSize == 0 {
		c.Audit.MaxPageSize = 100
	}

	if c.Archive.Bucket != "" && c.Archive.Region == "" {
		c.Archive.Region = "us-east-1"
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
	// Contains secrets; never log.
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

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func parseInt(k *koanf.Koanf, key, name string, required bool) (int, error) {
	v := strings.TrimSpace(k.String(key))
	if v == "" {
		if required {
			return 0, fmt.Errorf("%s is required", name)
		}
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, v)
	}
	return n, nil
}

func parseDuration(k *koanf.Koanf, key, name string) (time.Duration, error) {
	v := strings.TrimSpace(k.String(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s, got %q", name, v)
	}
	return d, nil
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
