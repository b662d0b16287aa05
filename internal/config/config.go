// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development, except for
// the token signing secret which must always be supplied.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrMissingJWTSecret is returned by Load when JWT_SECRET is unset or blank.
// The server refuses to start without it.
var ErrMissingJWTSecret = errors.New("JWT_SECRET is required")

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used in outbound mail links.
	BaseURL string

	// CORSOrigins are the browser origins allowed to call the API with the
	// session cookie. Defaults to BaseURL.
	CORSOrigins []string

	// TrustedProxies are the CIDR ranges whose X-Forwarded-For is believed
	// when resolving the client IP.
	TrustedProxies []string

	// LogLevel controls log verbosity outside development: "debug", "info",
	// "warn", "error".
	LogLevel string

	// MigrationsPath is the directory holding golang-migrate SQL files.
	MigrationsPath string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// Auth holds authentication-related settings.
	Auth AuthConfig

	// SMTP holds outbound mail settings.
	SMTP SMTPConfig

	// RateLimit holds per-IP throttling for the public auth endpoints.
	RateLimit RateLimitConfig
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so
// container orchestrators can manage each independently.
// If DATABASE_URL is set, it takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	User     string
	Password string
	Name     string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// fields using the driver's Config.FormatDSN() so special characters in
// passwords are escaped.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// JWTSecret is the HS256 signing key for session tokens. Required.
	JWTSecret string

	// TokenTTL is the session token lifetime (default: 5 days).
	TokenTTL time.Duration

	// CookieMaxAge is the lifetime of the jwtToken cookie (default: 10 days).
	// It may outlive TokenTTL; the expired token inside is still rejected.
	CookieMaxAge time.Duration

	// OTPTTL is how long an issued one-time code stays redeemable.
	OTPTTL time.Duration

	// OTPLength is the number of characters in a one-time code.
	OTPLength int

	// BcryptCost is the work factor for password and OTP hashes.
	BcryptCost int
}

// SMTPConfig holds outbound mail settings. An empty Host disables delivery;
// messages are then logged and dropped.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// FromAddress and FromName build the From header.
	FromAddress string
	FromName    string

	// Encryption is "starttls" (default), "ssl", or "none".
	Encryption string

	// QueueSize bounds the async dispatch buffer. Full queue drops mail.
	QueueSize int

	// Workers is the number of goroutines draining the queue.
	Workers int

	// RatePerSecond caps outbound messages per second across all workers.
	RatePerSecond float64
}

// Enabled reports whether a mail host has been configured.
func (s SMTPConfig) Enabled() bool {
	return s.Host != ""
}

// RateLimitConfig holds fixed-window per-IP limits for the auth endpoints.
type RateLimitConfig struct {
	LoginPerMinute    int
	RegisterPerMinute int
	VerifyPerMinute   int
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if required variables are missing or values are out of range.
func Load() (*Config, error) {
	cfg := &Config{
		Env:            getEnv("ENV", "development"),
		Port:           getEnvInt("PORT", 8080),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "db/migrations"),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "inkwell"),
			Password:        getEnv("DB_PASSWORD", "inkwell"),
			Name:            getEnv("DB_NAME", "inkwell"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},

		Auth: AuthConfig{
			JWTSecret:    strings.TrimSpace(getEnv("JWT_SECRET", "")),
			TokenTTL:     getEnvDuration("TOKEN_TTL", 5*24*time.Hour),
			CookieMaxAge: getEnvDuration("COOKIE_MAX_AGE", 10*24*time.Hour),
			OTPTTL:       getEnvDuration("OTP_TTL", 5*time.Minute),
			OTPLength:    getEnvInt("OTP_LENGTH", 6),
			BcryptCost:   getEnvInt("BCRYPT_COST", 10),
		},

		SMTP: SMTPConfig{
			Host:          getEnv("SMTP_HOST", ""),
			Port:          getEnvInt("SMTP_PORT", 587),
			Username:      getEnv("SMTP_USERNAME", ""),
			Password:      getEnv("SMTP_PASSWORD", ""),
			FromAddress:   getEnv("SMTP_FROM", "no-reply@localhost"),
			FromName:      getEnv("SMTP_FROM_NAME", "Inkwell"),
			Encryption:    strings.ToLower(getEnv("SMTP_ENCRYPTION", "starttls")),
			QueueSize:     getEnvInt("MAIL_QUEUE_SIZE", 256),
			Workers:       getEnvInt("MAIL_WORKERS", 2),
			RatePerSecond: getEnvFloat("MAIL_RATE_PER_SECOND", 5),
		},

		RateLimit: RateLimitConfig{
			LoginPerMinute:    getEnvInt("RATE_LIMIT_LOGIN", 10),
			RegisterPerMinute: getEnvInt("RATE_LIMIT_REGISTER", 5),
			VerifyPerMinute:   getEnvInt("RATE_LIMIT_VERIFY", 10),
		},
	}

	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", []string{cfg.BaseURL})
	cfg.TrustedProxies = getEnvList("TRUSTED_PROXIES", []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"fd00::/8",
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks required fields and value ranges.
func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if c.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.Auth.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.Auth.OTPLength < 6 || c.Auth.OTPLength > 64 {
		return fmt.Errorf("OTP_LENGTH must be between 6 and 64, got %d", c.Auth.OTPLength)
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.Auth.BcryptCost)
	}
	switch c.SMTP.Encryption {
	case "starttls", "ssl", "none":
	default:
		return fmt.Errorf("SMTP_ENCRYPTION must be starttls, ssl or none, got %q", c.SMTP.Encryption)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// IsProduction returns true if running in production. Case-insensitive so
// common variants like "Production" or "prod" match. Session cookies are
// marked Secure only in production.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvList reads a comma-separated env var or returns the default.
// Blank entries are dropped.
func getEnvList(key string, defaultVal []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvFloat reads a float env var or returns the default.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "120h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
