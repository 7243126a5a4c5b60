package config

import (
	"errors"
	"fmt"
	"os"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// MinSigningKeyLength is the minimum HMAC key size accepted for tokens.
const MinSigningKeyLength = 32

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
	Security      SecurityConfig
	RateLimit     RateLimitConfig
	Token         TokenConfig
	Redis         RedisConfig
	Tenancy       TenancyConfig
	Admin         AdminConfig
	CORS          CORSConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// TrustedProxies lists the peers (IPs or CIDRs) whose X-Forwarded-For
	// header is believed. Empty means the header is ignored.
	TrustedProxies []string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	MetricsEnabled bool
	ServiceName    string
	ServiceVersion string
}

// SecurityConfig holds password hashing parameters
type SecurityConfig struct {
	Argon2Memory      uint32
	Argon2Iterations  uint32
	Argon2Parallelism uint8
	Argon2SaltLength  uint32
	Argon2KeyLength   uint32
}

// TokenConfig holds bearer token settings
type TokenConfig struct {
	SigningKey             string
	AccessLifetime         time.Duration
	RefreshLifetime        time.Duration
	RotateRefresh          bool
	BlacklistAfterRotation bool
	UpdateLastLogin        bool
}

// RedisConfig holds the refresh-token blacklist store settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TenancyConfig holds namespace lifecycle and listing settings
type TenancyConfig struct {
	AllowSchemaDrop bool
	PageSize        int
	PublicDomain    string
	// ProvisionLease is how long an unfinished tenant creation is left alone
	// before a repeated create may resume it.
	ProvisionLease time.Duration
}

// CORSConfig holds cross-origin settings for browser clients
type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
}

// AdminConfig holds the public-namespace admin API settings
type AdminConfig struct {
	APIToken string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout:   parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:    parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
			RequestTimeout: parseDuration("SERVER_REQUEST_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "tenancy"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "tenancy"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			MetricsEnabled: parseBool("METRICS_ENABLED", true),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "tenancy"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		Security: SecurityConfig{
			Argon2Memory:      uint32(parseInt("ARGON2_MEMORY", 65536)),
			Argon2Iterations:  uint32(parseInt("ARGON2_ITERATIONS", 3)),
			Argon2Parallelism: uint8(parseInt("ARGON2_PARALLELISM", 4)),
			Argon2SaltLength:  uint32(parseInt("ARGON2_SALT_LENGTH", 16)),
			Argon2KeyLength:   uint32(parseInt("ARGON2_KEY_LENGTH", 32)),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: parseFloat("RATELIMIT_RPS", 10),
			Burst:             parseInt("RATELIMIT_BURST", 20),
			TrustedProxies:    parseList("RATELIMIT_TRUSTED_PROXIES", ""),
		},
		Token: TokenConfig{
			SigningKey:             getEnv("TOKEN_SIGNING_KEY", ""),
			AccessLifetime:         parseDuration("ACCESS_TOKEN_LIFETIME", "15m"),
			RefreshLifetime:        parseDuration("REFRESH_TOKEN_LIFETIME", "168h"),
			RotateRefresh:          parseBool("ROTATE_REFRESH_TOKENS", true),
			BlacklistAfterRotation: parseBool("BLACKLIST_AFTER_ROTATION", false),
			UpdateLastLogin:        parseBool("UPDATE_LAST_LOGIN", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       parseInt("REDIS_DB", 0),
		},
		Tenancy: TenancyConfig{
			AllowSchemaDrop: parseBool("SCHEMA_ALLOW_DROP", false),
			PageSize:        parseInt("PAGE_SIZE", 20),
			PublicDomain:    getEnv("PUBLIC_DOMAIN", "localhost"),
			ProvisionLease:  parseDuration("TENANT_PROVISION_LEASE", "15m"),
		},
		Admin: AdminConfig{
			APIToken: getEnv("ADMIN_API_TOKEN", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins:   parseList("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8000"),
			AllowCredentials: parseBool("CORS_ALLOW_CREDENTIALS", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration shared by every binary
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return errors.New("DB_PASSWORD is required")
	}
	if c.Token.SigningKey != "" && len(c.Token.SigningKey) < MinSigningKeyLength {
		return fmt.Errorf("TOKEN_SIGNING_KEY must be at least %d bytes", MinSigningKeyLength)
	}
	if c.Tenancy.PageSize <= 0 {
		return errors.New("PAGE_SIZE must be positive")
	}
	for _, p := range c.RateLimit.TrustedProxies {
		if _, err := ParsePrefix(p); err != nil {
			return fmt.Errorf("RATELIMIT_TRUSTED_PROXIES: %w", err)
		}
	}
	if c.CORS.AllowCredentials {
		for _, o := range c.CORS.AllowedOrigins {
			if o == "*" {
				return errors.New("CORS_ALLOW_CREDENTIALS cannot be combined with a wildcard origin")
			}
		}
	}
	return nil
}

// ParsePrefix accepts either a CIDR or a bare IP address
func ParsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid CIDR %q", s)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid IP %q", s)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// ValidateServer adds the checks only the HTTP server needs
func (c *Config) ValidateServer() error {
	if c.Token.SigningKey == "" {
		return errors.New("TOKEN_SIGNING_KEY is required")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// parseList splits a comma-separated variable, dropping empty entries
func parseList(key, defaultValue string) []string {
	var out []string
	for _, v := range strings.Split(getEnv(key, defaultValue), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
