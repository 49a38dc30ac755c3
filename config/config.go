package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Hive          HiveConfig
	Providers     ProvidersConfig
	Ledger        LedgerConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// DatabaseConfig holds PostgreSQL configuration for the dispatch ledger.
// The ledger is optional; Enabled is false when neither DATABASE_URL nor DB_HOST is set.
type DatabaseConfig struct {
	Enabled          bool
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// HiveConfig holds dispatcher, cache and quota tuning
type HiveConfig struct {
	CacheTTL             time.Duration
	CacheMaxEntries      int
	CacheCleanupInterval time.Duration
	AttemptTimeout       time.Duration
	RequestTimeout       time.Duration // whole generate call, fallback chain included
	ServerErrorPenalty   int
	DefaultMaxTokens     int
	DefaultTemperature   float64
}

// ProvidersConfig holds the provider catalog source and per-provider overrides
type ProvidersConfig struct {
	// CatalogFile replaces the built-in catalog when set
	CatalogFile string

	// HTTPTimeout bounds any single outbound call
	HTTPTimeout time.Duration

	// Endpoints and Models are keyed by provider id, read from
	// <ID>_BASE_URL and <ID>_MODEL
	Endpoints map[string]string
	Models    map[string]string
}

// LedgerConfig holds the async dispatch ledger worker settings
type LedgerConfig struct {
	BufferSize  int
	WorkerCount int
	StopTimeout time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// writeTimeoutMargin leaves room to write the response once a request hits
// its deadline
const writeTimeoutMargin = 10 * time.Second

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	requestTimeout := getEnvAsDuration("HIVE_REQUEST_TIMEOUT", 120*time.Second)

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", requestTimeout+writeTimeoutMargin),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: loadDatabaseConfig(),
		Hive: HiveConfig{
			CacheTTL:             getEnvAsDuration("HIVE_CACHE_TTL", 5*time.Minute),
			CacheMaxEntries:      getEnvAsInt("HIVE_CACHE_MAX_ENTRIES", 1000),
			CacheCleanupInterval: getEnvAsDuration("HIVE_CACHE_CLEANUP_INTERVAL", time.Minute),
			AttemptTimeout:       getEnvAsDuration("HIVE_ATTEMPT_TIMEOUT", 30*time.Second),
			RequestTimeout:       requestTimeout,
			ServerErrorPenalty:   getEnvAsInt("HIVE_SERVER_ERROR_PENALTY", 10),
			DefaultMaxTokens:     getEnvAsInt("HIVE_DEFAULT_MAX_TOKENS", 1024),
			DefaultTemperature:   getEnvAsFloat("HIVE_DEFAULT_TEMPERATURE", 0.7),
		},
		Providers: ProvidersConfig{
			CatalogFile: getEnv("HIVE_PROVIDERS_FILE", ""),
			HTTPTimeout: getEnvAsDuration("HIVE_HTTP_TIMEOUT", 60*time.Second),
			Endpoints:   collectProviderOverrides(os.Environ(), "_BASE_URL"),
			Models:      collectProviderOverrides(os.Environ(), "_MODEL"),
		},
		Ledger: LedgerConfig{
			BufferSize:  getEnvAsInt("LEDGER_BUFFER_SIZE", 10000),
			WorkerCount: getEnvAsInt("LEDGER_WORKERS", 4),
			StopTimeout: getEnvAsDuration("LEDGER_STOP_TIMEOUT", 5*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}

	if c.Database.Enabled && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Hive.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Hive.CacheMaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive")
	}
	if c.Hive.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive")
	}
	if c.Hive.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	// A zero write timeout leaves the connection without a write deadline.
	if c.Server.WriteTimeout != 0 && c.Server.WriteTimeout <= c.Hive.RequestTimeout {
		return fmt.Errorf("server write timeout (%s) must exceed request timeout (%s)", c.Server.WriteTimeout, c.Hive.RequestTimeout)
	}
	if c.Hive.ServerErrorPenalty < 0 {
		return fmt.Errorf("server error penalty cannot be negative")
	}
	if c.Hive.DefaultMaxTokens <= 0 {
		return fmt.Errorf("default max tokens must be positive")
	}
	if c.Hive.DefaultTemperature < 0 || c.Hive.DefaultTemperature > 2 {
		return fmt.Errorf("default temperature must be within [0, 2]")
	}

	if c.Ledger.BufferSize <= 0 || c.Ledger.WorkerCount <= 0 {
		return fmt.Errorf("ledger buffer size and worker count must be positive")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	pool := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		pool.Enabled = true
		pool.ConnectionString = dbURL
		return pool
	}

	host := getEnv("DB_HOST", "")
	if host == "" {
		return pool
	}

	pool.Enabled = true
	pool.Host = host
	pool.Port = getEnvAsInt("DB_PORT", 5432)
	pool.User = getEnv("DB_USER", "hive")
	pool.Password = getEnv("DB_PASSWORD", "")
	pool.Database = getEnv("DB_NAME", "hive")
	pool.SSLMode = getEnv("DB_SSLMODE", "disable")
	return pool
}

// collectProviderOverrides maps "<ID><suffix>=value" entries to lower-case ids.
func collectProviderOverrides(environ []string, suffix string) map[string]string {
	out := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasSuffix(key, suffix) {
			continue
		}
		id := strings.TrimSuffix(key, suffix)
		if id == "" || strings.HasPrefix(id, "HIVE_") || id == "LOG" {
			continue
		}
		out[strings.ToLower(id)] = value
	}
	return out
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
