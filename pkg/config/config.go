package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcpgate/mcpgate/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Scope store configuration
	Store StoreConfig

	// Permission cache and decision configuration
	Decisions DecisionConfig

	// Auth configuration
	Auth AuthConfig

	// Audit configuration
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	AllowedOrigins  []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StoreConfig holds scope store configuration
type StoreConfig struct {
	// Type selects the backing store: memory, file, or postgres
	Type string

	// File store
	FileRoot string

	// PostgreSQL
	PostgresURL      string
	PostgresMaxConns int
	PostgresTimeout  time.Duration

	// Redis read-through cache in front of the durable store
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Refresh interval for the in-memory index poll
	RefreshInterval time.Duration

	// S3 snapshot backups (optional)
	BackupEnabled  bool
	BackupInterval time.Duration
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3KeyPrefix    string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// DecisionConfig holds permission cache and decision point settings
type DecisionConfig struct {
	CacheSize       int
	CacheTTL        time.Duration
	DecisionTimeout time.Duration
}

// AuthConfig holds OIDC verifier settings
type AuthConfig struct {
	Enabled     bool
	IssuerURL   string
	ClientID    string
	GroupsClaim string
}

// AuditConfig holds audit sink settings
type AuditConfig struct {
	FileEnabled bool
	FilePath    string
	DBEnabled   bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Store:         loadStoreConfig(),
		Decisions:     loadDecisionConfig(),
		Auth:          loadAuthConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("MCPGATE_HOST", "0.0.0.0"),
		Port:            getEnv("MCPGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("MCPGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("MCPGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("MCPGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("MCPGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("MCPGATE_MAX_BODY_BYTES", 1<<20),
		AllowedOrigins:  splitAndTrim(getEnv("MCPGATE_ALLOWED_ORIGINS", "*")),
		HealthPort:      getEnv("MCPGATE_HEALTH_PORT", "9090"),
	}
}

// loadStoreConfig loads scope store configuration from environment
func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Type:             getEnv("MCPGATE_STORE_TYPE", "memory"),
		FileRoot:         getEnv("MCPGATE_FILE_ROOT", ""),
		PostgresURL:      getEnv("MCPGATE_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("MCPGATE_POSTGRES_MAX_CONNS", 20),
		PostgresTimeout:  getEnvDuration("MCPGATE_POSTGRES_TIMEOUT", 10*time.Second),
		RedisEnabled:     getEnvBool("MCPGATE_REDIS_ENABLED", false),
		RedisAddr:        getEnv("MCPGATE_REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("MCPGATE_REDIS_PASSWORD", ""),
		RefreshInterval:  getEnvDuration("MCPGATE_REFRESH_INTERVAL", 30*time.Second),
		BackupEnabled:    getEnvBool("MCPGATE_BACKUP_ENABLED", false),
		BackupInterval:   getEnvDuration("MCPGATE_BACKUP_INTERVAL", 6*time.Hour),
		S3Endpoint:       getEnv("MCPGATE_S3_ENDPOINT", ""),
		S3Region:         getEnv("MCPGATE_S3_REGION", "us-east-1"),
		S3Bucket:         getEnv("MCPGATE_S3_BUCKET", ""),
		S3KeyPrefix:      getEnv("MCPGATE_S3_KEY_PREFIX", "scopes/"),
		S3AccessKey:      getEnv("MCPGATE_S3_ACCESS_KEY", ""),
		S3SecretKey:      getEnv("MCPGATE_S3_SECRET_KEY", ""),
		S3UsePathStyle:   getEnvBool("MCPGATE_S3_USE_PATH_STYLE", false),
	}
}

// loadDecisionConfig loads cache and decision point settings from environment
func loadDecisionConfig() DecisionConfig {
	return DecisionConfig{
		CacheSize:       getEnvInt("MCPGATE_CACHE_SIZE", 4096),
		CacheTTL:        getEnvDuration("MCPGATE_CACHE_TTL", 5*time.Minute),
		DecisionTimeout: getEnvDuration("MCPGATE_DECISION_TIMEOUT", 2*time.Second),
	}
}

// loadAuthConfig loads OIDC settings from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled:     getEnvBool("MCPGATE_AUTH_ENABLED", false),
		IssuerURL:   getEnv("MCPGATE_OIDC_ISSUER_URL", ""),
		ClientID:    getEnv("MCPGATE_OIDC_CLIENT_ID", ""),
		GroupsClaim: getEnv("MCPGATE_OIDC_GROUPS_CLAIM", ""),
	}
}

// loadAuditConfig loads audit sink settings from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		FileEnabled: getEnvBool("MCPGATE_AUDIT_FILE_ENABLED", false),
		FilePath:    getEnv("MCPGATE_AUDIT_FILE_PATH", "audit.log"),
		DBEnabled:   getEnvBool("MCPGATE_AUDIT_DB_ENABLED", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("MCPGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("MCPGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("MCPGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("MCPGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("MCPGATE_OTEL_SERVICE_NAME", "mcpgate"),
		OTelServiceVersion: getEnv("MCPGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("MCPGATE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate store config based on type
	switch c.Store.Type {
	case "memory":
		// nothing to check
	case "file":
		if c.Store.FileRoot == "" {
			return fmt.Errorf("file root is required for file store")
		}
	case "postgres":
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be memory, file, or postgres)", c.Store.Type)
	}

	if c.Store.BackupEnabled {
		if c.Store.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required when backups are enabled")
		}
	}

	// Validate decision config
	if c.Decisions.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.Decisions.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Decisions.DecisionTimeout <= 0 {
		return fmt.Errorf("decision timeout must be positive")
	}

	// Validate auth config
	if c.Auth.Enabled {
		if c.Auth.IssuerURL == "" {
			return fmt.Errorf("OIDC issuer URL is required when auth is enabled")
		}
		if c.Auth.ClientID == "" {
			return fmt.Errorf("OIDC client ID is required when auth is enabled")
		}
	}

	// Validate audit config
	if c.Audit.FileEnabled && c.Audit.FilePath == "" {
		return fmt.Errorf("audit file path is required when file audit is enabled")
	}
	if c.Audit.DBEnabled && c.Store.Type != "postgres" {
		return fmt.Errorf("database audit logging requires the postgres store")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// splitAndTrim splits a comma-separated list and trims whitespace
func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
