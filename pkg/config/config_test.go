package config

import (
	"os"
	"testing"
	"time"

	"github.com/mcpgate/mcpgate/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{
			name:         "returns true for 'true'",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "true",
			want:         true,
		},
		{
			name:         "returns true for '1'",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "1",
			want:         true,
		},
		{
			name:         "returns false for 'false'",
			key:          "TEST_BOOL",
			defaultValue: true,
			envValue:     "false",
			want:         false,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_BOOL_NOT_SET",
			defaultValue: true,
			envValue:     "",
			want:         true,
		},
		{
			name:         "returns true for 'TRUE' (case insensitive)",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "TRUE",
			want:         true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getEnvBool(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns parsed duration",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default for invalid duration",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOT_SET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getEnvDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestParseLogLevel tests the parseLogLevel function
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  observability.LogLevel
	}{
		{
			name:  "debug",
			level: "debug",
			want:  observability.DebugLevel,
		},
		{
			name:  "DEBUG uppercase",
			level: "DEBUG",
			want:  observability.DebugLevel,
		},
		{
			name:  "info",
			level: "info",
			want:  observability.InfoLevel,
		},
		{
			name:  "warn",
			level: "warn",
			want:  observability.WarnLevel,
		},
		{
			name:  "warning",
			level: "warning",
			want:  observability.WarnLevel,
		},
		{
			name:  "error",
			level: "error",
			want:  observability.ErrorLevel,
		},
		{
			name:  "invalid defaults to info",
			level: "invalid",
			want:  observability.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseLogLevel(tt.level)
			if got != tt.want {
				t.Errorf("parseLogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestSplitAndTrim tests the splitAndTrim helper function
func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{
			name:  "single value",
			value: "*",
			want:  []string{"*"},
		},
		{
			name:  "multiple values with whitespace",
			value: "https://a.example.com, https://b.example.com",
			want:  []string{"https://a.example.com", "https://b.example.com"},
		},
		{
			name:  "drops empty segments",
			value: "a,,b,",
			want:  []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitAndTrim(tt.value)
			if len(got) != len(tt.want) {
				t.Fatalf("splitAndTrim() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("splitAndTrim()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// TestLoadServerConfig tests the loadServerConfig function
func TestLoadServerConfig(t *testing.T) {
	// Save current env and restore after test
	envVars := []string{
		"MCPGATE_HOST",
		"MCPGATE_PORT",
		"MCPGATE_READ_TIMEOUT",
		"MCPGATE_WRITE_TIMEOUT",
		"MCPGATE_IDLE_TIMEOUT",
		"MCPGATE_SHUTDOWN_TIMEOUT",
		"MCPGATE_MAX_BODY_BYTES",
		"MCPGATE_ALLOWED_ORIGINS",
		"MCPGATE_HEALTH_PORT",
	}
	originalEnv := make(map[string]string)
	for _, k := range envVars {
		originalEnv[k] = os.Getenv(k)
	}
	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("defaults", func(t *testing.T) {
		for _, k := range envVars {
			os.Unsetenv(k)
		}

		got := loadServerConfig()
		if got.Host != "0.0.0.0" {
			t.Errorf("Host = %v, want 0.0.0.0", got.Host)
		}
		if got.Port != "8080" {
			t.Errorf("Port = %v, want 8080", got.Port)
		}
		if got.HealthPort != "9090" {
			t.Errorf("HealthPort = %v, want 9090", got.HealthPort)
		}
		if got.ShutdownTimeout != 30*time.Second {
			t.Errorf("ShutdownTimeout = %v, want 30s", got.ShutdownTimeout)
		}
		if got.MaxBodyBytes != 1<<20 {
			t.Errorf("MaxBodyBytes = %v, want %v", got.MaxBodyBytes, 1<<20)
		}
	})

	t.Run("custom values", func(t *testing.T) {
		for _, k := range envVars {
			os.Unsetenv(k)
		}
		os.Setenv("MCPGATE_HOST", "localhost")
		os.Setenv("MCPGATE_PORT", "3000")
		os.Setenv("MCPGATE_HEALTH_PORT", "9091")
		os.Setenv("MCPGATE_READ_TIMEOUT", "30s")
		os.Setenv("MCPGATE_ALLOWED_ORIGINS", "https://ui.example.com")

		got := loadServerConfig()
		if got.Host != "localhost" {
			t.Errorf("Host = %v, want localhost", got.Host)
		}
		if got.Port != "3000" {
			t.Errorf("Port = %v, want 3000", got.Port)
		}
		if got.HealthPort != "9091" {
			t.Errorf("HealthPort = %v, want 9091", got.HealthPort)
		}
		if got.ReadTimeout != 30*time.Second {
			t.Errorf("ReadTimeout = %v, want 30s", got.ReadTimeout)
		}
		if len(got.AllowedOrigins) != 1 || got.AllowedOrigins[0] != "https://ui.example.com" {
			t.Errorf("AllowedOrigins = %v, want [https://ui.example.com]", got.AllowedOrigins)
		}
	})
}

// TestLoadStoreConfig tests the loadStoreConfig function
func TestLoadStoreConfig(t *testing.T) {
	envVars := []string{
		"MCPGATE_STORE_TYPE",
		"MCPGATE_FILE_ROOT",
		"MCPGATE_POSTGRES_URL",
		"MCPGATE_POSTGRES_MAX_CONNS",
		"MCPGATE_REDIS_ENABLED",
		"MCPGATE_REDIS_ADDR",
		"MCPGATE_REFRESH_INTERVAL",
		"MCPGATE_BACKUP_ENABLED",
		"MCPGATE_S3_BUCKET",
	}
	originalEnv := make(map[string]string)
	for _, k := range envVars {
		originalEnv[k] = os.Getenv(k)
	}
	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads default config", func(t *testing.T) {
		for _, k := range envVars {
			os.Unsetenv(k)
		}

		cfg := loadStoreConfig()
		if cfg.Type != "memory" {
			t.Errorf("Type = %v, want memory", cfg.Type)
		}
		if cfg.RefreshInterval != 30*time.Second {
			t.Errorf("RefreshInterval = %v, want 30s", cfg.RefreshInterval)
		}
		if cfg.RedisEnabled {
			t.Error("RedisEnabled = true, want false")
		}
	})

	t.Run("loads postgres config from env", func(t *testing.T) {
		for _, k := range envVars {
			os.Unsetenv(k)
		}
		os.Setenv("MCPGATE_STORE_TYPE", "postgres")
		os.Setenv("MCPGATE_POSTGRES_URL", "postgres://localhost/mcpgate")
		os.Setenv("MCPGATE_POSTGRES_MAX_CONNS", "50")

		cfg := loadStoreConfig()
		if cfg.Type != "postgres" {
			t.Errorf("Type = %v, want postgres", cfg.Type)
		}
		if cfg.PostgresURL != "postgres://localhost/mcpgate" {
			t.Errorf("PostgresURL = %v, want postgres://localhost/mcpgate", cfg.PostgresURL)
		}
		if cfg.PostgresMaxConns != 50 {
			t.Errorf("PostgresMaxConns = %v, want 50", cfg.PostgresMaxConns)
		}
	})

	t.Run("loads redis config from env", func(t *testing.T) {
		for _, k := range envVars {
			os.Unsetenv(k)
		}
		os.Setenv("MCPGATE_REDIS_ENABLED", "true")
		os.Setenv("MCPGATE_REDIS_ADDR", "redis.internal:6380")

		cfg := loadStoreConfig()
		if !cfg.RedisEnabled {
			t.Error("RedisEnabled = false, want true")
		}
		if cfg.RedisAddr != "redis.internal:6380" {
			t.Errorf("RedisAddr = %v, want redis.internal:6380", cfg.RedisAddr)
		}
	})
}

// TestLoadDecisionConfig tests the loadDecisionConfig function
func TestLoadDecisionConfig(t *testing.T) {
	envVars := []string{
		"MCPGATE_CACHE_SIZE",
		"MCPGATE_CACHE_TTL",
		"MCPGATE_DECISION_TIMEOUT",
	}
	originalEnv := make(map[string]string)
	for _, k := range envVars {
		originalEnv[k] = os.Getenv(k)
	}
	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("defaults", func(t *testing.T) {
		for _, k := range envVars {
			os.Unsetenv(k)
		}

		cfg := loadDecisionConfig()
		if cfg.CacheSize != 4096 {
			t.Errorf("CacheSize = %v, want 4096", cfg.CacheSize)
		}
		if cfg.CacheTTL != 5*time.Minute {
			t.Errorf("CacheTTL = %v, want 5m", cfg.CacheTTL)
		}
		if cfg.DecisionTimeout != 2*time.Second {
			t.Errorf("DecisionTimeout = %v, want 2s", cfg.DecisionTimeout)
		}
	})

	t.Run("custom values", func(t *testing.T) {
		for _, k := range envVars {
			os.Unsetenv(k)
		}
		os.Setenv("MCPGATE_CACHE_SIZE", "128")
		os.Setenv("MCPGATE_CACHE_TTL", "1m")
		os.Setenv("MCPGATE_DECISION_TIMEOUT", "500ms")

		cfg := loadDecisionConfig()
		if cfg.CacheSize != 128 {
			t.Errorf("CacheSize = %v, want 128", cfg.CacheSize)
		}
		if cfg.CacheTTL != time.Minute {
			t.Errorf("CacheTTL = %v, want 1m", cfg.CacheTTL)
		}
		if cfg.DecisionTimeout != 500*time.Millisecond {
			t.Errorf("DecisionTimeout = %v, want 500ms", cfg.DecisionTimeout)
		}
	})
}

// TestConfigValidate tests the Config.Validate method
func TestConfigValidate(t *testing.T) {
	validBase := func() Config {
		return Config{
			Server: ServerConfig{
				Port:       "8080",
				HealthPort: "9090",
			},
			Store: StoreConfig{
				Type: "memory",
			},
			Decisions: DecisionConfig{
				CacheSize:       4096,
				CacheTTL:        5 * time.Minute,
				DecisionTimeout: 2 * time.Second,
			},
		}
	}

	t.Run("valid memory config", func(t *testing.T) {
		cfg := validBase()
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error = %v", err)
		}
	})

	t.Run("missing server port", func(t *testing.T) {
		cfg := validBase()
		cfg.Server.Port = ""
		err := cfg.Validate()
		if err == nil || err.Error() != "server port is required" {
			t.Errorf("Validate() error = %v, want 'server port is required'", err)
		}
	})

	t.Run("same server and health port", func(t *testing.T) {
		cfg := validBase()
		cfg.Server.HealthPort = cfg.Server.Port
		err := cfg.Validate()
		if err == nil || err.Error() != "server port and health port must be different" {
			t.Errorf("Validate() error = %v, want 'server port and health port must be different'", err)
		}
	})

	t.Run("file store without root", func(t *testing.T) {
		cfg := validBase()
		cfg.Store.Type = "file"
		err := cfg.Validate()
		if err == nil || err.Error() != "file root is required for file store" {
			t.Errorf("Validate() error = %v, want 'file root is required for file store'", err)
		}
	})

	t.Run("postgres store without url", func(t *testing.T) {
		cfg := validBase()
		cfg.Store.Type = "postgres"
		err := cfg.Validate()
		if err == nil || err.Error() != "postgres URL is required for postgres store" {
			t.Errorf("Validate() error = %v, want 'postgres URL is required for postgres store'", err)
		}
	})

	t.Run("invalid store type", func(t *testing.T) {
		cfg := validBase()
		cfg.Store.Type = "etcd"
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		want := "invalid store type: etcd (must be memory, file, or postgres)"
		if err.Error() != want {
			t.Errorf("Validate() error = %v, want %v", err.Error(), want)
		}
	})

	t.Run("backups without bucket", func(t *testing.T) {
		cfg := validBase()
		cfg.Store.BackupEnabled = true
		err := cfg.Validate()
		if err == nil || err.Error() != "S3 bucket is required when backups are enabled" {
			t.Errorf("Validate() error = %v, want 'S3 bucket is required when backups are enabled'", err)
		}
	})

	t.Run("non-positive cache size", func(t *testing.T) {
		cfg := validBase()
		cfg.Decisions.CacheSize = 0
		err := cfg.Validate()
		if err == nil || err.Error() != "cache size must be positive" {
			t.Errorf("Validate() error = %v, want 'cache size must be positive'", err)
		}
	})

	t.Run("non-positive decision timeout", func(t *testing.T) {
		cfg := validBase()
		cfg.Decisions.DecisionTimeout = 0
		err := cfg.Validate()
		if err == nil || err.Error() != "decision timeout must be positive" {
			t.Errorf("Validate() error = %v, want 'decision timeout must be positive'", err)
		}
	})

	t.Run("auth enabled without issuer", func(t *testing.T) {
		cfg := validBase()
		cfg.Auth.Enabled = true
		cfg.Auth.ClientID = "client"
		err := cfg.Validate()
		if err == nil || err.Error() != "OIDC issuer URL is required when auth is enabled" {
			t.Errorf("Validate() error = %v, want 'OIDC issuer URL is required when auth is enabled'", err)
		}
	})

	t.Run("auth enabled without client id", func(t *testing.T) {
		cfg := validBase()
		cfg.Auth.Enabled = true
		cfg.Auth.IssuerURL = "https://idp.example.com"
		err := cfg.Validate()
		if err == nil || err.Error() != "OIDC client ID is required when auth is enabled" {
			t.Errorf("Validate() error = %v, want 'OIDC client ID is required when auth is enabled'", err)
		}
	})

	t.Run("db audit requires postgres store", func(t *testing.T) {
		cfg := validBase()
		cfg.Audit.DBEnabled = true
		err := cfg.Validate()
		if err == nil || err.Error() != "database audit logging requires the postgres store" {
			t.Errorf("Validate() error = %v, want 'database audit logging requires the postgres store'", err)
		}
	})

	t.Run("otel enabled without endpoint", func(t *testing.T) {
		cfg := validBase()
		cfg.Observability.OTelEnabled = true
		cfg.Observability.OTelServiceName = "test"
		err := cfg.Validate()
		if err == nil || err.Error() != "OpenTelemetry endpoint is required when OTel is enabled" {
			t.Errorf("Validate() error = %v, want 'OpenTelemetry endpoint is required when OTel is enabled'", err)
		}
	})
}

// TestLoadConfig tests the LoadConfig function
func TestLoadConfig(t *testing.T) {
	envVars := []string{
		"MCPGATE_PORT",
		"MCPGATE_HEALTH_PORT",
		"MCPGATE_STORE_TYPE",
		"MCPGATE_FILE_ROOT",
	}
	originalEnv := make(map[string]string)
	for _, k := range envVars {
		originalEnv[k] = os.Getenv(k)
	}
	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{
			name: "valid config",
			env: map[string]string{
				"MCPGATE_PORT":        "8080",
				"MCPGATE_HEALTH_PORT": "9090",
				"MCPGATE_STORE_TYPE":  "memory",
			},
			wantErr: false,
		},
		{
			name: "invalid config - same ports",
			env: map[string]string{
				"MCPGATE_PORT":        "8080",
				"MCPGATE_HEALTH_PORT": "8080",
			},
			wantErr: true,
		},
		{
			name: "invalid config - file store without root",
			env: map[string]string{
				"MCPGATE_STORE_TYPE": "file",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear all env vars
			for _, k := range envVars {
				os.Unsetenv(k)
			}

			// Set test env vars
			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			cfg, err := LoadConfig()
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && cfg == nil {
				t.Error("LoadConfig() returned nil config without error")
			}
		})
	}
}
