// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	MCPGATE_HOST="0.0.0.0"
//	MCPGATE_PORT="8080"
//	MCPGATE_HEALTH_PORT="9090"
//	MCPGATE_READ_TIMEOUT="15s"
//	MCPGATE_WRITE_TIMEOUT="15s"
//
// Scope store settings:
//
//	MCPGATE_STORE_TYPE="postgres"  # memory, file, postgres
//	MCPGATE_FILE_ROOT="/var/mcpgate/scopes"
//	MCPGATE_POSTGRES_URL="postgres://localhost/mcpgate"
//	MCPGATE_REDIS_ENABLED="true"
//	MCPGATE_REDIS_ADDR="localhost:6379"
//	MCPGATE_REFRESH_INTERVAL="30s"
//	MCPGATE_BACKUP_ENABLED="true"
//	MCPGATE_S3_BUCKET="mcpgate-backups"
//
// Decision settings:
//
//	MCPGATE_CACHE_SIZE="4096"
//	MCPGATE_CACHE_TTL="5m"
//	MCPGATE_DECISION_TIMEOUT="2s"
//
// Auth settings:
//
//	MCPGATE_AUTH_ENABLED="true"
//	MCPGATE_OIDC_ISSUER_URL="https://idp.example.com"
//	MCPGATE_OIDC_CLIENT_ID="mcpgate"
//
// Observability settings:
//
//	MCPGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	MCPGATE_METRICS_ENABLED="true"
//	MCPGATE_OTEL_ENABLED="true"
//	MCPGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Store: %s\n", cfg.Store.Type)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/scopes: Uses store and decision configuration
//   - pkg/observability: Uses observability configuration
package config
