// Package observability provides structured logging, Prometheus metrics, health
// checks, and OpenTelemetry tracing.
//
// # Structured Logging
//
// Create a logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("scope", name).Info("scope updated")
//	logger.WithError(err).Error("store refresh failed")
//
// # Prometheus Metrics
//
// Register metrics on a dedicated registry:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.DecisionsTotal.WithLabelValues("allow", "granted").Inc()
//
// # Health Checks
//
// The health checker probes the database and Redis when configured; both are
// optional and nil-safe:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//
// # OpenTelemetry
//
// Initialize tracing:
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		ServiceName:  "mcpgate",
//		OTLPEndpoint: "otel-collector:4317",
//	}, logger)
//	defer providers.Shutdown(ctx)
//
// # Graceful Shutdown
//
// ShutdownManager drains HTTP servers and runs registered cleanup hooks on
// SIGINT/SIGTERM.
package observability
