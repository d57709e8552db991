package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mcpgate/mcpgate/pkg/audit"
	"github.com/mcpgate/mcpgate/pkg/auth"
	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/httputil"
	"github.com/mcpgate/mcpgate/pkg/observability"
	"github.com/mcpgate/mcpgate/pkg/scopes"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatalf("mcpgate: %v", err)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("starting mcpgate")

	// OpenTelemetry tracing
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Scope store
	var db *sql.DB
	var store scopes.Store
	var indexed *scopes.IndexedStore
	var redisStore *scopes.RedisStore

	switch cfg.Store.Type {
	case "memory":
		store = scopes.NewMemoryStore()

	case "file":
		fileStore, err := scopes.NewFileStore(cfg.Store.FileRoot, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize file store: %w", err)
		}
		store = fileStore

	case "postgres":
		db, err = sql.Open("postgres", cfg.Store.PostgresURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Store.PostgresMaxConns)
		defer db.Close()

		pingCtx, cancel := context.WithTimeout(ctx, cfg.Store.PostgresTimeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}

		sqlStore, err := scopes.NewSQLStore(db)
		if err != nil {
			return fmt.Errorf("failed to initialize sql store: %w", err)
		}

		var durable scopes.Store = sqlStore
		if cfg.Store.RedisEnabled {
			redisStore, err = scopes.NewRedisStore(durable, cfg.Store.RedisAddr, cfg.Store.RedisPassword)
			if err != nil {
				return fmt.Errorf("failed to initialize redis cache: %w", err)
			}
			durable = redisStore
		}

		indexed, err = scopes.NewIndexedStore(ctx, durable)
		if err != nil {
			return fmt.Errorf("failed to load scope index: %w", err)
		}
		store = indexed
	}
	if cfg.Observability.MetricsEnabled {
		store = scopes.NewInstrumentedStore(store, cfg.Store.Type, metrics)
	}
	defer store.Close()

	// Resolution and decision pipeline
	resolver := scopes.NewResolver(store)
	cache, err := scopes.NewPermissionCache(resolver, store, cfg.Decisions.CacheSize, cfg.Decisions.CacheTTL)
	if err != nil {
		return fmt.Errorf("failed to create permission cache: %w", err)
	}
	if cfg.Observability.MetricsEnabled {
		cache.SetMetrics(metrics)
	}

	// Audit sinks
	auditor, auditDB, err := buildAuditLogger(cfg, db)
	if err != nil {
		return err
	}

	decisions := scopes.NewDecisionPoint(cache, auditor, logger, metrics, cfg.Decisions.DecisionTimeout)
	virtual := scopes.NewVirtualServerResolver()
	stats := scopes.NewStatsService(version, store, cache, decisions.Stats())

	// API router
	router := mux.NewRouter()
	handlers := scopes.NewHandlers(store, cache, decisions, virtual, stats, auditor, auditDB, logger)
	handlers.RegisterRoutes(router)

	middlewares := []func(http.Handler) http.Handler{
		httputil.RecoveryMiddleware(logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.CORSMiddleware(cfg.Server.AllowedOrigins),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	}
	if cfg.Observability.MetricsEnabled {
		middlewares = append(middlewares, observability.HTTPMetricsMiddleware(metrics))
	}
	if cfg.Auth.Enabled {
		authenticator, err := auth.NewOIDCAuthenticator(ctx, auth.OIDCConfig{
			IssuerURL:   cfg.Auth.IssuerURL,
			ClientID:    cfg.Auth.ClientID,
			GroupsClaim: cfg.Auth.GroupsClaim,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize OIDC authenticator: %w", err)
		}
		middlewares = append(middlewares, auth.Middleware(authenticator, logger))
	}

	var apiHandler http.Handler = httputil.Chain(middlewares...)(router)
	if cfg.Observability.OTelEnabled {
		apiHandler = otelhttp.NewHandler(apiHandler, "mcpgate")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics server on a separate port for probes
	var redisClient = redisClientOf(redisStore)
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
		return observability.ShutdownOTel(shutdownCtx, otelProviders, logger)
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return auditor.Close()
	})

	// Background index refresh keeps decisions off the database
	if indexed != nil {
		refresher := scopes.NewRefresher(indexed, cfg.Store.RefreshInterval, logger, metrics)
		refresher.Start()
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			refresher.Stop()
			return nil
		})
	}

	// Optional S3 snapshots
	if cfg.Store.BackupEnabled {
		backups, err := scopes.NewBackupWriter(ctx, scopes.BackupConfig{
			Bucket:       cfg.Store.S3Bucket,
			Region:       cfg.Store.S3Region,
			Prefix:       cfg.Store.S3KeyPrefix,
			Endpoint:     cfg.Store.S3Endpoint,
			AccessKey:    cfg.Store.S3AccessKey,
			SecretKey:    cfg.Store.S3SecretKey,
			UsePathStyle: cfg.Store.S3UsePathStyle,
		}, store, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize backup writer: %w", err)
		}
		backupCtx, cancelBackups := context.WithCancel(ctx)
		go backups.Schedule(backupCtx, cfg.Store.BackupInterval)
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			cancelBackups()
			return nil
		})
	}

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("api server failed")
		}
	}()

	return shutdown.WaitForShutdown()
}

// buildAuditLogger assembles the configured audit sinks. Decision and
// mutation events always go somewhere; with no sink configured they fall
// through to a no-op multi logger.
func buildAuditLogger(cfg *config.Config, db *sql.DB) (audit.Logger, *audit.DBLogger, error) {
	var sinks []audit.Logger
	var dbLogger *audit.DBLogger

	if cfg.Audit.FileEnabled {
		fileLogger, err := audit.NewFileLogger(cfg.Audit.FilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		sinks = append(sinks, fileLogger)
	}

	if cfg.Audit.DBEnabled {
		var err error
		dbLogger, err = audit.NewDBLogger(db)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize audit database: %w", err)
		}
		sinks = append(sinks, dbLogger)
	}

	return audit.NewMultiLogger(sinks...), dbLogger, nil
}

func redisClientOf(store *scopes.RedisStore) *redis.Client {
	if store == nil {
		return nil
	}
	return store.Client()
}
