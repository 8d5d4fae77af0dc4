// Package main is the entry point for the eventbell API server.
//
// It loads configuration, connects to Postgres, wires the repositories,
// services and handlers, and serves the chi router. Locally it runs as a
// standard HTTP server with graceful shutdown on SIGINT/SIGTERM; inside AWS
// Lambda it serves API Gateway HTTP API events.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/go-chi/chi/v5"

	"eventbell/internal/api/handlers"
	"eventbell/internal/billing"
	"eventbell/internal/commands"
	"eventbell/internal/config"
	"eventbell/internal/core"
	"eventbell/internal/db"
	"eventbell/internal/external"
	"eventbell/internal/registration"
	"eventbell/internal/schedule"
	"eventbell/internal/tenant"
	"eventbell/internal/types"
)

// metricsFlushInterval is how often the HTTP server publishes request
// metrics. In Lambda they are flushed after every invocation.
const metricsFlushInterval = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	ctx := context.Background()

	// SSM resolution is bypassed when APP_ENV=local.
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("eventbell API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	clients, err := external.NewClientRegistry(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating clients: %w", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Closers = append(srv.Closers, pool.Close)
	srv.HealthProbes = append(srv.HealthProbes, db.NewPoolProbe(pool))

	if err := wireRoutes(srv, cfg, pool, clients, logger); err != nil {
		_ = srv.Shutdown(ctx)
		return err
	}

	metrics, err := newRequestMetrics(ctx, cfg, logger)
	if err != nil {
		_ = srv.Shutdown(ctx)
		return err
	}
	if metrics != nil {
		srv.Metrics = metrics
	}

	// Mount all routes (middleware chain + versioned endpoints + health).
	srv.MountRoutes()

	if isLambdaEnvironment() {
		var flush func(context.Context)
		if metrics != nil {
			flush = metrics.Flush
		}
		return runLambda(srv, flush, logger)
	}

	if metrics != nil {
		metricsCtx, stop := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			metrics.Run(metricsCtx, metricsFlushInterval)
			close(done)
		}()
		srv.Closers = append([]func(){func() { stop(); <-done }}, srv.Closers...)
	}
	return runHTTPServer(srv, cfg, logger)
}

// newRequestMetrics returns a CloudWatch request collector when metrics are
// enabled, otherwise nil.
func newRequestMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core.CloudWatchRequestMetrics, error) {
	if !cfg.Observability.EnableMetrics {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	return core.NewCloudWatchRequestMetrics(client, cfg.Observability.MetricNamespace, logger), nil
}

// wireRoutes builds the domain services over pool and registers their
// handlers on srv.
func wireRoutes(srv *core.Server, cfg *config.Config, pool db.DBTX, clients *external.ClientRegistry, logger *slog.Logger) error {
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return fmt.Errorf("loading schedule zone: %w", err)
	}

	tenants := db.NewTenantRepository(pool)
	applicants := db.NewApplicantRepository(pool)
	applications := db.NewApplicationRepository(pool)
	deliveries := db.NewDeliveryRepository(pool)

	credentials := tenant.NewResolver(tenant.ResolverConfig{
		Store: tenants,
		Defaults: types.TenantCredentials{
			ChannelToken:  cfg.Messaging.DefaultChannelToken,
			ChannelSecret: cfg.Messaging.DefaultChannelSecret,
		},
		TTL:    cfg.Messaging.CredentialCacheTTL,
		Logger: logger,
	})
	gate := billing.NewGate(db.NewQuotaRepository(pool), billing.NewStaticPlanRegistry())
	templates := schedule.NewTemplateSource(db.NewTemplateRepository(pool), logger)
	resolver := schedule.NewResolver(loc)

	registrar := registration.NewService(registration.Config{
		Validator:    srv.Validator,
		Tenants:      tenants,
		Applicants:   applicants,
		Applications: applications,
		Quota:        gate,
		Builder: schedule.NewBuilder(schedule.BuilderConfig{
			Templates: templates,
			Resolver:  resolver,
			Quota:     gate,
			Store:     deliveries,
			Logger:    logger,
		}),
		Templates:   templates,
		Resolver:    resolver,
		Credentials: credentials,
		Messenger:   clients.Messenger,
		Logger:      logger,
	})

	cmds := commands.NewHandler(commands.Config{
		Applicants:   applicants,
		Applications: applications,
		Deliveries:   deliveries,
		AutoReplies:  tenants,
		Credentials:  credentials,
		Messenger:    clients.Messenger,
		Templates:    templates,
		Logger:       logger,
	})

	registrationHandler := handlers.NewRegistrationHandler(registrar, logger)
	webhookHandler := handlers.NewWebhookHandler(clients.Verifier, credentials, cmds, logger)
	usageHandler := handlers.NewUsageHandler(gate, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(srv.TenantRateLimit)
			registrationHandler.RegisterRoutes(r)
			usageHandler.RegisterRoutes(r)
			webhookHandler.RegisterRoutes(r)
		})
	})
	return nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Releases the database pool.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
