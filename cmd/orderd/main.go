// Package main is the entry point for the orderd server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotiride/orderd/internal/auth"
	"github.com/rotiride/orderd/internal/config"
	"github.com/rotiride/orderd/internal/firebase"
	"github.com/rotiride/orderd/internal/handlers"
	"github.com/rotiride/orderd/internal/observability"
	"github.com/rotiride/orderd/internal/router"
	"github.com/rotiride/orderd/internal/server"
	"github.com/rotiride/orderd/internal/session"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)

	run(cfg, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("ORDERD_CONFIG_PATH", "configs/orderd.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("ORDERD_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("ORDERD_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("orderd version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting orderd",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	if err := config.Validate(cfg); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	return cfg
}

// run wires the application together and blocks until shutdown.
func run(cfg *config.Config, logger observability.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics("orderd")

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  "orderd",
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracing", observability.Error(err))
	}

	// Durable-store connection failure at startup is fatal.
	backend, err := session.NewRedisBackend(&cfg.Redis,
		logger.With(observability.String("component", "session-backend")))
	if err != nil {
		logger.Fatal("failed to connect to session store", observability.Error(err))
	}
	defer func() { _ = backend.Close() }()

	store := session.NewStore(backend,
		session.WithStoreLogger(logger.With(observability.String("component", "session-store"))),
		session.WithStoreMetrics(session.NewMetrics("orderd", metrics.Registerer())),
	)
	store.StartSweeper(ctx, &cfg.Session)

	firebaseMetrics := firebase.NewMetrics("orderd", metrics.Registerer())
	client := firebase.NewClient(&cfg.Firebase,
		firebase.WithClientLogger(logger.With(observability.String("component", "firebase"))),
		firebase.WithClientMetrics(firebaseMetrics),
	)
	verifier := firebase.NewVerifier(&cfg.Firebase,
		firebase.WithVerifierLogger(logger.With(observability.String("component", "firebase"))),
		firebase.WithVerifierMetrics(firebaseMetrics),
	)

	roles := auth.NewStaticRoleDirectory(&cfg.Roles)
	authMetrics := auth.NewMetrics("orderd", metrics.Registerer())
	authenticator := auth.NewAuthenticator(store, verifier, client, roles,
		auth.WithLogger(logger.With(observability.String("component", "auth"))),
		auth.WithMetrics(authMetrics),
	)

	registry := router.NewRegistry()
	registry.Register(router.NewLoggingMiddleware(logger.With(observability.String("component", "http"))))
	registry.Register(router.NewValidationMiddleware(&cfg.Server))
	registry.Register(router.NewCORSMiddleware())
	registry.Register(router.NewAuthMiddleware(authenticator))
	registry.Register(router.NewRateLimitMiddleware(&cfg.RateLimit))

	rt := router.NewRouter(logger.With(observability.String("component", "router")),
		router.WithDenialRecorder(authMetrics.RecordDenial))
	svc := &handlers.Services{
		Auth:     authenticator,
		Sessions: store,
		Backend:  backend,
		Logger:   logger,
	}
	if err := handlers.Register(rt, registry, svc); err != nil {
		logger.Fatal("failed to register routes", observability.Error(err))
	}
	logger.Info("routes registered", observability.Int("count", rt.Routes()))

	srv := server.New(&cfg.Server, rt,
		server.WithServerLogger(logger.With(observability.String("component", "server"))),
		server.WithServerMetrics(metrics),
	)

	// Endpoint bind failure at startup is fatal.
	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", observability.Error(err))
	}

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Address, metrics,
			logger.With(observability.String("component", "metrics")))
		if err := metricsServer.Start(); err != nil {
			logger.Fatal("failed to start metrics server", observability.Error(err))
		}
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", observability.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			logger.Error("server terminated", observability.Error(err))
		}
	}

	cancel()
	if err := srv.Shutdown(); err != nil {
		logger.Error("server shutdown failed", observability.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", observability.Error(err))
		}
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", observability.Error(err))
	}

	logger.Info("orderd stopped")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
