package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cardvault/storefront/api"
	"github.com/cardvault/storefront/internal"
	"github.com/cardvault/storefront/internal/auth"
	"github.com/cardvault/storefront/internal/inventory"
	"github.com/cardvault/storefront/internal/observability"
	"github.com/cardvault/storefront/internal/pricing"
	"github.com/cardvault/storefront/internal/ratelimit"
	"github.com/cardvault/storefront/internal/reconciliation"
	"github.com/cardvault/storefront/internal/transport"
	"github.com/cardvault/storefront/internal/transport/rest"
	"github.com/cardvault/storefront/internal/transport/swagger"
	"github.com/cardvault/storefront/internal/webhook"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server receiving payment notifications and operator requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config         *internal.Config
	Pipeline       *Pipeline
	Dispatcher     *webhook.Dispatcher
	Redis          *redis.Client
	Router         *chi.Mux
	Logger         *slog.Logger
	TracerShutdown func(context.Context) error
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// stop accepting notifications first, then let queued ones finish
	if err := server.Shutdown(ctx); err != nil {
		deps.Logger.Error("Server shutdown error", "error", err)
	}
	if err := deps.Dispatcher.Shutdown(ctx); err != nil {
		deps.Logger.Error("Dispatcher shutdown error", "error", err)
	}
	deps.Pipeline.Close()
	if deps.Redis != nil {
		_ = deps.Redis.Close()
	}
	if err := deps.TracerShutdown(ctx); err != nil {
		deps.Logger.Error("Tracer shutdown error", "error", err)
	}

	deps.Logger.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	lg := setupLogger(config)

	tracerShutdown, err := observability.InitTracing(config.Observability.Tracing, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if _, err := swagger.Load(context.Background(), api.OpenAPISpec); err != nil {
		return nil, err
	}

	pipeline, err := buildPipeline(config, lg)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if strings.EqualFold(config.Webhook.RateLimit.Backend, ratelimit.BackendRedis) {
		rdb = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
	}
	limiter, err := ratelimit.New(config.Webhook.RateLimit, rdb)
	if err != nil {
		pipeline.Close()
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	dispatcher := webhook.NewDispatcher(pipeline.Reconciler, webhook.DispatcherConfig{
		Workers:    config.Webhook.Workers,
		QueueSize:  config.Webhook.QueueSize,
		AckTimeout: config.Webhook.AckTimeout,
	}, lg)
	dispatcher.Start()

	base := transport.NewBaseHandler(lg)
	health := map[string]rest.Pinger{"postgres": pipeline.DB}
	if rdb != nil {
		health["redis"] = rest.PingerFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	routes := rest.Routes{
		Health:          rest.NewHealthHandler(health),
		Webhook:         webhook.NewHandler(base, dispatcher, pipeline.Audit),
		WebhookLimiter:  limiter,
		Inventory:       inventory.NewHandler(base, pipeline.Ledger),
		Pricing:         pricing.NewHandler(base, pipeline.Pricing),
		Reconciliations: reconciliation.NewHandler(base, pipeline.Records, pipeline.Audit),
		OpenAPISpec:     api.OpenAPISpec,
		AllowedOrigins:  config.Server.AllowedOrigins,
	}
	if config.Observability.Metrics.Enabled {
		routes.MetricsPath = config.Observability.Metrics.Path
	}
	if config.Security.JWTPublicKey != "" {
		publicKey, err := config.Security.GetPublicKey()
		if err != nil {
			return nil, fmt.Errorf("failed to load operator token key: %w", err)
		}
		routes.Tokens = auth.NewJWTVerifier(publicKey, config.Security.Issuer)
		routes.RBAC = auth.NewRBACAuthorization(auth.NewPermissionChecker(), lg)
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, routes, lg)

	return &Dependencies{
		Config:         config,
		Pipeline:       pipeline,
		Dispatcher:     dispatcher,
		Redis:          rdb,
		Router:         router,
		Logger:         lg,
		TracerShutdown: tracerShutdown,
	}, nil
}
