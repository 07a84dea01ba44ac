// Backroom - dual-agent conversation server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/ashureev/backroom/internal/api"
	"github.com/ashureev/backroom/internal/config"
	"github.com/ashureev/backroom/internal/effect"
	"github.com/ashureev/backroom/internal/health"
	"github.com/ashureev/backroom/internal/identity"
	"github.com/ashureev/backroom/internal/middleware"
	"github.com/ashureev/backroom/internal/provider"
	"github.com/ashureev/backroom/internal/scheduler"
	"github.com/ashureev/backroom/internal/session"
	"github.com/ashureev/backroom/internal/store"
	"github.com/ashureev/backroom/internal/stream"
	"github.com/ashureev/backroom/internal/transcript"
	"github.com/ashureev/backroom/internal/trigger"
	"github.com/ashureev/backroom/web"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if lvl, err := config.ParseLogLevel(cfg.LogLevel); err == nil {
		level.Set(lvl)
	}

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	scenarios, err := config.LoadScenarioFile(cfg.ScenarioFile)
	if err != nil {
		slog.Error("Failed to load scenario file", "error", err, "path", cfg.ScenarioFile)
		os.Exit(1)
	}
	triggers, err := trigger.NewRegistry(scenarios.Triggers...)
	if err != nil {
		slog.Error("Failed to compile trigger definitions", "error", err)
		os.Exit(1)
	}
	slog.Info("Scenarios loaded", "presets", len(scenarios.Scenarios), "trigger_kinds", triggers.Kinds())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	hub := stream.NewHub(cfg.Stream.ReplaySize, cfg.Stream.BufferSize, logger)
	viewers := stream.NewViewers()

	transcripts, err := transcript.New(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript writer", "error", err)
		os.Exit(1)
	}

	resolver := provider.NewResolver(provider.Config{
		OpenAIAPIKey:    cfg.Providers.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.Providers.OpenAIBaseURL,
		XAIAPIKey:       cfg.Providers.XAIAPIKey,
		XAIBaseURL:      cfg.Providers.XAIBaseURL,
		OllamaBaseURL:   cfg.Providers.OllamaBaseURL,
		AnthropicAPIKey: cfg.Providers.AnthropicAPIKey,
		RatePerMinute:   cfg.Providers.RatePerMinute,
		RateBurst:       cfg.Providers.RateBurst,
	})

	var collaborator effect.Collaborator = effect.DryRun{}
	if cfg.SideEffects.WebhookURL != "" {
		collaborator = &effect.Webhook{
			URL:    cfg.SideEffects.WebhookURL,
			Token:  cfg.SideEffects.WebhookToken,
			Client: &http.Client{Timeout: cfg.SideEffects.Timeout},
		}
		slog.Info("Side effects forwarded to webhook", "url", cfg.SideEffects.WebhookURL)
	} else {
		slog.Info("Side effects running in dry-run mode")
	}
	effects := effect.NewHandler(collaborator, cfg.SideEffects.Timeout, logger)

	registry := session.NewRegistry(session.Config{
		ContextWindow:   cfg.Scheduler.ContextWindow,
		HistoryLimit:    cfg.Scheduler.HistoryLimit,
		InterTurnDelay:  cfg.Scheduler.InterTurnDelay,
		ProviderTimeout: cfg.Scheduler.ProviderTimeout,
		Retry: scheduler.RetryPolicy{
			BaseDelay:      cfg.Scheduler.RetryBaseDelay,
			MaxDelay:       cfg.Scheduler.RetryMaxDelay,
			MaxConsecutive: cfg.Scheduler.RetryMaxConsecutive,
		},
	}, session.Deps{
		Store:     repo,
		Resolver:  resolver,
		Triggers:  triggers,
		Effects:   effects,
		Publisher: hub,
		Metrics:   scheduler.DefaultMetrics(),
		Logger:    logger,
		Presets:   scenarios.Scenarios,
	})

	// Initialize handlers.
	baseHandler := api.NewHandler(registry, logger)
	sessionHandler := api.NewSessionHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo, registry)
	sseHandler := stream.NewSSEHandler(hub, cfg.Stream.KeepaliveInterval)
	wsHandler := stream.NewWebSocketHandler(hub, viewers, cfg.FrontendURL, cfg.IsDevelopment(), cfg.Stream.KeepaliveInterval)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	allowed := []string{"*"}
	if !cfg.IsDevelopment() {
		allowed = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(allowed))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())

	// Control routes require CONTROL_API_TOKEN when set.
	if cfg.ControlAPIToken == "" {
		slog.Warn("CONTROL_API_TOKEN not set, control endpoints are open")
	}
	sessionHandler.RegisterRoutes(r, identity.Middleware(cfg.ControlAPIToken))

	// Observer streams.
	r.Get("/api/events", sseHandler.ServeHTTP)
	r.Get("/api/sessions/{id}/events", sseHandler.ServeHTTP)
	r.Get("/ws", wsHandler.ServeHTTP)

	// Serve embedded viewer (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker(repo, 0, logger)
	checker.Start(ctx)

	// The transcript consumer drains until hub.Close so shutdown events are kept.
	transcriptSub := hub.Subscribe("")
	transcriptDone := make(chan struct{})
	go func() {
		defer close(transcriptDone)
		transcripts.Consume(context.Background(), transcriptSub.C())
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.GRPCPort != "" {
		grpcSrv := health.NewGRPCServer(checker, grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    2 * time.Minute,
			Timeout: 20 * time.Second,
		}))
		g.Go(func() error {
			lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
			if err != nil {
				return err
			}
			slog.Info("gRPC health server listening", "addr", lis.Addr().String())
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	// Wait for shutdown signal or a listener failure.
	<-gctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := registry.Shutdown(shutdownCtx); err != nil {
		slog.Error("Sessions did not stop in time", "error", err)
	}
	viewers.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	hub.Close()
	<-transcriptDone
	if err := transcripts.Close(); err != nil {
		slog.Error("Failed to flush transcripts", "error", err)
	}

	if err := g.Wait(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
