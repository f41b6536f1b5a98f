// ROA Designer - conversational design assistant server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/roa-designer/internal/api"
	"github.com/ashureev/roa-designer/internal/chatlog"
	"github.com/ashureev/roa-designer/internal/chatws"
	"github.com/ashureev/roa-designer/internal/config"
	"github.com/ashureev/roa-designer/internal/decision"
	"github.com/ashureev/roa-designer/internal/health"
	"github.com/ashureev/roa-designer/internal/identity"
	"github.com/ashureev/roa-designer/internal/imagejob"
	"github.com/ashureev/roa-designer/internal/metrics"
	"github.com/ashureev/roa-designer/internal/middleware"
	"github.com/ashureev/roa-designer/internal/session"
	"github.com/ashureev/roa-designer/internal/store"
	"github.com/ashureev/roa-designer/internal/upload"
	"github.com/ashureev/roa-designer/internal/workflow"
	"github.com/ashureev/roa-designer/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	httpClient := &http.Client{Timeout: cfg.HTTP.ClientTimeout}

	renderer := imagejob.NewClient(imagejob.ClientConfig{
		BaseURL:      cfg.Bannerbear.BaseURL,
		APIKey:       cfg.Bannerbear.APIKey,
		PollInterval: cfg.Generation.PollInterval,
		HTTPClient:   httpClient,
	}, logger)

	templates, err := imagejob.NewCatalog(renderer, logger).Load(ctx)
	if err != nil {
		slog.Error("Failed to load template catalog", "error", err)
		os.Exit(1)
	}
	if len(templates) == 0 {
		slog.Error("Template catalog is empty")
		os.Exit(1)
	}
	slog.Info("Template catalog loaded", "templates", len(templates))

	decider, err := decision.NewGeminiDecider(ctx, decision.Config{
		APIKey: cfg.Gemini.APIKey,
		Model:  cfg.Gemini.Model,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize decision model", "error", err)
		os.Exit(1)
	}

	convLog, err := chatlog.New(chatlog.Config{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := convLog.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	controller := workflow.NewController(renderer, cfg.Generation.Timeout, logger)
	turns := workflow.NewService(workflow.ServiceConfig{
		Decider: decider,
		Uploader: upload.New(upload.Config{
			UploadURL:  cfg.FreeImage.UploadURL,
			APIKey:     cfg.FreeImage.APIKey,
			HTTPClient: httpClient,
		}, logger),
		Controller:   controller,
		Templates:    templates,
		HistoryLimit: cfg.Gemini.HistoryLimit,
		ConvLog:      convLog,
	}, logger)

	sessions := session.NewManager(repo, cfg.SessionTTL, logger)
	conns := chatws.NewRegistry()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, sessions)
	healthHandler := api.NewHealthHandler(repo, cfg.HTTP.HealthCheckTimeout)
	chatHandler := api.NewChatHandler(baseHandler, turns,
		api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		cfg.HTTP.MaxRequestBodySize)
	wsHandler := chatws.NewHandler(chatHandler, conns,
		func(err error) bool { return errors.Is(err, api.ErrRateLimited) },
		cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.AllowedOrigins(cfg.FrontendURL, cfg.IsDevelopment())))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", metrics.Handler())

	// Identity-scoped routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		chatHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Generation can take minutes, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	session.StartSweeper(ctx, repo, cfg.SessionTTL)
	slog.Info("Session sweeper started", "session_ttl", cfg.SessionTTL)

	if cfg.GRPCHealthAddr != "" {
		hs := health.NewServer(repo, 0, logger)
		if err := hs.Listen(cfg.GRPCHealthAddr); err != nil {
			slog.Error("Failed to start gRPC health server", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := hs.Serve(ctx); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	conns.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
