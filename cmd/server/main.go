// Provit - chat session server for the "prove you're human" game.
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/provit/internal/api"
	"github.com/ashureev/provit/internal/chat"
	"github.com/ashureev/provit/internal/config"
	"github.com/ashureev/provit/internal/inference"
	"github.com/ashureev/provit/internal/live"
	"github.com/ashureev/provit/internal/middleware"
	"github.com/ashureev/provit/internal/probe"
	"github.com/ashureev/provit/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Backend)

	// Initialize storage.
	kv, err := store.Open(store.OpenConfig{
		Backend: cfg.Store.Backend,
		DBPath:  cfg.Store.DBPath,
		Dir:     cfg.Store.Dir,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := kv.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	if pinger, ok := kv.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(context.Background()); err != nil {
			slog.Error("Database health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Database connected")
	}

	chats := store.NewChatStore(kv, store.ChatStoreConfig{
		Key:   cfg.Store.Key,
		Limit: cfg.Store.MaxSessions,
	}, logger)

	// Initialize inference client.
	var client inference.Client
	if cfg.Inference.Offline {
		client = inference.NewOfflineClient(uint64(time.Now().UnixNano()))
		slog.Info("Inference running offline with canned replies")
	} else {
		client = inference.NewHTTPClient(inference.ClientConfig{
			BaseURL: cfg.Inference.BaseURL,
			Timeout: cfg.Inference.Timeout,
		}, logger)
		slog.Info("Inference backend configured", "base_url", cfg.Inference.BaseURL)
	}

	// Initialize services.
	ctrl := chat.New(chats, client, chat.Config{
		SaveDebounce: cfg.SaveDebounce,
		NameTimeout:  cfg.Inference.NameTimeout,
	}, logger)
	ctrl.Initialize(context.Background())

	healthProbe := probe.New(ctrl, cfg.HealthProbeSchedule, logger)
	if err := healthProbe.Start(); err != nil {
		slog.Error("Failed to start health probe", "error", err)
		os.Exit(1)
	}

	hub := live.NewHub(logger)

	// Initialize handlers.
	apiHandler := api.NewHandler(ctrl, healthProbe, logger)
	wsHandler := live.NewHandler(ctrl, hub, cfg.CORSOrigins, cfg.IsDevelopment(), logger)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.CORSOptions{
		AllowedOrigins: origins,
		MaxAge:         10 * time.Minute,
	}))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/state", wsHandler.ServeHTTP)

	// A chat turn holds its request open until the backend answers, so the
	// write timeout must outlast the inference timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.CloseAll("server shutting down")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	healthProbe.Stop()

	if err := ctrl.Close(shutdownCtx); err != nil {
		slog.Warn("Chat history may be incomplete", "error", err)
	}

	slog.Info("Server stopped successfully")
}
