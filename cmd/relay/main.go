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
	"github.com/go-chi/cors"

	httpAdapter "github.com/lorrc/receipt-relay/internal/adapters/primary/http"
	mw "github.com/lorrc/receipt-relay/internal/adapters/primary/http/middleware"
	"github.com/lorrc/receipt-relay/internal/adapters/primary/websocket"
	"github.com/lorrc/receipt-relay/internal/adapters/secondary/pubsub"
	"github.com/lorrc/receipt-relay/internal/config"
	"github.com/lorrc/receipt-relay/internal/infrastructure/logging"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Structured Logger
	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})

	logger.Info("starting relay",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"project", cfg.PubSub.ProjectID,
		"topic", cfg.PubSub.TopicID,
	)

	// 3. Connect to the pub/sub channel. Unreachable broker at startup
	// is a configuration failure and aborts the process.
	channel, err := pubsub.Connect(pubsub.Options{
		URL:            cfg.PubSub.URL,
		ConnectTimeout: cfg.PubSub.ConnectTimeout,
		ReconnectWait:  cfg.PubSub.ReconnectWait,
		MaxReconnects:  cfg.PubSub.MaxReconnects,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to pub/sub channel", "error", err)
		os.Exit(1)
	}
	defer channel.Close()
	logger.Info("pub/sub channel connected")

	// 4. Wire the relay core: registry, hub, listener
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := websocket.NewRegistry(cfg.WebSocket.MaxConnections)
	hub := websocket.NewHub(registry, logger)
	go hub.Run(ctx)

	listener := pubsub.NewListener(channel, hub, pubsub.ListenerOptions{
		Project:    cfg.PubSub.ProjectID,
		Topic:      cfg.PubSub.TopicID,
		Durable:    cfg.PubSub.SubscriptionID,
		MinBackoff: cfg.PubSub.RetryMinBackoff,
		MaxBackoff: cfg.PubSub.RetryMaxBackoff,
	}, logger)
	go listener.Run(ctx)

	// 5. Handlers (Primary Adapters)
	wsHandler := httpAdapter.NewWebSocketHandler(hub, cfg, logger)
	healthHandler := httpAdapter.NewHealthHandler(channel, hub, cfg.App.Version)

	// 6. Setup Router
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
	}))

	// Health check endpoints for standard probe paths
	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/health/live", healthHandler.HandleLiveness)
	r.Get("/health/ready", healthHandler.HandleReadiness)

	// The upgrade endpoint, rate limited against reconnect storms
	r.Group(func(r chi.Router) {
		if cfg.RateLimit.Enabled {
			limiter := mw.NewRateLimiter(mw.RateLimiterConfig{
				RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
				BurstSize:         cfg.RateLimit.BurstSize,
				CleanupInterval:   time.Minute,
				TTL:               3 * time.Minute,
			})
			r.Use(limiter.Middleware)
		}
		r.Get("/ws", wsHandler.ServeHTTP)
	})

	// 7. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutdown signal received", "signal", sig.String())

	// Stop accepting new connections first, then tear down the
	// listener and every client loop.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	cancel()

	logger.Info("relay shutdown complete")
}
