/*
Package main is the entry point of the StudySphere chat server.

It loads configuration, initializes the global logging system, wires the
storage, presence and fan-out backends, starts the HTTP server and handles
SIGINT/SIGTERM for a graceful shutdown.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studysphere/internal/app/chat"
	"studysphere/internal/app/db"
	"studysphere/internal/app/messaging"
	"studysphere/internal/app/presence"
	"studysphere/internal/configs"
	"studysphere/internal/handler"
	"studysphere/internal/pkg/logx"
)

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Bool("postgres", cfg.DatabaseDSN != "").
		Bool("redis", cfg.RedisURL != "").
		Bool("nats", cfg.NatsURL != "").
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	var repo chat.Repository
	if cfg.DatabaseDSN != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			logx.Fatal(err, "Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		repo = db.NewChatRepository(pool)
	} else {
		logx.Warn("DATABASE_URL not set. Using in-memory storage; data is lost on restart.")
		repo = chat.NewMemoryRepository()
	}

	// Presence
	var tracker presence.Tracker = presence.NewMemoryTracker()
	if cfg.RedisURL != "" {
		rdb, err := presence.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logx.Fatal(err, "Failed to connect to Redis")
		}
		defer rdb.Close()
		tracker = presence.NewRedisTrackerWithTTL(rdb, cfg.PresenceTTL)
	}

	// Fan-out
	var bus messaging.Bus = messaging.NewLocalBus()
	if cfg.NatsURL != "" {
		natsBus, err := messaging.NewNATSBus(messaging.DefaultNATSConfig(cfg.NatsURL))
		if err != nil {
			logx.Fatal(err, "Failed to connect to NATS")
		}
		bus = natsBus
	}
	defer bus.Close()

	manager, err := chat.NewManager(bus)
	if err != nil {
		logx.Fatal(err, "Failed to start chat manager")
	}

	service := chat.NewService(repo, manager, tracker)
	if cfg.SeedRooms {
		if err := service.SeedDefaultRooms(ctx); err != nil {
			logx.Fatal(err, "Failed to seed default rooms")
		}
	}

	router := handler.Router(&handler.AppDeps{Service: service, Config: cfg})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logx.Info("StudySphere chat server starting", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	manager.Shutdown()

	logx.Info("Server gracefully stopped.")
}
