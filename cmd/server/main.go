package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmscreen/sessionfeed/internal/api"
	"github.com/dmscreen/sessionfeed/internal/auth"
	"github.com/dmscreen/sessionfeed/internal/config"
	"github.com/dmscreen/sessionfeed/internal/engine"
	"github.com/dmscreen/sessionfeed/internal/store"
	ws "github.com/dmscreen/sessionfeed/internal/websocket"
	"github.com/dmscreen/sessionfeed/internal/worker"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to read .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event store, presence and session access
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database ready")

	health := map[string]api.Pinger{"database": db}

	var presence engine.PresenceStore = db
	var limiter api.PollLimiter
	if cfg.RedisURL != "" {
		rs, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rs.Close()
		health["redis"] = rs
		logger.Info("connected to Redis")

		if cfg.PresenceBackend == config.PresenceBackendRedis {
			presence = rs
		}
		if cfg.PollRateLimit > 0 {
			limiter = engine.NewRateLimiter(rs.Client(), time.Second, logger)
		}
	}

	// Publish notifications: NATS when configured so every instance wakes,
	// otherwise in-process only.
	var notifier engine.Notifier = engine.NewLocalNotifier()
	if cfg.NATSURL != "" {
		nn, err := engine.NewNATSNotifier(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		defer nn.Close()
		notifier = nn
		logger.Info("connected to NATS")
	}

	publisher := engine.NewPublisher(db, notifier, logger)
	polls := engine.NewPollService(db, presence, db, logger, engine.PollOptions{
		BatchSize:      cfg.PollBatchSize,
		PresenceWindow: cfg.PresenceWindow,
		MaxWait:        cfg.PollMaxWait,
		Notifier:       notifier,
	})

	hub := ws.NewHub(db, notifier, cfg.PollBatchSize, logger)
	go hub.Run()

	sweeper := worker.NewSweeper(db, cfg.SweepInterval, cfg.EventRetention, logger)
	go sweeper.Start(ctx)

	router := api.NewRouter(api.Dependencies{
		Auth:      auth.NewAuthenticator(cfg.JWTSecret),
		Polls:     polls,
		Publisher: publisher,
		Limiter:   limiter,
		RateLimit: cfg.PollRateLimit,
		Hub:       hub,
		Health:    health,
		Logger:    logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port,
			"presence_backend", cfg.PresenceBackend,
			"poll_max_wait", cfg.PollMaxWait,
			"poll_rate_limit", cfg.PollRateLimit)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
