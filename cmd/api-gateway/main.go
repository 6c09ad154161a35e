package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cheildo/nexus-clash-matchmaker/internal/apigateway"
	"github.com/cheildo/nexus-clash-matchmaker/internal/auth"
	"github.com/cheildo/nexus-clash-matchmaker/internal/broker"
	"github.com/cheildo/nexus-clash-matchmaker/internal/config"
	"github.com/cheildo/nexus-clash-matchmaker/internal/matchmaking"
	"github.com/cheildo/nexus-clash-matchmaker/internal/pkg/database"
	"github.com/cheildo/nexus-clash-matchmaker/internal/pkg/logging"
	"github.com/cheildo/nexus-clash-matchmaker/internal/pkg/monitoring"
	"github.com/cheildo/nexus-clash-matchmaker/internal/pkg/redis"
)

const serviceName = "api-gateway"

func main() {
	// --- Configuration Loading ---
	cfg, err := config.Load(serviceName, config.DefaultPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, serviceName)

	if cfg.JWT.SecretKey == "" {
		slog.Error("jwt.secret_key must be set")
		os.Exit(1)
	}

	// --- Redis Connection ---
	rdb, err := redis.NewClient(redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	slog.Info("Redis connection successful.")

	// --- Database Connection (optional, enables accounts) ---
	var repo auth.Repository
	if cfg.Database.Enabled() {
		db, err := openAccounts(cfg.Database)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		repo = auth.NewRepository(db)
		slog.Info("Database connection successful.")
	} else {
		slog.Info("No database configured, only guest logins are available")
	}

	// --- Dependency Injection ---
	tokens := auth.NewTokenService(cfg.JWT.SecretKey, cfg.JWT.TokenDuration)
	joiner := matchmaking.NewJoiner(broker.NewRedis(rdb, cfg.Broker.ReplyPrefix), matchmaking.JoinerConfig{
		Queue:         cfg.Broker.Queue,
		PulseInterval: cfg.Matchmaking.PulseInterval,
		ResultDelay:   cfg.Matchmaking.ResultDelay,
	})

	// --- HTTP Router ---
	router := apigateway.NewRouter(apigateway.Handlers{
		Auth:      auth.NewHTTPHandler(auth.NewService(repo, tokens)),
		Join:      matchmaking.NewHTTPHandler(joiner),
		WebSocket: matchmaking.NewWebsocketHandler(joiner),
		Verifier:  tokens,
	})
	slog.Info("All routes initialized.")

	diagnostics := monitoring.StartDiagnosticsServer(cfg.Diagnostics.Port)

	// --- HTTP Server Initialization and Graceful Shutdown ---
	httpPort := cfg.HTTPServer.Port
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", httpPort),
		Handler: router,
	}

	go func() {
		slog.Info("API Gateway starting...", "port", httpPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Could not start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down API Gateway server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Streams still waiting for a match are cut off when the timeout expires.
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		server.Close()
	}
	if diagnostics != nil {
		diagnostics.Shutdown(ctx)
	}

	slog.Info("API Gateway server stopped.")
}

func openAccounts(cfg config.Database) (*sql.DB, error) {
	db, err := database.NewPostgresDB(cfg.ConnString())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := auth.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}
