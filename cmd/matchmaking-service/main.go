package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/cheildo/nexus-clash-matchmaker/internal/broker"
	"github.com/cheildo/nexus-clash-matchmaker/internal/config"
	"github.com/cheildo/nexus-clash-matchmaker/internal/matchmaking"
	"github.com/cheildo/nexus-clash-matchmaker/internal/pkg/kafka"
	"github.com/cheildo/nexus-clash-matchmaker/internal/pkg/logging"
	"github.com/cheildo/nexus-clash-matchmaker/internal/pkg/monitoring"
	"github.com/cheildo/nexus-clash-matchmaker/internal/pkg/redis"
)

const serviceName = "matchmaking-service"

var errCoordinatorStopped = errors.New("matchmaking coordinator stopped unexpectedly")

func main() {
	// --- Configuration Loading ---
	cfg, err := config.Load(serviceName, config.DefaultPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, serviceName)

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

	// --- Dependency Injection ---
	var opts []matchmaking.Option
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := matchmaking.NewKafkaEventPublisher(kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.MatchFoundTopic))
		defer publisher.Close()
		opts = append(opts, matchmaking.WithEventPublisher(publisher))
		slog.Info("Publishing match_found events", "topic", cfg.Kafka.MatchFoundTopic)
	}
	coordinator := matchmaking.NewCoordinator(
		broker.NewRedis(rdb, cfg.Broker.ReplyPrefix),
		matchmaking.NewWaitingRoom(),
		cfg.Broker.Queue,
		opts...,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Start Matchmaking Loop ---
	if err := coordinator.Start(ctx); err != nil {
		slog.Error("Failed to start matchmaking coordinator", "error", err)
		os.Exit(1)
	}

	// --- gRPC Server Initialization ---
	grpcPort := cfg.GRPCServer.Port
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", grpcPort))
	if err != nil {
		slog.Error("Failed to listen on gRPC port", "port", grpcPort, "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	// --- Start Diagnostics Server ---
	diagnostics := monitoring.StartDiagnosticsServer(cfg.Diagnostics.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Matchmaking gRPC server listening", "address", lis.Addr().String())
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		return watchCoordinator(gctx, coordinator.Done())
	})

	// --- Graceful Shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down servers...")
		healthServer.Shutdown()
		coordinator.Stop()
		grpcServer.GracefulStop()
		if diagnostics != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := diagnostics.Shutdown(shutdownCtx); err != nil {
				slog.Error("Diagnostics server forced to shutdown", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Matchmaking service stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Servers shut down gracefully.")
}

// watchCoordinator returns once ctx is done or the coordinator stops. Stopping is an
// error only while ctx is still live: on shutdown both fire together.
func watchCoordinator(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		if ctx.Err() != nil {
			return nil
		}
		return errCoordinatorStopped
	case <-ctx.Done():
		return nil
	}
}
