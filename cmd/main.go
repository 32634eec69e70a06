package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dimiro1/banner"
	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcapi "ai-speech-session-service/internal/api/grpc"
	"ai-speech-session-service/internal/app"
	"ai-speech-session-service/internal/config"
	httpapi "ai-speech-session-service/internal/http"
	"ai-speech-session-service/internal/observability"
)

const version = "dev"

func printBanner() {
	tpl := "{{ .Title \"SPEECH SESSION\" \"\" 0 }}\nVersion: " + version + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}

func main() {
	printBanner()
	cfg := config.Load()

	application := app.New(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	// Observability server (metrics, health)
	obs := observability.NewServer(":"+cfg.Service.MetricsPort, prometheus.DefaultGatherer, application.Ready)
	obs.Start()

	// HTTP API + WebSocket ingress
	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(application),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// gRPC ingress
	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen")
	}
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(application.Metrics)),
	)

	// Register gRPC health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	grpcapi.Register(server, application)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(server)

	go func() {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("Speech Session Service started")
		if err := server.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("gRPC serve failed")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("Shutting down")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Streams only complete once their sessions have ended.
	if err := application.Controller.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Sessions still running at shutdown")
	}
	server.GracefulStop()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = obs.Shutdown(shutdownCtx)
	application.Shutdown(shutdownCtx)
}
