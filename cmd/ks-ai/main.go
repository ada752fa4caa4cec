package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"KSpectra/internal/ai"
	"KSpectra/internal/config"
	"KSpectra/internal/logging"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	configFile := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	logLevel := flag.String("log-level", "", "Override the configured log level")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	analyzer, err := ai.NewAnalyzer(&cfg.AI, logger)
	if err != nil {
		logger.Fatal("Failed to create analyzer", zap.Error(err))
	}
	srv := ai.NewServer(analyzer, cfg.AI, logger)

	lis, err := net.Listen("tcp", cfg.AI.GRPCListenAddr)
	if err != nil {
		logger.Fatal("Failed to listen", zap.String("addr", cfg.AI.GRPCListenAddr), zap.Error(err))
	}
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, srv.Health())
	go func() {
		logger.Info("gRPC health server starting", zap.String("addr", cfg.AI.GRPCListenAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("Failed to serve gRPC", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.AI.ListenAddr,
		Handler: srv.Handler(),
	}
	go func() {
		logger.Info("Insight server starting", zap.String("addr", httpServer.Addr), zap.Int("keys", len(cfg.AI.APIKeys)))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Could not listen", zap.String("addr", httpServer.Addr), zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Servers shutting down...")

	srv.Health().Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
}
