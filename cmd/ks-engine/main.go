package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"KSpectra/internal/api"
	"KSpectra/internal/config"
	"KSpectra/internal/ingest"
	"KSpectra/internal/insight"
	"KSpectra/internal/logging"
	"KSpectra/internal/metrics"
	"KSpectra/internal/pipeline"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
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

	logger.Info("Starting ks-engine...", zap.String("config", *configFile))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	backend := insight.NewClient(cfg.Insight.BaseURL, cfg.Insight.RequestTimeout.Std())
	engine, err := pipeline.NewEngine(cfg, backend, pipeline.Options{Metrics: m, Logger: logger})
	if err != nil {
		logger.Fatal("Failed to create pipeline", zap.Error(err))
	}

	ingestor, err := ingest.NewIngestor(cfg.Stream, engine, m, logger)
	if err != nil {
		logger.Fatal("Failed to create ingestor", zap.Error(err))
	}
	engine.SetConnectivity(ingestor.Connected)

	// The dashboard keeps serving while the stream is down.
	if err := ingestor.Start(); err != nil {
		logger.Error("Event stream unavailable", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := engine.Start(ctx); err != nil {
		logger.Fatal("Failed to start pipeline", zap.Error(err))
	}

	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: api.NewRouter(engine, reg, logger),
	}
	go func() {
		logger.Info("API server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Could not listen", zap.String("addr", server.Addr), zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	ingestor.Stop()
	engine.Stop()
	logger.Info("Shutdown complete.")
}
