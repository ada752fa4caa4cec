package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"KSpectra/internal/config"
	"KSpectra/internal/logging"
	"KSpectra/internal/model"
	"KSpectra/internal/probe"

	"go.uber.org/zap"
)

func main() {
	configFile := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	logLevel := flag.String("log-level", "", "Override the configured log level")
	mode := flag.String("mode", "sim", "Event source: 'sim' or 'pcap'")
	pcapFile := flag.String("file", "", "Pcap file to replay in pcap mode")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed for sim mode")
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

	pub, err := probe.NewPublisher(cfg.Stream, nil, logger)
	if err != nil {
		logger.Fatal("Failed to create publisher", zap.Error(err))
	}
	defer pub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "sim":
		logger.Info("Starting simulator", zap.Duration("interval", cfg.Probe.Interval.Std()), zap.Float64("alertRatio", cfg.Probe.AlertRatio))
		sim := probe.NewSimulator(pub, cfg.Probe.AlertRatio, *seed)
		if err := sim.Run(ctx, cfg.Probe.Interval.Std()); err != nil {
			logger.Error("Simulator stopped", zap.Error(err))
		}
	case "pcap":
		if *pcapFile == "" {
			logger.Fatal("-file is required in pcap mode")
		}
		f, err := os.Open(*pcapFile)
		if err != nil {
			logger.Fatal("Failed to open pcap file", zap.Error(err))
		}
		defer f.Close()

		n, err := probe.ReplayPcap(f, func(p model.Packet) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := pub.PublishPacket(p); err != nil {
				return err
			}
			stats := model.StatsSnapshot{
				TotalPackets:         1,
				ProtocolDistribution: map[model.Protocol]int64{p.Protocol: 1},
				TopSourceIPs:         []model.IPCount{{IP: p.SourceIP, Count: 1}},
				TopDestinationIPs:    []model.IPCount{{IP: p.DestinationIP, Count: 1}},
			}
			return pub.PublishStats(stats)
		}, logger)
		if err != nil {
			logger.Error("Pcap replay stopped", zap.Int("published", n), zap.Error(err))
		}
	default:
		logger.Fatal("Unknown mode", zap.String("mode", *mode))
	}
	logger.Info("Probe finished.")
}
