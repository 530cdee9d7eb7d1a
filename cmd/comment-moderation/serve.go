package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"comment-moderation/config"
	"comment-moderation/internal/broker"
	mqttbroker "comment-moderation/internal/broker/mqtt"
	natsbroker "comment-moderation/internal/broker/nats"
	"comment-moderation/internal/logger"
	"comment-moderation/internal/metrics"
	"comment-moderation/internal/rule"
	"comment-moderation/internal/stats"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "moderate comments arriving on the configured message bus",
		Action: runServe,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "rules",
				Usage: "also load rule files from this directory (empty = use config)",
			},
			&cli.StringFlag{
				Name:  "broker",
				Usage: "override broker type (nats, mqtt)",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "override number of workers (0 = use config)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "override metrics server address (empty = use config)",
			},
			&cli.DurationFlag{
				Name:  "metrics-interval",
				Usage: "override metrics collection interval (0 = use config)",
			},
		},
	}
}

func runServe(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(
		cctx.Int("workers"),
		"",
		"",
		cctx.String("metrics-addr"),
		cctx.Duration("metrics-interval"),
	)
	if dir := cctx.String("rules"); dir != "" {
		cfg.Rules.Directory = dir
	}
	if t := cctx.String("broker"); t != "" {
		cfg.Broker.Type = t
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Broker.Type == "none" {
		return fmt.Errorf("serve needs a broker type of nats or mqtt; use moderate for offline runs")
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	var metricsService *metrics.Metrics
	var metricsServer *http.Server
	var reg *prometheus.Registry

	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		metricsService, err = metrics.NewMetrics(reg)
		if err != nil {
			return fmt.Errorf("failed to create metrics service: %w", err)
		}
	}

	repo, err := openStore(cfg, log, metricsService)
	if err != nil {
		return err
	}
	defer repo.Close()

	processor, err := newProcessor(cfg, log, metricsService)
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}

	loader := rule.NewRulesLoader(log, newCodec(cfg))
	reload := func() {
		rules := collectRules(repo, loader, cfg.Rules.Directory, log)
		if err := processor.LoadRules(rules); err != nil {
			log.Warn("some rules were rejected", "error", err)
		}
	}
	reload()

	collector := stats.NewStatsCollector()
	router := broker.NewRouter(processor, cfg.Broker.DecisionTopic, log, collector)

	bus, err := newBus(cfg, router, log, metricsService)
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}

	snapshot := func() {
		ps := processor.GetStats()
		bs := bus.GetStats()
		collector.Update(bs.MessagesReceived, ps.Processed, ps.Matched, bs.MessagesPublished, ps.Errors+bs.Errors)
	}

	if cfg.Metrics.Enabled {
		updateInterval, err := time.ParseDuration(cfg.Metrics.UpdateInterval)
		if err != nil {
			return fmt.Errorf("invalid metrics update interval: %w", err)
		}

		metricsCollector := metrics.NewMetricsCollector(metricsService, updateInterval,
			func(*metrics.Metrics) { snapshot() })
		metricsCollector.Start()
		defer metricsCollector.Stop()

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			Registry:          reg,
			EnableOpenMetrics: true,
		}))

		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Info("starting metrics server",
				"address", cfg.Metrics.Address,
				"path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	ctx, cancel := context.WithCancel(cctx.Context)
	defer cancel()

	if err := bus.Start(ctx); err != nil {
		bus.Close()
		return fmt.Errorf("failed to start broker: %w", err)
	}

	log.Info("comment-moderation started",
		"broker", cfg.Broker.Type,
		"intake", cfg.Broker.IntakeTopic,
		"workers", cfg.Processing.Workers,
		"rulesCount", len(processor.Rules()),
		"metricsEnabled", cfg.Metrics.Enabled)

	for {
		select {
		case <-ctx.Done():
			return shutdown(bus, metricsServer, snapshot, collector, log)
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				log.Info("received SIGHUP, reloading rules")
				reload()
				snapshot()
				log.Info("moderation stats", "stats", collector.GetStats())
				_ = log.Sync()
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("shutting down...")
				cancel()
				return shutdown(bus, metricsServer, snapshot, collector, log)
			}
		}
	}
}

// newBus builds the transport selected by cfg.Broker.Type.
func newBus(cfg *config.Config, router *broker.Router, log *logger.Logger, m *metrics.Metrics) (broker.Broker, error) {
	switch cfg.Broker.Type {
	case "nats":
		return natsbroker.NewBroker(cfg.Broker, cfg.Processing.QueueSize, router, log, m)
	case "mqtt":
		return mqttbroker.NewBroker(cfg.Broker, router, log, m)
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", cfg.Broker.Type)
	}
}

func shutdown(bus broker.Broker, metricsServer *http.Server, snapshot func(), collector *stats.StatsCollector, log *logger.Logger) error {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shutdown metrics server", "error", err)
		}
	}

	bus.Close()
	snapshot()
	log.Info("final moderation stats", "stats", collector.GetStats())
	return nil
}
