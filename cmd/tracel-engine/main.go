package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tracel-engine/internal/alert"
	"tracel-engine/internal/baseline"
	"tracel-engine/internal/gateway"
	"tracel-engine/internal/handlers"
	"tracel-engine/internal/metrics"
	"tracel-engine/internal/simulate"
	"tracel-engine/internal/storage"
	"tracel-engine/internal/stream"
	"tracel-engine/internal/utils"
)

func main() {
	var (
		configFile = flag.String("config", "configs/tracel.yaml", "Configuration file path (YAML)")
		port       = flag.String("port", "", "API server port (overrides config)")
	)
	flag.Parse()

	config, err := utils.LoadEngineConfig(*configFile)
	if err != nil {
		config = utils.GetDefaultEngineConfig()
		fmt.Fprintf(os.Stderr, "Config not loaded (%v), using defaults\n", err)
	}
	if *port != "" {
		config.Server.Port = *port
	}

	logger := utils.NewLoggerWithFormat(config.Logging.Level, config.Logging.Format)

	registry := metrics.NewRegistry()
	engineMetrics := metrics.NewMetrics(registry)
	exporter := metrics.NewExporter(config.Server.MetricsPort, registry, logger)

	exporterCtx, exporterCancel := context.WithCancel(context.Background())
	defer exporterCancel()
	go func() {
		if err := exporter.Start(exporterCtx); err != nil {
			logger.Errorf("Metrics exporter stopped: %v", err)
		}
	}()

	// Storage: memory always, Redis layered on top when configured.
	memory := storage.NewMemoryStore(config.Storage.MemoryCapacity)
	var durable storage.Store
	if config.Storage.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisStore, err := storage.NewRedisStore(ctx, config.Storage.RedisAddr,
			config.Storage.RedisPassword, config.Storage.RedisDB,
			time.Duration(config.Storage.RetentionHours)*time.Hour)
		cancel()
		if err != nil {
			logger.Warnf("Redis unavailable, falling back to memory only: %v", err)
		} else {
			logger.Infof("Redis storage connected at %s", config.Storage.RedisAddr)
			durable = redisStore
			defer redisStore.Close()
		}
	}
	store := storage.NewTeeStore(durable, memory, logger)

	// Scoring gateway client and health monitor.
	client := gateway.NewClient(config.Gateway.URL,
		time.Duration(config.Gateway.TimeoutSeconds)*time.Second, logger)
	monitor := gateway.NewMonitor(client, config.HealthPollInterval(), logger)
	monitor.OnTransition(func(status gateway.HealthStatus) {
		if status.OK {
			engineMetrics.GatewayUp.Set(1)
			logger.Infof("Scoring gateway is up (model loaded: %v)", status.ModelLoaded)
		} else {
			engineMetrics.GatewayUp.Set(0)
			logger.Warnf("Scoring gateway is down: %s", status.ModelError)
		}
	})
	monitor.Start()
	defer monitor.Stop()

	streams := stream.NewRegistry(stream.Deps{
		Scorer:     client,
		Thresholds: monitor,
		Store:      store,
		Notifier:   alert.NewLogAlertNotifier(logger),
		Metrics:    engineMetrics,
		Logger:     logger,
		Estimator: baseline.Config{
			Capacity: config.Baseline.WindowSize,
			Warmup:   config.Baseline.Warmup,
			SigmaK:   config.Baseline.SigmaK,
		},
		Source: simulate.Config{
			NormalInterval: time.Duration(config.Simulator.NormalIntervalMs) * time.Millisecond,
			AttackInterval: time.Duration(config.Simulator.AttackIntervalMs) * time.Millisecond,
			DestIP:         config.Simulator.DestIP,
		},
		AlertCooldown: time.Duration(config.Streams.AlertCooldownSeconds) * time.Second,
	}, config.IdleTTL())
	defer streams.Close()

	h := handlers.NewHandlers(streams, store, monitor, logger)
	router := handlers.NewRouter(h)

	// No read/write timeouts: WebSocket streams are long-lived.
	srv := &http.Server{
		Addr:              ":" + config.Server.Port,
		Handler:           router,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
	}

	logger.Infof("Engine API starting on port %s", config.Server.Port)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down engine...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
