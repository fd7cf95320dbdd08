package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"aquabridge/internal/bridge"
	"aquabridge/internal/config"
	"aquabridge/internal/health"
	"aquabridge/internal/logging"
	"aquabridge/internal/queue"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Run the edge-facing MQTT bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBridge()
	},
}

func runBridge() error {
	logger := logging.Initialize(logLevel)

	cfg, err := config.Load(configFile)
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		return err
	}
	if cfg.LogFile != "" {
		if err := logging.SetupFileLogging(logger, cfg.LogFile); err != nil {
			logger.WithError(err).Warn("Failed to set up file logging")
		}
	}

	logger.WithField("broker", cfg.MQTTBrokerURL).Info("Bridge starting up")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q, err := queue.NewRedisQueue(ctx, queue.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to connect to message queue")
		return err
	}
	defer q.Close()

	manager := bridge.NewManager(cfg, q, logger)

	opsServer := health.NewServer(cfg.HealthPort, manager, logging.NewServiceLogger(logger, "ops-http"))
	opsServer.Start()

	// Propagate termination signals into the run context so the bridge
	// performs its final synchronous drain.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
		cancel()
	}()

	err = manager.Run(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if stopErr := opsServer.Stop(stopCtx); stopErr != nil {
		logger.WithError(stopErr).Warn("Ops HTTP server shutdown failed")
	}

	logger.Info("Bridge stopped")
	return err
}
