package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"aquabridge/internal/admin"
	"aquabridge/internal/breaker"
	cloudconfig "aquabridge/internal/cloud/config"
	"aquabridge/internal/logging"
	"aquabridge/internal/notify"
	"aquabridge/internal/processor"
	"aquabridge/internal/queue"
	"aquabridge/internal/store"
	"aquabridge/internal/types"
)

var processorCmd = &cobra.Command{
	Use:   "processor",
	Short: "Run the cloud stream processor",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcessor()
	},
}

func runProcessor() error {
	cfg, err := cloudconfig.Load()
	if err != nil {
		return err
	}

	logger := logging.Initialize(cfg.Logging.Level)
	logger.Info("Stream processor starting up")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metadata store.
	conn, err := store.NewConnection(cfg.Database)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to metadata store")
		return err
	}
	defer conn.Close()

	if err := store.RunMigrations(conn); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		return err
	}

	devices := store.NewDeviceStore(conn)
	alerts := store.NewAlertStore(conn)
	users := store.NewUserStore(conn)

	thresholds, err := store.NewThresholdStore(conn).Load(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to load threshold configuration")
		return err
	}

	// Time-series store and message queue share the Redis instance.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.Database,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Error("Failed to connect to Redis")
		return err
	}
	defer redisClient.Close()

	timeseries := store.NewTimeSeriesStore(redisClient)

	consumerName, _ := os.Hostname()
	if consumerName == "" {
		consumerName = uuid.NewString()
	}
	consumer := queue.NewRedisQueueFromClient(redisClient, consumerName)

	// Notification fan-out under its own breaker so email trouble never
	// blocks reading ingestion.
	emailBreaker := breaker.New(breaker.Config{
		Name:               "email",
		Timeout:            time.Duration(cfg.Processor.BreakerTimeoutMS) * time.Millisecond,
		ErrorRateThreshold: cfg.Processor.BreakerErrorThreshold,
		ResetAfter:         time.Duration(cfg.Processor.BreakerResetAfterSec) * time.Second,
	}, logging.NewServiceLogger(logger, "breaker"))

	notifier := notify.NewNotifier(
		users, alerts,
		notify.NewSMTPSender(cfg.SMTP),
		emailBreaker,
		logging.NewServiceLogger(logger, "notifier"),
	)

	proc := processor.New(
		processor.Config{
			HistoryInterval: cfg.Processor.HistoryInterval,
			StatusThrottle:  time.Duration(cfg.Processor.StatusThrottleSec) * time.Second,
			AlertCooldown:   time.Duration(cfg.Processor.AlertCooldownSec) * time.Second,
			CacheCapacity:   cfg.Processor.DedupCacheCapacity,
			StoreTimeout:    10 * time.Second,
		},
		devices, alerts, timeseries, thresholds, notifier,
		logging.NewServiceLogger(logger, "processor"),
	)

	// Admin surface with the live alert feed.
	feed := admin.NewAlertFeed(logging.NewServiceLogger(logger, "alert-feed"))
	proc.SetAlertHook(func(alert *types.Alert) {
		feed.Broadcast(alert)
	})

	auth := admin.NewAuthenticator(cfg.Auth.JWTSecret)
	mutations := admin.NewMutations(alerts, devices)
	adminServer := admin.NewServer(cfg.Admin, auth, mutations, alerts, devices, feed,
		logging.NewServiceLogger(logger, "admin-http"))
	adminServer.Start()

	// Offline sweep.
	sweep := processor.NewOfflineSweep(devices,
		time.Duration(cfg.Processor.OfflineSweepSec)*time.Second,
		time.Duration(cfg.Processor.OfflineThresholdSec)*time.Second,
		logging.NewServiceLogger(logger, "offline-sweep"))
	go sweep.Run(ctx)

	// Worker pool.
	pool := processor.NewWorkerPool(processor.WorkerPoolConfig{
		Workers:         cfg.Processor.Workers,
		MessageDeadline: time.Duration(cfg.Processor.MessageDeadlineSec) * time.Second,
		ShutdownGrace:   time.Duration(cfg.Processor.ShutdownGraceSec) * time.Second,
	}, consumer, proc, logging.NewServiceLogger(logger, "worker-pool"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
		cancel()
	}()

	pool.Run(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := adminServer.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("Admin HTTP server shutdown failed")
	}

	logger.Info("Stream processor stopped")
	return nil
}
