package processor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"aquabridge/internal/queue"
)

// WorkerPoolConfig holds consumption tunables.
type WorkerPoolConfig struct {
	Workers         int           `json:"workers"`
	MessageDeadline time.Duration `json:"messageDeadline"`
	ShutdownGrace   time.Duration `json:"shutdownGrace"`
}

// DefaultWorkerPoolConfig returns the worker pool defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:         4,
		MessageDeadline: 30 * time.Second,
		ShutdownGrace:   10 * time.Second,
	}
}

// handler processes one message; a non-nil error requests redelivery.
type handler func(ctx context.Context, msg *queue.Message) error

// WorkerPool consumes the sensor-reading topic with an N-way pool and the
// registration topic with a single worker. A message is acked once its handler returns nil;
// handler errors and deadline overruns nack it for redelivery.
type WorkerPool struct {
	cfg       WorkerPoolConfig
	consumer  queue.Consumer
	processor *Processor
	logger    *logrus.Entry
	wg        sync.WaitGroup
}

// NewWorkerPool creates a pool over the consumer and processor.
func NewWorkerPool(cfg WorkerPoolConfig, consumer queue.Consumer, processor *Processor, logger *logrus.Entry) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MessageDeadline <= 0 {
		cfg.MessageDeadline = 30 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	return &WorkerPool{
		cfg:       cfg,
		consumer:  consumer,
		processor: processor,
		logger:    logger,
	}
}

// Run starts the workers and blocks until ctx is cancelled and every
// in-flight message has been finished or the grace period has expired.
func (w *WorkerPool) Run(ctx context.Context) {
	// Requeue anything a previous unclean shutdown left on the
	// processing lists.
	for _, topic := range []string{queue.TopicSensorReadings, queue.TopicDeviceRegistration} {
		if moved, err := w.consumer.Recover(ctx, topic); err != nil {
			w.logger.WithError(err).WithField("topic", topic).Warn("Failed to recover stale deliveries")
		} else if moved > 0 {
			w.logger.WithFields(logrus.Fields{"topic": topic, "count": moved}).
				Info("Recovered stale deliveries")
		}
	}

	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.consume(ctx, queue.TopicSensorReadings, w.processor.ProcessSensorData)
	}
	// Registration volume is low; one worker keeps ordering simple.
	w.wg.Add(1)
	go w.consume(ctx, queue.TopicDeviceRegistration, w.processor.ProcessRegistration)

	<-ctx.Done()
	w.logger.Info("Worker pool draining")

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker pool stopped")
	case <-time.After(w.cfg.ShutdownGrace):
		w.logger.Warn("Worker pool shutdown grace expired")
	}
}

func (w *WorkerPool) consume(ctx context.Context, topic string, handle handler) {
	defer w.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		delivery, err := w.consumer.Receive(ctx, topic)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.WithError(err).WithField("topic", topic).Warn("Receive failed")
			time.Sleep(time.Second)
			continue
		}
		if delivery == nil {
			continue
		}

		w.handleDelivery(topic, delivery, handle)
	}
}

// handleDelivery runs the handler under the per-message deadline. Ack
// and nack use a background context so a cancelled pool can still settle
// the delivery it is holding.
func (w *WorkerPool) handleDelivery(topic string, delivery *queue.Delivery, handle handler) {
	msgCtx, cancel := context.WithTimeout(context.Background(), w.cfg.MessageDeadline)
	defer cancel()

	err := handle(msgCtx, delivery.Message)

	settleCtx, settleCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer settleCancel()

	if err != nil {
		w.logger.WithError(err).WithFields(logrus.Fields{
			"topic":      topic,
			"message_id": delivery.Message.ID,
			"device_id":  delivery.Message.DeviceID,
		}).Warn("Message handling failed, requeueing")
		if nackErr := delivery.Nack(settleCtx); nackErr != nil {
			w.logger.WithError(nackErr).Error("Failed to nack message")
		}
		return
	}

	if ackErr := delivery.Ack(settleCtx); ackErr != nil {
		w.logger.WithError(ackErr).Error("Failed to ack message")
	}
}
