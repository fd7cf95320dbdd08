package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"aquabridge/internal/breaker"
	"aquabridge/internal/buffer"
	"aquabridge/internal/metrics"
	"aquabridge/internal/queue"
)

// BatchLimits bound one published batch.
type BatchLimits struct {
	MaxMessages int           `json:"maxMessages"`
	MaxBytes    int           `json:"maxBytes"`
	MaxLatency  time.Duration `json:"maxLatency"`
}

// DefaultBatchLimits returns the publish batch defaults.
func DefaultBatchLimits() BatchLimits {
	return BatchLimits{
		MaxMessages: 100,
		MaxBytes:    1 << 20,
		MaxLatency:  100 * time.Millisecond,
	}
}

const publishMaxRetries = 3

// Publisher converts drained buffer items into queue batches and pushes
// them through the publish circuit breaker with bounded backoff. A batch
// that exhausts its retries is logged, counted as failed and discarded;
// the edge is deliberately lossy under sustained queue trouble.
type Publisher struct {
	limits  BatchLimits
	queue   queue.Publisher
	cb      *breaker.Breaker
	metrics *metrics.BridgeMetrics
	logger  *logrus.Entry
}

// NewPublisher wires the batch publisher.
func NewPublisher(limits BatchLimits, q queue.Publisher, cb *breaker.Breaker, m *metrics.BridgeMetrics, logger *logrus.Entry) *Publisher {
	if limits.MaxMessages <= 0 {
		limits.MaxMessages = 100
	}
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = 1 << 20
	}
	return &Publisher{
		limits:  limits,
		queue:   q,
		cb:      cb,
		metrics: m,
		logger:  logger,
	}
}

// Publish converts the items into envelope messages, splits them into
// size-bounded batches and publishes each batch. It returns the number
// of messages published and the number discarded.
func (p *Publisher) Publish(ctx context.Context, topic string, items []buffer.Item) (published, failed int) {
	if len(items) == 0 {
		return 0, 0
	}

	deadline := time.Now().Add(p.limits.MaxLatency)
	batches := p.split(items, deadline)

	for _, batch := range batches {
		if err := p.publishBatch(ctx, topic, batch); err != nil {
			failed += len(batch)
			p.metrics.Failed.Add(float64(len(batch)))
			p.logger.WithError(err).WithFields(logrus.Fields{
				"topic": topic,
				"count": len(batch),
			}).Error("Discarding batch after exhausting retries")
			continue
		}
		published += len(batch)
		p.metrics.Published.Add(float64(len(batch)))
	}
	return published, failed
}

// split builds batches respecting the message-count and byte limits. The
// latency deadline caps assembly time; when it expires, the batch under
// assembly is closed early and a fresh deadline starts for the next one.
func (p *Publisher) split(items []buffer.Item, deadline time.Time) [][]*queue.Message {
	var (
		batches [][]*queue.Message
		current []*queue.Message
		size    int
	)

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
			current = nil
			size = 0
		}
	}

	for _, item := range items {
		msg := &queue.Message{
			ID:         uuid.NewString(),
			DeviceID:   item.DeviceID,
			TSReceived: item.ReceivedAt,
			Source:     queue.SourceBridge,
			Body:       item.Payload,
		}

		msgSize := len(item.Payload)
		if len(current) >= p.limits.MaxMessages || (size+msgSize > p.limits.MaxBytes && len(current) > 0) {
			flush()
		}

		current = append(current, msg)
		size += msgSize

		if !deadline.IsZero() && time.Now().After(deadline) {
			flush()
			deadline = time.Now().Add(p.limits.MaxLatency)
		}
	}
	flush()

	return batches
}

// publishBatch pushes one batch through the breaker with exponential
// backoff on transient failure. An open circuit fails immediately; the
// buffers keep filling and the emergency rules take over.
func (p *Publisher) publishBatch(ctx context.Context, topic string, batch []*queue.Message) error {
	backoff := 100 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= publishMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		lastErr = p.cb.Execute(ctx, func(callCtx context.Context) error {
			return p.queue.PublishBatch(callCtx, topic, batch)
		})
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, breaker.ErrCircuitOpen) {
			// No point hammering an open circuit.
			return lastErr
		}
	}
	return lastErr
}
