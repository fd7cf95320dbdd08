package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisQueue implements Publisher and Consumer on Redis lists using the
// reliable-queue pattern: BRPOPLPUSH onto a per-consumer processing list,
// LREM on ack, and LPUSH back on nack.
type RedisQueue struct {
	client   *redis.Client
	consumer string
}

// Options configure a RedisQueue.
type Options struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// Consumer names this instance's processing list. Leave empty on
	// publish-only clients.
	Consumer string
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(ctx context.Context, opts Options) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisQueue{
		client:   client,
		consumer: opts.Consumer,
	}, nil
}

// NewRedisQueueFromClient wraps an existing client, used by tests.
func NewRedisQueueFromClient(client *redis.Client, consumer string) *RedisQueue {
	return &RedisQueue{client: client, consumer: consumer}
}

// Close closes the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Health checks the Redis connection health.
func (q *RedisQueue) Health(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func topicKey(topic string) string {
	return "mq:" + topic
}

func (q *RedisQueue) processingKey(topic string) string {
	return "mq:" + topic + ":processing:" + q.consumer
}

// PublishBatch appends the batch to the topic in one pipelined call.
func (q *RedisQueue) PublishBatch(ctx context.Context, topic string, batch []*Message) error {
	if len(batch) == 0 {
		return nil
	}

	payloads := make([]interface{}, 0, len(batch))
	for _, msg := range batch {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message %s: %w", msg.ID, err)
		}
		payloads = append(payloads, data)
	}

	if err := q.client.LPush(ctx, topicKey(topic), payloads...).Err(); err != nil {
		return fmt.Errorf("failed to publish batch to %s: %w", topic, err)
	}
	return nil
}

// Depth returns the number of messages waiting on the topic.
func (q *RedisQueue) Depth(ctx context.Context, topic string) (int64, error) {
	return q.client.LLen(ctx, topicKey(topic)).Result()
}

// Receive blocks until a message is available, moving it onto this
// consumer's processing list so a crash never loses it.
func (q *RedisQueue) Receive(ctx context.Context, topic string) (*Delivery, error) {
	if q.consumer == "" {
		return nil, fmt.Errorf("queue client has no consumer name")
	}

	// A short poll interval keeps ctx cancellation responsive; BRPOPLPUSH
	// itself cannot be interrupted mid-block by context.
	raw, err := q.client.BRPopLPush(ctx, topicKey(topic), q.processingKey(topic), 2*time.Second).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to receive from %s: %w", topic, err)
	}

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		// Poison payload: drop it from the processing list and surface
		// the error so the caller can count it.
		q.client.LRem(ctx, q.processingKey(topic), 1, raw)
		return nil, fmt.Errorf("failed to unmarshal queue message: %w", err)
	}

	return &Delivery{
		Message: &msg,
		raw:     raw,
		topic:   topic,
		c:       q,
	}, nil
}

// Recover pushes everything left on this consumer's processing list back
// onto the topic. Intended for startup after an unclean shutdown.
func (q *RedisQueue) Recover(ctx context.Context, topic string) (int64, error) {
	var moved int64
	for {
		_, err := q.client.RPopLPush(ctx, q.processingKey(topic), topicKey(topic)).Result()
		if err == redis.Nil {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover processing list: %w", err)
		}
		moved++
	}
}

func (q *RedisQueue) ack(ctx context.Context, d *Delivery) error {
	if err := q.client.LRem(ctx, q.processingKey(d.topic), 1, d.raw).Err(); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", d.Message.ID, err)
	}
	return nil
}

func (q *RedisQueue) nack(ctx context.Context, d *Delivery) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(d.topic), 1, d.raw)
	pipe.LPush(ctx, topicKey(d.topic), d.raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to nack message %s: %w", d.Message.ID, err)
	}
	return nil
}
