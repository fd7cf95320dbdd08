package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueueFromClient(client, "test-consumer"), mr
}

func message(id, deviceID string) *Message {
	return &Message{
		ID:         id,
		DeviceID:   deviceID,
		TSReceived: time.Now().UTC().Truncate(time.Millisecond),
		Source:     SourceBridge,
		Body:       json.RawMessage(`{"ph": 7.2}`),
	}
}

func TestRedisQueue_PublishAndReceive(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	batch := []*Message{message("m1", "dev-1"), message("m2", "dev-2")}
	require.NoError(t, q.PublishBatch(ctx, TopicSensorReadings, batch))

	depth, err := q.Depth(ctx, TopicSensorReadings)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	// FIFO: the first published message is received first.
	d1, err := q.Receive(ctx, TopicSensorReadings)
	require.NoError(t, err)
	require.NotNil(t, d1)
	assert.Equal(t, "m1", d1.Message.ID)
	assert.Equal(t, "dev-1", d1.Message.DeviceID)
	assert.Equal(t, SourceBridge, d1.Message.Source)

	require.NoError(t, d1.Ack(ctx))

	d2, err := q.Receive(ctx, TopicSensorReadings)
	require.NoError(t, err)
	require.NotNil(t, d2)
	assert.Equal(t, "m2", d2.Message.ID)
	require.NoError(t, d2.Ack(ctx))

	depth, err = q.Depth(ctx, TopicSensorReadings)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestRedisQueue_NackRequeues(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	require.NoError(t, q.PublishBatch(ctx, TopicSensorReadings, []*Message{message("m1", "dev-1")}))

	d, err := q.Receive(ctx, TopicSensorReadings)
	require.NoError(t, err)
	require.NotNil(t, d)

	// After nack the message is back on the topic and redeliverable.
	require.NoError(t, d.Nack(ctx))

	depth, err := q.Depth(ctx, TopicSensorReadings)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	redelivered, err := q.Receive(ctx, TopicSensorReadings)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, "m1", redelivered.Message.ID)
}

func TestRedisQueue_RecoverRequeuesStaleLeases(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	require.NoError(t, q.PublishBatch(ctx, TopicSensorReadings, []*Message{message("m1", "dev-1")}))

	// Simulate a crash: receive but never settle.
	d, err := q.Receive(ctx, TopicSensorReadings)
	require.NoError(t, err)
	require.NotNil(t, d)

	depth, _ := q.Depth(ctx, TopicSensorReadings)
	assert.Equal(t, int64(0), depth)

	moved, err := q.Recover(ctx, TopicSensorReadings)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	depth, _ = q.Depth(ctx, TopicSensorReadings)
	assert.Equal(t, int64(1), depth)
}

func TestRedisQueue_PublishEmptyBatch(t *testing.T) {
	q, _ := testQueue(t)
	require.NoError(t, q.PublishBatch(context.Background(), TopicSensorReadings, nil))
}

func TestRedisQueue_ReceiveWithoutConsumerName(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := NewRedisQueueFromClient(client, "")
	_, err := q.Receive(context.Background(), TopicSensorReadings)
	assert.Error(t, err)
}
