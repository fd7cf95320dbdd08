package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"aquabridge/internal/types"
)

// TimeSeriesStore persists the latest reading and sampled history per
// device. Layout: `sr:{device_id}:latest` holds the most recent reading;
// `sr:{device_id}:history` is an append-only list of sampled readings.
type TimeSeriesStore struct {
	client *redis.Client
}

// NewTimeSeriesStore wraps a Redis client.
func NewTimeSeriesStore(client *redis.Client) *TimeSeriesStore {
	return &TimeSeriesStore{client: client}
}

func latestKey(deviceID string) string {
	return "sr:" + deviceID + ":latest"
}

func historyKey(deviceID string) string {
	return "sr:" + deviceID + ":history"
}

// latestScript sets the latest reading only when its receipt time is not
// older than the stored one, so redelivered messages can never roll the
// latest view backwards.
var latestScript = redis.NewScript(`
	local stored = redis.call('HGET', KEYS[1], 'ts_received_ms')
	if stored and tonumber(stored) > tonumber(ARGV[1]) then
		return 0
	end
	redis.call('HSET', KEYS[1], 'ts_received_ms', ARGV[1], 'reading', ARGV[2])
	return 1
`)

// WriteLatest upserts the latest reading for the device.
func (s *TimeSeriesStore) WriteLatest(ctx context.Context, reading types.SensorReading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	err = latestScript.Run(ctx, s.client,
		[]string{latestKey(reading.DeviceID)},
		reading.TSReceived.UnixMilli(), string(data),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to write latest reading: %w", err)
	}
	return nil
}

// ReadLatest returns the latest reading for the device, or ErrNotFound.
func (s *TimeSeriesStore) ReadLatest(ctx context.Context, deviceID string) (*types.SensorReading, error) {
	raw, err := s.client.HGet(ctx, latestKey(deviceID), "reading").Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest reading: %w", err)
	}

	var reading types.SensorReading
	if err := json.Unmarshal([]byte(raw), &reading); err != nil {
		return nil, fmt.Errorf("failed to unmarshal latest reading: %w", err)
	}
	return &reading, nil
}

// AppendHistory appends one sampled reading to the device's history.
func (s *TimeSeriesStore) AppendHistory(ctx context.Context, reading types.SensorReading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	if err := s.client.RPush(ctx, historyKey(reading.DeviceID), data).Err(); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// RecentHistory returns up to n most recent history records, oldest first.
func (s *TimeSeriesStore) RecentHistory(ctx context.Context, deviceID string, n int) ([]types.SensorReading, error) {
	if n <= 0 {
		n = 10
	}
	raws, err := s.client.LRange(ctx, historyKey(deviceID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	readings := make([]types.SensorReading, 0, len(raws))
	for _, raw := range raws {
		var reading types.SensorReading
		if err := json.Unmarshal([]byte(raw), &reading); err != nil {
			continue
		}
		readings = append(readings, reading)
	}
	return readings, nil
}

// HistoryDepth returns the number of history records for the device.
func (s *TimeSeriesStore) HistoryDepth(ctx context.Context, deviceID string) (int64, error) {
	return s.client.LLen(ctx, historyKey(deviceID)).Result()
}

// Health checks the Redis connection with a bounded deadline.
func (s *TimeSeriesStore) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}
