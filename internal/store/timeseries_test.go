package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aquabridge/internal/types"
)

func testTimeSeries(t *testing.T) *TimeSeriesStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTimeSeriesStore(client)
}

func reading(deviceID string, received time.Time, ph float64) types.SensorReading {
	return types.SensorReading{
		DeviceID:   deviceID,
		TSDevice:   received.UnixMilli(),
		TSReceived: received,
		Values:     map[types.Parameter]float64{types.ParameterPH: ph},
	}
}

func TestTimeSeriesStore_WriteAndReadLatest(t *testing.T) {
	ts := testTimeSeries(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, ts.WriteLatest(ctx, reading("dev-1", now, 7.2)))

	got, err := ts.ReadLatest(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", got.DeviceID)
	assert.Equal(t, 7.2, got.Values[types.ParameterPH])
}

func TestTimeSeriesStore_LatestNeverRollsBack(t *testing.T) {
	ts := testTimeSeries(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, ts.WriteLatest(ctx, reading("dev-1", now, 7.2)))

	// A redelivered older reading must not replace the latest view.
	older := reading("dev-1", now.Add(-time.Minute), 6.0)
	require.NoError(t, ts.WriteLatest(ctx, older))

	got, err := ts.ReadLatest(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 7.2, got.Values[types.ParameterPH], "older reading overwrote latest")

	// A newer reading does replace it.
	newer := reading("dev-1", now.Add(time.Minute), 7.9)
	require.NoError(t, ts.WriteLatest(ctx, newer))

	got, err = ts.ReadLatest(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 7.9, got.Values[types.ParameterPH])
}

func TestTimeSeriesStore_ReadLatestMissing(t *testing.T) {
	ts := testTimeSeries(t)

	_, err := ts.ReadLatest(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTimeSeriesStore_History(t *testing.T) {
	ts := testTimeSeries(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 4; i++ {
		r := reading("dev-1", base.Add(time.Duration(i)*time.Minute), 7.0+float64(i)*0.1)
		require.NoError(t, ts.AppendHistory(ctx, r))
	}

	depth, err := ts.HistoryDepth(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), depth)

	// RecentHistory returns oldest-first, bounded by n.
	recent, err := ts.RecentHistory(ctx, "dev-1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.InDelta(t, 7.2, recent[0].Values[types.ParameterPH], 1e-9)
	assert.InDelta(t, 7.3, recent[1].Values[types.ParameterPH], 1e-9)
}

func TestTimeSeriesStore_HistoryIsolatedPerDevice(t *testing.T) {
	ts := testTimeSeries(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, ts.AppendHistory(ctx, reading("dev-1", now, 7.0)))

	depth, err := ts.HistoryDepth(ctx, "dev-2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}
