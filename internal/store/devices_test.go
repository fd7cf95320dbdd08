package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aquabridge/internal/types"
)

func testDeviceStore(t *testing.T) (*DeviceStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &DeviceStore{db: db}, mock
}

func deviceColumnsList() []string {
	return []string{
		"device_id", "name", "type", "firmware_version", "mac", "ip", "sensor_kinds",
		"status", "registered_at", "last_seen", "location_building", "location_floor", "location_notes",
	}
}

func TestDeviceStore_GetDevice(t *testing.T) {
	s, mock := testDeviceStore(t)

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM devices WHERE device_id").
		WithArgs("dev-1").
		WillReturnRows(sqlmock.NewRows(deviceColumnsList()).AddRow(
			"dev-1", "Tank sensor", "esp32", "1.2.0", "aa:bb", "10.0.0.5", "{ph,tds}",
			"online", now, now, "Building A", "2F", "",
		))

	device, err := s.GetDevice(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", device.DeviceID)
	assert.Equal(t, types.DeviceStatus("online"), device.Status)
	assert.Len(t, device.SensorKinds, 2)
	require.NotNil(t, device.Location)
	assert.Equal(t, "Building A", device.Location.Building)
	assert.True(t, device.RegisteredForData())
}

func TestDeviceStore_GetDevice_StubHasNoLocation(t *testing.T) {
	s, mock := testDeviceStore(t)

	mock.ExpectQuery("SELECT (.+) FROM devices WHERE device_id").
		WillReturnRows(sqlmock.NewRows(deviceColumnsList()).AddRow(
			"dev-2", "", "", "", "", "", "{}",
			"offline", time.Now(), nil, "", "", "",
		))

	device, err := s.GetDevice(context.Background(), "dev-2")
	require.NoError(t, err)
	assert.Nil(t, device.Location)
	assert.False(t, device.RegisteredForData())
	assert.True(t, device.LastSeen.IsZero())
}

func TestDeviceStore_GetDevice_NotFound(t *testing.T) {
	s, mock := testDeviceStore(t)

	mock.ExpectQuery("SELECT (.+) FROM devices WHERE device_id").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetDevice(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeviceStore_CreateStub(t *testing.T) {
	s, mock := testDeviceStore(t)

	mock.ExpectExec("INSERT INTO devices").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CreateStub(context.Background(), types.RegistrationMessage{
		DeviceID: "dev-3",
		Name:     "New node",
		Type:     "esp32",
		Sensors:  []string{"ph", "chlorine"}, // unknown kinds are filtered
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceStore_TouchStatus(t *testing.T) {
	s, mock := testDeviceStore(t)

	mock.ExpectExec("UPDATE devices SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.TouchStatus(context.Background(), "dev-1", types.DeviceStatusOnline, time.Now())
	require.NoError(t, err)
}

func TestDeviceStore_TouchStatus_Missing(t *testing.T) {
	s, mock := testDeviceStore(t)

	mock.ExpectExec("UPDATE devices SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.TouchStatus(context.Background(), "ghost", types.DeviceStatusOnline, time.Now())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeviceStore_UpdateDevice_LocationAssignment(t *testing.T) {
	s, mock := testDeviceStore(t)

	mock.ExpectExec("UPDATE devices SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM devices WHERE device_id").
		WillReturnRows(sqlmock.NewRows(deviceColumnsList()).AddRow(
			"dev-2", "", "", "", "", "", "{}",
			"offline", time.Now(), nil, "Building B", "3F", "near the pump",
		))

	device, err := s.UpdateDevice(context.Background(), "dev-2", DevicePatch{
		Location: &types.Location{Building: "Building B", Floor: "3F", Notes: "near the pump"},
	})
	require.NoError(t, err)
	assert.True(t, device.RegisteredForData())
}

func TestDeviceStore_MarkStaleOffline(t *testing.T) {
	s, mock := testDeviceStore(t)

	mock.ExpectQuery("UPDATE devices SET status").
		WillReturnRows(sqlmock.NewRows([]string{"device_id"}).AddRow("dev-1").AddRow("dev-2"))

	ids, err := s.MarkStaleOffline(context.Background(), time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-1", "dev-2"}, ids)
}
