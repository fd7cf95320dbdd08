package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"aquabridge/internal/types"
)

// DeviceStore provides access to device records in the metadata store.
type DeviceStore struct {
	db *sql.DB
}

// NewDeviceStore creates a device store on the shared connection.
func NewDeviceStore(conn *Connection) *DeviceStore {
	return &DeviceStore{db: conn.DB}
}

const deviceColumns = `device_id, name, type, firmware_version, mac, ip, sensor_kinds,
	status, registered_at, last_seen, location_building, location_floor, location_notes`

// GetDevice loads one device by id.
func (s *DeviceStore) GetDevice(ctx context.Context, deviceID string) (*types.Device, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM devices WHERE device_id = $1", deviceColumns), deviceID)
	return scanDevice(row)
}

// CreateStub inserts an unregistered device stub from a registration
// message. The stub has no location, so it cannot contribute readings
// until an admin assigns one. Existing devices are left untouched.
func (s *DeviceStore) CreateStub(ctx context.Context, reg types.RegistrationMessage) error {
	sensorKinds := make([]string, 0, len(reg.Sensors))
	for _, sensor := range reg.Sensors {
		if types.IsValidParameter(types.Parameter(sensor)) {
			sensorKinds = append(sensorKinds, sensor)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, name, type, firmware_version, mac, ip, sensor_kinds, status, registered_at, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (device_id) DO NOTHING`,
		reg.DeviceID, reg.Name, reg.Type, reg.FirmwareVersion, reg.MAC, reg.IP,
		pq.Array(sensorKinds), string(types.DeviceStatusOffline))
	if err != nil {
		return fmt.Errorf("failed to create device stub: %w", err)
	}
	return nil
}

// TouchStatus updates the device status and last_seen. The caller is
// responsible for throttling; this is a plain write.
func (s *DeviceStore) TouchStatus(ctx context.Context, deviceID string, status types.DeviceStatus, seenAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE devices SET status = $1, last_seen = $2 WHERE device_id = $3",
		string(status), seenAt, deviceID)
	if err != nil {
		return fmt.Errorf("failed to update device status: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DevicePatch holds optional field updates for an admin mutation. Nil
// fields are left unchanged.
type DevicePatch struct {
	Name            *string         `json:"name,omitempty"`
	Type            *string         `json:"type,omitempty"`
	FirmwareVersion *string         `json:"firmwareVersion,omitempty"`
	Status          *string         `json:"status,omitempty"`
	Location        *types.Location `json:"location,omitempty"`
}

// UpdateDevice applies a patch to the device row.
func (s *DeviceStore) UpdateDevice(ctx context.Context, deviceID string, patch DevicePatch) (*types.Device, error) {
	sets := make([]string, 0, 6)
	args := make([]interface{}, 0, 7)
	idx := 1

	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}

	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Type != nil {
		add("type", *patch.Type)
	}
	if patch.FirmwareVersion != nil {
		add("firmware_version", *patch.FirmwareVersion)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Location != nil {
		add("location_building", patch.Location.Building)
		add("location_floor", patch.Location.Floor)
		add("location_notes", patch.Location.Notes)
	}

	if len(sets) == 0 {
		return s.GetDevice(ctx, deviceID)
	}

	args = append(args, deviceID)
	query := fmt.Sprintf("UPDATE devices SET %s WHERE device_id = $%d",
		strings.Join(sets, ", "), idx)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update device: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}

	return s.GetDevice(ctx, deviceID)
}

// DeleteDevice removes the device and, via cascade, its alerts.
func (s *DeviceStore) DeleteDevice(ctx context.Context, deviceID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM devices WHERE device_id = $1", deviceID)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDevices returns all devices ordered by registration time.
func (s *DeviceStore) ListDevices(ctx context.Context) ([]*types.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM devices ORDER BY registered_at", deviceColumns))
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*types.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

// MarkStaleOffline flips devices to offline whose last_seen is older than
// the cutoff. Returns the ids of the devices it changed.
func (s *DeviceStore) MarkStaleOffline(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE devices SET status = $1
		WHERE status = $2 AND (last_seen IS NULL OR last_seen < $3)
		RETURNING device_id`,
		string(types.DeviceStatusOffline), string(types.DeviceStatusOnline), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to mark stale devices offline: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*types.Device, error) {
	var (
		device      types.Device
		sensorKinds pq.StringArray
		lastSeen    sql.NullTime
		building    string
		floor       string
		notes       string
	)

	err := row.Scan(
		&device.DeviceID, &device.Name, &device.Type, &device.FirmwareVersion,
		&device.MAC, &device.IP, &sensorKinds, &device.Status,
		&device.RegisteredAt, &lastSeen, &building, &floor, &notes,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan device row: %w", err)
	}

	for _, kind := range sensorKinds {
		device.SensorKinds = append(device.SensorKinds, types.Parameter(kind))
	}
	if lastSeen.Valid {
		device.LastSeen = lastSeen.Time
	}
	if building != "" || floor != "" || notes != "" {
		device.Location = &types.Location{Building: building, Floor: floor, Notes: notes}
	}

	return &device, nil
}
