package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aquabridge/internal/types"
)

func testAlertStore(t *testing.T) (*AlertStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &AlertStore{db: db}, mock
}

func sampleAlert() *types.Alert {
	threshold := 9.0
	return &types.Alert{
		DeviceID:          "dev-1",
		Parameter:         types.ParameterPH,
		Kind:              types.AlertKindThreshold,
		Severity:          types.SeverityCritical,
		CurrentValue:      9.5,
		ThresholdValue:    &threshold,
		Message:           "pH reading 9.50 breached the Critical band (threshold 9.00)",
		RecommendedAction: "Investigate immediately and consider isolating the supply.",
		Status:            types.AlertStatusActive,
	}
}

func alertColumnsList() []string {
	return []string{
		"alert_id", "device_id", "parameter", "kind", "severity", "current_value",
		"threshold_value", "trend_direction", "message", "recommended_action", "status",
		"created_at", "acknowledged_at", "acknowledged_by", "resolved_at", "resolved_by",
		"resolved_notes", "notifications_sent",
	}
}

func fullAlertRow(alertID string, status types.AlertStatus) *sqlmock.Rows {
	return sqlmock.NewRows(alertColumnsList()).AddRow(
		alertID, "dev-1", "ph", "threshold", "Critical", 9.5,
		9.0, nil, "msg", "action", string(status),
		time.Now(), nil, nil, nil, nil, nil, "{}",
	)
}

func TestAlertStore_CreateIfAbsent_Creates(t *testing.T) {
	s, mock := testAlertStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT alert_id FROM alerts").
		WithArgs("dev-1", "ph", "threshold", "Critical", "Active").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO alerts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := s.CreateIfAbsent(context.Background(), sampleAlert())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertStore_CreateIfAbsent_DuplicateAborts(t *testing.T) {
	s, mock := testAlertStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT alert_id FROM alerts").
		WillReturnRows(sqlmock.NewRows([]string{"alert_id"}).AddRow("existing-alert"))
	mock.ExpectRollback()

	_, err := s.CreateIfAbsent(context.Background(), sampleAlert())
	assert.True(t, errors.Is(err, ErrDuplicateAlert))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertStore_CreateIfAbsent_UniqueViolationIsDuplicate(t *testing.T) {
	s, mock := testAlertStore(t)

	// The in-transaction probe misses but the partial unique index
	// catches a concurrent creator at insert time.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT alert_id FROM alerts").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO alerts").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := s.CreateIfAbsent(context.Background(), sampleAlert())
	assert.True(t, errors.Is(err, ErrDuplicateAlert))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertStore_CreateIfAbsent_SerializationRetryFindsWinner(t *testing.T) {
	s, mock := testAlertStore(t)

	// First attempt loses the write-set race.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT alert_id FROM alerts").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO alerts").
		WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()

	// The retry's probe finds the winner's Active alert and aborts.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT alert_id FROM alerts").
		WillReturnRows(sqlmock.NewRows([]string{"alert_id"}).AddRow("winner"))
	mock.ExpectRollback()

	_, err := s.CreateIfAbsent(context.Background(), sampleAlert())
	assert.True(t, errors.Is(err, ErrDuplicateAlert))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertStore_Acknowledge(t *testing.T) {
	s, mock := testAlertStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM alerts").
		WithArgs("alert-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Active"))
	mock.ExpectExec("UPDATE alerts SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT (.+) FROM alerts WHERE alert_id").
		WillReturnRows(fullAlertRow("alert-1", types.AlertStatusAcknowledged))

	alert, err := s.Acknowledge(context.Background(), "alert-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, types.AlertStatusAcknowledged, alert.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertStore_AcknowledgeResolvedFails(t *testing.T) {
	s, mock := testAlertStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM alerts").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Resolved"))
	mock.ExpectRollback()

	_, err := s.Acknowledge(context.Background(), "alert-1", "admin-1")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertStore_ResolveIsIdempotent(t *testing.T) {
	s, mock := testAlertStore(t)

	// Resolving an already-resolved alert writes nothing.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM alerts").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Resolved"))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT (.+) FROM alerts WHERE alert_id").
		WillReturnRows(fullAlertRow("alert-1", types.AlertStatusResolved))

	alert, err := s.Resolve(context.Background(), "alert-1", "admin-1", "done")
	require.NoError(t, err)
	assert.Equal(t, types.AlertStatusResolved, alert.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertStore_ResolveActive(t *testing.T) {
	s, mock := testAlertStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM alerts").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Active"))
	mock.ExpectExec("UPDATE alerts SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT (.+) FROM alerts WHERE alert_id").
		WillReturnRows(fullAlertRow("alert-1", types.AlertStatusResolved))

	alert, err := s.Resolve(context.Background(), "alert-1", "admin-1", "notes")
	require.NoError(t, err)
	assert.Equal(t, types.AlertStatusResolved, alert.Status)
}

func TestAlertStore_GetAlertNotFound(t *testing.T) {
	s, mock := testAlertStore(t)

	mock.ExpectQuery("SELECT (.+) FROM alerts WHERE alert_id").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetAlert(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAlertStore_RecordNotifications(t *testing.T) {
	s, mock := testAlertStore(t)

	mock.ExpectExec("UPDATE alerts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.RecordNotifications(context.Background(), "alert-1", []string{"u1", "u2"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertStore_RecordNotificationsEmptySet(t *testing.T) {
	s, mock := testAlertStore(t)

	// No user ids, no write.
	require.NoError(t, s.RecordNotifications(context.Background(), "alert-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
