package admin

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aquabridge/internal/store"
	"aquabridge/internal/types"
)

func testMutations(t *testing.T) (*Mutations, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn := &store.Connection{DB: db}
	return NewMutations(store.NewAlertStore(conn), store.NewDeviceStore(conn)), mock
}

func adminPrincipal() Principal {
	return Principal{UserID: "admin-1", Role: RoleAdmin}
}

func alertRow(status types.AlertStatus) *sqlmock.Rows {
	cols := []string{
		"alert_id", "device_id", "parameter", "kind", "severity", "current_value",
		"threshold_value", "trend_direction", "message", "recommended_action", "status",
		"created_at", "acknowledged_at", "acknowledged_by", "resolved_at", "resolved_by",
		"resolved_notes", "notifications_sent",
	}
	return sqlmock.NewRows(cols).AddRow(
		"alert-1", "dev-1", "ph", "threshold", "Critical", 9.5,
		9.0, nil, "msg", "action", string(status),
		time.Now(), nil, nil, nil, nil, nil, "{}",
	)
}

func TestMutations_NonAdminNeverReachesStorage(t *testing.T) {
	m, mock := testMutations(t)

	_, err := m.Dispatch(context.Background(), "resolve_alert",
		Principal{UserID: "viewer", Role: "viewer"},
		json.RawMessage(`{"alert_id": "alert-1"}`))

	assert.True(t, errors.Is(err, ErrAuthFailure))
	// No SQL expectations were queued; a storage call would fail the mock.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMutations_UnknownAction(t *testing.T) {
	m, _ := testMutations(t)

	_, err := m.Dispatch(context.Background(), "delete_everything", adminPrincipal(), json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestMutations_AcknowledgeAlert(t *testing.T) {
	m, mock := testMutations(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM alerts").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Active"))
	mock.ExpectExec("UPDATE alerts SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT (.+) FROM alerts WHERE alert_id").
		WillReturnRows(alertRow(types.AlertStatusAcknowledged))

	result, err := m.Dispatch(context.Background(), "acknowledge_alert", adminPrincipal(),
		json.RawMessage(`{"alert_id": "alert-1"}`))
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "alert-1", result.AlertID)
	assert.Equal(t, "Acknowledged", result.NewStatus)
}

func TestMutations_ResolveRequiresAlertID(t *testing.T) {
	m, _ := testMutations(t)

	_, err := m.Dispatch(context.Background(), "resolve_alert", adminPrincipal(), json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestMutations_UpdateDeviceRejectsBadStatus(t *testing.T) {
	m, _ := testMutations(t)

	_, err := m.Dispatch(context.Background(), "update_device", adminPrincipal(),
		json.RawMessage(`{"device_id": "dev-1", "patch": {"status": "exploded"}}`))
	assert.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{ErrAuthFailure, 401, "auth_failure"},
		{store.ErrNotFound, 404, "not_found"},
		{store.ErrInvalidTransition, 409, "invalid_transition"},
		{errors.New("anything else"), 400, "bad_request"},
	}

	for _, tt := range tests {
		status, code := classifyError(tt.err)
		if status != tt.wantStatus || code != tt.wantCode {
			t.Errorf("classifyError(%v) = (%d, %s), want (%d, %s)",
				tt.err, status, code, tt.wantStatus, tt.wantCode)
		}
	}
}
