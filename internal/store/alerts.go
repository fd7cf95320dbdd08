package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"aquabridge/internal/types"
)

// Postgres error codes used to classify transaction outcomes.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
)

// AlertStore provides access to alert records and enforces the
// at-most-one-active rule transactionally.
type AlertStore struct {
	db *sql.DB
}

// NewAlertStore creates an alert store on the shared connection.
func NewAlertStore(conn *Connection) *AlertStore {
	return &AlertStore{db: conn.DB}
}

const alertColumns = `alert_id, device_id, parameter, kind, severity, current_value,
	threshold_value, trend_direction, message, recommended_action, status, created_at,
	acknowledged_at, acknowledged_by, resolved_at, resolved_by, resolved_notes, notifications_sent`

// CreateIfAbsent atomically checks for an existing Active alert with the
// same (device, parameter, kind, severity) tuple and creates the alert
// only when none exists. Losing the race returns ErrDuplicateAlert. The
// partial unique index on Active alerts backstops concurrent creators
// that race past the in-transaction probe.
func (s *AlertStore) CreateIfAbsent(ctx context.Context, alert *types.Alert) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		id, err := s.tryCreate(ctx, alert)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, ErrDuplicateAlert) {
			return "", ErrDuplicateAlert
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch string(pqErr.Code) {
			case pgUniqueViolation:
				// A concurrent creator won; the tuple is already alerted.
				return "", ErrDuplicateAlert
			case pgSerializationFailure:
				// Write-set conflict; retry once, the re-probe will find
				// the winner's row and abort as a duplicate.
				continue
			}
		}
		return "", err
	}
	return "", ErrDuplicateAlert
}

func (s *AlertStore) tryCreate(ctx context.Context, alert *types.Alert) (string, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return "", fmt.Errorf("failed to begin alert transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT alert_id FROM alerts
		WHERE device_id = $1 AND parameter = $2 AND kind = $3 AND severity = $4 AND status = $5
		LIMIT 1`,
		alert.DeviceID, string(alert.Parameter), string(alert.Kind),
		string(alert.Severity), string(types.AlertStatusActive),
	).Scan(&existing)
	if err == nil {
		return "", ErrDuplicateAlert
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to probe for active alert: %w", err)
	}

	alertID := alert.AlertID
	if alertID == "" {
		alertID = uuid.NewString()
	}
	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var trendDirection sql.NullString
	if alert.TrendDirection != "" {
		trendDirection = sql.NullString{String: string(alert.TrendDirection), Valid: true}
	}
	var thresholdValue sql.NullFloat64
	if alert.ThresholdValue != nil {
		thresholdValue = sql.NullFloat64{Float64: *alert.ThresholdValue, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alerts (alert_id, device_id, parameter, kind, severity, current_value,
			threshold_value, trend_direction, message, recommended_action, status, created_at, notifications_sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		alertID, alert.DeviceID, string(alert.Parameter), string(alert.Kind),
		string(alert.Severity), alert.CurrentValue, thresholdValue, trendDirection,
		alert.Message, alert.RecommendedAction, string(types.AlertStatusActive),
		createdAt, pq.Array([]string{}))
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return alertID, nil
}

// GetAlert loads one alert by id.
func (s *AlertStore) GetAlert(ctx context.Context, alertID string) (*types.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM alerts WHERE alert_id = $1", alertColumns), alertID)
	return scanAlert(row)
}

// ListAlerts returns alerts, optionally filtered by status, newest first.
func (s *AlertStore) ListAlerts(ctx context.Context, status types.AlertStatus, limit int) ([]*types.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx,
			fmt.Sprintf("SELECT %s FROM alerts ORDER BY created_at DESC LIMIT $1", alertColumns), limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			fmt.Sprintf("SELECT %s FROM alerts WHERE status = $1 ORDER BY created_at DESC LIMIT $2", alertColumns),
			string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*types.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// Acknowledge moves an Active alert to Acknowledged. Re-acknowledging or
// acknowledging a resolved alert returns ErrInvalidTransition.
func (s *AlertStore) Acknowledge(ctx context.Context, alertID, principal string) (*types.Alert, error) {
	return s.transition(ctx, alertID, types.AlertStatusAcknowledged, principal, "")
}

// Resolve moves an alert to Resolved from either Active or Acknowledged.
// Resolving an already-resolved alert is idempotent.
func (s *AlertStore) Resolve(ctx context.Context, alertID, principal, notes string) (*types.Alert, error) {
	return s.transition(ctx, alertID, types.AlertStatusResolved, principal, notes)
}

func (s *AlertStore) transition(ctx context.Context, alertID string, target types.AlertStatus, principal, notes string) (*types.Alert, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transition transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM alerts WHERE alert_id = $1 FOR UPDATE", alertID).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read alert status: %w", err)
	}

	from := types.AlertStatus(current)
	if !from.CanTransition(target) {
		return nil, ErrInvalidTransition
	}

	now := time.Now()
	if from == types.AlertStatusResolved && target == types.AlertStatusResolved {
		// Idempotent resolve: nothing to write.
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return s.GetAlert(ctx, alertID)
	}

	switch target {
	case types.AlertStatusAcknowledged:
		_, err = tx.ExecContext(ctx, `
			UPDATE alerts SET status = $1, acknowledged_at = $2, acknowledged_by = $3
			WHERE alert_id = $4`,
			string(target), now, principal, alertID)
	case types.AlertStatusResolved:
		_, err = tx.ExecContext(ctx, `
			UPDATE alerts SET status = $1, resolved_at = $2, resolved_by = $3, resolved_notes = $4
			WHERE alert_id = $5`,
			string(target), now, principal, notes, alertID)
	default:
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition alert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetAlert(ctx, alertID)
}

// RecordNotifications unions the delivered user ids into the alert's
// notifications_sent set.
func (s *AlertStore) RecordNotifications(ctx context.Context, alertID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET notifications_sent = (
			SELECT ARRAY(SELECT DISTINCT unnest(notifications_sent || $1::text[]))
		)
		WHERE alert_id = $2`,
		pq.Array(userIDs), alertID)
	if err != nil {
		return fmt.Errorf("failed to record notifications: %w", err)
	}
	return nil
}

func scanAlert(row rowScanner) (*types.Alert, error) {
	var (
		alert          types.Alert
		thresholdValue sql.NullFloat64
		trendDirection sql.NullString
		acknowledgedAt sql.NullTime
		acknowledgedBy sql.NullString
		resolvedAt     sql.NullTime
		resolvedBy     sql.NullString
		resolvedNotes  sql.NullString
		notified       pq.StringArray
	)

	err := row.Scan(
		&alert.AlertID, &alert.DeviceID, &alert.Parameter, &alert.Kind,
		&alert.Severity, &alert.CurrentValue, &thresholdValue, &trendDirection,
		&alert.Message, &alert.RecommendedAction, &alert.Status, &alert.CreatedAt,
		&acknowledgedAt, &acknowledgedBy, &resolvedAt, &resolvedBy, &resolvedNotes,
		&notified,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert row: %w", err)
	}

	if thresholdValue.Valid {
		alert.ThresholdValue = &thresholdValue.Float64
	}
	if trendDirection.Valid {
		alert.TrendDirection = types.TrendDirection(trendDirection.String)
	}
	if acknowledgedAt.Valid {
		alert.AcknowledgedAt = &acknowledgedAt.Time
	}
	alert.AcknowledgedBy = acknowledgedBy.String
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	alert.ResolvedBy = resolvedBy.String
	alert.ResolvedNotes = resolvedNotes.String
	alert.NotificationsSent = append(alert.NotificationsSent, notified...)

	return &alert, nil
}
