package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"aquabridge/internal/types"
)

// UserStore provides access to user notification preferences.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a user store on the shared connection.
func NewUserStore(conn *Connection) *UserStore {
	return &UserStore{db: conn.DB}
}

// ListNotificationPreferences returns the preferences of every user.
// Rows with malformed preference documents are skipped rather than
// failing the whole fan-out.
func (s *UserStore) ListNotificationPreferences(ctx context.Context) ([]types.NotificationPreferences, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, email, notification_preferences FROM users")
	if err != nil {
		return nil, fmt.Errorf("failed to list user preferences: %w", err)
	}
	defer rows.Close()

	var prefs []types.NotificationPreferences
	for rows.Next() {
		var (
			userID string
			email  string
			raw    []byte
		)
		if err := rows.Scan(&userID, &email, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}

		var p types.NotificationPreferences
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				continue
			}
		}
		p.UserID = userID
		if p.Email == "" {
			p.Email = email
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// SavePreferences upserts a user's notification preferences document.
func (s *UserStore) SavePreferences(ctx context.Context, p types.NotificationPreferences) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid preferences for user %s: %w", p.UserID, err)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, email, notification_preferences, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET email = EXCLUDED.email,
			notification_preferences = EXCLUDED.notification_preferences,
			updated_at = NOW()`,
		p.UserID, p.Email, raw)
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}
