package store

import (
	"context"
	"database/sql"
	"fmt"

	"aquabridge/internal/types"
)

// ThresholdStore loads the alert threshold configuration.
type ThresholdStore struct {
	db *sql.DB
}

// NewThresholdStore creates a threshold store on the shared connection.
func NewThresholdStore(conn *Connection) *ThresholdStore {
	return &ThresholdStore{db: conn.DB}
}

// Load reads the full threshold configuration. An empty table yields a
// config with no bands, which disables threshold alerting.
func (s *ThresholdStore) Load(ctx context.Context) (*types.AlertThresholdConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT parameter, severity, min_value, max_value FROM threshold_config")
	if err != nil {
		return nil, fmt.Errorf("failed to load threshold config: %w", err)
	}
	defer rows.Close()

	cfg := &types.AlertThresholdConfig{
		Bands: make(map[types.Parameter][]types.ThresholdBand),
	}

	for rows.Next() {
		var (
			parameter string
			severity  string
			minValue  sql.NullFloat64
			maxValue  sql.NullFloat64
		)
		if err := rows.Scan(&parameter, &severity, &minValue, &maxValue); err != nil {
			return nil, fmt.Errorf("failed to scan threshold row: %w", err)
		}

		band := types.ThresholdBand{Severity: types.AlertSeverity(severity)}
		if minValue.Valid {
			v := minValue.Float64
			band.Min = &v
		}
		if maxValue.Valid {
			v := maxValue.Float64
			band.Max = &v
		}

		param := types.Parameter(parameter)
		cfg.Bands[param] = append(cfg.Bands[param], band)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("threshold config failed validation: %w", err)
	}
	return cfg, nil
}
