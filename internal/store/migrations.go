package store

import (
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// migrations contains all database migrations
var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_devices_table",
		Up: `
			CREATE TABLE IF NOT EXISTS devices (
				device_id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				type VARCHAR(100) NOT NULL DEFAULT '',
				firmware_version VARCHAR(100) NOT NULL DEFAULT '',
				mac VARCHAR(64) NOT NULL DEFAULT '',
				ip VARCHAR(64) NOT NULL DEFAULT '',
				sensor_kinds TEXT[] NOT NULL DEFAULT '{}',
				status VARCHAR(50) NOT NULL DEFAULT 'offline',
				registered_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				last_seen TIMESTAMP WITH TIME ZONE,
				location_building VARCHAR(255) NOT NULL DEFAULT '',
				location_floor VARCHAR(255) NOT NULL DEFAULT '',
				location_notes TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_devices_status ON devices(status);
			CREATE INDEX IF NOT EXISTS idx_devices_last_seen ON devices(last_seen);
		`,
		Down: `DROP TABLE IF EXISTS devices;`,
	},
	{
		Version: 2,
		Name:    "create_alerts_table",
		Up: `
			CREATE TABLE IF NOT EXISTS alerts (
				alert_id UUID PRIMARY KEY,
				device_id VARCHAR(255) NOT NULL REFERENCES devices(device_id) ON DELETE CASCADE,
				parameter VARCHAR(50) NOT NULL,
				kind VARCHAR(50) NOT NULL,
				severity VARCHAR(50) NOT NULL,
				current_value DOUBLE PRECISION NOT NULL,
				threshold_value DOUBLE PRECISION,
				trend_direction VARCHAR(20),
				message TEXT NOT NULL DEFAULT '',
				recommended_action TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL DEFAULT 'Active',
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				acknowledged_at TIMESTAMP WITH TIME ZONE,
				acknowledged_by VARCHAR(255),
				resolved_at TIMESTAMP WITH TIME ZONE,
				resolved_by VARCHAR(255),
				resolved_notes TEXT,
				notifications_sent TEXT[] NOT NULL DEFAULT '{}'
			);

			CREATE INDEX IF NOT EXISTS idx_alerts_device_id ON alerts(device_id);
			CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
			CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_one_active
				ON alerts(device_id, parameter, kind, severity)
				WHERE status = 'Active';
		`,
		Down: `DROP TABLE IF EXISTS alerts;`,
	},
	{
		Version: 3,
		Name:    "create_users_table",
		Up: `
			CREATE TABLE IF NOT EXISTS users (
				user_id VARCHAR(255) PRIMARY KEY,
				email VARCHAR(255) NOT NULL DEFAULT '',
				notification_preferences JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
		`,
		Down: `DROP TABLE IF EXISTS users;`,
	},
	{
		Version: 4,
		Name:    "create_threshold_config_table",
		Up: `
			CREATE TABLE IF NOT EXISTS threshold_config (
				parameter VARCHAR(50) NOT NULL,
				severity VARCHAR(50) NOT NULL,
				min_value DOUBLE PRECISION,
				max_value DOUBLE PRECISION,
				updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				PRIMARY KEY (parameter, severity)
			);
		`,
		Down: `DROP TABLE IF EXISTS threshold_config;`,
	},
}

// RunMigrations runs all pending database migrations
func RunMigrations(conn *Connection) error {
	// Ensure schema_migrations table exists
	if err := createMigrationsTable(conn.DB); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get current migration version
	currentVersion, err := getCurrentVersion(conn.DB)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	// Run pending migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := conn.DB.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		// Execute migration
		if _, err := tx.Exec(migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		// Record migration
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)",
			migration.Version, migration.Name,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func createMigrationsTable(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	_, err := db.Exec(query)
	return err
}

func getCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}
