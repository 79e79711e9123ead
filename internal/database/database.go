package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func Connect(dbURL string, logger *zap.Logger) (*sqlx.DB, error) {
	logger.Info("🔌 Connecting to database",
		zap.Int("url_length", len(dbURL)),
		zap.String("url_prefix", dbURL[:min(30, len(dbURL))]+"..."))

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		logger.Error("❌ Database connection failed at sqlx.Connect()",
			zap.String("error_type", fmt.Sprintf("%T", err)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		logger.Error("❌ Database connection failed at Ping()",
			zap.String("error_type", fmt.Sprintf("%T", err)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("✅ Database connection successful")
	return db, nil
}

func Migrate(db *sqlx.DB, logger *zap.Logger) error {
	migrations := []string{
		// Users carry the tenant they belong to
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('driver', 'dispatcher', 'admin')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_company_role ON users(company_id, role)`,

		// Create FCM tokens table for push notifications
		`CREATE TABLE IF NOT EXISTS fcm_tokens (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token TEXT NOT NULL UNIQUE,
			device_type TEXT NOT NULL CHECK(device_type IN ('ios', 'android', 'web')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fcm_tokens_user_id ON fcm_tokens(user_id)`,

		// Raw GPS samples; timestamp is device time
		`CREATE TABLE IF NOT EXISTS location_pings (
			id BIGSERIAL PRIMARY KEY,
			company_id TEXT NOT NULL,
			driver_id TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL CHECK(latitude BETWEEN -90 AND 90),
			longitude DOUBLE PRECISION NOT NULL CHECK(longitude BETWEEN -180 AND 180),
			speed INT NOT NULL CHECK(speed >= 0),
			heading INT CHECK(heading BETWEEN 0 AND 359),
			accuracy DOUBLE PRECISION,
			"timestamp" BIGINT NOT NULL,
			received_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_location_pings_driver_ts ON location_pings(company_id, driver_id, "timestamp")`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_location_pings_identity ON location_pings(company_id, driver_id, "timestamp", latitude, longitude)`,

		`CREATE TABLE IF NOT EXISTS geofences (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			name TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			radius_meters INT NOT NULL DEFAULT 250 CHECK(radius_meters > 0),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_depot BOOLEAN NOT NULL DEFAULT TRUE,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_geofences_company_active ON geofences(company_id, is_active)`,

		// One row per driver: the fence they were last seen inside (NULL = none)
		`CREATE TABLE IF NOT EXISTS containment_states (
			company_id TEXT NOT NULL,
			driver_id TEXT NOT NULL,
			geofence_id TEXT,
			geofence_name TEXT,
			is_depot BOOLEAN NOT NULL DEFAULT FALSE,
			last_ping_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (company_id, driver_id)
		)`,

		`CREATE TABLE IF NOT EXISTS geofence_events (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			driver_id TEXT NOT NULL,
			geofence_id TEXT NOT NULL,
			geofence_name TEXT NOT NULL,
			is_depot BOOLEAN NOT NULL,
			type TEXT NOT NULL CHECK(type IN ('ENTER', 'EXIT')),
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			occurred_at BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			UNIQUE (company_id, driver_id, geofence_id, type, occurred_at)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_geofence_events_company_time ON geofence_events(company_id, occurred_at DESC)`,

		`CREATE TABLE IF NOT EXISTS timesheets (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			driver_id TEXT NOT NULL,
			depot_name TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('ACTIVE', 'CLOSED')),
			arrival_time BIGINT NOT NULL,
			arrival_latitude DOUBLE PRECISION,
			arrival_longitude DOUBLE PRECISION,
			arrival_source TEXT NOT NULL CHECK(arrival_source IN ('geofence', 'manual')),
			departure_time BIGINT,
			departure_latitude DOUBLE PRECISION,
			departure_longitude DOUBLE PRECISION,
			departure_source TEXT CHECK(departure_source IN ('geofence', 'manual')),
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		// At most one ACTIVE timesheet per driver
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_timesheets_one_active
			ON timesheets(company_id, driver_id) WHERE status = 'ACTIVE'`,
		`CREATE INDEX IF NOT EXISTS idx_timesheets_company_arrival ON timesheets(company_id, arrival_time DESC)`,

		`CREATE TABLE IF NOT EXISTS stagnation_alerts (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			driver_id TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('ACTIVE', 'ACKNOWLEDGED', 'DISMISSED')),
			started_at BIGINT NOT NULL,
			last_ping_at BIGINT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			acknowledged_by TEXT,
			acknowledged_at BIGINT,
			resolution_notes TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		// At most one ACTIVE alert per driver
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_stagnation_alerts_one_active
			ON stagnation_alerts(company_id, driver_id) WHERE status = 'ACTIVE'`,
		`CREATE INDEX IF NOT EXISTS idx_stagnation_alerts_driver_started
			ON stagnation_alerts(company_id, driver_id, started_at DESC)`,

		`CREATE TABLE IF NOT EXISTS engine_settings (
			company_id TEXT PRIMARY KEY,
			stagnation_window_seconds BIGINT,
			stagnation_speed_threshold INT,
			movement_tolerance_meters DOUBLE PRECISION,
			default_geofence_radius_meters INT,
			updated_at BIGINT NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	logger.Info("✅ Database migrations completed", zap.Int("statements", len(migrations)))
	return nil
}
