package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"depotwatch-backend/internal/models"
)

// PostgresStore implements the engine persistence surface on sqlx + lib/pq.
// The one-ACTIVE-row rules are enforced by partial unique indexes, see Migrate.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

// Pings

func (s *PostgresStore) InsertPing(ctx context.Context, ping *models.LocationPing) error {
	query := `
		INSERT INTO location_pings (company_id, driver_id, latitude, longitude, speed, heading, accuracy, "timestamp", received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (company_id, driver_id, "timestamp", latitude, longitude)
		DO UPDATE SET received_at = location_pings.received_at
		RETURNING id, received_at`
	err := s.db.QueryRowxContext(ctx, query,
		ping.CompanyID, ping.DriverID, ping.Latitude, ping.Longitude,
		ping.Speed, ping.Heading, ping.Accuracy, ping.Timestamp, ping.ReceivedAt,
	).Scan(&ping.ID, &ping.ReceivedAt)
	return mapError(err)
}

func (s *PostgresStore) GetRecentPings(ctx context.Context, companyID, driverID string, windowStart, windowEnd int64) ([]models.LocationPing, error) {
	pings := []models.LocationPing{}
	query := `
		SELECT * FROM location_pings
		WHERE company_id = $1 AND driver_id = $2 AND "timestamp" BETWEEN $3 AND $4
		ORDER BY "timestamp" ASC, id ASC`
	if err := s.db.SelectContext(ctx, &pings, query, companyID, driverID, windowStart, windowEnd); err != nil {
		return nil, mapError(err)
	}
	return pings, nil
}

// DeletePingsBefore drops pings older than cutoff and returns how many were removed
func (s *PostgresStore) DeletePingsBefore(ctx context.Context, cutoff int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM location_pings WHERE "timestamp" < $1`, cutoff)
	if err != nil {
		return 0, mapError(err)
	}
	return result.RowsAffected()
}

// Containment

func (s *PostgresStore) GetContainmentState(ctx context.Context, companyID, driverID string) (*models.ContainmentState, error) {
	var state models.ContainmentState
	err := s.db.GetContext(ctx, &state,
		`SELECT * FROM containment_states WHERE company_id = $1 AND driver_id = $2`, companyID, driverID)
	if err != nil {
		if err = mapError(err); errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

func (s *PostgresStore) SetContainmentState(ctx context.Context, state *models.ContainmentState) error {
	query := `
		INSERT INTO containment_states (company_id, driver_id, geofence_id, geofence_name, is_depot, last_ping_at, updated_at)
		VALUES (:company_id, :driver_id, :geofence_id, :geofence_name, :is_depot, :last_ping_at, :updated_at)
		ON CONFLICT (company_id, driver_id) DO UPDATE SET
			geofence_id = excluded.geofence_id,
			geofence_name = excluded.geofence_name,
			is_depot = excluded.is_depot,
			last_ping_at = excluded.last_ping_at,
			updated_at = excluded.updated_at`
	_, err := s.db.NamedExecContext(ctx, query, state)
	return mapError(err)
}

// Stagnation alerts

func (s *PostgresStore) getAlert(ctx context.Context, query string, args ...interface{}) (*models.StagnationAlert, error) {
	var alert models.StagnationAlert
	if err := s.db.GetContext(ctx, &alert, query, args...); err != nil {
		if err = mapError(err); errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &alert, nil
}

func (s *PostgresStore) GetActiveAlert(ctx context.Context, companyID, driverID string) (*models.StagnationAlert, error) {
	return s.getAlert(ctx,
		`SELECT * FROM stagnation_alerts WHERE company_id = $1 AND driver_id = $2 AND status = 'ACTIVE'`,
		companyID, driverID)
}

func (s *PostgresStore) GetLatestAlert(ctx context.Context, companyID, driverID string) (*models.StagnationAlert, error) {
	return s.getAlert(ctx, `
		SELECT * FROM stagnation_alerts
		WHERE company_id = $1 AND driver_id = $2
		ORDER BY started_at DESC, created_at DESC, id DESC
		LIMIT 1`,
		companyID, driverID)
}

func (s *PostgresStore) CreateAlert(ctx context.Context, alert *models.StagnationAlert) error {
	query := `
		INSERT INTO stagnation_alerts (
			id, company_id, driver_id, status, started_at, last_ping_at, latitude, longitude,
			acknowledged_by, acknowledged_at, resolution_notes, created_at, updated_at
		) VALUES (
			:id, :company_id, :driver_id, :status, :started_at, :last_ping_at, :latitude, :longitude,
			:acknowledged_by, :acknowledged_at, :resolution_notes, :created_at, :updated_at
		)`
	_, err := s.db.NamedExecContext(ctx, query, alert)
	return mapError(err)
}

func (s *PostgresStore) UpdateAlert(ctx context.Context, alert *models.StagnationAlert) error {
	query := `
		UPDATE stagnation_alerts SET
			status = :status,
			last_ping_at = :last_ping_at,
			acknowledged_by = :acknowledged_by,
			acknowledged_at = :acknowledged_at,
			resolution_notes = :resolution_notes,
			updated_at = :updated_at
		WHERE id = :id AND company_id = :company_id AND status = 'ACTIVE'`
	result, err := s.db.NamedExecContext(ctx, query, alert)
	if err != nil {
		return mapError(err)
	}
	return requireRow(result.RowsAffected())
}

func (s *PostgresStore) GetAlert(ctx context.Context, companyID, alertID string) (*models.StagnationAlert, error) {
	alert, err := s.getAlert(ctx,
		`SELECT * FROM stagnation_alerts WHERE id = $1 AND company_id = $2`, alertID, companyID)
	if err == nil && alert == nil {
		return nil, ErrNotFound
	}
	return alert, err
}

func (s *PostgresStore) ListAlerts(ctx context.Context, companyID string, status *models.AlertStatus) ([]models.StagnationAlert, error) {
	alerts := []models.StagnationAlert{}
	query := `SELECT * FROM stagnation_alerts WHERE company_id = $1`
	args := []interface{}{companyID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, string(*status))
	}
	query += ` ORDER BY started_at DESC, created_at DESC, id DESC`

	if err := s.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, mapError(err)
	}
	return alerts, nil
}

func (s *PostgresStore) ResolveActiveAlerts(ctx context.Context, companyID string, res models.AlertResolution) ([]models.StagnationAlert, error) {
	alerts := []models.StagnationAlert{}
	err := s.db.SelectContext(ctx, &alerts, `
		UPDATE stagnation_alerts SET
			status = $2,
			acknowledged_by = $3,
			acknowledged_at = $4,
			resolution_notes = $5,
			updated_at = $4
		WHERE company_id = $1 AND status = 'ACTIVE'
		RETURNING *`,
		companyID, string(res.Status), res.By, res.At, res.Notes)
	if err != nil {
		return nil, mapError(err)
	}
	return alerts, nil
}

// Timesheets

func (s *PostgresStore) GetActiveTimesheet(ctx context.Context, companyID, driverID string) (*models.Timesheet, error) {
	var ts models.Timesheet
	err := s.db.GetContext(ctx, &ts,
		`SELECT * FROM timesheets WHERE company_id = $1 AND driver_id = $2 AND status = 'ACTIVE'`,
		companyID, driverID)
	if err != nil {
		if err = mapError(err); errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ts, nil
}

func (s *PostgresStore) CreateTimesheet(ctx context.Context, ts *models.Timesheet) error {
	query := `
		INSERT INTO timesheets (
			id, company_id, driver_id, depot_name, status,
			arrival_time, arrival_latitude, arrival_longitude, arrival_source,
			departure_time, departure_latitude, departure_longitude, departure_source,
			created_at, updated_at
		) VALUES (
			:id, :company_id, :driver_id, :depot_name, :status,
			:arrival_time, :arrival_latitude, :arrival_longitude, :arrival_source,
			:departure_time, :departure_latitude, :departure_longitude, :departure_source,
			:created_at, :updated_at
		)`
	_, err := s.db.NamedExecContext(ctx, query, ts)
	return mapError(err)
}

func (s *PostgresStore) CloseTimesheet(ctx context.Context, companyID, timesheetID string, close models.TimesheetClose) (*models.Timesheet, error) {
	var ts models.Timesheet
	err := s.db.GetContext(ctx, &ts, `
		UPDATE timesheets SET
			status = 'CLOSED',
			departure_time = $3,
			departure_latitude = $4,
			departure_longitude = $5,
			departure_source = $6,
			updated_at = $3
		WHERE id = $1 AND company_id = $2 AND status = 'ACTIVE'
		RETURNING *`,
		timesheetID, companyID, close.DepartureTime, close.DepartureLatitude, close.DepartureLongitude, string(close.Source))
	if err != nil {
		return nil, mapError(err)
	}
	return &ts, nil
}

func (s *PostgresStore) ListTimesheets(ctx context.Context, companyID string, filter models.TimesheetFilter) ([]models.Timesheet, error) {
	timesheets := []models.Timesheet{}
	query := `SELECT * FROM timesheets WHERE company_id = $1`
	args := []interface{}{companyID}
	if filter.DriverID != "" {
		args = append(args, filter.DriverID)
		query += fmt.Sprintf(` AND driver_id = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY arrival_time DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	if err := s.db.SelectContext(ctx, &timesheets, query, args...); err != nil {
		return nil, mapError(err)
	}
	return timesheets, nil
}

// Geofences

func (s *PostgresStore) ListActiveGeofences(ctx context.Context, companyID string) ([]models.Geofence, error) {
	fences := []models.Geofence{}
	err := s.db.SelectContext(ctx, &fences,
		`SELECT * FROM geofences WHERE company_id = $1 AND is_active = TRUE ORDER BY name, id`, companyID)
	if err != nil {
		return nil, mapError(err)
	}
	return fences, nil
}

func (s *PostgresStore) ListGeofences(ctx context.Context, companyID string) ([]models.Geofence, error) {
	fences := []models.Geofence{}
	err := s.db.SelectContext(ctx, &fences,
		`SELECT * FROM geofences WHERE company_id = $1 ORDER BY name, id`, companyID)
	if err != nil {
		return nil, mapError(err)
	}
	return fences, nil
}

func (s *PostgresStore) GetGeofence(ctx context.Context, companyID, geofenceID string) (*models.Geofence, error) {
	var fence models.Geofence
	err := s.db.GetContext(ctx, &fence,
		`SELECT * FROM geofences WHERE id = $1 AND company_id = $2`, geofenceID, companyID)
	if err != nil {
		return nil, mapError(err)
	}
	return &fence, nil
}

func (s *PostgresStore) CreateGeofence(ctx context.Context, fence *models.Geofence) error {
	query := `
		INSERT INTO geofences (id, company_id, name, latitude, longitude, radius_meters, is_active, is_depot, created_at, updated_at)
		VALUES (:id, :company_id, :name, :latitude, :longitude, :radius_meters, :is_active, :is_depot, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, query, fence)
	return mapError(err)
}

func (s *PostgresStore) UpdateGeofence(ctx context.Context, fence *models.Geofence) error {
	query := `
		UPDATE geofences SET
			name = :name,
			latitude = :latitude,
			longitude = :longitude,
			radius_meters = :radius_meters,
			is_active = :is_active,
			is_depot = :is_depot,
			updated_at = :updated_at
		WHERE id = :id AND company_id = :company_id`
	result, err := s.db.NamedExecContext(ctx, query, fence)
	if err != nil {
		return mapError(err)
	}
	return requireRow(result.RowsAffected())
}

func (s *PostgresStore) DeleteGeofence(ctx context.Context, companyID, geofenceID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM geofences WHERE id = $1 AND company_id = $2`, geofenceID, companyID)
	if err != nil {
		return mapError(err)
	}
	return requireRow(result.RowsAffected())
}

// Geofence events

func (s *PostgresStore) RecordGeofenceEvent(ctx context.Context, event *models.GeofenceEvent) (bool, error) {
	query := `
		INSERT INTO geofence_events (
			id, company_id, driver_id, geofence_id, geofence_name, is_depot, type,
			latitude, longitude, occurred_at, created_at
		) VALUES (
			:id, :company_id, :driver_id, :geofence_id, :geofence_name, :is_depot, :type,
			:latitude, :longitude, :occurred_at, :created_at
		)
		ON CONFLICT (company_id, driver_id, geofence_id, type, occurred_at) DO NOTHING`
	result, err := s.db.NamedExecContext(ctx, query, event)
	if err != nil {
		return false, mapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) GeofenceEventRecorded(ctx context.Context, event *models.GeofenceEvent) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM geofence_events
			WHERE company_id = $1 AND driver_id = $2 AND geofence_id = $3 AND type = $4 AND occurred_at = $5
		)`
	err := s.db.GetContext(ctx, &exists, query,
		event.CompanyID, event.DriverID, event.GeofenceID, event.Type, event.OccurredAt)
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

func (s *PostgresStore) ListGeofenceEvents(ctx context.Context, companyID string, filter models.GeofenceEventFilter) ([]models.GeofenceEvent, error) {
	events := []models.GeofenceEvent{}
	query := `SELECT * FROM geofence_events WHERE company_id = $1`
	args := []interface{}{companyID}
	if filter.DriverID != "" {
		args = append(args, filter.DriverID)
		query += fmt.Sprintf(` AND driver_id = $%d`, len(args))
	}
	// ENTER before EXIT at the same instant, matching the memory store
	query += ` ORDER BY occurred_at DESC, (type = 'ENTER') DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, mapError(err)
	}
	return events, nil
}

// Engine settings

func (s *PostgresStore) GetEngineSettings(ctx context.Context, companyID string) (*models.EngineSettings, error) {
	var settings models.EngineSettings
	err := s.db.GetContext(ctx, &settings, `SELECT * FROM engine_settings WHERE company_id = $1`, companyID)
	if err != nil {
		if err = mapError(err); errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &settings, nil
}

func (s *PostgresStore) UpsertEngineSettings(ctx context.Context, settings *models.EngineSettings) error {
	query := `
		INSERT INTO engine_settings (
			company_id, stagnation_window_seconds, stagnation_speed_threshold,
			movement_tolerance_meters, default_geofence_radius_meters, updated_at
		) VALUES (
			:company_id, :stagnation_window_seconds, :stagnation_speed_threshold,
			:movement_tolerance_meters, :default_geofence_radius_meters, :updated_at
		)
		ON CONFLICT (company_id) DO UPDATE SET
			stagnation_window_seconds = excluded.stagnation_window_seconds,
			stagnation_speed_threshold = excluded.stagnation_speed_threshold,
			movement_tolerance_meters = excluded.movement_tolerance_meters,
			default_geofence_radius_meters = excluded.default_geofence_radius_meters,
			updated_at = excluded.updated_at`
	_, err := s.db.NamedExecContext(ctx, query, settings)
	return mapError(err)
}

// Users and push tokens

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, company_id, email, password, name, role, created_at, updated_at)
		VALUES (:id, :company_id, :email, :password, :name, :role, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, query, user)
	return mapError(err)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE email = $1`, email); err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = $1`, userID); err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

func (s *PostgresStore) UpsertFCMToken(ctx context.Context, token *models.FCMToken) error {
	query := `
		INSERT INTO fcm_tokens (user_id, token, device_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token) DO UPDATE SET
			user_id = excluded.user_id,
			device_type = excluded.device_type,
			updated_at = excluded.updated_at
		RETURNING id, created_at`
	err := s.db.QueryRowxContext(ctx, query,
		token.UserID, token.Token, token.DeviceType, token.CreatedAt, token.UpdatedAt,
	).Scan(&token.ID, &token.CreatedAt)
	return mapError(err)
}

// ListFCMTokensByRole returns the push tokens of a company's users with role.
// Dispatcher notifications also reach admins.
func (s *PostgresStore) ListFCMTokensByRole(ctx context.Context, companyID, role string) ([]models.FCMToken, error) {
	roles := []string{role}
	if role == models.RoleDispatcher {
		roles = append(roles, models.RoleAdmin)
	}
	tokens := []models.FCMToken{}
	err := s.db.SelectContext(ctx, &tokens, `
		SELECT t.* FROM fcm_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE u.company_id = $1 AND u.role = ANY($2)
		ORDER BY t.id`,
		companyID, pq.Array(roles))
	if err != nil {
		return nil, mapError(err)
	}
	return tokens, nil
}

func (s *PostgresStore) DeleteFCMTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM fcm_tokens WHERE token = ANY($1)`, pq.Array(tokens))
	return mapError(err)
}

func requireRow(n int64, err error) error {
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// nowUnix is split out so seed data and tests agree on one clock
var nowUnix = func() int64 { return time.Now().Unix() }
