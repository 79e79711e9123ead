package models

// EngineSettings holds per-company overrides of the engine thresholds.
// A nil field falls back to the server-wide default.
type EngineSettings struct {
	CompanyID                   string   `json:"company_id" db:"company_id"`
	StagnationWindowSeconds     *int64   `json:"stagnation_window_seconds" db:"stagnation_window_seconds"`
	StagnationSpeedThreshold    *int     `json:"stagnation_speed_threshold" db:"stagnation_speed_threshold"`
	MovementToleranceMeters     *float64 `json:"movement_tolerance_meters" db:"movement_tolerance_meters"`
	DefaultGeofenceRadiusMeters *int     `json:"default_geofence_radius_meters" db:"default_geofence_radius_meters"`
	UpdatedAt                   int64    `json:"updated_at" db:"updated_at"`
}
