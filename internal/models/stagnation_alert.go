package models

// AlertStatus is the lifecycle state of a stagnation alert
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "ACTIVE"
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertStatusDismissed    AlertStatus = "DISMISSED"
)

// Valid reports whether s is a known alert status
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusActive, AlertStatusAcknowledged, AlertStatusDismissed:
		return true
	}
	return false
}

// StagnationAlert is a raised "vehicle not moving" condition
type StagnationAlert struct {
	ID              string      `json:"id" db:"id"`
	CompanyID       string      `json:"company_id" db:"company_id"`
	DriverID        string      `json:"driver_id" db:"driver_id"`
	Status          AlertStatus `json:"status" db:"status"`
	StartedAt       int64       `json:"started_at" db:"started_at"`       // First ping of the stagnant run
	LastPingAt      int64       `json:"last_ping_at" db:"last_ping_at"`   // Latest stagnant ping seen
	Latitude        float64     `json:"latitude" db:"latitude"`
	Longitude       float64     `json:"longitude" db:"longitude"`
	AcknowledgedBy  *string     `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt  *int64      `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolutionNotes *string     `json:"resolution_notes,omitempty" db:"resolution_notes"`
	CreatedAt       int64       `json:"created_at" db:"created_at"`
	UpdatedAt       int64       `json:"updated_at" db:"updated_at"`
}

// AlertResolution is an operator decision on an ACTIVE alert
type AlertResolution struct {
	Status AlertStatus
	By     string
	At     int64
	Notes  *string
}
