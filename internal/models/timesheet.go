package models

import "time"

// TimesheetStatus is the status of a driver's shift session
type TimesheetStatus string

const (
	TimesheetStatusActive TimesheetStatus = "ACTIVE"
	TimesheetStatusClosed TimesheetStatus = "CLOSED"
)

// ClockSource records what opened or closed a timesheet
type ClockSource string

const (
	ClockSourceGeofence ClockSource = "geofence"
	ClockSourceManual   ClockSource = "manual"
)

// Timesheet represents a driver's shift session at a depot
type Timesheet struct {
	ID                 string          `json:"id" db:"id"`
	CompanyID          string          `json:"company_id" db:"company_id"`
	DriverID           string          `json:"driver_id" db:"driver_id"`
	DepotName          string          `json:"depot_name" db:"depot_name"`
	Status             TimesheetStatus `json:"status" db:"status"`
	ArrivalTime        int64           `json:"arrival_time" db:"arrival_time"`
	ArrivalLatitude    *float64        `json:"arrival_latitude,omitempty" db:"arrival_latitude"`
	ArrivalLongitude   *float64        `json:"arrival_longitude,omitempty" db:"arrival_longitude"`
	ArrivalSource      ClockSource     `json:"arrival_source" db:"arrival_source"`
	DepartureTime      *int64          `json:"departure_time" db:"departure_time"`
	DepartureLatitude  *float64        `json:"departure_latitude,omitempty" db:"departure_latitude"`
	DepartureLongitude *float64        `json:"departure_longitude,omitempty" db:"departure_longitude"`
	DepartureSource    *ClockSource    `json:"departure_source,omitempty" db:"departure_source"`
	CreatedAt          int64           `json:"created_at" db:"created_at"`
	UpdatedAt          int64           `json:"updated_at" db:"updated_at"`
}

// TimesheetClose carries the departure side of a timesheet
type TimesheetClose struct {
	DepartureTime      int64
	DepartureLatitude  *float64
	DepartureLongitude *float64
	Source             ClockSource
}

// Duration returns the shift length, up to now while still ACTIVE
func (t *Timesheet) Duration() time.Duration {
	end := time.Now().Unix()
	if t.DepartureTime != nil {
		end = *t.DepartureTime
	}
	seconds := end - t.ArrivalTime
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds) * time.Second
}

// FCMToken represents a Firebase Cloud Messaging token for a user
type FCMToken struct {
	ID         int    `json:"id" db:"id"`
	UserID     string `json:"user_id" db:"user_id"`
	Token      string `json:"token" db:"token"`
	DeviceType string `json:"device_type" db:"device_type"` // "ios" or "android"
	CreatedAt  int64  `json:"created_at" db:"created_at"`
	UpdatedAt  int64  `json:"updated_at" db:"updated_at"`
}

// Float64Ptr returns a pointer to v
func Float64Ptr(v float64) *float64 {
	return &v
}
