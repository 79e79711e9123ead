package models

import (
	"time"

	"depotwatch-backend/internal/geo"
)

// DefaultGeofenceRadiusMeters is used when a fence is created without a radius
const DefaultGeofenceRadiusMeters = 250

type Geofence struct {
	ID           string  `json:"id" db:"id"`
	CompanyID    string  `json:"company_id" db:"company_id"`
	Name         string  `json:"name" db:"name"`
	Latitude     float64 `json:"latitude" db:"latitude"`
	Longitude    float64 `json:"longitude" db:"longitude"`
	RadiusMeters int     `json:"radius_meters" db:"radius_meters"`
	IsActive     bool    `json:"is_active" db:"is_active"`
	IsDepot      bool    `json:"is_depot" db:"is_depot"` // Only depot fences drive clock-in/out
	CreatedAt    int64   `json:"created_at" db:"created_at"`
	UpdatedAt    int64   `json:"updated_at" db:"updated_at"`
}

// Center returns the fence center
func (g *Geofence) Center() geo.Point {
	return geo.Point{Latitude: g.Latitude, Longitude: g.Longitude}
}

// Circle returns the fence as a geometry circle
func (g *Geofence) Circle() geo.Circle {
	return geo.Circle{Center: g.Center(), RadiusMeters: float64(g.RadiusMeters)}
}

// GeofenceInput carries create/update fields; nil means "not provided"
type GeofenceInput struct {
	Name         *string  `json:"name"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	RadiusMeters *int     `json:"radius_meters"`
	IsActive     *bool    `json:"is_active"`
	IsDepot      *bool    `json:"is_depot"`
}

// GeofenceResponse adds ISO timestamps for the dashboard
type GeofenceResponse struct {
	Geofence
	CreatedAtISO string `json:"created_at_iso"`
	UpdatedAtISO string `json:"updated_at_iso"`
}

func (g *Geofence) ToResponse() GeofenceResponse {
	return GeofenceResponse{
		Geofence:     *g,
		CreatedAtISO: time.Unix(g.CreatedAt, 0).UTC().Format(time.RFC3339),
		UpdatedAtISO: time.Unix(g.UpdatedAt, 0).UTC().Format(time.RFC3339),
	}
}

// ContainmentState is the fence a driver was last known to be inside
type ContainmentState struct {
	CompanyID    string  `json:"company_id" db:"company_id"`
	DriverID     string  `json:"driver_id" db:"driver_id"`
	GeofenceID   *string `json:"geofence_id,omitempty" db:"geofence_id"`     // NULL = outside all fences
	GeofenceName *string `json:"geofence_name,omitempty" db:"geofence_name"`
	IsDepot      bool    `json:"is_depot" db:"is_depot"`
	LastPingAt   int64   `json:"last_ping_at" db:"last_ping_at"`
	UpdatedAt    int64   `json:"updated_at" db:"updated_at"`
}

// Inside reports whether the state records containment in some fence
func (c *ContainmentState) Inside() bool {
	return c != nil && c.GeofenceID != nil
}

type TransitionType string

const (
	TransitionEnter TransitionType = "ENTER"
	TransitionExit  TransitionType = "EXIT"
)

// GeofenceEvent is a persisted ENTER/EXIT transition
type GeofenceEvent struct {
	ID           string         `json:"id" db:"id"`
	CompanyID    string         `json:"company_id" db:"company_id"`
	DriverID     string         `json:"driver_id" db:"driver_id"`
	GeofenceID   string         `json:"geofence_id" db:"geofence_id"`
	GeofenceName string         `json:"geofence_name" db:"geofence_name"`
	IsDepot      bool           `json:"is_depot" db:"is_depot"`
	Type         TransitionType `json:"type" db:"type"`
	Latitude     float64        `json:"latitude" db:"latitude"`
	Longitude    float64        `json:"longitude" db:"longitude"`
	OccurredAt   int64          `json:"occurred_at" db:"occurred_at"` // Ping timestamp
	CreatedAt    int64          `json:"created_at" db:"created_at"`
}
