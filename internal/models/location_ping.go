package models

import "depotwatch-backend/internal/geo"

// LocationPing is one GPS sample recorded by a driver's device
type LocationPing struct {
	ID         int64    `json:"id" db:"id"`
	CompanyID  string   `json:"company_id" db:"company_id"`
	DriverID   string   `json:"driver_id" db:"driver_id"`
	Latitude   float64  `json:"latitude" db:"latitude"`
	Longitude  float64  `json:"longitude" db:"longitude"`
	Speed      int      `json:"speed" db:"speed"`                     // Unit-per-hour, never negative
	Heading    *int     `json:"heading,omitempty" db:"heading"`       // 0-359 degrees
	Accuracy   *float64 `json:"accuracy,omitempty" db:"accuracy"`     // Meters
	Timestamp  int64    `json:"timestamp" db:"timestamp"`             // Device-side unix seconds
	ReceivedAt int64    `json:"received_at" db:"received_at"`         // Server-side unix seconds
}

// Point returns the ping coordinates
func (p *LocationPing) Point() geo.Point {
	return geo.Point{Latitude: p.Latitude, Longitude: p.Longitude}
}

// PingInput is the field set a device submits for one ping
type PingInput struct {
	DriverID  string   `json:"driver_id"`
	CompanyID string   `json:"company_id"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Speed     *int     `json:"speed"`
	Heading   *int     `json:"heading,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// PingResult is the per-item outcome of a batch submission
type PingResult struct {
	Index   int           `json:"index"`
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Ping    *LocationPing `json:"ping,omitempty"`
}
