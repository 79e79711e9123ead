package engine

import (
	"context"

	"depotwatch-backend/internal/models"
)

// Every store method is scoped by companyID; implementations never read across tenants.
// Lookups of a single optional record return (nil, nil) when nothing matches.

type PingStore interface {
	// InsertPing stores a ping once. Resubmitting a ping with the same driver,
	// timestamp and position keeps the stored row and fills in its ID.
	InsertPing(ctx context.Context, ping *models.LocationPing) error
	// GetRecentPings returns pings with windowStart <= timestamp <= windowEnd ordered by (timestamp, id)
	GetRecentPings(ctx context.Context, companyID, driverID string, windowStart, windowEnd int64) ([]models.LocationPing, error)
}

type ContainmentStore interface {
	GetContainmentState(ctx context.Context, companyID, driverID string) (*models.ContainmentState, error)
	SetContainmentState(ctx context.Context, state *models.ContainmentState) error
}

type AlertStore interface {
	GetActiveAlert(ctx context.Context, companyID, driverID string) (*models.StagnationAlert, error)
	// GetLatestAlert returns the most recently started alert in any status
	GetLatestAlert(ctx context.Context, companyID, driverID string) (*models.StagnationAlert, error)
	// CreateAlert fails with database.ErrConflict when the driver already has an ACTIVE alert
	CreateAlert(ctx context.Context, alert *models.StagnationAlert) error
	// UpdateAlert writes an alert that is still ACTIVE in the store; database.ErrNotFound otherwise
	UpdateAlert(ctx context.Context, alert *models.StagnationAlert) error
	GetAlert(ctx context.Context, companyID, alertID string) (*models.StagnationAlert, error)
	ListAlerts(ctx context.Context, companyID string, status *models.AlertStatus) ([]models.StagnationAlert, error)
	// ResolveActiveAlerts moves every ACTIVE alert of the company to res.Status and
	// returns the alerts it changed
	ResolveActiveAlerts(ctx context.Context, companyID string, res models.AlertResolution) ([]models.StagnationAlert, error)
}

type TimesheetStore interface {
	GetActiveTimesheet(ctx context.Context, companyID, driverID string) (*models.Timesheet, error)
	// CreateTimesheet fails with database.ErrConflict when the driver already has an ACTIVE timesheet
	CreateTimesheet(ctx context.Context, ts *models.Timesheet) error
	// CloseTimesheet closes an ACTIVE timesheet; database.ErrNotFound when it is not ACTIVE
	CloseTimesheet(ctx context.Context, companyID, timesheetID string, close models.TimesheetClose) (*models.Timesheet, error)
	ListTimesheets(ctx context.Context, companyID string, filter models.TimesheetFilter) ([]models.Timesheet, error)
}

type GeofenceStore interface {
	ListActiveGeofences(ctx context.Context, companyID string) ([]models.Geofence, error)
	ListGeofences(ctx context.Context, companyID string) ([]models.Geofence, error)
	GetGeofence(ctx context.Context, companyID, geofenceID string) (*models.Geofence, error)
	CreateGeofence(ctx context.Context, fence *models.Geofence) error
	UpdateGeofence(ctx context.Context, fence *models.Geofence) error
	DeleteGeofence(ctx context.Context, companyID, geofenceID string) error
}

type EventStore interface {
	// RecordGeofenceEvent returns false when an identical event was already recorded
	RecordGeofenceEvent(ctx context.Context, event *models.GeofenceEvent) (bool, error)
	// GeofenceEventRecorded reports whether an event with the same driver, fence, type
	// and occurredAt exists
	GeofenceEventRecorded(ctx context.Context, event *models.GeofenceEvent) (bool, error)
	ListGeofenceEvents(ctx context.Context, companyID string, filter models.GeofenceEventFilter) ([]models.GeofenceEvent, error)
}

type SettingsStore interface {
	GetEngineSettings(ctx context.Context, companyID string) (*models.EngineSettings, error)
	UpsertEngineSettings(ctx context.Context, settings *models.EngineSettings) error
}

// Store is the full persistence surface used by the engine
type Store interface {
	PingStore
	ContainmentStore
	AlertStore
	TimesheetStore
	GeofenceStore
	EventStore
	SettingsStore
}
