package models

// TimesheetFilter narrows a timesheet listing; zero values match everything
type TimesheetFilter struct {
	DriverID string
	Status   TimesheetStatus
	Limit    int
}

// GeofenceEventFilter narrows a geofence event listing
type GeofenceEventFilter struct {
	DriverID string
	Limit    int
}
