package notify

import (
	"context"
	"errors"
	"fmt"
)

// Recipient roles
const (
	RoleDispatcher = "dispatcher"
	RoleDriver     = "driver"
)

// Event types pushed to dispatchers
const (
	EventStagnationAlertRaised   = "stagnation_alert_raised"
	EventStagnationAlertResolved = "stagnation_alert_resolved"
	EventGeofenceEnter           = "geofence_enter"
	EventGeofenceExit            = "geofence_exit"
	EventTimesheetOpened         = "timesheet_opened"
	EventTimesheetClosed         = "timesheet_closed"
)

// Event is a notification payload. Data is marshalled as-is by each notifier.
type Event struct {
	Type       string      `json:"type"`
	CompanyID  string      `json:"company_id"`
	DriverID   string      `json:"driver_id,omitempty"`
	OccurredAt int64       `json:"occurred_at"`
	Title      string      `json:"title,omitempty"`
	Body       string      `json:"body,omitempty"`
	Data       interface{} `json:"data,omitempty"`
}

// Notifier delivers an event to every recipient with the given role in a company
type Notifier interface {
	Notify(ctx context.Context, companyID, recipientRole string, event Event) error
}

// Named is implemented by notifiers that want a stable label in logs and metrics
type Named interface {
	Name() string
}

// NameOf returns the notifier's label
func NameOf(n Notifier) string {
	if named, ok := n.(Named); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", n)
}

// Multi fans an event out to several notifiers. Every notifier is attempted.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, companyID, recipientRole string, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, companyID, recipientRole, event); err != nil {
			errs = append(errs, &Error{Notifier: NameOf(n), Err: err})
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Name() string { return "multi" }

// Error tags a delivery failure with the notifier that produced it
type Error struct {
	Notifier string
	Err      error
}

func (e *Error) Error() string { return e.Notifier + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Nop drops every event
type Nop struct{}

func (Nop) Notify(context.Context, string, string, Event) error { return nil }
func (Nop) Name() string                                       { return "nop" }
