package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"depotwatch-backend/internal/database"
	"depotwatch-backend/internal/metrics"
	"depotwatch-backend/internal/models"
	"depotwatch-backend/internal/notify"
)

// emitterStore is the slice of the store the emitter writes to
type emitterStore interface {
	AlertStore
	EventStore
}

// Emitter persists alerts and geofence events, then notifies dispatchers in the
// background. Notification failures are logged and counted, never returned.
type Emitter struct {
	store    emitterStore
	notifier notify.Notifier
	timeout  time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewEmitter(store emitterStore, notifier notify.Notifier, timeout time.Duration, logger *zap.Logger) *Emitter {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		store:    store,
		notifier: notifier,
		timeout:  timeout,
		logger:   logger,
	}
}

// RaiseStagnationAlert creates the alert and notifies. It returns false without an
// error when the driver already has an ACTIVE alert.
func (em *Emitter) RaiseStagnationAlert(ctx context.Context, alert *models.StagnationAlert) (bool, error) {
	if err := em.store.CreateAlert(ctx, alert); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create stagnation alert: %w", err)
	}

	metrics.StagnationAlertsOpened.Inc()
	em.logger.Warn("⚠️ Stagnation alert raised",
		zap.String("company_id", alert.CompanyID),
		zap.String("driver_id", alert.DriverID),
		zap.String("alert_id", alert.ID),
		zap.Int64("started_at", alert.StartedAt))

	em.dispatch(notify.Event{
		Type:       notify.EventStagnationAlertRaised,
		CompanyID:  alert.CompanyID,
		DriverID:   alert.DriverID,
		OccurredAt: alert.LastPingAt,
		Title:      "Vehicle stopped",
		Body:       fmt.Sprintf("Driver has not moved since %s", time.Unix(alert.StartedAt, 0).UTC().Format(time.Kitchen)),
		Data:       alert,
	})
	return true, nil
}

// AlertResolved notifies that an operator acknowledged or dismissed an alert
func (em *Emitter) AlertResolved(alert *models.StagnationAlert) {
	em.dispatch(notify.Event{
		Type:       notify.EventStagnationAlertResolved,
		CompanyID:  alert.CompanyID,
		DriverID:   alert.DriverID,
		OccurredAt: alert.UpdatedAt,
		Data:       alert,
	})
}

// RecordTransition persists a geofence event and notifies. Duplicates of an event
// already recorded return false and are not notified again.
func (em *Emitter) RecordTransition(ctx context.Context, event *models.GeofenceEvent) (bool, error) {
	inserted, err := em.store.RecordGeofenceEvent(ctx, event)
	if err != nil {
		return false, fmt.Errorf("failed to record geofence event: %w", err)
	}
	if !inserted {
		return false, nil
	}

	metrics.GeofenceTransitions.WithLabelValues(string(event.Type)).Inc()

	eventType := notify.EventGeofenceEnter
	verb := "entered"
	if event.Type == models.TransitionExit {
		eventType = notify.EventGeofenceExit
		verb = "left"
	}
	em.dispatch(notify.Event{
		Type:       eventType,
		CompanyID:  event.CompanyID,
		DriverID:   event.DriverID,
		OccurredAt: event.OccurredAt,
		Title:      "Geofence " + string(event.Type),
		Body:       fmt.Sprintf("Driver %s %s", verb, event.GeofenceName),
		Data:       event,
	})
	return true, nil
}

func (em *Emitter) TimesheetOpened(ts *models.Timesheet) {
	em.dispatch(notify.Event{
		Type:       notify.EventTimesheetOpened,
		CompanyID:  ts.CompanyID,
		DriverID:   ts.DriverID,
		OccurredAt: ts.ArrivalTime,
		Title:      "Shift started",
		Body:       "Driver clocked in at " + ts.DepotName,
		Data:       ts,
	})
}

func (em *Emitter) TimesheetClosed(ts *models.Timesheet) {
	occurredAt := ts.UpdatedAt
	if ts.DepartureTime != nil {
		occurredAt = *ts.DepartureTime
	}
	em.dispatch(notify.Event{
		Type:       notify.EventTimesheetClosed,
		CompanyID:  ts.CompanyID,
		DriverID:   ts.DriverID,
		OccurredAt: occurredAt,
		Title:      "Shift ended",
		Body:       "Driver clocked out of " + ts.DepotName,
		Data:       ts,
	})
}

// dispatch delivers in the background, detached from the caller's context
func (em *Emitter) dispatch(event notify.Event) {
	em.wg.Add(1)
	go func() {
		defer em.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), em.timeout)
		defer cancel()

		err := em.notifier.Notify(ctx, event.CompanyID, notify.RoleDispatcher, event)
		if err == nil {
			return
		}
		for _, name := range failedNotifiers(em.notifier, err) {
			metrics.NotificationFailures.WithLabelValues(name).Inc()
		}
		em.logger.Warn("⚠️ Notification delivery failed",
			zap.String("company_id", event.CompanyID),
			zap.String("driver_id", event.DriverID),
			zap.String("event", event.Type),
			zap.Error(err))
	}()
}

// Wait blocks until every pending notification has been attempted
func (em *Emitter) Wait() {
	em.wg.Wait()
}

func failedNotifiers(n notify.Notifier, err error) []string {
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}

	names := make([]string, 0, len(errs))
	for _, e := range errs {
		var notifyErr *notify.Error
		if errors.As(e, &notifyErr) {
			names = append(names, notifyErr.Notifier)
		} else {
			names = append(names, notify.NameOf(n))
		}
	}
	return names
}
