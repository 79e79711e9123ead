package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"depotwatch-backend/internal/database"
	"depotwatch-backend/internal/metrics"
	"depotwatch-backend/internal/models"
)

// Shift states
const (
	StateOffShift = "OFF_SHIFT"
	StateOnShift  = "ON_SHIFT"
)

const (
	eventClockIn  = "clock_in"
	eventClockOut = "clock_out"
)

// ClockRequest is a manual clock-in/out issued by a driver or a dispatcher
type ClockRequest struct {
	CompanyID string
	DriverID  string
	DepotName string
	Latitude  *float64
	Longitude *float64
}

type shiftAction struct {
	event     string
	companyID string
	driverID  string
	depotName string
	at        int64
	latitude  *float64
	longitude *float64
	source    models.ClockSource
}

// runShift drives the OFF_SHIFT/ON_SHIFT machine for one driver. The machine starts
// from the driver's persisted timesheet and the store write happens in the before
// callback, so a failed write cancels the transition. Events not allowed from the
// current state return ErrAlreadyOnShift or ErrNotOnShift.
func (e *Engine) runShift(ctx context.Context, action shiftAction) (*models.Timesheet, error) {
	active, err := e.store.GetActiveTimesheet(ctx, action.companyID, action.driverID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active timesheet: %w", err)
	}

	initial := StateOffShift
	if active != nil {
		initial = StateOnShift
	}

	var result *models.Timesheet
	var writeErr error

	machine := fsm.NewFSM(
		initial,
		fsm.Events{
			{Name: eventClockIn, Src: []string{StateOffShift}, Dst: StateOnShift},
			{Name: eventClockOut, Src: []string{StateOnShift}, Dst: StateOffShift},
		},
		fsm.Callbacks{
			"before_" + eventClockIn: func(ctx context.Context, ev *fsm.Event) {
				now := e.now().Unix()
				ts := &models.Timesheet{
					ID:               uuid.New().String(),
					CompanyID:        action.companyID,
					DriverID:         action.driverID,
					DepotName:        action.depotName,
					Status:           models.TimesheetStatusActive,
					ArrivalTime:      action.at,
					ArrivalLatitude:  action.latitude,
					ArrivalLongitude: action.longitude,
					ArrivalSource:    action.source,
					CreatedAt:        now,
					UpdatedAt:        now,
				}
				if err := e.store.CreateTimesheet(ctx, ts); err != nil {
					writeErr = err
					ev.Cancel(err)
					return
				}
				result = ts
			},
			"before_" + eventClockOut: func(ctx context.Context, ev *fsm.Event) {
				closed, err := e.store.CloseTimesheet(ctx, action.companyID, active.ID, models.TimesheetClose{
					DepartureTime:      action.at,
					DepartureLatitude:  action.latitude,
					DepartureLongitude: action.longitude,
					Source:             action.source,
				})
				if err != nil {
					writeErr = err
					ev.Cancel(err)
					return
				}
				result = closed
			},
		},
	)

	if !machine.Can(action.event) {
		if action.event == eventClockIn {
			return nil, ErrAlreadyOnShift
		}
		return nil, ErrNotOnShift
	}

	if err := machine.Event(ctx, action.event); err != nil {
		switch {
		case writeErr == nil:
			return nil, fmt.Errorf("shift transition %s: %w", action.event, err)
		case action.event == eventClockIn && errors.Is(writeErr, database.ErrConflict):
			return nil, ErrAlreadyOnShift
		case action.event == eventClockOut && errors.Is(writeErr, database.ErrNotFound):
			return nil, ErrNotOnShift
		default:
			return nil, fmt.Errorf("failed to %s: %w", strings.ReplaceAll(action.event, "_", " "), writeErr)
		}
	}

	metrics.TimesheetTransitions.WithLabelValues(action.event, string(action.source)).Inc()
	if action.event == eventClockIn {
		e.emitter.TimesheetOpened(result)
	} else {
		e.emitter.TimesheetClosed(result)
	}
	return result, nil
}

// applyTransition feeds a geofence transition to the shift machine. Only depot
// fences count, and transitions the machine does not allow are no-ops.
func (e *Engine) applyTransition(ctx context.Context, ping *models.LocationPing, t Transition) error {
	if !t.IsDepot {
		return nil
	}

	action := shiftAction{
		companyID: ping.CompanyID,
		driverID:  ping.DriverID,
		depotName: t.GeofenceName,
		at:        ping.Timestamp,
		latitude:  models.Float64Ptr(ping.Latitude),
		longitude: models.Float64Ptr(ping.Longitude),
		source:    models.ClockSourceGeofence,
	}
	switch t.Type {
	case models.TransitionEnter:
		action.event = eventClockIn
	case models.TransitionExit:
		action.event = eventClockOut
	default:
		return nil
	}

	ts, err := e.runShift(ctx, action)
	if errors.Is(err, ErrAlreadyOnShift) || errors.Is(err, ErrNotOnShift) {
		return nil
	}
	if err != nil {
		return err
	}

	e.logger.Info("📍 Automatic "+strings.ReplaceAll(action.event, "_", "-"),
		zap.String("company_id", ping.CompanyID),
		zap.String("driver_id", ping.DriverID),
		zap.String("fence", t.GeofenceName),
		zap.String("timesheet_id", ts.ID))
	return nil
}

// ClockIn opens a timesheet without geofence detection
func (e *Engine) ClockIn(ctx context.Context, req ClockRequest) (*models.Timesheet, error) {
	if strings.TrimSpace(req.DepotName) == "" {
		return nil, invalid("depot_name", "is required")
	}
	return e.manualShift(ctx, eventClockIn, req)
}

// ClockOut closes the driver's ACTIVE timesheet without geofence detection
func (e *Engine) ClockOut(ctx context.Context, req ClockRequest) (*models.Timesheet, error) {
	return e.manualShift(ctx, eventClockOut, req)
}

func (e *Engine) manualShift(ctx context.Context, event string, req ClockRequest) (*models.Timesheet, error) {
	if req.CompanyID == "" || req.DriverID == "" {
		return nil, invalid("driver_id", "is required")
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return nil, invalid("coordinates", "latitude and longitude must be given together")
	}
	if req.Latitude != nil {
		if _, err := e.validatePoint(*req.Latitude, *req.Longitude); err != nil {
			return nil, err
		}
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	unlock, err := e.lockDriver(opCtx, req.CompanyID, req.DriverID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return e.runShift(opCtx, shiftAction{
		event:     event,
		companyID: req.CompanyID,
		driverID:  req.DriverID,
		depotName: strings.TrimSpace(req.DepotName),
		at:        e.now().Unix(),
		latitude:  req.Latitude,
		longitude: req.Longitude,
		source:    models.ClockSourceManual,
	})
}

// CurrentTimesheet returns the driver's ACTIVE timesheet or nil when off shift
func (e *Engine) CurrentTimesheet(ctx context.Context, companyID, driverID string) (*models.Timesheet, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	return e.store.GetActiveTimesheet(opCtx, companyID, driverID)
}

func (e *Engine) ListTimesheets(ctx context.Context, companyID string, filter models.TimesheetFilter) ([]models.Timesheet, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	return e.store.ListTimesheets(opCtx, companyID, filter)
}
