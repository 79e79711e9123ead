package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"depotwatch-backend/internal/engine"
	"depotwatch-backend/internal/models"
	"depotwatch-backend/pkg/utils"
)

type clockRequest struct {
	DepotName string   `json:"depot_name"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// ClockIn opens a timesheet for the authenticated driver
func ClockIn(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}
		var req clockRequest
		if !decodeBody(w, r, &req, false) {
			return
		}

		ts, err := eng.ClockIn(r.Context(), engine.ClockRequest{
			CompanyID: claims.CompanyID,
			DriverID:  claims.UserID,
			DepotName: req.DepotName,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
		})
		if err != nil {
			respondEngineError(w, logger, "clock in", err)
			return
		}
		utils.RespondSuccess(w, http.StatusCreated, ts)
	}
}

// ClockOut closes the authenticated driver's ACTIVE timesheet
func ClockOut(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}
		var req clockRequest
		if !decodeBody(w, r, &req, true) {
			return
		}

		ts, err := eng.ClockOut(r.Context(), engine.ClockRequest{
			CompanyID: claims.CompanyID,
			DriverID:  claims.UserID,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
		})
		if err != nil {
			respondEngineError(w, logger, "clock out", err)
			return
		}
		utils.RespondSuccess(w, http.StatusOK, ts)
	}
}

// ForceClockOut lets a dispatcher close a driver's shift
func ForceClockOut(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}
		driverID := chi.URLParam(r, "driverId")

		ts, err := eng.ClockOut(r.Context(), engine.ClockRequest{
			CompanyID: claims.CompanyID,
			DriverID:  driverID,
		})
		if err != nil {
			respondEngineError(w, logger, "clock out driver", err)
			return
		}
		logger.Info("🛑 Driver clocked out by manager",
			zap.String("driver_id", driverID),
			zap.String("manager_id", claims.UserID))
		utils.RespondSuccess(w, http.StatusOK, ts)
	}
}

// GetCurrentTimesheet returns the driver's ACTIVE timesheet; data is null when off shift
func GetCurrentTimesheet(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}
		ts, err := eng.CurrentTimesheet(r.Context(), claims.CompanyID, claims.UserID)
		if err != nil {
			respondEngineError(w, logger, "load timesheet", err)
			return
		}
		utils.RespondSuccess(w, http.StatusOK, ts)
	}
}

// ListTimesheets returns the company's timesheets, newest first
func ListTimesheets(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		filter := models.TimesheetFilter{DriverID: q.Get("driver_id")}
		if status := q.Get("status"); status != "" {
			filter.Status = models.TimesheetStatus(status)
			if filter.Status != models.TimesheetStatusActive && filter.Status != models.TimesheetStatusClosed {
				utils.RespondError(w, http.StatusBadRequest, "Invalid status (must be 'ACTIVE' or 'CLOSED')")
				return
			}
		}
		limit, ok := parseLimit(w, q.Get("limit"))
		if !ok {
			return
		}
		filter.Limit = limit

		sheets, err := eng.ListTimesheets(r.Context(), claims.CompanyID, filter)
		if err != nil {
			respondEngineError(w, logger, "list timesheets", err)
			return
		}
		utils.RespondSuccess(w, http.StatusOK, sheets)
	}
}

const maxListLimit = 1000

// parseLimit reads an optional positive limit, capped at maxListLimit
func parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "Invalid limit")
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}
