package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"depotwatch-backend/internal/engine"
	"depotwatch-backend/internal/models"
	"depotwatch-backend/pkg/utils"
)

// ListGeofences returns every geofence of the company, active or not
func ListGeofences(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}
		fences, err := eng.ListGeofences(r.Context(), claims.CompanyID)
		if err != nil {
			respondEngineError(w, logger, "list geofences", err)
			return
		}

		resp := make([]models.GeofenceResponse, 0, len(fences))
		for i := range fences {
			resp = append(resp, fences[i].ToResponse())
		}
		utils.RespondSuccess(w, http.StatusOK, resp)
	}
}

func GetGeofence(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}
		fence, err := eng.GetGeofence(r.Context(), claims.CompanyID, chi.URLParam(r, "id"))
		if err != nil {
			respondEngineError(w, logger, "load geofence", err)
			return
		}
		utils.RespondSuccess(w, http.StatusOK, fence.ToResponse())
	}
}

func CreateGeofence(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}
		var in models.GeofenceInput
		if !decodeBody(w, r, &in, false) {
			return
		}

		fence, err := eng.CreateGeofence(r.Context(), claims.CompanyID, in)
		if err != nil {
			respondEngineError(w, logger, "create geofence", err)
			return
		}
		logger.Info("✅ Geofence created",
			zap.String("company_id", claims.CompanyID),
			zap.String("fence", fence.Name),
			zap.Int("radius_meters", fence.RadiusMeters))
		utils.RespondSuccess(w, http.StatusCreated, fence.ToResponse())
	}
}

// UpdateGeofence applies a partial update; omitted fields are left unchanged
func UpdateGeofence(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}
		var in models.GeofenceInput
		if !decodeBody(w, r, &in, false) {
			return
		}

		fence, err := eng.UpdateGeofence(r.Context(), claims.CompanyID, chi.URLParam(r, "id"), in)
		if err != nil {
			respondEngineError(w, logger, "update geofence", err)
			return
		}
		utils.RespondSuccess(w, http.StatusOK, fence.ToResponse())
	}
}

func DeleteGeofence(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")
		if err := eng.DeleteGeofence(r.Context(), claims.CompanyID, id); err != nil {
			respondEngineError(w, logger, "delete geofence", err)
			return
		}
		logger.Info("🗑️ Geofence deleted", zap.String("company_id", claims.CompanyID), zap.String("geofence_id", id))
		utils.RespondSuccess(w, http.StatusOK, map[string]string{"id": id})
	}
}

// ListGeofenceEvents returns recorded ENTER/EXIT transitions, newest first
func ListGeofenceEvents(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		limit, ok := parseLimit(w, q.Get("limit"))
		if !ok {
			return
		}

		events, err := eng.ListGeofenceEvents(r.Context(), claims.CompanyID, models.GeofenceEventFilter{
			DriverID: q.Get("driver_id"),
			Limit:    limit,
		})
		if err != nil {
			respondEngineError(w, logger, "list geofence events", err)
			return
		}
		utils.RespondSuccess(w, http.StatusOK, events)
	}
}
