package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"depotwatch-backend/internal/database"
	"depotwatch-backend/internal/engine"
	"depotwatch-backend/internal/middleware"
	"depotwatch-backend/pkg/utils"
)

// respondEngineError maps engine and store errors onto HTTP statuses
func respondEngineError(w http.ResponseWriter, logger *zap.Logger, action string, err error) {
	var validation *engine.ValidationError
	switch {
	case errors.As(err, &validation):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrBatchTooLarge):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrAlertNotFound),
		errors.Is(err, engine.ErrGeofenceNotFound),
		errors.Is(err, database.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrAlreadyOnShift),
		errors.Is(err, engine.ErrNotOnShift),
		errors.Is(err, engine.ErrAlertNotActive),
		errors.Is(err, database.ErrConflict):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		logger.Error("❌ "+action+" failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}

// authenticatedUser returns the caller's claims or writes a 401
func authenticatedUser(w http.ResponseWriter, r *http.Request) (middleware.UserClaims, bool) {
	claims, ok := middleware.GetUserFromContext(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return claims, ok
}

// decodeBody decodes a JSON body into dst; an empty body is allowed when optional is set
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) bool {
	if optional && (r.Body == nil || r.ContentLength == 0) {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
