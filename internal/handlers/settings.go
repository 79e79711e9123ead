package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"depotwatch-backend/internal/engine"
	"depotwatch-backend/internal/models"
	"depotwatch-backend/pkg/utils"
)

type settingsResponse struct {
	Overrides *models.EngineSettings   `json:"overrides"`
	Effective engine.EffectiveSettings `json:"effective"`
}

func GetSettings(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}
		overrides, effective, err := eng.Settings(r.Context(), claims.CompanyID)
		if err != nil {
			respondEngineError(w, logger, "load settings", err)
			return
		}
		utils.RespondSuccess(w, http.StatusOK, settingsResponse{Overrides: overrides, Effective: effective})
	}
}

// UpdateSettings replaces the company's overrides; null fields revert to server defaults
func UpdateSettings(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}
		var in models.EngineSettings
		if !decodeBody(w, r, &in, false) {
			return
		}

		overrides, effective, err := eng.UpdateSettings(r.Context(), claims.CompanyID, in)
		if err != nil {
			respondEngineError(w, logger, "update settings", err)
			return
		}
		logger.Info("⚙️ Engine settings updated",
			zap.String("company_id", claims.CompanyID),
			zap.String("by", claims.UserID))
		utils.RespondSuccess(w, http.StatusOK, settingsResponse{Overrides: overrides, Effective: effective})
	}
}
