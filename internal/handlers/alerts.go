package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"depotwatch-backend/internal/engine"
	"depotwatch-backend/internal/models"
	"depotwatch-backend/pkg/utils"
)

type resolveAlertRequest struct {
	Notes *string `json:"notes"`
}

// ListStagnationAlerts returns the company's alerts, optionally filtered by ?status=
func ListStagnationAlerts(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}

		var status *models.AlertStatus
		if raw := r.URL.Query().Get("status"); raw != "" {
			s := models.AlertStatus(raw)
			status = &s
		}

		alerts, err := eng.ListAlerts(r.Context(), claims.CompanyID, status)
		if err != nil {
			respondEngineError(w, logger, "list stagnation alerts", err)
			return
		}
		utils.RespondSuccess(w, http.StatusOK, alerts)
	}
}

func AcknowledgeStagnationAlert(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return resolveStagnationAlert(eng.AcknowledgeAlert, "acknowledge stagnation alert", logger)
}

func DismissStagnationAlert(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return resolveStagnationAlert(eng.DismissAlert, "dismiss stagnation alert", logger)
}

type alertResolver func(ctx context.Context, companyID, alertID, by string, notes *string) (*models.StagnationAlert, error)

func resolveStagnationAlert(resolve alertResolver, action string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}
		var req resolveAlertRequest
		if !decodeBody(w, r, &req, true) {
			return
		}

		alert, err := resolve(r.Context(), claims.CompanyID, chi.URLParam(r, "id"), claims.UserID, req.Notes)
		if err != nil {
			respondEngineError(w, logger, action, err)
			return
		}
		utils.RespondSuccess(w, http.StatusOK, alert)
	}
}

// DismissAllStagnationAlerts dismisses every ACTIVE alert of the company
func DismissAllStagnationAlerts(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}
		var req resolveAlertRequest
		if !decodeBody(w, r, &req, true) {
			return
		}

		count, err := eng.DismissAllAlerts(r.Context(), claims.CompanyID, claims.UserID, req.Notes)
		if err != nil {
			respondEngineError(w, logger, "dismiss stagnation alerts", err)
			return
		}
		utils.RespondSuccess(w, http.StatusOK, map[string]int{"dismissed": count})
	}
}
