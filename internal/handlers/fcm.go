package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"depotwatch-backend/internal/models"
	"depotwatch-backend/pkg/utils"
)

// TokenRegistry stores push tokens
type TokenRegistry interface {
	UpsertFCMToken(ctx context.Context, token *models.FCMToken) error
}

func RegisterFCMToken(tokens TokenRegistry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}

		var req struct {
			Token      string `json:"token"`
			DeviceType string `json:"device_type"`
		}
		if !decodeBody(w, r, &req, false) {
			return
		}

		req.Token = strings.TrimSpace(req.Token)
		if req.Token == "" {
			utils.RespondError(w, http.StatusBadRequest, "token is required")
			return
		}
		if req.DeviceType != "ios" && req.DeviceType != "android" && req.DeviceType != "web" {
			utils.RespondError(w, http.StatusBadRequest, "Invalid device_type (must be 'ios', 'android' or 'web')")
			return
		}

		now := time.Now().Unix()
		token := &models.FCMToken{
			UserID:     claims.UserID,
			Token:      req.Token,
			DeviceType: req.DeviceType,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tokens.UpsertFCMToken(r.Context(), token); err != nil {
			logger.Error("❌ Error registering FCM token", zap.String("user_id", claims.UserID), zap.Error(err))
			utils.RespondError(w, http.StatusInternalServerError, "Failed to register FCM token")
			return
		}

		logger.Info("📱 FCM token registered", zap.String("email", claims.Email), zap.String("device_type", req.DeviceType))
		utils.RespondSuccess(w, http.StatusOK, map[string]string{"message": "FCM token registered successfully"})
	}
}
