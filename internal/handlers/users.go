package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"depotwatch-backend/internal/database"
	"depotwatch-backend/internal/models"
	"depotwatch-backend/pkg/utils"
)

// AccountStore persists new login accounts
type AccountStore interface {
	CreateUser(ctx context.Context, user *models.User) error
}

type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"` // "driver", "dispatcher" or "admin"
}

// CreateUser adds a user to the caller's company (admin only)
func CreateUser(accounts AccountStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}

		var req CreateUserRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		if req.Email == "" || req.Password == "" || req.Name == "" || req.Role == "" {
			utils.RespondError(w, http.StatusBadRequest, "Email, password, name, and role are required")
			return
		}

		user, err := database.CreateAccount(r.Context(), accounts, claims.CompanyID, req.Email, req.Password, req.Name, req.Role)
		if errors.Is(err, database.ErrConflict) {
			utils.RespondError(w, http.StatusConflict, "User with this email already exists")
			return
		}
		if errors.Is(err, database.ErrInvalidAccount) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			logger.Error("❌ Failed to create user", zap.Error(err))
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create user")
			return
		}

		logger.Info("✅ User created",
			zap.String("email", user.Email),
			zap.String("role", user.Role),
			zap.String("company_id", user.CompanyID),
			zap.String("by", claims.UserID))
		utils.RespondSuccess(w, http.StatusCreated, user.ToUserResponse())
	}
}
