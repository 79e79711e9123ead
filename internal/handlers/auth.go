package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"depotwatch-backend/internal/database"
	"depotwatch-backend/internal/middleware"
	"depotwatch-backend/internal/models"
	"depotwatch-backend/pkg/utils"
)

// UserFinder looks up login accounts
type UserFinder interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string              `json:"token"`
	User  models.UserResponse `json:"user"`
}

func Login(users UserFinder, jwtSecret string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))

		logger.Info("🔐 Login attempt", zap.String("email", email))

		if jwtSecret == "" {
			logger.Error("❌ JWT secret not configured")
			utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		user, err := users.GetUserByEmail(r.Context(), email)
		if errors.Is(err, database.ErrNotFound) {
			logger.Info("❌ User not found", zap.String("email", email))
			utils.RespondError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		if err != nil {
			logger.Error("❌ Error loading user", zap.String("email", email), zap.Error(err))
			utils.RespondError(w, http.StatusInternalServerError, "Failed to log in")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			logger.Info("❌ Invalid password", zap.String("email", email))
			utils.RespondError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}

		token, err := middleware.IssueToken(jwtSecret, middleware.UserClaims{
			UserID:    user.ID,
			Email:     user.Email,
			Role:      user.Role,
			CompanyID: user.CompanyID,
		}, time.Now())
		if err != nil {
			logger.Error("❌ Failed to create token", zap.Error(err))
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create token")
			return
		}

		logger.Info("✅ Login successful", zap.String("email", user.Email), zap.String("role", user.Role))
		utils.RespondSuccess(w, http.StatusOK, LoginResponse{Token: token, User: user.ToUserResponse()})
	}
}
