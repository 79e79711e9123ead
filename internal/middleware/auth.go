package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"depotwatch-backend/pkg/utils"
)

type contextKey string

const UserContextKey contextKey = "user"

// TokenTTL is how long an issued token stays valid
const TokenTTL = 7 * 24 * time.Hour

type UserClaims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CompanyID string `json:"company_id"`
}

// IssueToken signs an HS256 token carrying the user claims
func IssueToken(secret string, claims UserClaims, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":    claims.UserID,
		"email":      claims.Email,
		"role":       claims.Role,
		"company_id": claims.CompanyID,
		"iat":        now.Unix(),
		"exp":        now.Add(TokenTTL).Unix(),
	})
	return token.SignedString([]byte(secret))
}

// ParseToken validates a token string and extracts the user claims
func ParseToken(secret, tokenString string) (UserClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return UserClaims{}, err
	}
	if !token.Valid {
		return UserClaims{}, jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return UserClaims{}, jwt.ErrTokenInvalidClaims
	}

	userClaims := UserClaims{
		UserID:    stringClaim(claims, "user_id"),
		Email:     stringClaim(claims, "email"),
		Role:      stringClaim(claims, "role"),
		CompanyID: stringClaim(claims, "company_id"),
	}
	if userClaims.UserID == "" || userClaims.CompanyID == "" || userClaims.Role == "" {
		return UserClaims{}, jwt.ErrTokenInvalidClaims
	}
	return userClaims, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// Auth validates the Bearer token and adds user claims to context
func Auth(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Debug("❌ No authorization header", zap.String("path", r.URL.Path))
				utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.Debug("❌ Invalid authorization header format", zap.Int("parts", len(parts)))
				utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			if secret == "" {
				logger.Error("❌ JWT secret not configured")
				utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			userClaims, err := ParseToken(secret, parts[1])
			if err != nil {
				logger.Info("❌ Invalid token", zap.String("path", r.URL.Path), zap.Error(err))
				utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, userClaims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects users whose role is not listed (must be used after Auth)
func RequireRole(logger *zap.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userClaims, ok := GetUserFromContext(r)
			if !ok {
				logger.Warn("❌ User claims not found in context")
				utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			for _, role := range roles {
				if userClaims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			logger.Info("❌ Insufficient permissions",
				zap.Strings("required", roles),
				zap.String("role", userClaims.Role),
				zap.String("user_id", userClaims.UserID))
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
		})
	}
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) (UserClaims, bool) {
	userClaims, ok := r.Context().Value(UserContextKey).(UserClaims)
	return userClaims, ok
}

// WithUser returns a copy of ctx carrying claims
func WithUser(ctx context.Context, claims UserClaims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}
