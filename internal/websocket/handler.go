package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"depotwatch-backend/internal/middleware"
	"depotwatch-backend/pkg/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket upgrades the connection after authenticating the ?token= query
// parameter, falling back to claims set by the Auth middleware.
func HandleWebSocket(hub *Hub, ingest PingSubmitter, jwtSecret string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var userClaims middleware.UserClaims

		if tokenString := r.URL.Query().Get("token"); tokenString != "" {
			if jwtSecret == "" {
				logger.Error("❌ JWT secret not configured")
				utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			claims, err := middleware.ParseToken(jwtSecret, tokenString)
			if err != nil {
				logger.Info("❌ Invalid token in query parameter", zap.Error(err))
				utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			userClaims = claims
		} else {
			claims, ok := middleware.GetUserFromContext(r)
			if !ok {
				logger.Info("❌ No user in context for WebSocket connection")
				utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			userClaims = claims
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("❌ WebSocket upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(userClaims.UserID, userClaims.CompanyID, userClaims.Role, conn, hub, ingest, logger)
		if !hub.Register(client) {
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}
