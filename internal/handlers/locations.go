package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"depotwatch-backend/internal/engine"
	"depotwatch-backend/internal/models"
	"depotwatch-backend/pkg/utils"
)

// SubmitLocation ingests one ping for the authenticated driver
func SubmitLocation(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}

		var in models.PingInput
		if !decodeBody(w, r, &in, false) {
			return
		}
		in.CompanyID = claims.CompanyID
		in.DriverID = claims.UserID

		ping, err := eng.SubmitPing(r.Context(), in)
		if err != nil {
			respondEngineError(w, logger, "submit location", err)
			return
		}
		utils.RespondSuccess(w, http.StatusCreated, ping)
	}
}

type batchResponse struct {
	Accepted int                 `json:"accepted"`
	Rejected int                 `json:"rejected"`
	Results  []models.PingResult `json:"results"`
}

// SubmitLocationBatch ingests a best-effort batch of pings (offline catch-up)
func SubmitLocationBatch(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authenticatedUser(w, r)
		if !ok {
			return
		}

		var req struct {
			Pings []models.PingInput `json:"pings"`
		}
		if !decodeBody(w, r, &req, false) {
			return
		}
		for i := range req.Pings {
			req.Pings[i].CompanyID = claims.CompanyID
			req.Pings[i].DriverID = claims.UserID
		}

		results, err := eng.SubmitPingBatch(r.Context(), req.Pings)
		if err != nil {
			respondEngineError(w, logger, "submit location batch", err)
			return
		}

		resp := batchResponse{Results: results}
		for _, res := range results {
			if res.Success {
				resp.Accepted++
			} else {
				resp.Rejected++
			}
		}
		if resp.Rejected > 0 {
			logger.Info("⚠️ Batch partially rejected",
				zap.String("driver_id", claims.UserID),
				zap.Int("accepted", resp.Accepted),
				zap.Int("rejected", resp.Rejected))
		}
		utils.RespondSuccess(w, http.StatusOK, resp)
	}
}
