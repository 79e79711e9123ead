package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"depotwatch-backend/internal/engine"
	"depotwatch-backend/internal/metrics"
	"depotwatch-backend/internal/middleware"
	"depotwatch-backend/internal/models"
)

// Dependencies are the collaborators the HTTP API is built from
type Dependencies struct {
	Engine    *engine.Engine
	Users     UserFinder
	Tokens    TokenRegistry
	Accounts  AccountStore
	JWTSecret string
	Logger    *zap.Logger

	// Optional; mounted at /ws when set
	WebSocket http.Handler
	// Optional; mounted at /metrics when set
	Metrics http.Handler
	// Skips chi's access log, useful in tests
	Quiet bool
}

// NewRouter wires every API route onto a chi router
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	eng := deps.Engine

	r := chi.NewRouter()

	if !deps.Quiet {
		r.Use(chimiddleware.Logger)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(metrics.Instrument)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	if deps.WebSocket != nil {
		r.Handle("/ws", deps.WebSocket)
	}

	r.Post("/api/auth/login", Login(deps.Users, deps.JWTSecret, logger))

	auth := middleware.Auth(deps.JWTSecret, logger)

	r.Route("/api/driver", func(r chi.Router) {
		r.Use(auth)
		r.Post("/location", SubmitLocation(eng, logger))
		r.Post("/location/batch", SubmitLocationBatch(eng, logger))
		r.Post("/clock-in", ClockIn(eng, logger))
		r.Post("/clock-out", ClockOut(eng, logger))
		r.Get("/timesheet/current", GetCurrentTimesheet(eng, logger))
		r.Post("/fcm-token", RegisterFCMToken(deps.Tokens, logger))
	})

	r.Route("/api/manager", func(r chi.Router) {
		r.Use(auth)
		r.Use(middleware.RequireRole(logger, models.RoleDispatcher, models.RoleAdmin))

		r.Get("/stagnation-alerts", ListStagnationAlerts(eng, logger))
		r.Post("/stagnation-alerts/dismiss-all", DismissAllStagnationAlerts(eng, logger))
		r.Post("/stagnation-alerts/{id}/acknowledge", AcknowledgeStagnationAlert(eng, logger))
		r.Post("/stagnation-alerts/{id}/dismiss", DismissStagnationAlert(eng, logger))

		r.Get("/timesheets", ListTimesheets(eng, logger))
		r.Get("/geofence-events", ListGeofenceEvents(eng, logger))

		r.Get("/geofences", ListGeofences(eng, logger))
		r.Post("/geofences", CreateGeofence(eng, logger))
		r.Get("/geofences/{id}", GetGeofence(eng, logger))
		r.Patch("/geofences/{id}", UpdateGeofence(eng, logger))
		r.Delete("/geofences/{id}", DeleteGeofence(eng, logger))

		r.Get("/settings", GetSettings(eng, logger))
		r.Put("/settings", UpdateSettings(eng, logger))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logger, models.RoleAdmin))
			r.Post("/drivers/{driverId}/clock-out", ForceClockOut(eng, logger))
			r.Post("/users", CreateUser(deps.Accounts, logger))
		})
	})

	return r
}
