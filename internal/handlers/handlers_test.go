package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"depotwatch-backend/internal/config"
	"depotwatch-backend/internal/database"
	"depotwatch-backend/internal/engine"
	"depotwatch-backend/internal/middleware"
	"depotwatch-backend/internal/models"
)

const (
	testSecret  = "handler-secret"
	testCompany = database.DemoCompanyID
)

type apiFixture struct {
	t      *testing.T
	store  *database.MemoryStore
	router http.Handler
	users  map[string]*models.User
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	store := database.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, database.SeedUsers(ctx, store, zap.NewNop()))

	cfg := config.DefaultEngineConfig()
	cfg.BatchMaxItems = 5
	cfg.GeofenceCacheTTL = 0
	eng, err := engine.New(engine.Options{Store: store, Config: cfg})
	require.NoError(t, err)
	t.Cleanup(eng.Emitter().Wait)

	f := &apiFixture{t: t, store: store, users: map[string]*models.User{}}
	for _, email := range []string{"driver@depotwatch.dev", "dispatcher@depotwatch.dev", "admin@depotwatch.dev"} {
		u, err := store.GetUserByEmail(ctx, email)
		require.NoError(t, err)
		f.users[u.Role] = u
	}

	f.router = NewRouter(Dependencies{
		Engine:    eng,
		Users:     store,
		Tokens:    store,
		Accounts:  store,
		JWTSecret: testSecret,
		Logger:    zap.NewNop(),
		Quiet:     true,
	})
	return f
}

func (f *apiFixture) token(role string) string {
	u := f.users[role]
	token, err := middleware.IssueToken(testSecret, middleware.UserClaims{
		UserID: u.ID, Email: u.Email, Role: u.Role, CompanyID: u.CompanyID,
	}, time.Now())
	require.NoError(f.t, err)
	return token
}

// do sends body (nil, raw string or JSON-encoded value) as role; role "" is anonymous
func (f *apiFixture) do(role, method, path string, body interface{}) (int, envelope) {
	f.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(f.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(role))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func decodeData(t *testing.T, env envelope, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func ping(lat, lon float64, speed int, ts int64) map[string]interface{} {
	return map[string]interface{}{"latitude": lat, "longitude": lon, "speed": speed, "timestamp": ts}
}

func TestHealth(t *testing.T) {
	f := newAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestLogin(t *testing.T) {
	f := newAPI(t)

	code, env := f.do("", http.MethodPost, "/api/auth/login", LoginRequest{Email: "Dispatcher@depotwatch.dev", Password: "dispatcher123"})
	require.Equal(t, http.StatusOK, code)
	var resp LoginResponse
	decodeData(t, env, &resp)
	assert.Equal(t, models.RoleDispatcher, resp.User.Role)
	assert.Equal(t, testCompany, resp.User.CompanyID)

	claims, err := middleware.ParseToken(testSecret, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, testCompany, claims.CompanyID)
	assert.Equal(t, resp.User.ID, claims.UserID)

	code, env = f.do("", http.MethodPost, "/api/auth/login", LoginRequest{Email: "dispatcher@depotwatch.dev", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.Success)

	code, _ = f.do("", http.MethodPost, "/api/auth/login", LoginRequest{Email: "nobody@depotwatch.dev", Password: "x"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.do("", http.MethodPost, "/api/auth/login", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRouteGuards(t *testing.T) {
	f := newAPI(t)

	code, _ := f.do("", http.MethodGet, "/api/driver/timesheet/current", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.do(models.RoleDriver, http.MethodGet, "/api/manager/geofences", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = f.do(models.RoleAdmin, http.MethodGet, "/api/manager/geofences", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestSubmitLocation(t *testing.T) {
	f := newAPI(t)
	now := time.Now().Unix()
	driver := f.users[models.RoleDriver]

	code, env := f.do(models.RoleDriver, http.MethodPost, "/api/driver/location", ping(37.3, -121.9, 20, now))
	require.Equal(t, http.StatusCreated, code, env.Error)
	var stored models.LocationPing
	decodeData(t, env, &stored)
	assert.Equal(t, driver.ID, stored.DriverID)
	assert.Equal(t, testCompany, stored.CompanyID)

	// Body identity fields are ignored in favour of the token
	body := ping(37.3, -121.9, 20, now+1)
	body["driver_id"] = "someone-else"
	code, _ = f.do(models.RoleDriver, http.MethodPost, "/api/driver/location", body)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 2, f.store.PingCount(testCompany, driver.ID))
	assert.Equal(t, 0, f.store.PingCount(testCompany, "someone-else"))

	code, env = f.do(models.RoleDriver, http.MethodPost, "/api/driver/location", ping(120, 0, 5, now))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error, "coordinates")

	code, _ = f.do(models.RoleDriver, http.MethodPost, "/api/driver/location", "nope")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, 2, f.store.PingCount(testCompany, driver.ID))
}

func TestSubmitLocationBatch(t *testing.T) {
	f := newAPI(t)
	now := time.Now().Unix()

	code, env := f.do(models.RoleDriver, http.MethodPost, "/api/driver/location/batch", map[string]interface{}{
		"pings": []interface{}{
			ping(37.3, -121.9, 10, now-20),
			ping(37.3, -121.9, -1, now-10),
			ping(37.3, -121.9, 10, now),
		},
	})
	require.Equal(t, http.StatusOK, code)
	var resp batchResponse
	decodeData(t, env, &resp)
	assert.Equal(t, 2, resp.Accepted)
	assert.Equal(t, 1, resp.Rejected)
	require.Len(t, resp.Results, 3)
	assert.True(t, resp.Results[0].Success)
	assert.False(t, resp.Results[1].Success)
	assert.Contains(t, resp.Results[1].Error, "speed")
	assert.True(t, resp.Results[2].Success)

	var pings []interface{}
	for i := 0; i < 6; i++ {
		pings = append(pings, ping(37.3, -121.9, 10, now))
	}
	code, _ = f.do(models.RoleDriver, http.MethodPost, "/api/driver/location/batch", map[string]interface{}{"pings": pings})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, 2, f.store.PingCount(testCompany, f.users[models.RoleDriver].ID))
}

func TestClockInOut(t *testing.T) {
	f := newAPI(t)

	code, _ := f.do(models.RoleDriver, http.MethodPost, "/api/driver/clock-in", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := f.do(models.RoleDriver, http.MethodPost, "/api/driver/clock-in", map[string]string{"depot_name": "North Yard"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var ts models.Timesheet
	decodeData(t, env, &ts)
	assert.Equal(t, models.TimesheetStatusActive, ts.Status)
	assert.Equal(t, "North Yard", ts.DepotName)

	code, _ = f.do(models.RoleDriver, http.MethodPost, "/api/driver/clock-in", map[string]string{"depot_name": "North Yard"})
	assert.Equal(t, http.StatusConflict, code)

	code, env = f.do(models.RoleDriver, http.MethodGet, "/api/driver/timesheet/current", nil)
	require.Equal(t, http.StatusOK, code)
	var current models.Timesheet
	decodeData(t, env, &current)
	assert.Equal(t, ts.ID, current.ID)

	code, env = f.do(models.RoleDriver, http.MethodPost, "/api/driver/clock-out", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	decodeData(t, env, &ts)
	assert.Equal(t, models.TimesheetStatusClosed, ts.Status)

	code, _ = f.do(models.RoleDriver, http.MethodPost, "/api/driver/clock-out", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, env = f.do(models.RoleDriver, http.MethodGet, "/api/driver/timesheet/current", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "null", string(env.Data))

	code, env = f.do(models.RoleDispatcher, http.MethodGet, "/api/manager/timesheets?status=CLOSED", nil)
	require.Equal(t, http.StatusOK, code)
	var sheets []models.Timesheet
	decodeData(t, env, &sheets)
	assert.Len(t, sheets, 1)

	code, _ = f.do(models.RoleDispatcher, http.MethodGet, "/api/manager/timesheets?status=OPEN", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(models.RoleDispatcher, http.MethodGet, "/api/manager/timesheets?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestForceClockOut(t *testing.T) {
	f := newAPI(t)
	driver := f.users[models.RoleDriver]
	path := fmt.Sprintf("/api/manager/drivers/%s/clock-out", driver.ID)

	code, _ := f.do(models.RoleDriver, http.MethodPost, "/api/driver/clock-in", map[string]string{"depot_name": "North Yard"})
	require.Equal(t, http.StatusCreated, code)

	code, _ = f.do(models.RoleDispatcher, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env := f.do(models.RoleAdmin, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	var ts models.Timesheet
	decodeData(t, env, &ts)
	assert.Equal(t, models.TimesheetStatusClosed, ts.Status)

	code, _ = f.do(models.RoleAdmin, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestGeofenceCRUD(t *testing.T) {
	f := newAPI(t)

	code, _ := f.do(models.RoleDispatcher, http.MethodPost, "/api/manager/geofences", map[string]interface{}{"name": "No coords"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := f.do(models.RoleDispatcher, http.MethodPost, "/api/manager/geofences", map[string]interface{}{
		"name": "North Yard", "latitude": 37.3382, "longitude": -121.8863, "radius_meters": 150,
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var fence models.GeofenceResponse
	decodeData(t, env, &fence)
	assert.True(t, fence.IsDepot)
	assert.True(t, fence.IsActive)
	assert.NotEmpty(t, fence.CreatedAtISO)

	path := "/api/manager/geofences/" + fence.ID
	code, env = f.do(models.RoleDispatcher, http.MethodPatch, path, map[string]interface{}{"radius_meters": 300})
	require.Equal(t, http.StatusOK, code, env.Error)
	decodeData(t, env, &fence)
	assert.Equal(t, 300, fence.RadiusMeters)
	assert.Equal(t, "North Yard", fence.Name)

	code, env = f.do(models.RoleDispatcher, http.MethodGet, "/api/manager/geofences", nil)
	require.Equal(t, http.StatusOK, code)
	var fences []models.GeofenceResponse
	decodeData(t, env, &fences)
	assert.Len(t, fences, 1)

	code, _ = f.do(models.RoleDispatcher, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(models.RoleDispatcher, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(models.RoleDispatcher, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGeofenceEventsAndAutoClockIn(t *testing.T) {
	f := newAPI(t)
	now := time.Now().Unix()

	code, _ := f.do(models.RoleDispatcher, http.MethodPost, "/api/manager/geofences", map[string]interface{}{
		"name": "North Yard", "latitude": 37.3382, "longitude": -121.8863, "radius_meters": 200,
	})
	require.Equal(t, http.StatusCreated, code)

	code, _ = f.do(models.RoleDriver, http.MethodPost, "/api/driver/location", ping(37.3382, -121.8863, 5, now))
	require.Equal(t, http.StatusCreated, code)

	code, env := f.do(models.RoleDispatcher, http.MethodGet, "/api/manager/geofence-events?limit=10", nil)
	require.Equal(t, http.StatusOK, code)
	var events []models.GeofenceEvent
	decodeData(t, env, &events)
	require.Len(t, events, 1)
	assert.Equal(t, models.TransitionEnter, events[0].Type)

	code, env = f.do(models.RoleDriver, http.MethodGet, "/api/driver/timesheet/current", nil)
	require.Equal(t, http.StatusOK, code)
	var ts models.Timesheet
	decodeData(t, env, &ts)
	assert.Equal(t, "North Yard", ts.DepotName)
	assert.Equal(t, models.ClockSourceGeofence, ts.ArrivalSource)
}

func TestStagnationAlertEndpoints(t *testing.T) {
	f := newAPI(t)
	ctx := context.Background()
	now := time.Now().Unix()

	for i, driverID := range []string{"drv-a", "drv-b", "drv-c"} {
		require.NoError(t, f.store.CreateAlert(ctx, &models.StagnationAlert{
			ID:         fmt.Sprintf("alert-%d", i),
			CompanyID:  testCompany,
			DriverID:   driverID,
			Status:     models.AlertStatusActive,
			StartedAt:  now - 3600,
			LastPingAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}))
	}

	code, env := f.do(models.RoleDispatcher, http.MethodGet, "/api/manager/stagnation-alerts?status=ACTIVE", nil)
	require.Equal(t, http.StatusOK, code)
	var alerts []models.StagnationAlert
	decodeData(t, env, &alerts)
	assert.Len(t, alerts, 3)

	code, _ = f.do(models.RoleDispatcher, http.MethodGet, "/api/manager/stagnation-alerts?status=BOGUS", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = f.do(models.RoleDispatcher, http.MethodPost, "/api/manager/stagnation-alerts/alert-0/acknowledge",
		map[string]string{"notes": "called driver"})
	require.Equal(t, http.StatusOK, code, env.Error)
	var alert models.StagnationAlert
	decodeData(t, env, &alert)
	assert.Equal(t, models.AlertStatusAcknowledged, alert.Status)
	require.NotNil(t, alert.AcknowledgedBy)
	assert.Equal(t, f.users[models.RoleDispatcher].ID, *alert.AcknowledgedBy)
	require.NotNil(t, alert.ResolutionNotes)
	assert.Equal(t, "called driver", *alert.ResolutionNotes)

	code, _ = f.do(models.RoleDispatcher, http.MethodPost, "/api/manager/stagnation-alerts/alert-0/dismiss", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(models.RoleDispatcher, http.MethodPost, "/api/manager/stagnation-alerts/missing/acknowledge", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = f.do(models.RoleAdmin, http.MethodPost, "/api/manager/stagnation-alerts/dismiss-all", nil)
	require.Equal(t, http.StatusOK, code)
	var dismissed map[string]int
	decodeData(t, env, &dismissed)
	assert.Equal(t, 2, dismissed["dismissed"])

	code, env = f.do(models.RoleDispatcher, http.MethodGet, "/api/manager/stagnation-alerts?status=ACTIVE", nil)
	require.Equal(t, http.StatusOK, code)
	decodeData(t, env, &alerts)
	assert.Empty(t, alerts)
}

func TestSettingsEndpoints(t *testing.T) {
	f := newAPI(t)

	code, env := f.do(models.RoleDispatcher, http.MethodGet, "/api/manager/settings", nil)
	require.Equal(t, http.StatusOK, code)
	var resp settingsResponse
	decodeData(t, env, &resp)
	assert.Nil(t, resp.Overrides.StagnationWindowSeconds)
	assert.Equal(t, int64(30*60), resp.Effective.StagnationWindowSeconds)

	code, env = f.do(models.RoleDispatcher, http.MethodPut, "/api/manager/settings", map[string]interface{}{
		"stagnation_window_seconds": 600,
		"movement_tolerance_meters": 25.5,
	})
	require.Equal(t, http.StatusOK, code, env.Error)
	decodeData(t, env, &resp)
	assert.Equal(t, int64(600), resp.Effective.StagnationWindowSeconds)
	assert.Equal(t, 25.5, resp.Effective.MovementToleranceMeters)
	assert.Equal(t, 3, resp.Effective.StagnationSpeedThreshold)

	code, _ = f.do(models.RoleDispatcher, http.MethodPut, "/api/manager/settings", map[string]interface{}{
		"stagnation_window_seconds": -5,
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRegisterFCMToken(t *testing.T) {
	f := newAPI(t)

	code, _ := f.do(models.RoleDispatcher, http.MethodPost, "/api/driver/fcm-token", map[string]string{"token": "abc", "device_type": "pager"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(models.RoleDispatcher, http.MethodPost, "/api/driver/fcm-token", map[string]string{"token": "abc", "device_type": "web"})
	require.Equal(t, http.StatusOK, code)

	tokens, err := f.store.ListFCMTokensByRole(context.Background(), testCompany, models.RoleDispatcher)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "abc", tokens[0].Token)
}

func TestCreateUser(t *testing.T) {
	f := newAPI(t)
	req := CreateUserRequest{Email: "new.driver@depotwatch.dev", Password: "driver456", Name: "New Driver", Role: models.RoleDriver}

	code, _ := f.do(models.RoleDispatcher, http.MethodPost, "/api/manager/users", req)
	assert.Equal(t, http.StatusForbidden, code)

	code, env := f.do(models.RoleAdmin, http.MethodPost, "/api/manager/users", req)
	require.Equal(t, http.StatusCreated, code, env.Error)
	var created models.UserResponse
	decodeData(t, env, &created)
	assert.Equal(t, testCompany, created.CompanyID)
	assert.Equal(t, models.RoleDriver, created.Role)

	code, _ = f.do(models.RoleAdmin, http.MethodPost, "/api/manager/users", req)
	assert.Equal(t, http.StatusConflict, code)

	req.Email = "x@depotwatch.dev"
	req.Role = "manager"
	code, _ = f.do(models.RoleAdmin, http.MethodPost, "/api/manager/users", req)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do("", http.MethodPost, "/api/auth/login", LoginRequest{Email: "new.driver@depotwatch.dev", Password: "driver456"})
	assert.Equal(t, http.StatusOK, code)
}
