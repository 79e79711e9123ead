package database

import (
	"context"
	"sort"
	"sync"

	"depotwatch-backend/internal/models"
)

type driverKey struct {
	companyID string
	driverID  string
}

type eventKey struct {
	companyID  string
	driverID   string
	geofenceID string
	eventType  models.TransitionType
	occurredAt int64
}

// MemoryStore keeps everything in process. It enforces the same uniqueness rules
// as the Postgres schema and hands out copies, so callers never share its records.
type MemoryStore struct {
	mu sync.RWMutex

	nextPingID  int64
	nextTokenID int

	pings       map[driverKey][]models.LocationPing
	containment map[driverKey]models.ContainmentState
	alerts      map[string]models.StagnationAlert
	timesheets  map[string]models.Timesheet
	geofences   map[string]models.Geofence
	events      map[string]models.GeofenceEvent
	eventKeys   map[eventKey]struct{}
	settings    map[string]models.EngineSettings
	users       map[string]models.User
	fcmTokens   map[string]models.FCMToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pings:       make(map[driverKey][]models.LocationPing),
		containment: make(map[driverKey]models.ContainmentState),
		alerts:      make(map[string]models.StagnationAlert),
		timesheets:  make(map[string]models.Timesheet),
		geofences:   make(map[string]models.Geofence),
		events:      make(map[string]models.GeofenceEvent),
		eventKeys:   make(map[eventKey]struct{}),
		settings:    make(map[string]models.EngineSettings),
		users:       make(map[string]models.User),
		fcmTokens:   make(map[string]models.FCMToken),
	}
}

// Pings

func (s *MemoryStore) InsertPing(ctx context.Context, ping *models.LocationPing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := driverKey{ping.CompanyID, ping.DriverID}
	for _, existing := range s.pings[key] {
		if existing.Timestamp == ping.Timestamp && existing.Latitude == ping.Latitude && existing.Longitude == ping.Longitude {
			ping.ID = existing.ID
			ping.ReceivedAt = existing.ReceivedAt
			return nil
		}
	}

	s.nextPingID++
	ping.ID = s.nextPingID
	s.pings[key] = append(s.pings[key], *ping)
	return nil
}

func (s *MemoryStore) GetRecentPings(ctx context.Context, companyID, driverID string, windowStart, windowEnd int64) ([]models.LocationPing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.LocationPing
	for _, p := range s.pings[driverKey{companyID, driverID}] {
		if p.Timestamp >= windowStart && p.Timestamp <= windowEnd {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// PingCount returns how many pings are stored for a driver
func (s *MemoryStore) PingCount(companyID, driverID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pings[driverKey{companyID, driverID}])
}

// Containment

func (s *MemoryStore) GetContainmentState(ctx context.Context, companyID, driverID string) (*models.ContainmentState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.containment[driverKey{companyID, driverID}]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *MemoryStore) SetContainmentState(ctx context.Context, state *models.ContainmentState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containment[driverKey{state.CompanyID, state.DriverID}] = *state
	return nil
}

// Stagnation alerts

func (s *MemoryStore) GetActiveAlert(ctx context.Context, companyID, driverID string) (*models.StagnationAlert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.alerts {
		if a.CompanyID == companyID && a.DriverID == driverID && a.Status == models.AlertStatusActive {
			return &a, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetLatestAlert(ctx context.Context, companyID, driverID string) (*models.StagnationAlert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.StagnationAlert
	for _, a := range s.alerts {
		if a.CompanyID != companyID || a.DriverID != driverID {
			continue
		}
		if latest == nil || alertNewer(a, *latest) {
			alert := a
			latest = &alert
		}
	}
	return latest, nil
}

func alertNewer(a, b models.StagnationAlert) bool {
	if a.StartedAt != b.StartedAt {
		return a.StartedAt > b.StartedAt
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID > b.ID
}

func (s *MemoryStore) CreateAlert(ctx context.Context, alert *models.StagnationAlert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.alerts[alert.ID]; exists {
		return ErrConflict
	}
	if alert.Status == models.AlertStatusActive {
		for _, a := range s.alerts {
			if a.CompanyID == alert.CompanyID && a.DriverID == alert.DriverID && a.Status == models.AlertStatusActive {
				return ErrConflict
			}
		}
	}
	s.alerts[alert.ID] = *alert
	return nil
}

func (s *MemoryStore) UpdateAlert(ctx context.Context, alert *models.StagnationAlert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.alerts[alert.ID]
	if !ok || current.CompanyID != alert.CompanyID || current.Status != models.AlertStatusActive {
		return ErrNotFound
	}
	updated := current
	updated.Status = alert.Status
	updated.LastPingAt = alert.LastPingAt
	updated.AcknowledgedBy = alert.AcknowledgedBy
	updated.AcknowledgedAt = alert.AcknowledgedAt
	updated.ResolutionNotes = alert.ResolutionNotes
	updated.UpdatedAt = alert.UpdatedAt
	s.alerts[alert.ID] = updated
	return nil
}

func (s *MemoryStore) GetAlert(ctx context.Context, companyID, alertID string) (*models.StagnationAlert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[alertID]
	if !ok || a.CompanyID != companyID {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context, companyID string, status *models.AlertStatus) ([]models.StagnationAlert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.StagnationAlert{}
	for _, a := range s.alerts {
		if a.CompanyID != companyID {
			continue
		}
		if status != nil && a.Status != *status {
			continue
		}
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return alertNewer(result[i], result[j]) })
	return result, nil
}

func (s *MemoryStore) ResolveActiveAlerts(ctx context.Context, companyID string, res models.AlertResolution) ([]models.StagnationAlert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var resolved []models.StagnationAlert
	for id, a := range s.alerts {
		if a.CompanyID != companyID || a.Status != models.AlertStatusActive {
			continue
		}
		by, at := res.By, res.At
		a.Status = res.Status
		a.AcknowledgedBy = &by
		a.AcknowledgedAt = &at
		a.ResolutionNotes = res.Notes
		a.UpdatedAt = res.At
		s.alerts[id] = a
		resolved = append(resolved, a)
	}
	sort.Slice(resolved, func(i, j int) bool { return alertNewer(resolved[i], resolved[j]) })
	return resolved, nil
}

// Timesheets

func (s *MemoryStore) GetActiveTimesheet(ctx context.Context, companyID, driverID string) (*models.Timesheet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.timesheets {
		if t.CompanyID == companyID && t.DriverID == driverID && t.Status == models.TimesheetStatusActive {
			return &t, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CreateTimesheet(ctx context.Context, ts *models.Timesheet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.timesheets[ts.ID]; exists {
		return ErrConflict
	}
	if ts.Status == models.TimesheetStatusActive {
		for _, t := range s.timesheets {
			if t.CompanyID == ts.CompanyID && t.DriverID == ts.DriverID && t.Status == models.TimesheetStatusActive {
				return ErrConflict
			}
		}
	}
	s.timesheets[ts.ID] = *ts
	return nil
}

func (s *MemoryStore) CloseTimesheet(ctx context.Context, companyID, timesheetID string, close models.TimesheetClose) (*models.Timesheet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timesheets[timesheetID]
	if !ok || t.CompanyID != companyID || t.Status != models.TimesheetStatusActive {
		return nil, ErrNotFound
	}
	departure := close.DepartureTime
	source := close.Source
	t.Status = models.TimesheetStatusClosed
	t.DepartureTime = &departure
	t.DepartureLatitude = close.DepartureLatitude
	t.DepartureLongitude = close.DepartureLongitude
	t.DepartureSource = &source
	t.UpdatedAt = departure
	s.timesheets[timesheetID] = t
	return &t, nil
}

func (s *MemoryStore) ListTimesheets(ctx context.Context, companyID string, filter models.TimesheetFilter) ([]models.Timesheet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.Timesheet{}
	for _, t := range s.timesheets {
		if t.CompanyID != companyID {
			continue
		}
		if filter.DriverID != "" && t.DriverID != filter.DriverID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ArrivalTime != result[j].ArrivalTime {
			return result[i].ArrivalTime > result[j].ArrivalTime
		}
		return result[i].ID > result[j].ID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Geofences

func (s *MemoryStore) ListActiveGeofences(ctx context.Context, companyID string) ([]models.Geofence, error) {
	return s.listGeofences(ctx, companyID, true)
}

func (s *MemoryStore) ListGeofences(ctx context.Context, companyID string) ([]models.Geofence, error) {
	return s.listGeofences(ctx, companyID, false)
}

func (s *MemoryStore) listGeofences(ctx context.Context, companyID string, activeOnly bool) ([]models.Geofence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.Geofence{}
	for _, g := range s.geofences {
		if g.CompanyID != companyID || (activeOnly && !g.IsActive) {
			continue
		}
		result = append(result, g)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) GetGeofence(ctx context.Context, companyID, geofenceID string) (*models.Geofence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.geofences[geofenceID]
	if !ok || g.CompanyID != companyID {
		return nil, ErrNotFound
	}
	return &g, nil
}

func (s *MemoryStore) CreateGeofence(ctx context.Context, fence *models.Geofence) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.geofences[fence.ID]; exists {
		return ErrConflict
	}
	s.geofences[fence.ID] = *fence
	return nil
}

func (s *MemoryStore) UpdateGeofence(ctx context.Context, fence *models.Geofence) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.geofences[fence.ID]
	if !ok || current.CompanyID != fence.CompanyID {
		return ErrNotFound
	}
	updated := *fence
	updated.CreatedAt = current.CreatedAt
	s.geofences[fence.ID] = updated
	return nil
}

func (s *MemoryStore) DeleteGeofence(ctx context.Context, companyID, geofenceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.geofences[geofenceID]
	if !ok || g.CompanyID != companyID {
		return ErrNotFound
	}
	delete(s.geofences, geofenceID)
	return nil
}

// Geofence events

func (s *MemoryStore) RecordGeofenceEvent(ctx context.Context, event *models.GeofenceEvent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey{event.CompanyID, event.DriverID, event.GeofenceID, event.Type, event.OccurredAt}
	if _, dup := s.eventKeys[key]; dup {
		return false, nil
	}
	s.eventKeys[key] = struct{}{}
	s.events[event.ID] = *event
	return true, nil
}

func (s *MemoryStore) GeofenceEventRecorded(ctx context.Context, event *models.GeofenceEvent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.eventKeys[eventKey{event.CompanyID, event.DriverID, event.GeofenceID, event.Type, event.OccurredAt}]
	return ok, nil
}

func (s *MemoryStore) ListGeofenceEvents(ctx context.Context, companyID string, filter models.GeofenceEventFilter) ([]models.GeofenceEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.GeofenceEvent{}
	for _, ev := range s.events {
		if ev.CompanyID != companyID {
			continue
		}
		if filter.DriverID != "" && ev.DriverID != filter.DriverID {
			continue
		}
		result = append(result, ev)
	}
	// Newest first. At the same instant ENTER is listed before EXIT since the EXIT happened first
	sort.Slice(result, func(i, j int) bool {
		if result[i].OccurredAt != result[j].OccurredAt {
			return result[i].OccurredAt > result[j].OccurredAt
		}
		if result[i].Type != result[j].Type {
			return result[i].Type == models.TransitionEnter
		}
		return result[i].ID > result[j].ID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Engine settings

func (s *MemoryStore) GetEngineSettings(ctx context.Context, companyID string) (*models.EngineSettings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settings[companyID]
	if !ok {
		return nil, nil
	}
	return &settings, nil
}

func (s *MemoryStore) UpsertEngineSettings(ctx context.Context, settings *models.EngineSettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[settings.CompanyID] = *settings
	return nil
}

// Users and push tokens

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == user.Email {
			return ErrConflict
		}
	}
	if _, exists := s.users[user.ID]; exists {
		return ErrConflict
	}
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) CountUsers(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func (s *MemoryStore) UpsertFCMToken(ctx context.Context, token *models.FCMToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.fcmTokens[token.Token]; ok {
		token.ID = existing.ID
		token.CreatedAt = existing.CreatedAt
	} else {
		s.nextTokenID++
		token.ID = s.nextTokenID
	}
	s.fcmTokens[token.Token] = *token
	return nil
}

func (s *MemoryStore) ListFCMTokensByRole(ctx context.Context, companyID, role string) ([]models.FCMToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.FCMToken{}
	for _, t := range s.fcmTokens {
		u, ok := s.users[t.UserID]
		if !ok || u.CompanyID != companyID {
			continue
		}
		if u.Role == role || (role == models.RoleDispatcher && u.Role == models.RoleAdmin) {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) DeleteFCMTokens(ctx context.Context, tokens []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		delete(s.fcmTokens, t)
	}
	return nil
}
