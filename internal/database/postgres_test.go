package database

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"depotwatch-backend/internal/models"
)

func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres integration test")
	}
	logger := zap.NewNop()
	db, err := Connect(dbURL, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db, logger))
	return NewPostgresStore(db)
}

func TestPostgresPartialUniqueIndexes(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	company := "test-" + uuid.New().String()

	ts := &models.Timesheet{
		ID: uuid.New().String(), CompanyID: company, DriverID: "d1", DepotName: "Depot",
		Status: models.TimesheetStatusActive, ArrivalTime: 100, ArrivalSource: models.ClockSourceManual,
		CreatedAt: 100, UpdatedAt: 100,
	}
	require.NoError(t, s.CreateTimesheet(ctx, ts))

	dup := *ts
	dup.ID = uuid.New().String()
	assert.ErrorIs(t, s.CreateTimesheet(ctx, &dup), ErrConflict)

	closed, err := s.CloseTimesheet(ctx, company, ts.ID, models.TimesheetClose{DepartureTime: 200, Source: models.ClockSourceGeofence})
	require.NoError(t, err)
	assert.Equal(t, models.TimesheetStatusClosed, closed.Status)
	require.NotNil(t, closed.DepartureSource)
	assert.Equal(t, models.ClockSourceGeofence, *closed.DepartureSource)

	_, err = s.CloseTimesheet(ctx, company, ts.ID, models.TimesheetClose{DepartureTime: 300, Source: models.ClockSourceManual})
	assert.ErrorIs(t, err, ErrNotFound)

	alert := &models.StagnationAlert{
		ID: uuid.New().String(), CompanyID: company, DriverID: "d1", Status: models.AlertStatusActive,
		StartedAt: 100, LastPingAt: 200, CreatedAt: 200, UpdatedAt: 200,
	}
	require.NoError(t, s.CreateAlert(ctx, alert))
	again := *alert
	again.ID = uuid.New().String()
	assert.ErrorIs(t, s.CreateAlert(ctx, &again), ErrConflict)

	resolved, err := s.ResolveActiveAlerts(ctx, company, models.AlertResolution{Status: models.AlertStatusDismissed, By: "u1", At: 300})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, alert.ID, resolved[0].ID)
	assert.Equal(t, models.AlertStatusDismissed, resolved[0].Status)
	assert.ErrorIs(t, s.UpdateAlert(ctx, alert), ErrNotFound)
}

func TestPostgresPingsAndContainment(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	company := "test-" + uuid.New().String()

	for _, ts := range []int64{300, 100, 200} {
		require.NoError(t, s.InsertPing(ctx, &models.LocationPing{
			CompanyID: company, DriverID: "d1", Latitude: 37.3, Longitude: -121.9, Timestamp: ts, ReceivedAt: ts,
		}))
	}
	pings, err := s.GetRecentPings(ctx, company, "d1", 100, 250)
	require.NoError(t, err)
	require.Len(t, pings, 2)
	assert.Equal(t, int64(100), pings[0].Timestamp)

	state, err := s.GetContainmentState(ctx, company, "d1")
	require.NoError(t, err)
	assert.Nil(t, state)

	fenceID, name := "g1", "Depot"
	require.NoError(t, s.SetContainmentState(ctx, &models.ContainmentState{
		CompanyID: company, DriverID: "d1", GeofenceID: &fenceID, GeofenceName: &name, IsDepot: true, LastPingAt: 300, UpdatedAt: 300,
	}))
	require.NoError(t, s.SetContainmentState(ctx, &models.ContainmentState{
		CompanyID: company, DriverID: "d1", LastPingAt: 400, UpdatedAt: 400,
	}))
	state, err = s.GetContainmentState(ctx, company, "d1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.False(t, state.Inside())
	assert.Equal(t, int64(400), state.LastPingAt)

	ev := &models.GeofenceEvent{
		ID: uuid.New().String(), CompanyID: company, DriverID: "d1", GeofenceID: "g1", GeofenceName: "Depot",
		IsDepot: true, Type: models.TransitionExit, OccurredAt: 400, CreatedAt: 400,
	}
	inserted, err := s.RecordGeofenceEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted)
	ev.ID = uuid.New().String()
	inserted, err = s.RecordGeofenceEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, inserted)

	recorded, err := s.GeofenceEventRecorded(ctx, ev)
	require.NoError(t, err)
	assert.True(t, recorded)
	enter := *ev
	enter.Type = models.TransitionEnter
	recorded, err = s.GeofenceEventRecorded(ctx, &enter)
	require.NoError(t, err)
	assert.False(t, recorded)
}

func TestPostgresInsertPingIdempotent(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	company := "test-" + uuid.New().String()

	first := &models.LocationPing{CompanyID: company, DriverID: "d1", Latitude: 1, Longitude: 2, Timestamp: 100, ReceivedAt: 110}
	require.NoError(t, s.InsertPing(ctx, first))
	again := &models.LocationPing{CompanyID: company, DriverID: "d1", Latitude: 1, Longitude: 2, Timestamp: 100, ReceivedAt: 130}
	require.NoError(t, s.InsertPing(ctx, again))
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, int64(110), again.ReceivedAt)

	pings, err := s.GetRecentPings(ctx, company, "d1", 0, 200)
	require.NoError(t, err)
	assert.Len(t, pings, 1)
}
