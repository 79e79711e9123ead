package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depotwatch-backend/internal/models"
	"depotwatch-backend/internal/notify"
)

// Driver with no state pings 100m from the center of a 250m depot
func TestMatcherEnterDepotOpensTimesheet(t *testing.T) {
	f := newFixture(t)
	f.addFence(t, "Main Depot", depotCenter, 250, true)
	ts := f.base()

	f.submit(t, offset(depotCenter, 100, 0), 0, ts)

	sheets := f.timesheets(t)
	require.Len(t, sheets, 1)
	assert.Equal(t, models.TimesheetStatusActive, sheets[0].Status)
	assert.Equal(t, "Main Depot", sheets[0].DepotName)
	assert.Equal(t, ts, sheets[0].ArrivalTime)
	assert.Equal(t, models.ClockSourceGeofence, sheets[0].ArrivalSource)
	require.NotNil(t, sheets[0].ArrivalLatitude)

	state, err := f.store.GetContainmentState(context.Background(), testCompany, testDriver)
	require.NoError(t, err)
	require.True(t, state.Inside())
	assert.Equal(t, "Main Depot", *state.GeofenceName)
}

// On-shift driver pings 400m from the same fence center
func TestMatcherExitDepotClosesTimesheet(t *testing.T) {
	f := newFixture(t)
	f.addFence(t, "Main Depot", depotCenter, 250, true)
	base := f.base()

	f.submit(t, offset(depotCenter, 100, 0), 0, base)
	f.submit(t, offset(depotCenter, 400, 0), 25, base+600)

	sheets := f.timesheets(t)
	require.Len(t, sheets, 1)
	assert.Equal(t, models.TimesheetStatusClosed, sheets[0].Status)
	require.NotNil(t, sheets[0].DepartureTime)
	assert.Equal(t, base+600, *sheets[0].DepartureTime)
	require.NotNil(t, sheets[0].DepartureSource)
	assert.Equal(t, models.ClockSourceGeofence, *sheets[0].DepartureSource)

	f.engine.Emitter().Wait()
	// Delivery is asynchronous, only the set is deterministic
	assert.ElementsMatch(t, []string{
		notify.EventGeofenceEnter, notify.EventTimesheetOpened,
		notify.EventGeofenceExit, notify.EventTimesheetClosed,
	}, f.notifier.types())
}

func TestMatcherSamePingTwiceSingleEnter(t *testing.T) {
	f := newFixture(t)
	f.addFence(t, "Main Depot", depotCenter, 250, true)
	ts := f.base()

	f.submit(t, depotCenter, 0, ts)
	f.submit(t, depotCenter, 0, ts)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, models.TransitionEnter, events[0].Type)
	assert.Len(t, f.timesheets(t), 1)
	assert.Equal(t, 1, f.store.PingCount(testCompany, testDriver))
}

func TestMatcherFenceToFenceExitThenEnter(t *testing.T) {
	f := newFixture(t)
	a := f.addFence(t, "Depot A", depotCenter, 250, true)
	bCenter := offset(depotCenter, 400, 0)
	b := f.addFence(t, "Depot B", bCenter, 250, true)
	base := f.base()

	f.submit(t, offset(depotCenter, -50, 0), 0, base)
	f.submit(t, offset(bCenter, 50, 0), 20, base+300)

	events := f.events(t)
	require.Len(t, events, 3)
	assert.Equal(t, a.ID, events[0].GeofenceID)
	assert.Equal(t, models.TransitionExit, events[1].Type)
	assert.Equal(t, a.ID, events[1].GeofenceID)
	assert.Equal(t, models.TransitionEnter, events[2].Type)
	assert.Equal(t, b.ID, events[2].GeofenceID)
	assert.Equal(t, events[1].OccurredAt, events[2].OccurredAt)

	sheets := f.timesheets(t)
	require.Len(t, sheets, 2)
	assert.Equal(t, 1, countActiveTimesheets(sheets))
	assert.Equal(t, "Depot B", sheets[0].DepotName)
	assert.Equal(t, models.TimesheetStatusActive, sheets[0].Status)
}

func TestMatcherNearestCenterWins(t *testing.T) {
	fences := []models.Geofence{
		{ID: "far", Name: "Far", Latitude: depotCenter.Latitude, Longitude: depotCenter.Longitude, RadiusMeters: 500, IsActive: true},
		{ID: "near", Name: "Near", Latitude: offset(depotCenter, 300, 0).Latitude, Longitude: depotCenter.Longitude, RadiusMeters: 500, IsActive: true},
	}
	point := offset(depotCenter, 250, 0)

	matched, err := matchGeofence(point, fences, 250)
	require.NoError(t, err)
	require.NotNil(t, matched)
	assert.Equal(t, "near", matched.ID)

	// Identical centers fall back to the lower ID
	fences[1].Latitude = depotCenter.Latitude
	matched, err = matchGeofence(point, fences, 250)
	require.NoError(t, err)
	assert.Equal(t, "far", matched.ID)
}

func TestMatcherDefaultRadiusAndInactive(t *testing.T) {
	fences := []models.Geofence{
		{ID: "g1", Latitude: depotCenter.Latitude, Longitude: depotCenter.Longitude, RadiusMeters: 0, IsActive: true},
	}
	matched, err := matchGeofence(offset(depotCenter, 200, 0), fences, 250)
	require.NoError(t, err)
	require.NotNil(t, matched)

	matched, err = matchGeofence(offset(depotCenter, 300, 0), fences, 250)
	require.NoError(t, err)
	assert.Nil(t, matched)

	fences[0].IsActive = false
	matched, err = matchGeofence(depotCenter, fences, 250)
	require.NoError(t, err)
	assert.Nil(t, matched)
}

func TestDiffContainment(t *testing.T) {
	fID, fName := "f", "F"
	insideF := &models.ContainmentState{GeofenceID: &fID, GeofenceName: &fName, IsDepot: true}
	outside := &models.ContainmentState{}
	f := &models.Geofence{ID: "f", Name: "F", IsDepot: true}
	g := &models.Geofence{ID: "g", Name: "G"}

	assert.Empty(t, diffContainment(nil, nil))
	assert.Empty(t, diffContainment(outside, nil))
	assert.Empty(t, diffContainment(insideF, f))

	enter := diffContainment(nil, f)
	require.Len(t, enter, 1)
	assert.Equal(t, models.TransitionEnter, enter[0].Type)

	exit := diffContainment(insideF, nil)
	require.Len(t, exit, 1)
	assert.Equal(t, models.TransitionExit, exit[0].Type)
	assert.Equal(t, "F", exit[0].GeofenceName)
	assert.True(t, exit[0].IsDepot)

	both := diffContainment(insideF, g)
	require.Len(t, both, 2)
	assert.Equal(t, models.TransitionExit, both[0].Type)
	assert.Equal(t, "f", both[0].GeofenceID)
	assert.Equal(t, models.TransitionEnter, both[1].Type)
	assert.Equal(t, "g", both[1].GeofenceID)
}

func TestMatcherNonDepotFenceDoesNotTouchShift(t *testing.T) {
	f := newFixture(t)
	zone := f.addFence(t, "Customer Lot", depotCenter, 150, false)
	base := f.base()

	f.submit(t, depotCenter, 0, base)
	f.submit(t, offset(depotCenter, 1000, 0), 30, base+120)

	events := f.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, zone.ID, events[0].GeofenceID)
	assert.False(t, events[0].IsDepot)
	assert.Empty(t, f.timesheets(t))
}

func TestMatcherStateSavedWithoutTransition(t *testing.T) {
	f := newFixture(t)
	ts := f.base()

	f.submit(t, depotCenter, 0, ts)

	state, err := f.store.GetContainmentState(context.Background(), testCompany, testDriver)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.False(t, state.Inside())
	assert.Equal(t, ts, state.LastPingAt)
	assert.Empty(t, f.events(t))
}
