package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"depotwatch-backend/internal/geo"
	"depotwatch-backend/internal/models"
)

// Transition is one ENTER or EXIT detected for a ping
type Transition struct {
	Type         models.TransitionType
	GeofenceID   string
	GeofenceName string
	IsDepot      bool
}

// activeGeofences returns the company's active fences, cached for GeofenceCacheTTL
func (e *Engine) activeGeofences(ctx context.Context, companyID string) ([]models.Geofence, error) {
	if fences, ok := e.fences.Get(companyID); ok {
		return fences, nil
	}
	fences, err := e.store.ListActiveGeofences(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load geofences: %w", err)
	}
	e.fences.Set(companyID, fences)
	return fences, nil
}

// matchGeofences computes the fence the ping falls in and diffs it against the
// last containment state. Nothing is written; commitContainment persists the result.
func (e *Engine) matchGeofences(ctx context.Context, ping *models.LocationPing, th thresholds) (*models.ContainmentState, []Transition, error) {
	fences, err := e.activeGeofences(ctx, ping.CompanyID)
	if err != nil {
		return nil, nil, err
	}

	matched, err := matchGeofence(ping.Point(), fences, th.defaultRadius)
	if err != nil {
		return nil, nil, err
	}

	prev, err := e.store.GetContainmentState(ctx, ping.CompanyID, ping.DriverID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load containment state: %w", err)
	}

	state := &models.ContainmentState{
		CompanyID:  ping.CompanyID,
		DriverID:   ping.DriverID,
		LastPingAt: ping.Timestamp,
		UpdatedAt:  e.now().Unix(),
	}
	if matched != nil {
		id, name := matched.ID, matched.Name
		state.GeofenceID = &id
		state.GeofenceName = &name
		state.IsDepot = matched.IsDepot
	}
	return state, diffContainment(prev, matched), nil
}

// commitContainment applies each transition to the shift machine, records its
// event, and saves the containment state last. Until the state is saved a retry
// of the same ping detects the same transitions again; transitions whose event is
// already recorded are skipped so they never reach the shift machine twice.
func (e *Engine) commitContainment(ctx context.Context, ping *models.LocationPing, state *models.ContainmentState, transitions []Transition) error {
	for _, t := range transitions {
		event := &models.GeofenceEvent{
			ID:           uuid.New().String(),
			CompanyID:    ping.CompanyID,
			DriverID:     ping.DriverID,
			GeofenceID:   t.GeofenceID,
			GeofenceName: t.GeofenceName,
			IsDepot:      t.IsDepot,
			Type:         t.Type,
			Latitude:     ping.Latitude,
			Longitude:    ping.Longitude,
			OccurredAt:   ping.Timestamp,
			CreatedAt:    e.now().Unix(),
		}

		recorded, err := e.store.GeofenceEventRecorded(ctx, event)
		if err != nil {
			return fmt.Errorf("failed to look up geofence event: %w", err)
		}
		if recorded {
			e.logger.Debug("Geofence event already recorded, skipping",
				zap.String("company_id", ping.CompanyID),
				zap.String("driver_id", ping.DriverID),
				zap.String("fence", t.GeofenceName),
				zap.String("type", string(t.Type)),
				zap.Int64("occurred_at", ping.Timestamp))
			continue
		}

		if err := e.applyTransition(ctx, ping, t); err != nil {
			return err
		}
		if _, err := e.emitter.RecordTransition(ctx, event); err != nil {
			return err
		}
	}

	if err := e.store.SetContainmentState(ctx, state); err != nil {
		return fmt.Errorf("failed to save containment state: %w", err)
	}
	return nil
}

// matchGeofence returns the containing fence with the nearest center, or nil.
// Equal distances fall back to the lower fence ID so the choice is deterministic.
func matchGeofence(point geo.Point, fences []models.Geofence, defaultRadius int) (*models.Geofence, error) {
	var best *models.Geofence
	bestDist := math.Inf(1)

	for i := range fences {
		fence := &fences[i]
		if !fence.IsActive {
			continue
		}
		circle := fence.Circle()
		if fence.RadiusMeters <= 0 {
			circle.RadiusMeters = float64(defaultRadius)
		}

		inside, err := geo.IsWithinGeofence(point, circle)
		if err != nil {
			return nil, fmt.Errorf("geofence %s: %w", fence.ID, err)
		}
		if !inside {
			continue
		}

		d, _ := geo.HaversineDistanceMeters(point, circle.Center)
		if d < bestDist || (d == bestDist && fence.ID < best.ID) {
			best = fence
			bestDist = d
		}
	}

	if best == nil {
		return nil, nil
	}
	matched := *best
	return &matched, nil
}

func diffContainment(prev *models.ContainmentState, matched *models.Geofence) []Transition {
	var transitions []Transition

	if prev.Inside() {
		if matched != nil && matched.ID == *prev.GeofenceID {
			return nil
		}
		exit := Transition{
			Type:       models.TransitionExit,
			GeofenceID: *prev.GeofenceID,
			IsDepot:    prev.IsDepot,
		}
		if prev.GeofenceName != nil {
			exit.GeofenceName = *prev.GeofenceName
		}
		transitions = append(transitions, exit)
	}

	if matched != nil {
		transitions = append(transitions, Transition{
			Type:         models.TransitionEnter,
			GeofenceID:   matched.ID,
			GeofenceName: matched.Name,
			IsDepot:      matched.IsDepot,
		})
	}

	return transitions
}
