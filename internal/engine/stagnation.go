package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"depotwatch-backend/internal/database"
	"depotwatch-backend/internal/geo"
	"depotwatch-backend/internal/models"
)

// evaluateStagnation runs with the driver lock held. It opens an alert when the
// trailing run of slow, clustered pings spans the stagnation window, and never closes one.
func (e *Engine) evaluateStagnation(ctx context.Context, ping *models.LocationPing, th thresholds) error {
	windowStart := ping.Timestamp - int64(th.lookback.Seconds())
	history, err := e.store.GetRecentPings(ctx, ping.CompanyID, ping.DriverID, windowStart, ping.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to load recent pings: %w", err)
	}

	run, err := stagnantRun(history, th)
	if err != nil {
		return err
	}
	if run == nil {
		return nil
	}
	first := run[0]
	last := run[len(run)-1]

	active, err := e.store.GetActiveAlert(ctx, ping.CompanyID, ping.DriverID)
	if err != nil {
		return fmt.Errorf("failed to load active alert: %w", err)
	}
	if active != nil {
		if last.Timestamp <= active.LastPingAt {
			return nil
		}
		active.LastPingAt = last.Timestamp
		active.UpdatedAt = e.now().Unix()
		// StartedAt is never rewritten
		if err := e.store.UpdateAlert(ctx, active); err != nil && !errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("failed to refresh alert: %w", err)
		}
		return nil
	}

	latest, err := e.store.GetLatestAlert(ctx, ping.CompanyID, ping.DriverID)
	if err != nil {
		return fmt.Errorf("failed to load latest alert: %w", err)
	}
	if reviewedDuring(latest, first.Timestamp) {
		e.logger.Debug("Stagnant run already reviewed, not re-raising",
			zap.String("company_id", ping.CompanyID),
			zap.String("driver_id", ping.DriverID),
			zap.String("alert_id", latest.ID),
			zap.Int64("run_started_at", first.Timestamp))
		return nil
	}

	now := e.now().Unix()
	alert := &models.StagnationAlert{
		ID:         uuid.New().String(),
		CompanyID:  ping.CompanyID,
		DriverID:   ping.DriverID,
		Status:     models.AlertStatusActive,
		StartedAt:  first.Timestamp,
		LastPingAt: last.Timestamp,
		Latitude:   first.Latitude,
		Longitude:  first.Longitude,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := e.emitter.RaiseStagnationAlert(ctx, alert); err != nil {
		return err
	}
	return nil
}

// reviewedDuring reports whether an operator resolved alert at or after runStart,
// i.e. the current stop has already been looked at.
func reviewedDuring(alert *models.StagnationAlert, runStart int64) bool {
	if alert == nil || alert.Status == models.AlertStatusActive {
		return false
	}
	resolvedAt := alert.UpdatedAt
	if alert.AcknowledgedAt != nil {
		resolvedAt = *alert.AcknowledgedAt
	}
	return resolvedAt >= runStart
}

// stagnantRun returns the longest trailing run of history (ascending by timestamp)
// whose pings are all at or below the speed limit and pairwise within the movement
// tolerance, or nil when that run is too short or does not span the window.
func stagnantRun(history []models.LocationPing, th thresholds) ([]models.LocationPing, error) {
	if len(history) == 0 {
		return nil, nil
	}

	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		candidate := history[i]
		if candidate.Speed > th.speedLimit {
			break
		}
		clustered := true
		for j := i + 1; j < len(history); j++ {
			d, err := geo.HaversineDistanceMeters(candidate.Point(), history[j].Point())
			if err != nil {
				return nil, fmt.Errorf("stored ping %d: %w", candidate.ID, err)
			}
			if d > th.tolerance {
				clustered = false
				break
			}
		}
		if !clustered {
			break
		}
		start = i
	}

	run := history[start:]
	if len(run) < th.minPings {
		return nil, nil
	}
	if run[len(run)-1].Timestamp-run[0].Timestamp < int64(th.window.Seconds()) {
		return nil, nil
	}
	return run, nil
}
