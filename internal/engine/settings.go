package engine

import (
	"context"
	"fmt"

	"depotwatch-backend/internal/models"
)

// EffectiveSettings are the thresholds actually applied to a company after overrides
type EffectiveSettings struct {
	StagnationWindowSeconds     int64   `json:"stagnation_window_seconds"`
	StagnationSpeedThreshold    int     `json:"stagnation_speed_threshold"`
	MovementToleranceMeters     float64 `json:"movement_tolerance_meters"`
	DefaultGeofenceRadiusMeters int     `json:"default_geofence_radius_meters"`
}

// Settings returns the stored overrides (never nil) and the effective values
func (e *Engine) Settings(ctx context.Context, companyID string) (*models.EngineSettings, EffectiveSettings, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	overrides, err := e.store.GetEngineSettings(opCtx, companyID)
	if err != nil {
		return nil, EffectiveSettings{}, fmt.Errorf("failed to load engine settings: %w", err)
	}
	if overrides == nil {
		overrides = &models.EngineSettings{CompanyID: companyID}
	}

	th, err := e.thresholdsFor(opCtx, companyID)
	if err != nil {
		return nil, EffectiveSettings{}, err
	}
	return overrides, th.effective(), nil
}

// UpdateSettings replaces the company's overrides; nil fields revert to server defaults
func (e *Engine) UpdateSettings(ctx context.Context, companyID string, in models.EngineSettings) (*models.EngineSettings, EffectiveSettings, error) {
	if in.StagnationWindowSeconds != nil && *in.StagnationWindowSeconds <= 0 {
		return nil, EffectiveSettings{}, invalid("stagnation_window_seconds", "must be positive")
	}
	if in.StagnationSpeedThreshold != nil && *in.StagnationSpeedThreshold < 0 {
		return nil, EffectiveSettings{}, invalid("stagnation_speed_threshold", "must not be negative")
	}
	if in.MovementToleranceMeters != nil && *in.MovementToleranceMeters <= 0 {
		return nil, EffectiveSettings{}, invalid("movement_tolerance_meters", "must be positive")
	}
	if in.DefaultGeofenceRadiusMeters != nil && *in.DefaultGeofenceRadiusMeters <= 0 {
		return nil, EffectiveSettings{}, invalid("default_geofence_radius_meters", "must be positive")
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	in.CompanyID = companyID
	in.UpdatedAt = e.now().Unix()
	if err := e.store.UpsertEngineSettings(opCtx, &in); err != nil {
		return nil, EffectiveSettings{}, fmt.Errorf("failed to save engine settings: %w", err)
	}
	e.settings.Invalidate(companyID)
	e.fences.Invalidate(companyID)

	th, err := e.thresholdsFor(opCtx, companyID)
	if err != nil {
		return nil, EffectiveSettings{}, err
	}
	return &in, th.effective(), nil
}

func (th thresholds) effective() EffectiveSettings {
	return EffectiveSettings{
		StagnationWindowSeconds:     int64(th.window.Seconds()),
		StagnationSpeedThreshold:    th.speedLimit,
		MovementToleranceMeters:     th.tolerance,
		DefaultGeofenceRadiusMeters: th.defaultRadius,
	}
}
