package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"depotwatch-backend/internal/database"
	"depotwatch-backend/internal/models"
)

func (e *Engine) ListGeofences(ctx context.Context, companyID string) ([]models.Geofence, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	return e.store.ListGeofences(opCtx, companyID)
}

func (e *Engine) GetGeofence(ctx context.Context, companyID, geofenceID string) (*models.Geofence, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	return e.getGeofence(opCtx, companyID, geofenceID)
}

// CreateGeofence stores a new fence. Missing radius falls back to the company default,
// missing flags default to active depot.
func (e *Engine) CreateGeofence(ctx context.Context, companyID string, in models.GeofenceInput) (*models.Geofence, error) {
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, invalid("name", "is required")
	}
	if in.Latitude == nil || in.Longitude == nil {
		return nil, invalid("coordinates", "latitude and longitude are required")
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	th, err := e.thresholdsFor(opCtx, companyID)
	if err != nil {
		return nil, err
	}

	now := e.now().Unix()
	fence := &models.Geofence{
		ID:           uuid.New().String(),
		CompanyID:    companyID,
		RadiusMeters: th.defaultRadius,
		IsActive:     true,
		IsDepot:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.applyGeofenceInput(fence, in); err != nil {
		return nil, err
	}

	if err := e.store.CreateGeofence(opCtx, fence); err != nil {
		return nil, fmt.Errorf("failed to create geofence: %w", err)
	}
	e.fences.Invalidate(companyID)
	return fence, nil
}

// UpdateGeofence applies the provided fields only
func (e *Engine) UpdateGeofence(ctx context.Context, companyID, geofenceID string, in models.GeofenceInput) (*models.Geofence, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	fence, err := e.getGeofence(opCtx, companyID, geofenceID)
	if err != nil {
		return nil, err
	}
	if err := e.applyGeofenceInput(fence, in); err != nil {
		return nil, err
	}
	fence.UpdatedAt = e.now().Unix()

	if err := e.store.UpdateGeofence(opCtx, fence); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrGeofenceNotFound
		}
		return nil, fmt.Errorf("failed to update geofence: %w", err)
	}
	e.fences.Invalidate(companyID)
	return fence, nil
}

func (e *Engine) DeleteGeofence(ctx context.Context, companyID, geofenceID string) error {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	if err := e.store.DeleteGeofence(opCtx, companyID, geofenceID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrGeofenceNotFound
		}
		return fmt.Errorf("failed to delete geofence: %w", err)
	}
	e.fences.Invalidate(companyID)
	return nil
}

// ListGeofenceEvents returns recorded ENTER/EXIT transitions, newest first
func (e *Engine) ListGeofenceEvents(ctx context.Context, companyID string, filter models.GeofenceEventFilter) ([]models.GeofenceEvent, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	return e.store.ListGeofenceEvents(opCtx, companyID, filter)
}

func (e *Engine) getGeofence(ctx context.Context, companyID, geofenceID string) (*models.Geofence, error) {
	fence, err := e.store.GetGeofence(ctx, companyID, geofenceID)
	if errors.Is(err, database.ErrNotFound) || (err == nil && fence == nil) {
		return nil, ErrGeofenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load geofence: %w", err)
	}
	return fence, nil
}

func (e *Engine) applyGeofenceInput(fence *models.Geofence, in models.GeofenceInput) error {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return invalid("name", "must not be empty")
		}
		fence.Name = name
	}

	lat, lon := fence.Latitude, fence.Longitude
	if in.Latitude != nil {
		lat = *in.Latitude
	}
	if in.Longitude != nil {
		lon = *in.Longitude
	}
	if in.Latitude != nil || in.Longitude != nil {
		if _, err := e.validatePoint(lat, lon); err != nil {
			return err
		}
		fence.Latitude, fence.Longitude = lat, lon
	}

	if in.RadiusMeters != nil {
		if *in.RadiusMeters <= 0 {
			return invalid("radius_meters", "must be positive, got %d", *in.RadiusMeters)
		}
		fence.RadiusMeters = *in.RadiusMeters
	}
	if in.IsActive != nil {
		fence.IsActive = *in.IsActive
	}
	if in.IsDepot != nil {
		fence.IsDepot = *in.IsDepot
	}
	return nil
}
