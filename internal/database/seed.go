package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"depotwatch-backend/internal/models"
)

// DemoCompanyID is the tenant the seed data belongs to
const DemoCompanyID = "demo-company"

type userSeeder interface {
	userCreator
	CountUsers(ctx context.Context) (int, error)
}

type geofenceSeeder interface {
	ListGeofences(ctx context.Context, companyID string) ([]models.Geofence, error)
	CreateGeofence(ctx context.Context, fence *models.Geofence) error
}

// SeedUsers creates one user per role for the demo company when no users exist
func SeedUsers(ctx context.Context, store userSeeder, logger *zap.Logger) error {
	count, err := store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		logger.Info("✓ Users already seeded, skipping...")
		return nil
	}

	logger.Info("🌱 Seeding test users...")

	seeds := []struct {
		email, password, name, role string
	}{
		{"driver@depotwatch.dev", "driver123", "John Driver", models.RoleDriver},
		{"dispatcher@depotwatch.dev", "dispatcher123", "Dana Dispatcher", models.RoleDispatcher},
		{"admin@depotwatch.dev", "admin123", "Admin User", models.RoleAdmin},
	}

	for _, seed := range seeds {
		if _, err := CreateAccount(ctx, store, DemoCompanyID, seed.email, seed.password, seed.name, seed.role); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", seed.email, err)
		}
		logger.Info("  ✓ Created user", zap.String("email", seed.email), zap.String("role", seed.role))
	}
	return nil
}

// ErrInvalidAccount is returned by CreateAccount for unusable account fields
var ErrInvalidAccount = errors.New("invalid account")

type userCreator interface {
	CreateUser(ctx context.Context, user *models.User) error
}

// CreateAccount hashes password and stores a new user. A taken email returns ErrConflict.
func CreateAccount(ctx context.Context, store userCreator, companyID, email, password, name, role string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	switch {
	case companyID == "":
		return nil, fmt.Errorf("%w: company id is required", ErrInvalidAccount)
	case email == "":
		return nil, fmt.Errorf("%w: email is required", ErrInvalidAccount)
	case len(password) < 6:
		return nil, fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidAccount)
	}
	if role != models.RoleDriver && role != models.RoleDispatcher && role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidAccount, role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := nowUnix()
	user := &models.User{
		ID:        uuid.New().String(),
		CompanyID: companyID,
		Email:     email,
		Password:  string(hash),
		Name:      name,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SeedGeofences creates a depot and a customer zone for the demo company
func SeedGeofences(ctx context.Context, store geofenceSeeder, logger *zap.Logger) error {
	existing, err := store.ListGeofences(ctx, DemoCompanyID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logger.Info("✓ Geofences already seeded, skipping...")
		return nil
	}

	now := nowUnix()
	fences := []models.Geofence{
		{Name: "Main Depot", Latitude: 37.3382, Longitude: -121.8863, RadiusMeters: models.DefaultGeofenceRadiusMeters, IsDepot: true},
		{Name: "North Yard", Latitude: 37.4030, Longitude: -121.9700, RadiusMeters: 300, IsDepot: true},
		{Name: "Westfield Customer Lot", Latitude: 37.3230, Longitude: -121.9480, RadiusMeters: 150, IsDepot: false},
	}
	for i := range fences {
		fence := &fences[i]
		fence.ID = uuid.New().String()
		fence.CompanyID = DemoCompanyID
		fence.IsActive = true
		fence.CreatedAt = now
		fence.UpdatedAt = now
		if err := store.CreateGeofence(ctx, fence); err != nil {
			return fmt.Errorf("failed to seed geofence %s: %w", fence.Name, err)
		}
	}
	logger.Info("✓ Seeded demo geofences", zap.Int("count", len(fences)))
	return nil
}
