package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"depotwatch-backend/internal/config"
	"depotwatch-backend/internal/database"
	"depotwatch-backend/internal/logging"
)

func main() {
	var (
		seed        = flag.Bool("seed", false, "seed demo users and geofences")
		pruneBefore = flag.Duration("prune-before", 0, "delete location pings older than this age (e.g. 720h)")
		createEmail = flag.String("create-user", "", "create a user with this email")
		password    = flag.String("password", "", "password for -create-user")
		name        = flag.String("name", "", "display name for -create-user")
		role        = flag.String("role", "admin", "role for -create-user (driver, dispatcher or admin)")
		company     = flag.String("company", database.DemoCompanyID, "company id for -create-user")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := database.Connect(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(db, logger); err != nil {
		logger.Fatal("Migration failed", zap.Error(err))
	}
	logger.Info("✅ Migration completed successfully")

	ctx := context.Background()
	store := database.NewPostgresStore(db)

	if *seed {
		if err := database.SeedUsers(ctx, store, logger); err != nil {
			logger.Fatal("User seeding failed", zap.Error(err))
		}
		if err := database.SeedGeofences(ctx, store, logger); err != nil {
			logger.Fatal("Geofence seeding failed", zap.Error(err))
		}
	}

	if *createEmail != "" {
		user, err := database.CreateAccount(ctx, store, *company, *createEmail, *password, *name, *role)
		switch {
		case errors.Is(err, database.ErrConflict):
			logger.Warn("⚠️ User already exists", zap.String("email", *createEmail))
		case err != nil:
			logger.Fatal("Failed to create user", zap.String("email", *createEmail), zap.Error(err))
		default:
			logger.Info("✅ Created user",
				zap.String("email", user.Email),
				zap.String("role", user.Role),
				zap.String("company_id", user.CompanyID))
		}
	}

	if *pruneBefore > 0 {
		cutoff := time.Now().Add(-*pruneBefore).Unix()
		deleted, err := store.DeletePingsBefore(ctx, cutoff)
		if err != nil {
			logger.Fatal("Failed to prune location pings", zap.Error(err))
		}
		logger.Info("🗑️ Pruned location pings", zap.Int64("deleted", deleted), zap.Int64("cutoff", cutoff))
	}
}
