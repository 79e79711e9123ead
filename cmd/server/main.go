package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"depotwatch-backend/internal/config"
	"depotwatch-backend/internal/database"
	"depotwatch-backend/internal/engine"
	"depotwatch-backend/internal/handlers"
	"depotwatch-backend/internal/lock"
	"depotwatch-backend/internal/logging"
	"depotwatch-backend/internal/metrics"
	"depotwatch-backend/internal/models"
	"depotwatch-backend/internal/notify"
	"depotwatch-backend/internal/services"
	"depotwatch-backend/internal/websocket"
)

// appStore is everything the server needs from persistence
type appStore interface {
	engine.Store
	handlers.UserFinder
	handlers.TokenRegistry
	services.TokenStore
	CreateUser(ctx context.Context, user *models.User) error
	CountUsers(ctx context.Context) (int, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ FATAL ERROR: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ FATAL ERROR: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("❌ FATAL ERROR", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("🚀 DEPOTWATCH BACKEND SERVER STARTING", zap.String("port", cfg.Port))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecret == "" {
		logger.Warn("⚠️ APP_JWT_SECRET is not set, every authenticated request will fail")
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.SeedDemoData || cfg.DatabaseURL == "" {
		logger.Info("🌱 Seeding demo data...")
		if err := database.SeedUsers(ctx, store, logger); err != nil {
			return fmt.Errorf("user seeding failed: %w", err)
		}
		if err := database.SeedGeofences(ctx, store, logger); err != nil {
			return fmt.Errorf("geofence seeding failed: %w", err)
		}
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		logger.Info("✅ Redis connection established", zap.String("addr", cfg.RedisAddr))
	}

	locker, err := newLocker(cfg, redisClient, logger)
	if err != nil {
		return err
	}

	hub := websocket.NewHub(logger.Named("websocket"))
	go hub.Run(ctx)
	logger.Info("✅ WebSocket hub started")

	notifiers := notify.Multi{hub}
	if fcm := newFCM(ctx, cfg, store, logger); fcm != nil {
		notifiers = append(notifiers, fcm)
	}
	if cfg.RedisNotify {
		notifiers = append(notifiers, notify.NewRedisNotifier(redisClient))
		logger.Info("✅ Redis pub/sub notifications enabled")
	}

	eng, err := engine.New(engine.Options{
		Store:         store,
		Locker:        locker,
		Notifier:      notifiers,
		Config:        cfg.Engine,
		StoreTimeout:  cfg.StoreTimeout,
		NotifyTimeout: cfg.NotifyTimeout,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	metrics.Register()

	router := handlers.NewRouter(handlers.Dependencies{
		Engine:    eng,
		Users:     store,
		Tokens:    store,
		Accounts:  store,
		JWTSecret: cfg.JWTSecret,
		Logger:    logger.Named("http"),
		WebSocket: websocket.HandleWebSocket(hub, eng, cfg.JWTSecret, logger.Named("websocket")),
		Metrics:   metrics.Handler(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("📡 Server listening", zap.String("addr", srv.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("🛑 Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("⚠️ Graceful shutdown failed", zap.Error(err))
		}
	}

	eng.Emitter().Wait()
	logger.Info("✅ Server stopped")
	return nil
}

// openStore connects to Postgres when DATABASE_URL is set and falls back to memory
func openStore(cfg *config.Config, logger *zap.Logger) (appStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("⚠️ DATABASE_URL not set, using the in-memory store (data is lost on restart)")
		return database.NewMemoryStore(), func() {}, nil
	}

	logger.Info("🔌 Connecting to database...")
	db, err := database.Connect(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	logger.Info("🔄 Running database migrations...")
	if err := database.Migrate(db, logger); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("database migrations failed: %w", err)
	}
	logger.Info("✅ Database ready")

	return database.NewPostgresStore(db), func() { db.Close() }, nil
}

func newLocker(cfg *config.Config, client *redis.Client, logger *zap.Logger) (lock.Locker, error) {
	if cfg.LockBackend != "redis" {
		return lock.NewKeyedMutex(), nil
	}
	locker, err := lock.NewRedisLocker(client, cfg.LockTTL, logger)
	if err != nil {
		return nil, fmt.Errorf("redis locker: %w", err)
	}
	logger.Info("✅ Using Redis driver locks", zap.Duration("ttl", cfg.LockTTL))
	return locker, nil
}

// newFCM initialises push notifications from base64 or file credentials. Push is
// optional; nil is returned when no credentials are configured or they are invalid.
func newFCM(ctx context.Context, cfg *config.Config, tokens services.TokenStore, logger *zap.Logger) *services.FCMService {
	var (
		fcm    *services.FCMService
		err    error
		source string
	)
	switch {
	case cfg.FirebaseCredentialsBase64 != "":
		source = "base64"
		fcm, err = services.NewFCMServiceFromBase64(ctx, cfg.FirebaseCredentialsBase64, tokens, logger)
	case cfg.FirebaseCredentialsFile != "":
		source = "file"
		fcm, err = services.NewFCMService(ctx, cfg.FirebaseCredentialsFile, tokens, logger)
	default:
		logger.Info("⚠️ Firebase credentials not configured (push notifications disabled)")
		return nil
	}
	if err != nil {
		logger.Warn("⚠️ Failed to initialize FCM (push notifications disabled)", zap.String("source", source), zap.Error(err))
		return nil
	}
	logger.Info("✅ Firebase Cloud Messaging initialized", zap.String("source", source))
	return fcm
}
