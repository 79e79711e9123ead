package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"depotwatch-backend/internal/config"
	"depotwatch-backend/internal/lock"
	"depotwatch-backend/internal/models"
	"depotwatch-backend/internal/notify"
)

const (
	defaultStoreTimeout  = 5 * time.Second
	defaultNotifyTimeout = 10 * time.Second
)

type Options struct {
	Store    Store
	Locker   lock.Locker     // Defaults to an in-process keyed mutex
	Notifier notify.Notifier // Defaults to notify.Nop
	Config   config.EngineConfig

	// StoreTimeout bounds lock acquisition plus every store call of one operation
	StoreTimeout  time.Duration
	NotifyTimeout time.Duration

	Logger *zap.Logger
	Now    func() time.Time
}

// Engine turns location pings into containment state, timesheets and stagnation alerts.
// All per-driver read-decide-write sequences run under the driver's lock.
type Engine struct {
	store        Store
	locker       lock.Locker
	emitter      *Emitter
	cfg          config.EngineConfig
	storeTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time

	fences   *tenantCache[[]models.Geofence]
	settings *tenantCache[*models.EngineSettings]
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewKeyedMutex()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaultNotifyTimeout
	}
	if opts.Config == (config.EngineConfig{}) {
		opts.Config = config.DefaultEngineConfig()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}

	logger := opts.Logger.Named("engine")
	return &Engine{
		store:        opts.Store,
		locker:       opts.Locker,
		emitter:      NewEmitter(opts.Store, opts.Notifier, opts.NotifyTimeout, logger),
		cfg:          opts.Config,
		storeTimeout: opts.StoreTimeout,
		logger:       logger,
		now:          opts.Now,
		fences:       newTenantCache[[]models.Geofence]("geofences", opts.Config.GeofenceCacheTTL, opts.Now),
		settings:     newTenantCache[*models.EngineSettings]("settings", opts.Config.GeofenceCacheTTL, opts.Now),
	}, nil
}

// Emitter exposes the event emitter, mainly so callers can Wait for pending notifications
func (e *Engine) Emitter() *Emitter {
	return e.emitter
}

func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.storeTimeout)
}

func driverLockKey(companyID, driverID string) string {
	return "driver:" + companyID + ":" + driverID
}

func (e *Engine) lockDriver(ctx context.Context, companyID, driverID string) (func(), error) {
	unlock, err := e.locker.Lock(ctx, driverLockKey(companyID, driverID))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock for driver %s: %w", driverID, err)
	}
	return unlock, nil
}

// thresholds are the effective evaluation parameters for one company
type thresholds struct {
	window        time.Duration
	lookback      time.Duration
	speedLimit    int
	tolerance     float64
	minPings      int
	defaultRadius int
}

func (e *Engine) thresholdsFor(ctx context.Context, companyID string) (thresholds, error) {
	th := thresholds{
		window:        e.cfg.StagnationWindow,
		lookback:      e.cfg.StagnationLookback,
		speedLimit:    e.cfg.StagnationSpeedLimit,
		tolerance:     e.cfg.MovementToleranceMeters,
		minPings:      e.cfg.StagnationMinPings,
		defaultRadius: e.cfg.DefaultRadiusMeters,
	}

	settings, ok := e.settings.Get(companyID)
	if !ok {
		var err error
		settings, err = e.store.GetEngineSettings(ctx, companyID)
		if err != nil {
			return th, fmt.Errorf("failed to load engine settings: %w", err)
		}
		e.settings.Set(companyID, settings)
	}
	if settings == nil {
		return th, nil
	}

	if settings.StagnationWindowSeconds != nil && *settings.StagnationWindowSeconds > 0 {
		th.window = time.Duration(*settings.StagnationWindowSeconds) * time.Second
		if th.lookback < th.window {
			th.lookback = th.window * 2
		}
	}
	if settings.StagnationSpeedThreshold != nil && *settings.StagnationSpeedThreshold >= 0 {
		th.speedLimit = *settings.StagnationSpeedThreshold
	}
	if settings.MovementToleranceMeters != nil && *settings.MovementToleranceMeters > 0 {
		th.tolerance = *settings.MovementToleranceMeters
	}
	if settings.DefaultGeofenceRadiusMeters != nil && *settings.DefaultGeofenceRadiusMeters > 0 {
		th.defaultRadius = *settings.DefaultGeofenceRadiusMeters
	}
	return th, nil
}
